package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/levenlabs/go-lflag"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/raterudder/evccbridge/pkg/common"
	"github.com/raterudder/evccbridge/pkg/entity"
	"github.com/raterudder/evccbridge/pkg/log"
	"github.com/raterudder/evccbridge/pkg/metrics"
	"github.com/raterudder/evccbridge/pkg/tags"
	"github.com/raterudder/evccbridge/pkg/types"
)

// Bridge is the part of *bridge.Bridge the server uses.
type Bridge interface {
	WriteField(ctx context.Context, id tags.ID, value any, index int) (types.WriteResult, error)
	Press(ctx context.Context, id tags.ID, index int) (types.WriteResult, error)
	Loadpoints() []types.LoadpointDescriptor
	Vehicles() []types.VehicleDescriptor
	Flags() types.SchemaFlags
	Healthy() bool
	StreamState() string
}

// Server is the HTTP host for one bridge. It receives snapshots and
// descriptors from the bridge and serves them along with the entities.
type Server struct {
	bridge   Bridge
	entities *entity.Registry
	metrics  *prometheus.Registry

	listenAddr string
	serverName string
	httpServer *http.Server

	mu       sync.RWMutex
	snapshot types.Snapshot
	updated  time.Time
}

// New returns a server for b serving on listenAddr.
func New(b Bridge, entities *entity.Registry, listenAddr string) *Server {
	s := &Server{
		listenAddr: listenAddr,
		serverName: "evccbridge/" + common.Version(),
	}
	s.Attach(b, entities)
	return s
}

// Configured initializes the Server from command-line flags registered with
// lflag. Attach must be called before Run.
func Configured() *Server {
	srv := &Server{
		serverName: "evccbridge/" + common.Version(),
	}

	// get the port from PORT when running in a container
	port := os.Getenv("PORT")
	if port == "" {
		// otherwise default to 8080
		port = "8080"
	}
	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
	})
	return srv
}

// Attach sets the bridge and its entities and registers their metrics.
func (s *Server) Attach(b Bridge, entities *entity.Registry) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.NewCollector(entities, b))

	s.bridge = b
	s.entities = entities
	s.metrics = reg
}

// SnapshotUpdated implements bridge.Host. Entities of loadpoints that
// disappeared are cleaned up in the background.
func (s *Server) SnapshotUpdated(ctx context.Context, snap types.Snapshot) {
	s.mu.Lock()
	s.snapshot = snap
	s.updated = time.Now()
	s.mu.Unlock()

	go s.entities.Cleanup(context.WithoutCancel(ctx), snap)
}

// DescriptorsReady implements bridge.Host.
func (s *Server) DescriptorsReady(ctx context.Context, loadpoints []types.LoadpointDescriptor, vehicles []types.VehicleDescriptor) {
	s.entities.Build(ctx, loadpoints, vehicles)
}

func (s *Server) setupHandler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("GET /api/snapshot", s.handleSnapshot)
	apiMux.HandleFunc("GET /api/descriptors", s.handleDescriptors)
	apiMux.HandleFunc("GET /api/entities", s.handleListEntities)
	apiMux.HandleFunc("POST /api/entities/{id}", s.handleWriteEntity)
	apiMux.HandleFunc("POST /api/buttons/{id}", s.handlePressButton)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiMux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", s.handleHealthz)
	return s.revisionMiddleware(gziphandler.GzipHandler(s.securityHeadersMiddleware(mux)))
}

// Run starts the HTTP server and blocks until the context is canceled or an error occurs.
// It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	// use a channel to capturing server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		// Context canceled, shut down gracefully
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSON(w http.ResponseWriter, v any, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, struct {
		Error string `json:"error"`
	}{Error: msg}, code)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if !s.bridge.Healthy() {
		http.Error(w, "controller unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Prevent MIME-sniffing
		w.Header().Set("X-Content-Type-Options", "nosniff")

		// the API is never framed
		w.Header().Set("X-Frame-Options", "DENY")

		next.ServeHTTP(w, r)
	})
}
