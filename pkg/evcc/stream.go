package evcc

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/looplab/fsm"

	"github.com/raterudder/evccbridge/pkg/common"
	"github.com/raterudder/evccbridge/pkg/log"
	"github.com/raterudder/evccbridge/pkg/types"
)

// Link states of a Stream.
const (
	LinkDisconnected = "disconnected"
	LinkConnecting   = "connecting"
	LinkConnected    = "connected"
)

const (
	eventDial        = "dial"
	eventEstablished = "established"
	eventDrop        = "drop"
)

var errStale = errors.New("stream stale")

// StreamOptions configures a Stream. Zero values are replaced with defaults.
type StreamOptions struct {
	// StaleAfter drops a connected stream that hasn't delivered a message in
	// this long.
	StaleAfter time.Duration
	// MaxReconnect bounds a single reconnection attempt including retries.
	MaxReconnect     time.Duration
	HandshakeTimeout time.Duration
	// OnUpdate is called after every merged message.
	OnUpdate func(ctx context.Context)
}

// Stream is the optional push channel. Messages are merged into the client's
// retained snapshot so polls and pushes share one source of truth.
type Stream struct {
	client   *Client
	url      string
	dialer   *websocket.Dialer
	link     *fsm.FSM
	opts     StreamOptions
	now      func() time.Time
	dialWait sync.WaitGroup

	mu          sync.Mutex
	conn        *websocket.Conn
	lastMessage time.Time
}

// NewStream returns a disconnected stream for the client's controller.
func NewStream(c *Client, opts StreamOptions) *Stream {
	if opts.StaleAfter == 0 {
		opts.StaleAfter = 2 * time.Minute
	}
	if opts.MaxReconnect == 0 {
		opts.MaxReconnect = time.Minute
	}
	if opts.HandshakeTimeout == 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	s := &Stream{
		client: c,
		url:    StreamURL(c.URL()),
		dialer: &websocket.Dialer{
			HandshakeTimeout: opts.HandshakeTimeout,
			Proxy:            http.ProxyFromEnvironment,
		},
		opts: opts,
		now:  time.Now,
	}
	s.link = fsm.NewFSM(
		LinkDisconnected,
		fsm.Events{
			{Name: eventDial, Src: []string{LinkDisconnected}, Dst: LinkConnecting},
			{Name: eventEstablished, Src: []string{LinkConnecting}, Dst: LinkConnected},
			{Name: eventDrop, Src: []string{LinkConnecting, LinkConnected}, Dst: LinkDisconnected},
		},
		fsm.Callbacks{
			"enter_state": func(ctx context.Context, e *fsm.Event) {
				log.Ctx(ctx).DebugContext(ctx, "stream link changed", slog.String("from", e.Src), slog.String("to", e.Dst))
			},
		},
	)
	return s
}

// StreamURL derives the websocket endpoint from a base URL.
func StreamURL(base string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.JoinPath("ws").String()
}

// State returns the current link state.
func (s *Stream) State() string {
	return s.link.Current()
}

// Connected returns true while messages are being received.
func (s *Stream) Connected() bool {
	return s.link.Current() == LinkConnected
}

// Connect dials the controller and blocks until connected or the reconnect
// budget is exhausted. It fails immediately if a dial is already in flight.
func (s *Stream) Connect(ctx context.Context) error {
	if err := s.link.Event(ctx, eventDial); err != nil {
		return err
	}
	return s.dial(ctx)
}

func (s *Stream) dial(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 15 * time.Second
	b.MaxElapsedTime = s.opts.MaxReconnect

	var conn *websocket.Conn
	err := backoff.RetryNotify(func() error {
		c, resp, err := s.dialer.DialContext(ctx, s.url, http.Header{"User-Agent": {"EVCCBridge/" + common.Version()}})
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			return err
		}
		conn = c
		return nil
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		log.Ctx(ctx).WarnContext(ctx, "stream dial failed", slog.String("url", s.url), slog.Any("error", err), slog.Duration("retryIn", wait))
	})
	if err != nil {
		_ = s.link.Event(context.WithoutCancel(ctx), eventDrop)
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.lastMessage = s.now()
	s.mu.Unlock()

	if err := s.link.Event(ctx, eventEstablished); err != nil {
		conn.Close()
		return err
	}
	log.Ctx(ctx).InfoContext(ctx, "stream connected", slog.String("url", s.url))
	go s.readLoop(ctx, conn)
	return nil
}

func (s *Stream) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.drop(ctx, conn, err)
			return
		}
		s.handle(ctx, data)
	}
}

// handle merges one message. Keys are dotted paths into the state, e.g.
// loadpoints.0.chargePower with 0-based loadpoint indexes.
func (s *Stream) handle(ctx context.Context, data []byte) {
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Ctx(ctx).DebugContext(ctx, "ignoring malformed stream message", slog.Any("error", err))
		return
	}

	s.mu.Lock()
	s.lastMessage = s.now()
	s.mu.Unlock()

	s.client.Patch(func(snap types.Snapshot) {
		for k, v := range msg {
			if v == nil {
				continue
			}
			if !snap.SetPath(strings.Split(k, "."), v) {
				log.Ctx(ctx).DebugContext(ctx, "ignoring stream key", slog.String("key", k))
			}
		}
	})
	if s.opts.OnUpdate != nil {
		s.opts.OnUpdate(ctx)
	}
}

// drop closes conn if it's still the active connection. Read errors from an
// already replaced connection are ignored.
func (s *Stream) drop(ctx context.Context, conn *websocket.Conn, cause error) {
	s.mu.Lock()
	if conn == nil || s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.mu.Unlock()

	conn.Close()
	_ = s.link.Event(context.WithoutCancel(ctx), eventDrop)
	log.Ctx(ctx).WarnContext(ctx, "stream disconnected", slog.Any("error", cause))
}

// Check is one watchdog tick. A stale connection is dropped and a
// disconnected stream starts a reconnection in the background. Nothing is
// started while a reconnection is already in flight.
func (s *Stream) Check(ctx context.Context) {
	switch s.link.Current() {
	case LinkConnecting:
		log.Ctx(ctx).DebugContext(ctx, "stream reconnection in flight")
		return
	case LinkConnected:
		s.mu.Lock()
		conn, last := s.conn, s.lastMessage
		s.mu.Unlock()
		if s.now().Sub(last) <= s.opts.StaleAfter {
			return
		}
		s.drop(ctx, conn, errStale)
	}

	// the transition is the guard, only one caller can win it
	if err := s.link.Event(ctx, eventDial); err != nil {
		return
	}
	s.dialWait.Add(1)
	go func() {
		defer s.dialWait.Done()
		if err := s.dial(ctx); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "stream reconnection failed", slog.Any("error", err))
		}
	}()
}

// Watch runs the watchdog every interval until ctx is done.
func (s *Stream) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Check(ctx)
		}
	}
}

// Close drops the connection and waits for background dials to finish.
// Callers should cancel the context passed to Check first.
func (s *Stream) Close(ctx context.Context) {
	s.dialWait.Wait()
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	s.drop(ctx, conn, context.Canceled)
}
