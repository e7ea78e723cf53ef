package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/raterudder/evccbridge/pkg/entity"
	"github.com/raterudder/evccbridge/pkg/log"
	"github.com/raterudder/evccbridge/pkg/tags"
	"github.com/raterudder/evccbridge/pkg/types"
)

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	snap := s.snapshot
	updated := s.updated
	s.mu.RUnlock()

	if snap == nil {
		writeJSONError(w, "no snapshot yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Last-Modified", updated.UTC().Format(http.TimeFormat))
	writeJSON(w, snap, http.StatusOK)
}

type descriptorsResponse struct {
	Flags      types.SchemaFlags           `json:"flags"`
	Loadpoints []types.LoadpointDescriptor `json:"loadpoints"`
	Vehicles   []types.VehicleDescriptor   `json:"vehicles"`
}

func (s *Server) handleDescriptors(w http.ResponseWriter, r *http.Request) {
	resp := descriptorsResponse{
		Flags:      s.bridge.Flags(),
		Loadpoints: s.bridge.Loadpoints(),
		Vehicles:   s.bridge.Vehicles(),
	}
	if resp.Loadpoints == nil {
		resp.Loadpoints = []types.LoadpointDescriptor{}
	}
	if resp.Vehicles == nil {
		resp.Vehicles = []types.VehicleDescriptor{}
	}
	writeJSON(w, resp, http.StatusOK)
}

// entityState is an entity as rendered by the API. Absent values are null
// with state "unknown".
type entityState struct {
	ID string `json:"id"`
	entity.Metadata
	Value any    `json:"value"`
	State string `json:"state"`
}

func renderEntity(e entity.Entity) entityState {
	st := entityState{
		ID:       e.ID(),
		Metadata: e.Metadata(),
		State:    "unknown",
	}
	if v := e.CurrentValue(); v.Present {
		st.Value = v.V
		if t, ok := v.V.(time.Time); ok {
			st.Value = t.UTC().Format(time.RFC3339)
		}
		st.State = "ok"
	}
	return st
}

func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	all := s.entities.All()
	out := make([]entityState, 0, len(all))
	for _, e := range all {
		out = append(out, renderEntity(e))
	}
	writeJSON(w, out, http.StatusOK)
}

type writeRequest struct {
	Value any `json:"value"`
	Index int `json:"index"`
}

// handleWriteEntity writes to either an entity id ("garage.mode") or a tag id
// with the loadpoint index in the body.
func (s *Server) handleWriteEntity(w http.ResponseWriter, r *http.Request) {
	var req writeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	id := r.PathValue("id")
	var res types.WriteResult
	var err error
	if e, ok := s.entities.Get(id); ok {
		if e.Metadata().Kind == tags.KindButton.String() {
			writeJSONError(w, "use the buttons endpoint to press a button", http.StatusBadRequest)
			return
		}
		res, err = e.WriteValue(r.Context(), req.Value)
	} else {
		res, err = s.bridge.WriteField(r.Context(), tags.ID(id), req.Value, req.Index)
	}
	s.writeResult(w, r, id, res, err)
}

type pressRequest struct {
	Index int `json:"index"`
}

func (s *Server) handlePressButton(w http.ResponseWriter, r *http.Request) {
	var req pressRequest
	// an empty body presses a site button
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	id := r.PathValue("id")
	var res types.WriteResult
	var err error
	if e, ok := s.entities.Get(id); ok {
		if e.Metadata().Kind != tags.KindButton.String() {
			writeJSONError(w, "not a button", http.StatusBadRequest)
			return
		}
		res, err = e.WriteValue(r.Context(), nil)
	} else {
		res, err = s.bridge.Press(r.Context(), tags.ID(id), req.Index)
	}
	s.writeResult(w, r, id, res, err)
}

func (s *Server) writeResult(w http.ResponseWriter, r *http.Request, id string, res types.WriteResult, err error) {
	ctx := r.Context()
	if err == nil {
		writeJSON(w, res, http.StatusOK)
		return
	}

	log.Ctx(ctx).WarnContext(ctx, "write failed", slog.String("id", id), slog.Any("error", err))

	var rejected *types.WriteRejected
	var transport *types.TransportError
	switch {
	case errors.Is(err, types.ErrUnknownTag):
		writeJSONError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, types.ErrNotWritable), errors.Is(err, types.ErrMissingIndex):
		writeJSONError(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &rejected):
		// the controller's answer is passed through untouched
		writeJSON(w, res, http.StatusBadGateway)
	case errors.As(err, &transport):
		writeJSONError(w, err.Error(), http.StatusBadGateway)
	default:
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
	}
}
