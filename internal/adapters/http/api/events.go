package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/okian/skillstats/internal/adapters/repository"
	"github.com/okian/skillstats/internal/domain/dedupe"
	"github.com/okian/skillstats/internal/domain/model"
	"github.com/okian/skillstats/internal/domain/stats"
)

// EventDependencies defines what POST /events needs.
type EventDependencies interface {
	dedupe.Deduper
	Append(ctx context.Context, skillID string, kind model.Kind, opts ...stats.AppendOption) (model.StatEvent, error)
}

// EventsHandler handles event requests.
type EventsHandler struct {
	deps EventDependencies
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(deps EventDependencies) *EventsHandler {
	return &EventsHandler{deps: deps}
}

// eventRequest is the body of POST /events.
type eventRequest struct {
	EventID    string              `json:"event_id"`
	SkillID    string              `json:"skill_id"`
	Kind       string              `json:"kind"`
	OccurredAt string              `json:"occurred_at"`
	Delta      *model.InstallDelta `json:"delta"`
}

func (e eventRequest) validate() error {
	switch {
	case strings.TrimSpace(e.SkillID) == "":
		return errors.New("missing skill_id")
	case !model.Kind(e.Kind).Valid():
		return errors.New("unknown kind")
	case e.Delta != nil && model.Kind(e.Kind) != model.KindInstallClear:
		return errors.New("delta is only accepted for install_clear")
	}
	if e.OccurredAt != "" {
		if _, err := time.Parse(time.RFC3339, e.OccurredAt); err != nil {
			return errors.New("invalid occurred_at; must be RFC3339")
		}
	}
	return nil
}

func (e eventRequest) options() []stats.AppendOption {
	var opts []stats.AppendOption
	if e.EventID != "" {
		opts = append(opts, stats.WithEventID(e.EventID))
	}
	if e.OccurredAt != "" {
		ts, _ := time.Parse(time.RFC3339, e.OccurredAt)
		opts = append(opts, stats.WithOccurredAt(ts))
	}
	if e.Delta != nil {
		opts = append(opts, stats.WithDelta(e.Delta.AllTime, e.Delta.Current))
	}
	return opts
}

type ackResponse struct {
	Status    string `json:"status"`
	EventID   string `json:"event_id,omitempty"`
	Duplicate bool   `json:"duplicate"`
}

// HandlePostEvent handles POST /events requests.
func (h *EventsHandler) HandlePostEvent(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_event"
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	if req.EventID != "" && h.deps.SeenAndRecord(r.Context(), req.EventID) {
		writeJSON(w, http.StatusOK, ackResponse{Status: "duplicate", EventID: req.EventID, Duplicate: true})
		return
	}

	e, err := h.deps.Append(r.Context(), req.SkillID, model.Kind(req.Kind), req.options()...)
	if errors.Is(err, repository.ErrDuplicate) {
		writeJSON(w, http.StatusOK, ackResponse{Status: "duplicate", EventID: req.EventID, Duplicate: true})
		return
	}
	if err != nil {
		if req.EventID != "" {
			h.deps.Unrecord(r.Context(), req.EventID)
		}
		writeServiceError(w, op, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted", EventID: e.ID})
}
