// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/okian/skillstats/internal/adapters/mq/queue"
	"github.com/okian/skillstats/internal/adapters/repository"
	"github.com/okian/skillstats/internal/adapters/scheduler"
	service "github.com/okian/skillstats/internal/app"
	"github.com/okian/skillstats/internal/domain/dedupe"
	"github.com/okian/skillstats/internal/domain/model"
	"github.com/okian/skillstats/internal/domain/stats"
	"github.com/okian/skillstats/internal/domain/types"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	dedupe.Deduper

	Append(ctx context.Context, skillID string, kind model.Kind, opts ...stats.AppendOption) (model.StatEvent, error)
	Trending(ctx context.Context, limit int) (types.Trending, error)

	Skill(ctx context.Context, id string) (types.SkillStats, error)
	RegisterSkill(ctx context.Context, id, slug string) (types.SkillStats, bool, error)
	PurgeSkill(ctx context.Context, id string) error

	EnqueueTask(ctx context.Context, name string) (model.Task, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	eventsHandler      *EventsHandler
	leaderboardHandler *LeaderboardHandler
	skillsHandler      *SkillsHandler
	tasksHandler       *TasksHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler:      NewHealthHandler(),
		statsHandler:       NewStatsHandler(statsProvider),
		eventsHandler:      NewEventsHandler(deps),
		leaderboardHandler: NewLeaderboardHandler(deps),
		skillsHandler:      NewSkillsHandler(deps),
		tasksHandler:       NewTasksHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.Handle("GET /metrics", s.healthHandler.MetricsHandler())
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("POST /events", MetricsMiddleware(s.eventsHandler.HandlePostEvent, "events"))
	mux.HandleFunc("GET /leaderboard/trending", MetricsMiddleware(s.leaderboardHandler.HandleGetTrending, "trending"))
	mux.HandleFunc("GET /skills/{id}", MetricsMiddleware(s.skillsHandler.HandleGetSkill, "skill"))
	mux.HandleFunc("PUT /skills/{id}", MetricsMiddleware(s.skillsHandler.HandlePutSkill, "skill"))
	mux.HandleFunc("DELETE /skills/{id}", MetricsMiddleware(s.skillsHandler.HandleDeleteSkill, "skill"))
	mux.HandleFunc("POST /admin/tasks/{name}", MetricsMiddleware(s.tasksHandler.HandleEnqueueTask, "tasks"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeServiceError maps domain errors to status codes.
func writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", WrapKind(op, ErrNotFound, err))
	case errors.Is(err, stats.ErrUnknownKind), errors.Is(err, stats.ErrEmptySkillID):
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
	case isUnavailable(err):
		writeError(w, http.StatusServiceUnavailable, "unavailable", WrapKind(op, ErrUnavailable, err))
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
	}
}

func isUnavailable(err error) bool {
	return errors.Is(err, service.ErrNotStarted) ||
		errors.Is(err, queue.ErrQueueFull) ||
		errors.Is(err, queue.ErrQueueClosed) ||
		errors.Is(err, scheduler.ErrStopped)
}
