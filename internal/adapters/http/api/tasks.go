package api

import (
	"context"
	"errors"
	"net/http"

	service "github.com/okian/skillstats/internal/app"
	"github.com/okian/skillstats/internal/domain/model"
)

// TaskDependencies enqueues operator-triggered tasks.
type TaskDependencies interface {
	EnqueueTask(ctx context.Context, name string) (model.Task, error)
}

// TasksHandler handles /admin/tasks/{name}.
type TasksHandler struct {
	deps TaskDependencies
}

// NewTasksHandler creates a new tasks handler.
func NewTasksHandler(deps TaskDependencies) *TasksHandler {
	return &TasksHandler{deps: deps}
}

type taskResponse struct {
	Task      string `json:"task"`
	BatchSize int    `json:"batch_size,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// HandleEnqueueTask handles POST /admin/tasks/{name}.
func (h *TasksHandler) HandleEnqueueTask(w http.ResponseWriter, r *http.Request) {
	const op = "api.enqueue_task"
	t, err := h.deps.EnqueueTask(r.Context(), r.PathValue("name"))
	if errors.Is(err, service.ErrUnknownTask) {
		writeError(w, http.StatusNotFound, "unknown_task", WrapKind(op, ErrNotFound, err))
		return
	}
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	writeJSON(w, http.StatusAccepted, taskResponse{Task: t.Name, BatchSize: t.BatchSize, Limit: t.Limit})
}
