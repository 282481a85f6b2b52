package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/okian/skillstats/internal/domain/types"
)

// SkillDependencies defines the skill read, register and purge operations.
type SkillDependencies interface {
	Skill(ctx context.Context, id string) (types.SkillStats, error)
	RegisterSkill(ctx context.Context, id, slug string) (types.SkillStats, bool, error)
	PurgeSkill(ctx context.Context, id string) error
}

// SkillsHandler handles /skills/{id} requests.
type SkillsHandler struct {
	deps SkillDependencies
}

// NewSkillsHandler creates a new skills handler.
func NewSkillsHandler(deps SkillDependencies) *SkillsHandler {
	return &SkillsHandler{deps: deps}
}

type registerSkillRequest struct {
	Slug string `json:"slug"`
}

// HandleGetSkill handles GET /skills/{id}.
func (h *SkillsHandler) HandleGetSkill(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_skill"
	sk, err := h.deps.Skill(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, sk)
}

// HandlePutSkill handles PUT /skills/{id}. The body is optional.
func (h *SkillsHandler) HandlePutSkill(w http.ResponseWriter, r *http.Request) {
	const op = "api.put_skill"
	var req registerSkillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	sk, created, err := h.deps.RegisterSkill(r.Context(), r.PathValue("id"), req.Slug)
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, sk)
}

// HandleDeleteSkill handles DELETE /skills/{id}.
func (h *SkillsHandler) HandleDeleteSkill(w http.ResponseWriter, r *http.Request) {
	const op = "api.delete_skill"
	if err := h.deps.PurgeSkill(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, op, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
