package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/transfa/rewards-service/internal/domain"
)

type grantRoleRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

type transferTopRoleRequest struct {
	NextUserID string `json:"next_user_id"`
}

type createProjectRequest struct {
	Name          string   `json:"name"`
	PreferredRole string   `json:"preferred_role"`
	TitleKeywords []string `json:"title_keywords"`
	MinTier       string   `json:"min_tier"`
}

type completeRequest struct {
	Earning decimal.Decimal `json:"earning"`
}

func (h *Handler) handleGrantRole(w http.ResponseWriter, r *http.Request) {
	actorID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	var req grantRoleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	role, err := domain.ParseRole(req.Role)
	if err != nil {
		h.writeError(w, err)
		return
	}
	member, err := h.service.Roles.GrantRole(r.Context(), actorID, req.UserID, role)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, member)
}

func (h *Handler) handleTransferTopRole(w http.ResponseWriter, r *http.Request) {
	currentID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	var req transferTopRoleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.service.Roles.TransferTopRole(r.Context(), currentID, req.NextUserID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRunDailyBatch(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Orchestrator.RunDailyBatch(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	var role domain.Role
	if req.PreferredRole != "" {
		parsed, err := domain.ParseRole(req.PreferredRole)
		if err != nil {
			h.writeError(w, err)
			return
		}
		role = parsed
	}
	var tier domain.Tier
	if req.MinTier != "" {
		parsed, err := domain.ParseTier(req.MinTier)
		if err != nil {
			h.writeError(w, err)
			return
		}
		tier = parsed
	}
	project, err := h.service.Projects.CreateProject(r.Context(), req.Name, role, req.TitleKeywords, tier)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, project)
}

func (h *Handler) handleJoinProject(w http.ResponseWriter, r *http.Request) {
	projectID, ok := uuidParam(w, r, "projectID")
	if !ok {
		return
	}
	var req struct {
		UserID string `json:"user_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	participation, err := h.service.Projects.JoinProject(r.Context(), req.UserID, projectID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, participation)
}

func (h *Handler) handleCompleteParticipation(w http.ResponseWriter, r *http.Request) {
	participationID, ok := uuidParam(w, r, "participationID")
	if !ok {
		return
	}
	var req completeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.service.CompleteParticipation(r.Context(), participationID, req.Earning)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

func (h *Handler) handleAutoAssign(w http.ResponseWriter, r *http.Request) {
	proposals, err := h.service.Projects.AutoAssignProjects(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, proposals)
}
