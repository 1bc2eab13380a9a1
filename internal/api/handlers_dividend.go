package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type createPoolRequest struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Period string `json:"period"`
}

type grantEquityRequest struct {
	UserID     string          `json:"user_id"`
	Percentage decimal.Decimal `json:"percentage"`
	Expires    *time.Time      `json:"expires,omitempty"`
}

type distributeRequest struct {
	Amount *decimal.Decimal `json:"amount,omitempty"`
}

type revokeRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) handleCreatePool(w http.ResponseWriter, r *http.Request) {
	var req createPoolRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	pool, err := h.service.Dividends.CreatePool(r.Context(), req.Name, req.Type, req.Period)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, pool)
}

func (h *Handler) handleGetPool(w http.ResponseWriter, r *http.Request) {
	poolID, ok := uuidParam(w, r, "poolID")
	if !ok {
		return
	}
	pool, err := h.service.Dividends.GetPool(r.Context(), poolID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, pool)
}

func (h *Handler) handleFundPool(w http.ResponseWriter, r *http.Request) {
	poolID, ok := uuidParam(w, r, "poolID")
	if !ok {
		return
	}
	var req amountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	pool, err := h.service.Dividends.FundPool(r.Context(), poolID, req.Amount)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, pool)
}

func (h *Handler) handleSweepCommissions(w http.ResponseWriter, r *http.Request) {
	poolID, ok := uuidParam(w, r, "poolID")
	if !ok {
		return
	}
	summary, err := h.service.Dividends.SweepPendingCommissionsIntoPool(r.Context(), poolID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleGrantEquity(w http.ResponseWriter, r *http.Request) {
	poolID, ok := uuidParam(w, r, "poolID")
	if !ok {
		return
	}
	var req grantEquityRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	holding, err := h.service.Dividends.GrantEquity(r.Context(), req.UserID, poolID, req.Percentage, req.Expires)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, holding)
}

func (h *Handler) handleRevokeEquity(w http.ResponseWriter, r *http.Request) {
	holdingID, ok := uuidParam(w, r, "holdingID")
	if !ok {
		return
	}
	var req revokeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	holding, err := h.service.Dividends.RevokeEquity(r.Context(), holdingID, req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, holding)
}

func (h *Handler) handleDistributePool(w http.ResponseWriter, r *http.Request) {
	poolID, ok := uuidParam(w, r, "poolID")
	if !ok {
		return
	}
	var req distributeRequest
	if r.ContentLength > 0 && !decodeJSON(w, r, &req) {
		return
	}
	summary, err := h.service.Dividends.DistributePool(r.Context(), poolID, req.Amount)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleListDistributions(w http.ResponseWriter, r *http.Request) {
	poolID, ok := uuidParam(w, r, "poolID")
	if !ok {
		return
	}
	round := 0
	if raw := r.URL.Query().Get("round"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "round must be an integer", http.StatusBadRequest)
			return
		}
		round = parsed
	}
	records, err := h.service.Dividends.ListDistributions(r.Context(), poolID, round)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, records)
}

func (h *Handler) handleGetMyEquity(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	summary, err := h.service.Dividends.GetEquitySummary(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, summary)
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		http.Error(w, name+" must be a UUID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}
