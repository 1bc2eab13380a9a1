/**
 * @description
 * HTTP handlers for the rewards-service ledger, referral and tier operations.
 */
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/transfa/rewards-service/internal/app"
	"github.com/transfa/rewards-service/internal/domain"
)

// Handler holds the application service that handlers will interact with.
type Handler struct {
	service *app.Service
	logger  *slog.Logger
}

// NewHandler creates a new Handler with the given service.
func NewHandler(service *app.Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

type amountRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Category    domain.Category `json:"category"`
	Description string          `json:"description"`
}

type transferRequest struct {
	ToUserID    string          `json:"to_user_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

type commissionRequest struct {
	RefereeID    string          `json:"referee_id"`
	AmountEarned decimal.Decimal `json:"amount_earned"`
}

type tierUpgradeRequest struct {
	NewTier          string          `json:"new_tier"`
	IsInvestment     bool            `json:"is_investment"`
	InvestmentAmount decimal.Decimal `json:"investment_amount"`
}

type validateRequest struct {
	UserID string `json:"user_id"`
	domain.OperationParams
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.service.Orchestrator.Register(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, result)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Orchestrator.Login(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

func (h *Handler) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	h.respondBalance(w, r, chi.URLParam(r, "userID"))
}

func (h *Handler) handleGetMyBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	h.respondBalance(w, r, userID)
}

func (h *Handler) respondBalance(w http.ResponseWriter, r *http.Request, userID string) {
	account, err := h.service.Ledger.GetBalance(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, account)
}

func (h *Handler) handleListLedger(w http.ResponseWriter, r *http.Request) {
	h.respondLedger(w, r, chi.URLParam(r, "userID"))
}

func (h *Handler) handleListMyLedger(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	h.respondLedger(w, r, userID)
}

func (h *Handler) respondLedger(w http.ResponseWriter, r *http.Request, userID string) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "limit must be an integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	entries, err := h.service.Ledger.ListLedgerEntries(r.Context(), userID, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	respondWithJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleAddContribution(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	account, err := h.service.AddContribution(r.Context(), chi.URLParam(r, "userID"), req.Amount, req.Category, req.Description)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, account)
}

func (h *Handler) handleConsumeContribution(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	account, err := h.service.ConsumeContribution(r.Context(), chi.URLParam(r, "userID"), req.Amount, req.Description)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, account)
}

func (h *Handler) handleRecordEarning(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.service.RecordProjectEarning(r.Context(), chi.URLParam(r, "userID"), req.Amount, req.Description)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	var req transferRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.service.TransferContribution(r.Context(), userID, req.ToUserID, req.Amount, req.Description)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

func (h *Handler) handleExchange(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	var req amountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.service.ExchangeContribution(r.Context(), userID, req.Amount)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

func (h *Handler) handleCalculateCommission(w http.ResponseWriter, r *http.Request) {
	var req commissionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	intents, err := h.service.Referrals.CalculateReferralCommission(r.Context(), req.RefereeID, req.AmountEarned)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, intents)
}

func (h *Handler) handleCheckTier(w http.ResponseWriter, r *http.Request) {
	check, err := h.service.Tiers.CheckTierUpgrade(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, check)
}

func (h *Handler) handleApplyTier(w http.ResponseWriter, r *http.Request) {
	var req tierUpgradeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	tier, err := domain.ParseTier(req.NewTier)
	if err != nil {
		h.writeError(w, err)
		return
	}
	result, err := h.service.Tiers.ApplyTierUpgrade(r.Context(), chi.URLParam(r, "userID"), tier, req.IsInvestment, req.InvestmentAmount)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

func (h *Handler) handleValidateOperation(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.service.Safety.ValidateOperation(r.Context(), req.UserID, req.OperationParams)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

// writeError maps typed rejections to 4xx statuses. Anything else is a fault.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrInsufficientBalance):
		status = http.StatusPaymentRequired
	case errors.Is(err, domain.ErrPermissionDenied):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrIntegrityViolation), errors.Is(err, domain.ErrConcurrencyConflict):
		status = http.StatusConflict
	default:
		h.logger.Error("request failed", "component", "api", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	respondWithJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// respondWithJSON writes JSON responses.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
