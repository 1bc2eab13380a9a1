/**
 * @description
 * HTTP router setup for the rewards-service using go-chi/chi.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/transfa/rewards-service/internal/domain"
)

// NewRouter creates a new Chi router and registers rewards routes.
func NewRouter(h *Handler, keys *JWKSCache, internalKey string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Internal-API-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Rewards service is healthy"))
	})

	// Server-to-server surface used by the other services.
	r.Route("/internal/rewards", func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalKey))

		r.Post("/members", h.handleRegister)
		r.Post("/validate", h.handleValidateOperation)
		r.Post("/referrals/commissions", h.handleCalculateCommission)
		r.Post("/batch/run", h.handleRunDailyBatch)
		r.Post("/pools/{poolID}/sweep", h.handleSweepCommissions)

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Post("/login", h.handleLogin)
			r.Get("/balance", h.handleGetBalance)
			r.Get("/ledger", h.handleListLedger)
			r.Post("/contributions", h.handleAddContribution)
			r.Post("/consumptions", h.handleConsumeContribution)
			r.Post("/earnings", h.handleRecordEarning)
			r.Get("/tier", h.handleCheckTier)
			r.Post("/tier", h.handleApplyTier)
			r.Post("/proposals", h.handleAutoAssign)
		})

		r.Post("/projects", h.handleCreateProject)
		r.Post("/projects/{projectID}/participants", h.handleJoinProject)
		r.Post("/participations/{participationID}/complete", h.handleCompleteParticipation)
	})

	r.Group(func(r chi.Router) {
		r.Use(JWTAuthMiddleware(keys))

		r.Get("/rewards/me/balance", h.handleGetMyBalance)
		r.Get("/rewards/me/ledger", h.handleListMyLedger)
		r.Get("/rewards/me/equity", h.handleGetMyEquity)
		r.Post("/rewards/me/transfers", h.handleTransfer)
		r.Post("/rewards/me/exchanges", h.handleExchange)
		r.Get("/rewards/pools/{poolID}", h.handleGetPool)

		r.Route("/rewards/admin", func(r chi.Router) {
			r.Use(RequireRole(h.service.Roles, domain.RoleAdmin))
			r.Post("/pools", h.handleCreatePool)
			r.Post("/pools/{poolID}/fund", h.handleFundPool)
			r.Post("/pools/{poolID}/equity", h.handleGrantEquity)
			r.Post("/pools/{poolID}/distribute", h.handleDistributePool)
			r.Get("/pools/{poolID}/distributions", h.handleListDistributions)
			r.Post("/equity/{holdingID}/revoke", h.handleRevokeEquity)
			r.Post("/roles", h.handleGrantRole)
			r.Post("/roles/top/transfer", h.handleTransferTopRole)
		})
	})

	return r
}
