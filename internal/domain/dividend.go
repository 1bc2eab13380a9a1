package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PoolStatus is the lifecycle state of a dividend pool.
type PoolStatus string

const (
	PoolActive PoolStatus = "active"
	PoolClosed PoolStatus = "closed"
)

// DividendPool is a shared fund distributed to equity holders in discrete rounds.
type DividendPool struct {
	ID                uuid.UUID       `json:"id"`
	Name              string          `json:"name"`
	Type              string          `json:"type"`
	Period            string          `json:"period"`
	TotalPoolAmount   decimal.Decimal `json:"total_pool_amount"`
	AvailableAmount   decimal.Decimal `json:"available_amount"`
	DistributedAmount decimal.Decimal `json:"distributed_amount"`
	TotalEquity       decimal.Decimal `json:"total_equity"`
	Round             int             `json:"round"`
	Status            PoolStatus      `json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// HoldingStatus is the lifecycle state of an equity holding.
type HoldingStatus string

const (
	HoldingActive     HoldingStatus = "active"
	HoldingSuspended  HoldingStatus = "suspended"
	HoldingTerminated HoldingStatus = "terminated"
)

// EquityHolding is one user's percentage claim on a pool. The holdings table is
// the only place equity percentages are stored.
type EquityHolding struct {
	ID               uuid.UUID       `json:"id"`
	UserID           string          `json:"user_id"`
	PoolID           uuid.UUID       `json:"pool_id"`
	EquityPercentage decimal.Decimal `json:"equity_percentage"`
	GrantedDate      time.Time       `json:"granted_date"`
	ExpiresDate      *time.Time      `json:"expires_date,omitempty"`
	Status           HoldingStatus   `json:"status"`
	RevokedReason    *string         `json:"revoked_reason,omitempty"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// ActiveAt reports whether the holding participates in a distribution at now.
func (h EquityHolding) ActiveAt(now time.Time) bool {
	if h.Status != HoldingActive {
		return false
	}
	return h.ExpiresDate == nil || now.Before(*h.ExpiresDate)
}

// DividendDistribution is the immutable payout record of one holding in one round.
type DividendDistribution struct {
	ID                   uuid.UUID       `json:"id"`
	PoolID               uuid.UUID       `json:"pool_id"`
	EquityHoldingID      uuid.UUID       `json:"equity_holding_id"`
	UserID               string          `json:"user_id"`
	Round                int             `json:"round"`
	DividendAmount       decimal.Decimal `json:"dividend_amount"`
	ContributionCredited decimal.Decimal `json:"contribution_credited"`
	CreatedAt            time.Time       `json:"created_at"`
}

// DistributionSummary is returned by a completed distribution round.
type DistributionSummary struct {
	PoolID         uuid.UUID              `json:"pool_id"`
	Round          int                    `json:"round"`
	Amount         decimal.Decimal        `json:"amount"`
	TotalEquity    decimal.Decimal        `json:"total_equity"`
	AvailableAfter decimal.Decimal        `json:"available_after"`
	Payouts        []DividendDistribution `json:"payouts"`
}

// SweepSummary is returned by the pending-commission sweep.
type SweepSummary struct {
	PoolID      uuid.UUID       `json:"pool_id"`
	Commissions int             `json:"commissions"`
	Amount      decimal.Decimal `json:"amount"`
}

// EquitySummary is computed on read from a user's active holdings.
type EquitySummary struct {
	UserID          string          `json:"user_id"`
	Holdings        []EquityHolding `json:"holdings"`
	TotalPercentage decimal.Decimal `json:"total_percentage"`
}
