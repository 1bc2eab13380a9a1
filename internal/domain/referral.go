package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MaxReferralDepth bounds how many referrer hops a commission walk may take.
const MaxReferralDepth = 3

// ReferralRates are the per-level commission rates; index 0 is level 1.
var ReferralRates = [MaxReferralDepth]decimal.Decimal{
	decimal.RequireFromString("0.10"),
	decimal.RequireFromString("0.05"),
	decimal.RequireFromString("0.03"),
}

// ReferralEdge links a referee to the user who referred them. Written once at registration.
type ReferralEdge struct {
	ReferrerID string    `json:"referrer_id"`
	RefereeID  string    `json:"referee_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// CommissionIntent is one computed payout before it is applied to the ledger.
type CommissionIntent struct {
	ReferrerID string          `json:"referrer_id"`
	RefereeID  string          `json:"referee_id"`
	Level      int             `json:"level"`
	Rate       decimal.Decimal `json:"rate"`
	Amount     decimal.Decimal `json:"amount"`
}

// Category returns the ledger category a commission at this level is credited under.
func (ci CommissionIntent) Category() Category {
	if ci.Level == 1 {
		return CategoryReferral
	}
	return CategoryCommission
}

// CommissionStatus tracks whether the pool share of a commission has been swept.
type CommissionStatus string

const (
	CommissionPending CommissionStatus = "pending"
	CommissionPooled  CommissionStatus = "pooled"
)

// Commission is the write-once record of a paid referral commission.
type Commission struct {
	ID              uuid.UUID        `json:"id"`
	ReferrerID      string           `json:"referrer_id"`
	RefereeID       string           `json:"referee_id"`
	Level           int              `json:"level"`
	Rate            decimal.Decimal  `json:"rate"`
	Amount          decimal.Decimal  `json:"amount"`
	Category        Category         `json:"category"`
	IsUpgradeReward bool             `json:"is_upgrade_reward"`
	PoolShare       decimal.Decimal  `json:"pool_share"`
	Status          CommissionStatus `json:"status"`
	PooledInto      *uuid.UUID       `json:"pooled_into,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	PooledAt        *time.Time       `json:"pooled_at,omitempty"`
}

// TeamBonusPolicy decides how the team bonus interacts with the level-1 referral
// commission when both derive from the same earning event.
type TeamBonusPolicy string

const (
	// TeamBonusExclusive pays a direct referrer with a non-zero team rate either the
	// team bonus or the level-1 commission, whichever is larger.
	TeamBonusExclusive TeamBonusPolicy = "exclusive"
	// TeamBonusAdditive pays both.
	TeamBonusAdditive TeamBonusPolicy = "additive"
	// TeamBonusCommissionOnly never pays a team bonus.
	TeamBonusCommissionOnly TeamBonusPolicy = "commission_only"
)

// ParseTeamBonusPolicy falls back to TeamBonusExclusive for unknown input.
func ParseTeamBonusPolicy(raw string) TeamBonusPolicy {
	switch TeamBonusPolicy(raw) {
	case TeamBonusAdditive:
		return TeamBonusAdditive
	case TeamBonusCommissionOnly:
		return TeamBonusCommissionOnly
	default:
		return TeamBonusExclusive
	}
}

// EarningResult summarizes everything paid out for one project earning.
type EarningResult struct {
	Account     *Account           `json:"account"`
	Credited    decimal.Decimal    `json:"credited"`
	Commissions []CommissionIntent `json:"commissions"`
	TeamBonus   *CommissionIntent  `json:"team_bonus,omitempty"`
}
