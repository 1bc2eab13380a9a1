package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Routing keys published on the rewards events exchange after a commit.
const (
	EventContributionCredited = "contribution.credited"
	EventContributionConsumed = "contribution.consumed"
	EventTierUpgraded         = "tier.upgraded"
	EventDividendDistributed  = "dividend.distributed"
	EventBatchCompleted       = "batch.completed"
)

// LedgerEvent is the payload of contribution.* events.
type LedgerEvent struct {
	UserID       string          `json:"user_id"`
	Amount       decimal.Decimal `json:"amount"`
	Category     Category        `json:"category"`
	Description  string          `json:"description"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	Timestamp    time.Time       `json:"timestamp"`
}

// TierEvent is the payload of tier.upgraded.
type TierEvent struct {
	UserID       string          `json:"user_id"`
	PreviousTier Tier            `json:"previous_tier"`
	NewTier      Tier            `json:"new_tier"`
	Reward       decimal.Decimal `json:"reward"`
	Timestamp    time.Time       `json:"timestamp"`
}
