package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Tier is a partner membership level. Tiers are totally ordered by Rank.
type Tier string

const (
	TierNormalUser      Tier = "normal_user"
	TierRegularPartner  Tier = "regular_partner"
	TierSeniorPartner   Tier = "senior_partner"
	TierFoundingPartner Tier = "founding_partner"
)

// TierRule holds the eligibility threshold and benefits of one tier.
type TierRule struct {
	Tier          Tier            `json:"tier"`
	Rank          int             `json:"rank"`
	Threshold     decimal.Decimal `json:"threshold"`
	UpgradeReward decimal.Decimal `json:"upgrade_reward"`
	TeamBonusRate decimal.Decimal `json:"team_bonus_rate"`
}

// TierTable is an ascending list of tier rules.
type TierTable []TierRule

// DefaultTierTable is the production tier ladder.
func DefaultTierTable() TierTable {
	return TierTable{
		{Tier: TierNormalUser, Rank: 0, Threshold: decimal.Zero, UpgradeReward: decimal.Zero, TeamBonusRate: decimal.Zero},
		{Tier: TierRegularPartner, Rank: 1, Threshold: decimal.NewFromInt(50000), UpgradeReward: decimal.NewFromInt(1000), TeamBonusRate: decimal.RequireFromString("0.02")},
		{Tier: TierSeniorPartner, Rank: 2, Threshold: decimal.NewFromInt(200000), UpgradeReward: decimal.NewFromInt(5000), TeamBonusRate: decimal.RequireFromString("0.05")},
		{Tier: TierFoundingPartner, Rank: 3, Threshold: decimal.NewFromInt(1000000), UpgradeReward: decimal.NewFromInt(20000), TeamBonusRate: decimal.RequireFromString("0.08")},
	}
}

// Rule looks up the rule for t.
func (tt TierTable) Rule(t Tier) (TierRule, bool) {
	for _, r := range tt {
		if r.Tier == t {
			return r, true
		}
	}
	return TierRule{}, false
}

// Rank returns the order of t, or -1 when t is unknown.
func (tt TierTable) Rank(t Tier) int {
	if r, ok := tt.Rule(t); ok {
		return r.Rank
	}
	return -1
}

// HighestQualified returns the highest tier whose threshold is met by either the
// cumulative contribution or the direct investment.
func (tt TierTable) HighestQualified(cumulative, investment decimal.Decimal) TierRule {
	best := tt[0]
	for _, r := range tt {
		if cumulative.GreaterThanOrEqual(r.Threshold) || investment.GreaterThanOrEqual(r.Threshold) {
			if r.Rank > best.Rank {
				best = r
			}
		}
	}
	return best
}

// ParseTier normalizes a tier name.
func ParseTier(raw string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(raw)))
	switch t {
	case TierNormalUser, TierRegularPartner, TierSeniorPartner, TierFoundingPartner:
		return t, nil
	}
	return "", &ValidationError{Field: "tier", Reason: "unknown tier " + raw}
}

// TierCheck is the result of an eligibility evaluation.
type TierCheck struct {
	UserID      string `json:"user_id"`
	CurrentTier Tier   `json:"current_tier"`
	Eligible    bool   `json:"eligible"`
	NewTier     Tier   `json:"new_tier,omitempty"`
}

// UpgradeResult describes an applied tier upgrade.
type UpgradeResult struct {
	UserID          string          `json:"user_id"`
	PreviousTier    Tier            `json:"previous_tier"`
	NewTier         Tier            `json:"new_tier"`
	RewardCredited  decimal.Decimal `json:"reward_credited"`
	InvestmentAdded decimal.Decimal `json:"investment_added"`
	Account         *Account        `json:"account"`
	UpgradedAt      time.Time       `json:"upgraded_at"`
}
