package app

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/transfa/rewards-service/internal/config"
	"github.com/transfa/rewards-service/internal/domain"
)

// Settings carries the tunable reward amounts, thresholds and policies shared by
// the engines. cmd/main.go builds it from config.Config.
type Settings struct {
	RegistrationBonus           decimal.Decimal
	ContributionPerCurrencyUnit decimal.Decimal
	FirstActionReward           decimal.Decimal
	FirstActionRewardTTL        time.Duration
	StreakBadgeThreshold        int
	StreakBadgeMultiplier       decimal.Decimal
	DormancyPeriod              time.Duration
	WakeUpReward                decimal.Decimal
	WakeUpRewardTTL             time.Duration
	ParticipationTimeout        time.Duration
	TimeoutPenalty              decimal.Decimal
	ExchangeMinContribution     decimal.Decimal
	ExchangeLotSize             decimal.Decimal
	AmountMaxDecimals           int32
	PoolSweepRate               decimal.Decimal
	TeamBonusPolicy             domain.TeamBonusPolicy
	CommissionOnUpgradeReward   bool
	ProposalTopN                int
	Tiers                       domain.TierTable
}

// DefaultSettings mirrors the configuration defaults.
func DefaultSettings() Settings {
	return Settings{
		RegistrationBonus:           decimal.NewFromInt(1000),
		ContributionPerCurrencyUnit: decimal.NewFromInt(1),
		FirstActionReward:           decimal.NewFromInt(200),
		FirstActionRewardTTL:        72 * time.Hour,
		StreakBadgeThreshold:        7,
		StreakBadgeMultiplier:       decimal.RequireFromString("1.1"),
		DormancyPeriod:              30 * 24 * time.Hour,
		WakeUpReward:                decimal.NewFromInt(100),
		WakeUpRewardTTL:             7 * 24 * time.Hour,
		ParticipationTimeout:        14 * 24 * time.Hour,
		TimeoutPenalty:              decimal.NewFromInt(50),
		ExchangeMinContribution:     decimal.NewFromInt(100),
		ExchangeLotSize:             decimal.NewFromInt(100),
		AmountMaxDecimals:           4,
		PoolSweepRate:               decimal.RequireFromString("0.05"),
		TeamBonusPolicy:             domain.TeamBonusExclusive,
		ProposalTopN:                3,
		Tiers:                       domain.DefaultTierTable(),
	}
}

// amountScale is the number of decimal places amounts are stored with.
const amountScale = 4

// SettingsFromConfig builds Settings from the loaded configuration.
func SettingsFromConfig(cfg config.Config) Settings {
	s := DefaultSettings()
	s.RegistrationBonus = cfg.RegistrationBonus
	s.ContributionPerCurrencyUnit = cfg.ContributionPerCurrencyUnit
	s.FirstActionReward = cfg.FirstActionReward
	s.FirstActionRewardTTL = time.Duration(cfg.FirstActionRewardTTLHours) * time.Hour
	s.StreakBadgeThreshold = cfg.StreakBadgeThreshold
	s.StreakBadgeMultiplier = cfg.StreakBadgeMultiplier
	s.DormancyPeriod = time.Duration(cfg.DormancyDays) * 24 * time.Hour
	s.WakeUpReward = cfg.WakeUpReward
	s.WakeUpRewardTTL = time.Duration(cfg.WakeUpRewardTTLHours) * time.Hour
	s.ParticipationTimeout = time.Duration(cfg.ParticipationTimeoutDays) * 24 * time.Hour
	s.TimeoutPenalty = cfg.TimeoutPenalty
	s.ExchangeMinContribution = cfg.ExchangeMinContribution
	s.ExchangeLotSize = cfg.ExchangeLotSize
	s.AmountMaxDecimals = int32(cfg.AmountMaxDecimals)
	s.PoolSweepRate = cfg.PoolSweepRate
	s.TeamBonusPolicy = cfg.TeamBonusPolicy
	s.CommissionOnUpgradeReward = cfg.CommissionOnUpgradeReward
	s.ProposalTopN = cfg.ProposalTopN
	return s
}
