/**
 * @description
 * This package handles the configuration management for the rewards-service. It uses
 * the Viper library to read configuration from environment variables and an optional
 * .env file, providing a centralized way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 * - github.com/shopspring/decimal: Reward amounts and rates are fixed-point values.
 *
 * @notes
 * - CONTRIBUTION_PER_CURRENCY_UNIT is the single conversion rate between contribution
 *   and currency. The dividend engine, the exchange operation and the validator all
 *   read it from here.
 * - Invalid numeric values fall back to their defaults with a warning.
 */

package config

import (
	"log/slog"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/transfa/rewards-service/internal/domain"
)

// Config holds all the configuration variables for the rewards-service.
type Config struct {
	ServerPort         string `mapstructure:"SERVER_PORT"`
	DatabaseURL        string `mapstructure:"DATABASE_URL"`
	RedisURL           string `mapstructure:"REDIS_URL"`
	RabbitMQURL        string `mapstructure:"RABBITMQ_URL"`
	EventsExchange     string `mapstructure:"EVENTS_EXCHANGE"`
	InternalAPIKey     string `mapstructure:"INTERNAL_API_KEY"`
	JWKSURL            string `mapstructure:"JWKS_URL"`
	LogLevel           string `mapstructure:"LOG_LEVEL"`
	LogFormat          string `mapstructure:"LOG_FORMAT"`
	MetricsAddr        string `mapstructure:"METRICS_ADDR"`
	SchedulerEnabled   bool   `mapstructure:"SCHEDULER_ENABLED"`
	DailyBatchSchedule string `mapstructure:"DAILY_BATCH_SCHEDULE"`
	BatchLockKey       string `mapstructure:"BATCH_LOCK_KEY"`

	FirstActionRewardTTLHours int  `mapstructure:"FIRST_ACTION_REWARD_TTL_HOURS"`
	StreakBadgeThreshold      int  `mapstructure:"STREAK_BADGE_THRESHOLD"`
	DormancyDays              int  `mapstructure:"DORMANCY_DAYS"`
	WakeUpRewardTTLHours      int  `mapstructure:"WAKE_UP_REWARD_TTL_HOURS"`
	ParticipationTimeoutDays  int  `mapstructure:"PARTICIPATION_TIMEOUT_DAYS"`
	AmountMaxDecimals         int  `mapstructure:"AMOUNT_MAX_DECIMALS"`
	ProposalTopN              int  `mapstructure:"PROPOSAL_TOP_N"`
	CommissionOnUpgradeReward bool `mapstructure:"COMMISSION_ON_UPGRADE_REWARD"`

	TeamBonusPolicy domain.TeamBonusPolicy `mapstructure:"-"`

	ContributionPerCurrencyUnit decimal.Decimal `mapstructure:"-"`
	RegistrationBonus           decimal.Decimal `mapstructure:"-"`
	FirstActionReward           decimal.Decimal `mapstructure:"-"`
	StreakBadgeMultiplier       decimal.Decimal `mapstructure:"-"`
	WakeUpReward                decimal.Decimal `mapstructure:"-"`
	TimeoutPenalty              decimal.Decimal `mapstructure:"-"`
	ExchangeMinContribution     decimal.Decimal `mapstructure:"-"`
	ExchangeLotSize             decimal.Decimal `mapstructure:"-"`
	PoolSweepRate               decimal.Decimal `mapstructure:"-"`
}

var decimalDefaults = map[string]string{
	"CONTRIBUTION_PER_CURRENCY_UNIT": "1",
	"REGISTRATION_BONUS":             "1000",
	"FIRST_ACTION_REWARD":            "200",
	"STREAK_BADGE_MULTIPLIER":        "1.1",
	"WAKE_UP_REWARD":                 "100",
	"TIMEOUT_PENALTY":                "50",
	"EXCHANGE_MIN_CONTRIBUTION":      "100",
	"EXCHANGE_LOT_SIZE":              "100",
	"POOL_SWEEP_RATE":                "0.05",
}

// LoadConfig reads configuration from environment variables and an optional .env
// file in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("EVENTS_EXCHANGE", "rewards.events")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "json")
	viper.SetDefault("METRICS_ADDR", ":9090")
	viper.SetDefault("SCHEDULER_ENABLED", true)
	// Every day at 01:00 UTC.
	viper.SetDefault("DAILY_BATCH_SCHEDULE", "0 1 * * *")
	viper.SetDefault("BATCH_LOCK_KEY", "rewards:daily_batch:lock")
	viper.SetDefault("FIRST_ACTION_REWARD_TTL_HOURS", 72)
	viper.SetDefault("STREAK_BADGE_THRESHOLD", 7)
	viper.SetDefault("DORMANCY_DAYS", 30)
	viper.SetDefault("WAKE_UP_REWARD_TTL_HOURS", 168)
	viper.SetDefault("PARTICIPATION_TIMEOUT_DAYS", 14)
	viper.SetDefault("AMOUNT_MAX_DECIMALS", 4)
	viper.SetDefault("PROPOSAL_TOP_N", 3)
	viper.SetDefault("COMMISSION_ON_UPGRADE_REWARD", false)
	viper.SetDefault("TEAM_BONUS_POLICY", string(domain.TeamBonusExclusive))
	for key, def := range decimalDefaults {
		viper.SetDefault(key, def)
	}

	for _, key := range []string{
		"SERVER_PORT", "PORT", "DATABASE_URL", "REDIS_URL", "RABBITMQ_URL", "EVENTS_EXCHANGE",
		"INTERNAL_API_KEY", "JWKS_URL", "LOG_LEVEL", "LOG_FORMAT", "METRICS_ADDR",
		"SCHEDULER_ENABLED", "DAILY_BATCH_SCHEDULE", "BATCH_LOCK_KEY",
		"FIRST_ACTION_REWARD_TTL_HOURS", "STREAK_BADGE_THRESHOLD", "DORMANCY_DAYS",
		"WAKE_UP_REWARD_TTL_HOURS", "PARTICIPATION_TIMEOUT_DAYS", "AMOUNT_MAX_DECIMALS",
		"PROPOSAL_TOP_N", "COMMISSION_ON_UPGRADE_REWARD", "TEAM_BONUS_POLICY",
	} {
		_ = viper.BindEnv(key)
	}
	for key := range decimalDefaults {
		_ = viper.BindEnv(key)
	}

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("failed to read config file; using environment values", "component", "config", "error", err)
		}
		err = nil
	}

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.InternalAPIKey = strings.TrimSpace(config.InternalAPIKey)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.TeamBonusPolicy = domain.ParseTeamBonusPolicy(strings.ToLower(strings.TrimSpace(viper.GetString("TEAM_BONUS_POLICY"))))

	config.ContributionPerCurrencyUnit = positiveDecimal("CONTRIBUTION_PER_CURRENCY_UNIT")
	config.RegistrationBonus = nonNegativeDecimal("REGISTRATION_BONUS")
	config.FirstActionReward = nonNegativeDecimal("FIRST_ACTION_REWARD")
	config.StreakBadgeMultiplier = positiveDecimal("STREAK_BADGE_MULTIPLIER")
	config.WakeUpReward = nonNegativeDecimal("WAKE_UP_REWARD")
	config.TimeoutPenalty = nonNegativeDecimal("TIMEOUT_PENALTY")
	config.ExchangeMinContribution = nonNegativeDecimal("EXCHANGE_MIN_CONTRIBUTION")
	config.ExchangeLotSize = positiveDecimal("EXCHANGE_LOT_SIZE")
	config.PoolSweepRate = nonNegativeDecimal("POOL_SWEEP_RATE")
	if config.PoolSweepRate.GreaterThan(decimal.NewFromInt(1)) {
		slog.Warn("POOL_SWEEP_RATE above 1; using default", "component", "config")
		config.PoolSweepRate = decimal.RequireFromString(decimalDefaults["POOL_SWEEP_RATE"])
	}

	config.AmountMaxDecimals = intAtLeast("AMOUNT_MAX_DECIMALS", config.AmountMaxDecimals, 0)
	config.ProposalTopN = intAtLeast("PROPOSAL_TOP_N", config.ProposalTopN, 1)
	config.StreakBadgeThreshold = intAtLeast("STREAK_BADGE_THRESHOLD", config.StreakBadgeThreshold, 1)
	config.DormancyDays = intAtLeast("DORMANCY_DAYS", config.DormancyDays, 1)
	config.ParticipationTimeoutDays = intAtLeast("PARTICIPATION_TIMEOUT_DAYS", config.ParticipationTimeoutDays, 1)
	config.FirstActionRewardTTLHours = intAtLeast("FIRST_ACTION_REWARD_TTL_HOURS", config.FirstActionRewardTTLHours, 1)
	config.WakeUpRewardTTLHours = intAtLeast("WAKE_UP_REWARD_TTL_HOURS", config.WakeUpRewardTTLHours, 1)

	return config, nil
}

func readDecimal(key string) (decimal.Decimal, bool) {
	raw := strings.TrimSpace(viper.GetString(key))
	value, err := decimal.NewFromString(raw)
	if err != nil {
		slog.Warn("invalid decimal config value; using default", "component", "config", "key", key, "value", raw)
		return decimal.RequireFromString(decimalDefaults[key]), false
	}
	return value, true
}

func positiveDecimal(key string) decimal.Decimal {
	value, ok := readDecimal(key)
	if ok && !value.IsPositive() {
		slog.Warn("config value must be positive; using default", "component", "config", "key", key, "value", value.String())
		return decimal.RequireFromString(decimalDefaults[key])
	}
	return value
}

func nonNegativeDecimal(key string) decimal.Decimal {
	value, ok := readDecimal(key)
	if ok && value.IsNegative() {
		slog.Warn("config value must not be negative; using default", "component", "config", "key", key, "value", value.String())
		return decimal.RequireFromString(decimalDefaults[key])
	}
	return value
}

func intAtLeast(key string, value, min int) int {
	if value >= min {
		return value
	}
	slog.Warn("config value below minimum; using minimum", "component", "config", "key", key, "value", value, "min", min)
	return min
}
