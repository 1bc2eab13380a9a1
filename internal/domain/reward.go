package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RewardType identifies why a pending reward was scheduled.
type RewardType string

const (
	RewardFirstAction RewardType = "first_action"
	RewardWakeUp      RewardType = "wake_up"
)

// PendingReward is a scheduled credit awaiting a qualifying login. It moves from
// pending to granted exactly once.
type PendingReward struct {
	ID         uuid.UUID       `json:"id"`
	UserID     string          `json:"user_id"`
	RewardType RewardType      `json:"reward_type"`
	Amount     decimal.Decimal `json:"amount"`
	ExpiresAt  time.Time       `json:"expires_at"`
	IsGranted  bool            `json:"is_granted"`
	GrantedAt  *time.Time      `json:"granted_at,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Claimable reports whether the reward can still be granted at now.
func (p PendingReward) Claimable(now time.Time) bool {
	return !p.IsGranted && now.Before(p.ExpiresAt)
}

// UserActivity tracks login streaks and last activity for the daily batch.
type UserActivity struct {
	UserID        string     `json:"user_id"`
	LastLoginDate *time.Time `json:"last_login_date,omitempty"`
	LoginStreak   int        `json:"login_streak"`
	LastActiveAt  time.Time  `json:"last_active_at"`
}

// NextStreak computes the consecutive-login streak for a login on day. Same-day
// logins keep the streak, a one-day gap extends it, anything longer resets it to 1.
func (a UserActivity) NextStreak(day time.Time) int {
	if a.LastLoginDate == nil || a.LoginStreak <= 0 {
		return 1
	}
	last := TruncateDay(*a.LastLoginDate)
	today := TruncateDay(day)
	switch gap := int(today.Sub(last).Hours() / 24); {
	case gap <= 0:
		return a.LoginStreak
	case gap == 1:
		return a.LoginStreak + 1
	default:
		return 1
	}
}

// TruncateDay returns midnight UTC of t's calendar day.
func TruncateDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// BadgeType names a permanent badge.
type BadgeType string

const BadgeLoginStreak BadgeType = "login_streak"

// Badge is a permanent earnings multiplier.
type Badge struct {
	ID         uuid.UUID       `json:"id"`
	UserID     string          `json:"user_id"`
	BadgeType  BadgeType       `json:"badge_type"`
	Multiplier decimal.Decimal `json:"multiplier"`
	GrantedAt  time.Time       `json:"granted_at"`
}

// LoginResult describes the effects of one login.
type LoginResult struct {
	UserID         string          `json:"user_id"`
	Streak         int             `json:"streak"`
	GrantedRewards []PendingReward `json:"granted_rewards"`
	Account        *Account        `json:"account"`
}

// BatchSummary reports the outcome of one daily batch run.
type BatchSummary struct {
	Day                  time.Time `json:"day"`
	BadgesGranted        int       `json:"badges_granted"`
	WakeUpRewardsCreated int       `json:"wake_up_rewards_created"`
	PenaltiesApplied     int       `json:"penalties_applied"`
	PenaltiesSkipped     int       `json:"penalties_skipped"`
	Errors               []string  `json:"errors,omitempty"`
	StartedAt            time.Time `json:"started_at"`
	FinishedAt           time.Time `json:"finished_at"`
}
