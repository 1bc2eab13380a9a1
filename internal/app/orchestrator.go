/**
 * @description
 * This file contains the Orchestrator, which drives the time-based side of the rewards
 * economy: registration bonuses, login streaks and pending rewards, and the daily batch
 * (streak badges, dormancy wake-up rewards, participation timeout penalties).
 *
 * @notes
 * - Each batch item runs in its own transaction. A failing item is counted and logged;
 *   the rest of the batch continues.
 * - Every batch step re-checks its own precondition inside the item transaction, so
 *   running the same day's batch twice grants nothing the second time.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/rewards-service/internal/domain"
	"github.com/transfa/rewards-service/internal/store"
	"github.com/transfa/rewards-service/pkg/metrics"
)

// maxReferralScan bounds the ancestor walk used for cycle detection at registration.
const maxReferralScan = 10000

// Orchestrator runs registration, login and the daily batch.
type Orchestrator struct {
	runner
	ledger    *Ledger
	referrals *ReferralCalculator
	settings  Settings
	now       func() time.Time
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(repo store.Repository, ledger *Ledger, referrals *ReferralCalculator, events *EventEmitter, m *metrics.Collector, logger *slog.Logger, settings Settings, now func() time.Time) *Orchestrator {
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		runner:    runner{repo: repo, events: events, metrics: m, logger: logger},
		ledger:    ledger,
		referrals: referrals,
		settings:  settings,
		now:       now,
	}
}

// Register creates the member, links the referrer, credits the registration bonus and
// schedules the first-action reward.
func (o *Orchestrator) Register(ctx context.Context, req domain.RegisterRequest) (*domain.RegisterResult, error) {
	if err := validateUserID("user_id", req.UserID); err != nil {
		return nil, err
	}
	role := req.Role
	if role == "" {
		role = domain.RoleMember
	}
	if role.Rank() < 0 {
		return nil, &domain.ValidationError{Field: "role", Reason: "unknown role " + string(role)}
	}
	var referrerID string
	if req.ReferrerID != nil {
		referrerID = strings.TrimSpace(*req.ReferrerID)
		if referrerID == "" {
			return nil, &domain.ValidationError{Field: "referrer_id", Reason: "must not be blank"}
		}
		if referrerID == req.UserID {
			return nil, &domain.ValidationError{Field: "referrer_id", Reason: "a user cannot refer themselves"}
		}
	}

	result := &domain.RegisterResult{}
	err := o.run(ctx, "register", func(ctx context.Context, tx store.Tx, batch *eventBatch) error {
		if _, err := tx.FindMember(ctx, req.UserID); err == nil {
			return &domain.IntegrityViolationError{Entity: "members", Reason: "user " + req.UserID + " is already registered"}
		} else if !errors.Is(err, store.ErrMemberNotFound) {
			return err
		}

		now := o.now()
		result.Member = domain.Member{UserID: req.UserID, Role: role, Title: strings.TrimSpace(req.Title), RegisteredAt: now}
		if err := tx.InsertMember(ctx, &result.Member); err != nil {
			return err
		}

		if referrerID != "" {
			if err := o.link(ctx, tx, req.UserID, referrerID, now); err != nil {
				return err
			}
		}

		account, err := o.ledger.open(ctx, tx, batch, req.UserID)
		if err != nil {
			return err
		}
		result.Account = account

		if o.settings.FirstActionReward.IsPositive() {
			reward := &domain.PendingReward{
				ID:         uuid.New(),
				UserID:     req.UserID,
				RewardType: domain.RewardFirstAction,
				Amount:     o.settings.FirstActionReward,
				ExpiresAt:  now.Add(o.settings.FirstActionRewardTTL),
				CreatedAt:  now,
			}
			if err := tx.InsertPendingReward(ctx, reward); err != nil {
				return err
			}
			result.PendingReward = reward
		}

		return tx.UpsertActivity(ctx, &domain.UserActivity{UserID: req.UserID, LastActiveAt: now})
	})
	if err != nil {
		return nil, err
	}

	o.logger.Info("member registered", "component", "orchestrator", "user_id", req.UserID, "referrer_id", referrerID)
	return result, nil
}

// link writes the referral edge after checking the referrer exists and that the new
// edge would not close a cycle.
func (o *Orchestrator) link(ctx context.Context, tx store.Tx, userID, referrerID string, now time.Time) error {
	if _, err := tx.FindMember(ctx, referrerID); err != nil {
		if errors.Is(err, store.ErrMemberNotFound) {
			return &domain.ValidationError{Field: "referrer_id", Reason: "unknown referrer " + referrerID}
		}
		return err
	}

	current := referrerID
	for i := 0; i < maxReferralScan; i++ {
		next, ok, err := tx.FindReferrer(ctx, current)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if next == userID {
			return &domain.ValidationError{Field: "referrer_id", Reason: "referral would create a cycle"}
		}
		current = next
	}

	return tx.InsertReferralEdge(ctx, &domain.ReferralEdge{ReferrerID: referrerID, RefereeID: userID, CreatedAt: now})
}

// Login updates the user's streak and grants every claimable pending reward once.
func (o *Orchestrator) Login(ctx context.Context, userID string) (*domain.LoginResult, error) {
	if err := validateUserID("user_id", userID); err != nil {
		return nil, err
	}

	result := &domain.LoginResult{UserID: userID, GrantedRewards: []domain.PendingReward{}}
	err := o.run(ctx, "login", func(ctx context.Context, tx store.Tx, batch *eventBatch) error {
		result.GrantedRewards = result.GrantedRewards[:0]
		if _, err := tx.FindMember(ctx, userID); err != nil {
			if errors.Is(err, store.ErrMemberNotFound) {
				return &domain.ValidationError{Field: "user_id", Reason: "unknown member " + userID}
			}
			return err
		}

		now := o.now()
		activity, err := tx.LockActivity(ctx, userID)
		if err != nil {
			return err
		}
		if activity == nil {
			activity = &domain.UserActivity{UserID: userID}
		}
		activity.LoginStreak = activity.NextStreak(now)
		activity.LastLoginDate = &now
		activity.LastActiveAt = now
		if err := tx.UpsertActivity(ctx, activity); err != nil {
			return err
		}
		result.Streak = activity.LoginStreak

		rewards, err := tx.LockClaimableRewards(ctx, userID, now)
		if err != nil {
			return err
		}
		for _, reward := range rewards {
			if err := tx.MarkRewardGranted(ctx, reward.ID, now); err != nil {
				return err
			}
			if _, err := o.ledger.credit(ctx, tx, batch, userID, reward.Amount, domain.CategoryReward, string(reward.RewardType)+" reward"); err != nil {
				return err
			}
			granted := now
			reward.IsGranted = true
			reward.GrantedAt = &granted
			result.GrantedRewards = append(result.GrantedRewards, reward)
		}

		result.Account, err = o.ledger.open(ctx, tx, batch, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RunDailyBatch runs the streak badge, dormancy and timeout penalty steps for the
// current day.
func (o *Orchestrator) RunDailyBatch(ctx context.Context) (*domain.BatchSummary, error) {
	started := o.now()
	summary := &domain.BatchSummary{Day: domain.TruncateDay(started), StartedAt: started}
	o.logger.Info("daily batch started", "component", "orchestrator", "day", summary.Day.Format("2006-01-02"))

	o.grantStreakBadges(ctx, summary)
	o.scheduleWakeUpRewards(ctx, summary)
	o.applyTimeoutPenalties(ctx, summary)

	summary.FinishedAt = o.now()
	o.metrics.RecordBatch(summary.FinishedAt.Sub(started), len(summary.Errors) > 0)
	o.events.flush(ctx, eventBatch{{routingKey: domain.EventBatchCompleted, body: *summary}})

	o.logger.Info("daily batch finished", "component", "orchestrator",
		"badges_granted", summary.BadgesGranted,
		"wake_up_rewards_created", summary.WakeUpRewardsCreated,
		"penalties_applied", summary.PenaltiesApplied,
		"penalties_skipped", summary.PenaltiesSkipped,
		"errors", len(summary.Errors))
	return summary, nil
}

func (o *Orchestrator) batchError(summary *domain.BatchSummary, step, subject string, err error) {
	summary.Errors = append(summary.Errors, fmt.Sprintf("%s %s: %v", step, subject, err))
	o.logger.Error("batch item failed", "component", "orchestrator", "step", step, "subject", subject, "error", err)
}

func (o *Orchestrator) grantStreakBadges(ctx context.Context, summary *domain.BatchSummary) {
	users, err := o.repo.ListStreakBadgeCandidates(ctx, o.settings.StreakBadgeThreshold, domain.BadgeLoginStreak)
	if err != nil {
		o.batchError(summary, "streak_badges", "candidates", err)
		return
	}
	for _, userID := range users {
		granted := false
		err := o.run(ctx, "grant_streak_badge", func(ctx context.Context, tx store.Tx, _ *eventBatch) error {
			granted = false
			has, err := tx.HasBadge(ctx, userID, domain.BadgeLoginStreak)
			if err != nil || has {
				return err
			}
			granted = true
			return tx.InsertBadge(ctx, &domain.Badge{
				ID:         uuid.New(),
				UserID:     userID,
				BadgeType:  domain.BadgeLoginStreak,
				Multiplier: o.settings.StreakBadgeMultiplier,
				GrantedAt:  o.now(),
			})
		})
		if err != nil {
			o.batchError(summary, "streak_badges", userID, err)
			continue
		}
		if granted {
			summary.BadgesGranted++
		}
	}
}

func (o *Orchestrator) scheduleWakeUpRewards(ctx context.Context, summary *domain.BatchSummary) {
	if !o.settings.WakeUpReward.IsPositive() {
		return
	}
	users, err := o.repo.ListDormantUsers(ctx, o.now().Add(-o.settings.DormancyPeriod), domain.RewardWakeUp)
	if err != nil {
		o.batchError(summary, "wake_up_rewards", "candidates", err)
		return
	}
	for _, userID := range users {
		created := false
		err := o.run(ctx, "schedule_wake_up_reward", func(ctx context.Context, tx store.Tx, _ *eventBatch) error {
			created = false
			now := o.now()
			open, err := tx.HasUngrantedReward(ctx, userID, domain.RewardWakeUp, now)
			if err != nil || open {
				return err
			}
			created = true
			return tx.InsertPendingReward(ctx, &domain.PendingReward{
				ID:         uuid.New(),
				UserID:     userID,
				RewardType: domain.RewardWakeUp,
				Amount:     o.settings.WakeUpReward,
				ExpiresAt:  now.Add(o.settings.WakeUpRewardTTL),
				CreatedAt:  now,
			})
		})
		if err != nil {
			o.batchError(summary, "wake_up_rewards", userID, err)
			continue
		}
		if created {
			summary.WakeUpRewardsCreated++
		}
	}
}

// applyTimeoutPenalties charges the timeout penalty on stale participations. A user who
// cannot cover the penalty has it waived; the participation is timed out either way.
func (o *Orchestrator) applyTimeoutPenalties(ctx context.Context, summary *domain.BatchSummary) {
	stale, err := o.repo.ListStaleParticipations(ctx, o.now().Add(-o.settings.ParticipationTimeout))
	if err != nil {
		o.batchError(summary, "timeout_penalties", "candidates", err)
		return
	}
	for _, p := range stale {
		var applied, skipped bool
		err := o.run(ctx, "apply_timeout_penalty", func(ctx context.Context, tx store.Tx, batch *eventBatch) error {
			applied, skipped = false, false
			locked, err := tx.LockParticipation(ctx, p.ID)
			if err != nil {
				return err
			}
			if locked.Status != domain.ParticipationInProgress {
				return nil
			}

			if o.settings.TimeoutPenalty.IsPositive() {
				_, err := o.ledger.debit(ctx, tx, batch, p.UserID, o.settings.TimeoutPenalty, domain.CategoryPenalty,
					"participation timeout on project "+p.ProjectID.String())
				var insufficient *domain.InsufficientBalanceError
				switch {
				case errors.As(err, &insufficient):
					skipped = true
					o.logger.Warn("timeout penalty skipped", "component", "orchestrator", "user_id", p.UserID,
						"participation_id", p.ID, "available", insufficient.Available.String())
				case err != nil:
					return err
				default:
					applied = true
				}
			}
			return tx.UpdateParticipationStatus(ctx, p.ID, domain.ParticipationTimedOut, o.now())
		})
		if err != nil {
			o.batchError(summary, "timeout_penalties", p.ID.String(), err)
			continue
		}
		if applied {
			summary.PenaltiesApplied++
		}
		if skipped {
			summary.PenaltiesSkipped++
		}
	}
}
