/**
 * @description
 * Scheduled job implementations for the rewards-service.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/transfa/rewards-service/internal/domain"
)

// BatchRunner runs one daily batch.
type BatchRunner interface {
	RunDailyBatch(ctx context.Context) (*domain.BatchSummary, error)
}

// BatchLock elects the replica that runs a batch.
type BatchLock interface {
	Acquire(ctx context.Context, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	batch   BatchRunner
	lock    BatchLock
	lockTTL time.Duration
	logger  *slog.Logger
}

// NewJobs creates a new Jobs runner. lock may be nil on a single-replica deployment.
func NewJobs(batch BatchRunner, lock BatchLock, lockTTL time.Duration, logger *slog.Logger) *Jobs {
	if lockTTL <= 0 {
		lockTTL = 30 * time.Minute
	}
	return &Jobs{batch: batch, lock: lock, lockTTL: lockTTL, logger: logger}
}

// RunDailyBatch runs the daily batch if this replica wins the coordinator lock.
func (j *Jobs) RunDailyBatch() {
	j.logger.Info("starting daily batch job")
	ctx, cancel := context.WithTimeout(context.Background(), j.lockTTL)
	defer cancel()

	if j.lock != nil {
		release, ok, err := j.lock.Acquire(ctx, j.lockTTL)
		if err != nil {
			j.logger.Error("failed to acquire daily batch lock", "error", err)
			return
		}
		if !ok {
			j.logger.Info("daily batch already running on another replica; skipping")
			return
		}
		defer func() {
			if err := release(context.Background()); err != nil {
				j.logger.Warn("failed to release daily batch lock", "error", err)
			}
		}()
	}

	summary, err := j.batch.RunDailyBatch(ctx)
	if err != nil {
		j.logger.Error("daily batch failed", "error", err)
		return
	}

	j.logger.Info("daily batch job finished",
		"badges_granted", summary.BadgesGranted,
		"wake_up_rewards_created", summary.WakeUpRewardsCreated,
		"penalties_applied", summary.PenaltiesApplied,
		"penalties_skipped", summary.PenaltiesSkipped,
		"errors", len(summary.Errors))
}
