package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/transfa/rewards-service/internal/domain"
)

type batchRunnerStub struct {
	calls int
	err   error
}

func (s *batchRunnerStub) RunDailyBatch(ctx context.Context) (*domain.BatchSummary, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &domain.BatchSummary{}, nil
}

type batchLockStub struct {
	held     bool
	err      error
	released bool
}

func (s *batchLockStub) Acquire(ctx context.Context, ttl time.Duration) (func(context.Context) error, bool, error) {
	if s.err != nil {
		return nil, false, s.err
	}
	if s.held {
		return nil, false, nil
	}
	return func(context.Context) error {
		s.released = true
		return nil
	}, true, nil
}

func TestRunDailyBatch_RunsWhenLockAcquired(t *testing.T) {
	batch := &batchRunnerStub{}
	lock := &batchLockStub{}
	jobs := NewJobs(batch, lock, time.Minute, testLogger())

	jobs.RunDailyBatch()

	if batch.calls != 1 {
		t.Fatalf("expected one batch run, got %d", batch.calls)
	}
	if !lock.released {
		t.Fatal("expected lock to be released after the batch")
	}
}

func TestRunDailyBatch_SkipsWhenAnotherReplicaHoldsLock(t *testing.T) {
	batch := &batchRunnerStub{}
	jobs := NewJobs(batch, &batchLockStub{held: true}, time.Minute, testLogger())

	jobs.RunDailyBatch()

	if batch.calls != 0 {
		t.Fatal("expected batch to be skipped while the lock is held elsewhere")
	}
}

func TestRunDailyBatch_SkipsOnLockError(t *testing.T) {
	batch := &batchRunnerStub{}
	jobs := NewJobs(batch, &batchLockStub{err: errors.New("redis down")}, time.Minute, testLogger())

	jobs.RunDailyBatch()

	if batch.calls != 0 {
		t.Fatal("expected batch to be skipped when the lock cannot be acquired")
	}
}

func TestRunDailyBatch_WithoutLockAndFailingBatch(t *testing.T) {
	batch := &batchRunnerStub{err: errors.New("boom")}
	jobs := NewJobs(batch, nil, 0, testLogger())

	jobs.RunDailyBatch()

	if batch.calls != 1 {
		t.Fatalf("expected one batch run, got %d", batch.calls)
	}
}

func TestRedisBatchLock_NilClientAlwaysAcquires(t *testing.T) {
	lock := NewRedisBatchLock(nil, "")

	release, ok, err := lock.Acquire(context.Background(), time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected no-op acquisition, got ok=%v err=%v", ok, err)
	}
	if err := release(context.Background()); err != nil {
		t.Fatalf("release failed: %v", err)
	}
}
