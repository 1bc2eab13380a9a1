package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/rewards-service/internal/domain"
	"github.com/transfa/rewards-service/internal/store"
)

func TestWithinTx_RollsBackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	err := s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.InsertAccount(ctx, domain.NewAccount("u1", now)); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)

	_, err = s.FindAccount(ctx, "u1")
	assert.ErrorIs(t, err, store.ErrAccountNotFound)
}

func TestWithinTx_CommitsOnSuccess(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	err := s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		account := domain.NewAccount("u1", now)
		inserted, err := tx.InsertAccount(ctx, account)
		if err != nil || !inserted {
			return errors.New("insert failed")
		}
		account.RemainingContribution = decimal.NewFromInt(7)
		return tx.UpdateAccount(ctx, account)
	})
	require.NoError(t, err)

	account, err := s.FindAccount(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, account.RemainingContribution.Equal(decimal.NewFromInt(7)))
}

func TestWithinTx_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := New().WithinTx(ctx, func(context.Context, store.Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestTopRoleHasSingleHolder(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertMember(ctx, &domain.Member{UserID: "a", Role: domain.TopRole}); err != nil {
			return err
		}
		return tx.InsertMember(ctx, &domain.Member{UserID: "b", Role: domain.RoleMember})
	}))

	err := s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.UpdateMemberRole(ctx, "b", domain.TopRole)
	})
	assert.ErrorIs(t, err, domain.ErrIntegrityViolation)

	err = s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertMember(ctx, &domain.Member{UserID: "c", Role: domain.TopRole})
	})
	assert.ErrorIs(t, err, domain.ErrIntegrityViolation)
}

func TestUpdatePool_RejectsNegativeAvailable(t *testing.T) {
	s := New()
	ctx := context.Background()
	pool := &domain.DividendPool{Status: domain.PoolActive, AvailableAmount: decimal.Zero}

	err := s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertPool(ctx, pool); err != nil {
			return err
		}
		pool.AvailableAmount = decimal.NewFromInt(-1)
		return tx.UpdatePool(ctx, pool)
	})
	assert.ErrorIs(t, err, domain.ErrIntegrityViolation)
}

func TestInsertBadge_Unique(t *testing.T) {
	s := New()
	ctx := context.Background()
	badge := func() *domain.Badge {
		return &domain.Badge{UserID: "u", BadgeType: domain.BadgeLoginStreak, Multiplier: decimal.RequireFromString("1.1")}
	}

	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertBadge(ctx, badge())
	}))
	err := s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertBadge(ctx, badge())
	})
	assert.ErrorIs(t, err, domain.ErrIntegrityViolation)

	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		m, err := tx.BestBadgeMultiplier(ctx, "u")
		if err != nil {
			return err
		}
		assert.True(t, m.Equal(decimal.RequireFromString("1.1")))
		none, _ := tx.BestBadgeMultiplier(ctx, "other")
		assert.True(t, none.Equal(decimal.NewFromInt(1)))
		return nil
	}))
}
