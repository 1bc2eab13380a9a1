/**
 * @description
 * This file contains the dividend pool engine: pool funding, the pending commission
 * sweep, equity grants and revocations, and proportional distribution rounds.
 *
 * @notes
 * - A distribution round is one transaction. Any failing holder write rolls back the
 *   whole round, including the pool totals.
 * - Payouts are truncated to the ledger scale and the last holder receives the remainder, so the
 *   payouts of a round always sum to the requested amount.
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
	"github.com/shopspring/decimal"
	"github.com/transfa/rewards-service/internal/domain"
	"github.com/transfa/rewards-service/internal/store"
	"github.com/transfa/rewards-service/pkg/metrics"
)

const sweepBatchSize = 500

var hundred = decimal.NewFromInt(100)

// DividendEngine manages dividend pools and equity holdings.
type DividendEngine struct {
	runner
	ledger *Ledger
	now    func() time.Time
}

// NewDividendEngine creates a dividend engine.
func NewDividendEngine(repo store.Repository, ledger *Ledger, events *EventEmitter, m *metrics.Collector, logger *slog.Logger, now func() time.Time) *DividendEngine {
	if now == nil {
		now = time.Now
	}
	return &DividendEngine{
		runner: runner{repo: repo, events: events, metrics: m, logger: logger},
		ledger: ledger,
		now:    now,
	}
}

// CreatePool opens a zero-balance pool.
func (d *DividendEngine) CreatePool(ctx context.Context, name, poolType, period string) (*domain.DividendPool, error) {
	if strings.TrimSpace(name) == "" {
		return nil, &domain.ValidationError{Field: "name", Reason: "is required"}
	}
	now := d.now()
	pool := &domain.DividendPool{
		ID:                uuid.New(),
		Name:              strings.TrimSpace(name),
		Type:              poolType,
		Period:            period,
		TotalPoolAmount:   decimal.Zero,
		AvailableAmount:   decimal.Zero,
		DistributedAmount: decimal.Zero,
		TotalEquity:       decimal.Zero,
		Status:            domain.PoolActive,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	err := d.run(ctx, "create_pool", func(ctx context.Context, tx store.Tx, _ *eventBatch) error {
		return tx.InsertPool(ctx, pool)
	})
	if err != nil {
		return nil, err
	}
	return pool, nil
}

// GetPool reads a pool.
func (d *DividendEngine) GetPool(ctx context.Context, poolID uuid.UUID) (*domain.DividendPool, error) {
	pool, err := d.repo.FindPool(ctx, poolID)
	if err != nil {
		if errors.Is(err, store.ErrPoolNotFound) {
			return nil, &domain.ValidationError{Field: "pool_id", Reason: "unknown pool"}
		}
		return nil, fmt.Errorf("failed to load pool: %w", err)
	}
	return pool, nil
}

// FundPool adds amount to the pool's total and available balances.
func (d *DividendEngine) FundPool(ctx context.Context, poolID uuid.UUID, amount decimal.Decimal) (*domain.DividendPool, error) {
	if err := validatePositive("amount", amount); err != nil {
		return nil, err
	}
	if amount.Exponent() < -amountScale {
		return nil, &domain.ValidationError{Field: "amount", Reason: fmt.Sprintf("must have at most %d decimal places", amountScale)}
	}

	var pool *domain.DividendPool
	err := d.run(ctx, "fund_pool", func(ctx context.Context, tx store.Tx, _ *eventBatch) error {
		var err error
		pool, err = d.lockActivePool(ctx, tx, poolID)
		if err != nil {
			return err
		}
		d.credit(pool, amount)
		return tx.UpdatePool(ctx, pool)
	})
	if err != nil {
		return nil, err
	}
	return pool, nil
}

// SweepPendingCommissionsIntoPool moves the stored pool share of every pending
// commission into the pool and marks those commissions pooled. Running it again
// finds nothing left to sweep.
func (d *DividendEngine) SweepPendingCommissionsIntoPool(ctx context.Context, poolID uuid.UUID) (*domain.SweepSummary, error) {
	summary := &domain.SweepSummary{PoolID: poolID, Amount: decimal.Zero}
	err := d.run(ctx, "sweep_pending_commissions", func(ctx context.Context, tx store.Tx, _ *eventBatch) error {
		summary.Commissions, summary.Amount = 0, decimal.Zero
		pool, err := d.lockActivePool(ctx, tx, poolID)
		if err != nil {
			return err
		}

		now := d.now()
		for {
			pending, err := tx.LockPendingCommissions(ctx, sweepBatchSize)
			if err != nil {
				return err
			}
			ids := make([]uuid.UUID, 0, len(pending))
			for _, c := range pending {
				ids = append(ids, c.ID)
				summary.Amount = summary.Amount.Add(c.PoolShare)
			}
			if err := tx.MarkCommissionsPooled(ctx, ids, poolID, now); err != nil {
				return err
			}
			summary.Commissions += len(pending)
			if len(pending) < sweepBatchSize {
				break
			}
		}

		if !summary.Amount.IsPositive() {
			return nil
		}
		d.credit(pool, summary.Amount)
		return tx.UpdatePool(ctx, pool)
	})
	if err != nil {
		return nil, err
	}

	d.logger.Info("pending commissions swept", "component", "dividend", "pool_id", poolID, "commissions", summary.Commissions, "amount", summary.Amount.String())
	return summary, nil
}

// GrantEquity gives the user a percentage claim on the pool. A user holds at most one
// active holding per pool.
func (d *DividendEngine) GrantEquity(ctx context.Context, userID string, poolID uuid.UUID, percentage decimal.Decimal, expires *time.Time) (*domain.EquityHolding, error) {
	if err := validateUserID("user_id", userID); err != nil {
		return nil, err
	}
	if !percentage.IsPositive() || percentage.GreaterThan(hundred) {
		return nil, &domain.ValidationError{Field: "percentage", Reason: "must be in (0, 100]"}
	}
	if percentage.Exponent() < -amountScale {
		return nil, &domain.ValidationError{Field: "percentage", Reason: fmt.Sprintf("must have at most %d decimal places", amountScale)}
	}
	now := d.now()
	if expires != nil && !expires.After(now) {
		return nil, &domain.ValidationError{Field: "expires", Reason: "must be in the future"}
	}

	var holding *domain.EquityHolding
	err := d.run(ctx, "grant_equity", func(ctx context.Context, tx store.Tx, _ *eventBatch) error {
		if _, err := d.lockActivePool(ctx, tx, poolID); err != nil {
			return err
		}
		existing, err := tx.FindActiveHolding(ctx, userID, poolID)
		if err != nil {
			return err
		}
		if existing != nil {
			return &domain.IntegrityViolationError{Entity: "equity_holdings", Reason: "user already holds active equity in this pool"}
		}
		holding = &domain.EquityHolding{
			ID:               uuid.New(),
			UserID:           userID,
			PoolID:           poolID,
			EquityPercentage: percentage,
			GrantedDate:      now,
			ExpiresDate:      expires,
			Status:           domain.HoldingActive,
			UpdatedAt:        now,
		}
		return tx.InsertHolding(ctx, holding)
	})
	if err != nil {
		return nil, err
	}
	return holding, nil
}

// RevokeEquity terminates a holding. Completed rounds are left untouched.
func (d *DividendEngine) RevokeEquity(ctx context.Context, holdingID uuid.UUID, reason string) (*domain.EquityHolding, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, &domain.ValidationError{Field: "reason", Reason: "is required"}
	}

	var holding *domain.EquityHolding
	err := d.run(ctx, "revoke_equity", func(ctx context.Context, tx store.Tx, _ *eventBatch) error {
		var err error
		holding, err = tx.LockHolding(ctx, holdingID)
		if err != nil {
			if errors.Is(err, store.ErrHoldingNotFound) {
				return &domain.ValidationError{Field: "holding_id", Reason: "unknown holding"}
			}
			return err
		}
		if holding.Status == domain.HoldingTerminated {
			return &domain.ValidationError{Field: "holding_id", Reason: "holding already terminated"}
		}
		holding.Status = domain.HoldingTerminated
		holding.RevokedReason = &reason
		holding.UpdatedAt = d.now()
		return tx.UpdateHolding(ctx, holding)
	})
	if err != nil {
		return nil, err
	}
	return holding, nil
}

// DistributePool pays amount (the whole available balance when nil) to the pool's
// active holders in proportion to their percentage of the total active equity.
func (d *DividendEngine) DistributePool(ctx context.Context, poolID uuid.UUID, amount *decimal.Decimal) (*domain.DistributionSummary, error) {
	if amount != nil {
		if err := validatePositive("amount", *amount); err != nil {
			return nil, err
		}
		if amount.Exponent() < -amountScale {
			return nil, &domain.ValidationError{Field: "amount", Reason: fmt.Sprintf("must have at most %d decimal places", amountScale)}
		}
	}

	var summary *domain.DistributionSummary
	err := d.run(ctx, "distribute_pool", func(ctx context.Context, tx store.Tx, batch *eventBatch) error {
		pool, err := d.lockActivePool(ctx, tx, poolID)
		if err != nil {
			return err
		}

		total := pool.AvailableAmount
		if amount != nil {
			total = *amount
		}
		if !total.IsPositive() {
			return &domain.ValidationError{Field: "amount", Reason: "pool has nothing available to distribute"}
		}
		if total.GreaterThan(pool.AvailableAmount) {
			return &domain.ValidationError{Field: "amount", Reason: "exceeds available pool balance " + pool.AvailableAmount.String()}
		}

		now := d.now()
		locked, err := tx.ListActiveHoldings(ctx, poolID)
		if err != nil {
			return err
		}
		holdings := make([]domain.EquityHolding, 0, len(locked))
		totalEquity := decimal.Zero
		for _, h := range locked {
			if h.ActiveAt(now) {
				holdings = append(holdings, h)
				totalEquity = totalEquity.Add(h.EquityPercentage)
			}
		}
		if len(holdings) == 0 || !totalEquity.IsPositive() {
			return &domain.ValidationError{Field: "pool_id", Reason: "pool has no active equity holdings"}
		}

		round := pool.Round + 1
		payouts := SplitPayouts(total, holdings, totalEquity)
		summary = &domain.DistributionSummary{PoolID: poolID, Round: round, Amount: total, TotalEquity: totalEquity}
		for i, h := range holdings {
			record := domain.DividendDistribution{
				ID:                   uuid.New(),
				PoolID:               poolID,
				EquityHoldingID:      h.ID,
				UserID:               h.UserID,
				Round:                round,
				DividendAmount:       payouts[i],
				ContributionCredited: d.ledger.ToContribution(payouts[i]),
				CreatedAt:            now,
			}
			if record.ContributionCredited.IsPositive() {
				description := fmt.Sprintf("dividend round %d of pool %s", round, pool.Name)
				if _, err := d.ledger.credit(ctx, tx, batch, h.UserID, record.ContributionCredited, domain.CategoryDividend, description); err != nil {
					return err
				}
			}
			if err := tx.InsertDistribution(ctx, &record); err != nil {
				return err
			}
			summary.Payouts = append(summary.Payouts, record)
		}

		pool.AvailableAmount = pool.AvailableAmount.Sub(total)
		pool.DistributedAmount = pool.DistributedAmount.Add(total)
		pool.TotalEquity = totalEquity
		pool.Round = round
		pool.UpdatedAt = now
		if err := tx.UpdatePool(ctx, pool); err != nil {
			return err
		}
		summary.AvailableAfter = pool.AvailableAmount

		batch.add(domain.EventDividendDistributed, *summary)
		return nil
	})
	if err != nil {
		return nil, err
	}

	d.logger.Info("dividend distributed", "component", "dividend", "pool_id", poolID, "round", summary.Round, "amount", summary.Amount.String(), "holders", len(summary.Payouts))
	return summary, nil
}

// SplitPayouts divides total across holdings by percentage. Every payout but the last
// is truncated to the ledger scale; the last takes the remainder.
func SplitPayouts(total decimal.Decimal, holdings []domain.EquityHolding, totalEquity decimal.Decimal) []decimal.Decimal {
	payouts := make([]decimal.Decimal, len(holdings))
	allocated := decimal.Zero
	for i, h := range holdings {
		if i == len(holdings)-1 {
			payouts[i] = total.Sub(allocated)
			break
		}
		share := total.Mul(h.EquityPercentage).DivRound(totalEquity, amountScale+4).Truncate(amountScale)
		payouts[i] = share
		allocated = allocated.Add(share)
	}
	return payouts
}

// ListDistributions returns a pool's payout records. round 0 returns every round.
func (d *DividendEngine) ListDistributions(ctx context.Context, poolID uuid.UUID, round int) ([]domain.DividendDistribution, error) {
	if round < 0 {
		return nil, &domain.ValidationError{Field: "round", Reason: "must not be negative"}
	}
	out, err := d.repo.ListDistributions(ctx, poolID, round)
	if err != nil {
		return nil, fmt.Errorf("failed to list distributions: %w", err)
	}
	return out, nil
}

// GetEquitySummary aggregates a user's active holdings at read time.
func (d *DividendEngine) GetEquitySummary(ctx context.Context, userID string) (*domain.EquitySummary, error) {
	if err := validateUserID("user_id", userID); err != nil {
		return nil, err
	}
	holdings, err := d.repo.ListActiveHoldingsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list holdings: %w", err)
	}
	summary := &domain.EquitySummary{UserID: userID, Holdings: holdings, TotalPercentage: decimal.Zero}
	if summary.Holdings == nil {
		summary.Holdings = []domain.EquityHolding{}
	}
	for _, h := range holdings {
		summary.TotalPercentage = summary.TotalPercentage.Add(h.EquityPercentage)
	}
	return summary, nil
}

func (d *DividendEngine) lockActivePool(ctx context.Context, tx store.Tx, poolID uuid.UUID) (*domain.DividendPool, error) {
	pool, err := tx.LockPool(ctx, poolID)
	if err != nil {
		if errors.Is(err, store.ErrPoolNotFound) {
			return nil, &domain.ValidationError{Field: "pool_id", Reason: "unknown pool"}
		}
		return nil, err
	}
	if pool.Status != domain.PoolActive {
		return nil, &domain.ValidationError{Field: "pool_id", Reason: "pool is " + string(pool.Status)}
	}
	return pool, nil
}

func (d *DividendEngine) credit(pool *domain.DividendPool, amount decimal.Decimal) {
	pool.TotalPoolAmount = pool.TotalPoolAmount.Add(amount)
	pool.AvailableAmount = pool.AvailableAmount.Add(amount)
	pool.UpdatedAt = d.now()
}
