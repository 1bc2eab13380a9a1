package app

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/rewards-service/internal/domain"
)

func (f *fixture) fundedPool(t *testing.T, amount string) *domain.DividendPool {
	t.Helper()
	ctx := context.Background()
	pool, err := f.svc.Dividends.CreatePool(ctx, "quarterly", "profit_share", "2026-Q1")
	require.NoError(t, err)
	pool, err = f.svc.Dividends.FundPool(ctx, pool.ID, dec(amount))
	require.NoError(t, err)
	return pool
}

func TestDistributePool_ProportionalPayouts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pool := f.fundedPool(t, "1000")

	_, err := f.svc.Dividends.GrantEquity(ctx, "X", pool.ID, dec("30"), nil)
	require.NoError(t, err)
	_, err = f.svc.Dividends.GrantEquity(ctx, "Y", pool.ID, dec("70"), nil)
	require.NoError(t, err)

	summary, err := f.svc.Dividends.DistributePool(ctx, pool.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Round)
	requireDecimal(t, "0", summary.AvailableAfter)

	paid := map[string]decimal.Decimal{}
	for _, p := range summary.Payouts {
		paid[p.UserID] = p.DividendAmount
	}
	requireDecimal(t, "300", paid["X"])
	requireDecimal(t, "700", paid["Y"])

	requireDecimal(t, "1300", f.balance(t, "X").RemainingContribution)
	requireDecimal(t, "1700", f.balance(t, "Y").RemainingContribution)

	after, err := f.svc.Dividends.GetPool(ctx, pool.ID)
	require.NoError(t, err)
	requireDecimal(t, "0", after.AvailableAmount)
	requireDecimal(t, "1000", after.DistributedAmount)
	assert.Equal(t, 1, after.Round)

	records, err := f.svc.Dividends.ListDistributions(ctx, pool.ID, 1)
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Contains(t, f.publisher.keys(), domain.EventDividendDistributed)
}

func TestDistributePool_PayoutsSumToAmount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pool := f.fundedPool(t, "250")

	for _, user := range []string{"a", "b", "c"} {
		_, err := f.svc.Dividends.GrantEquity(ctx, user, pool.ID, dec("10"), nil)
		require.NoError(t, err)
	}

	amount := dec("100")
	summary, err := f.svc.Dividends.DistributePool(ctx, pool.ID, &amount)
	require.NoError(t, err)

	sum := decimal.Zero
	for _, p := range summary.Payouts {
		sum = sum.Add(p.DividendAmount)
		assert.LessOrEqual(t, -p.DividendAmount.Exponent(), int32(amountScale))
	}
	requireDecimal(t, "100", sum)
	requireDecimal(t, "150", summary.AvailableAfter)
}

func TestSplitPayouts_LastHolderTakesRemainder(t *testing.T) {
	holdings := []domain.EquityHolding{
		{EquityPercentage: dec("1")},
		{EquityPercentage: dec("1")},
		{EquityPercentage: dec("1")},
	}

	payouts := SplitPayouts(dec("100"), holdings, dec("3"))

	requireDecimal(t, "33.3333", payouts[0])
	requireDecimal(t, "33.3333", payouts[1])
	requireDecimal(t, "33.3334", payouts[2])
}

func TestDistributePool_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pool := f.fundedPool(t, "100")

	_, err := f.svc.Dividends.DistributePool(ctx, pool.ID, nil)
	assert.ErrorIs(t, err, domain.ErrValidation, "no holders")

	_, err = f.svc.Dividends.GrantEquity(ctx, "X", pool.ID, dec("50"), nil)
	require.NoError(t, err)

	tooMuch := dec("100.01")
	_, err = f.svc.Dividends.DistributePool(ctx, pool.ID, &tooMuch)
	assert.ErrorIs(t, err, domain.ErrValidation)

	tooPrecise := dec("1.00001")
	_, err = f.svc.Dividends.DistributePool(ctx, pool.ID, &tooPrecise)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.Dividends.DistributePool(ctx, uuid.New(), nil)
	assert.ErrorIs(t, err, domain.ErrValidation)

	after, err := f.svc.Dividends.GetPool(ctx, pool.ID)
	require.NoError(t, err)
	requireDecimal(t, "100", after.AvailableAmount)
	assert.Zero(t, after.Round)
}

func TestRevokeEquity_ExcludesHolderFromNextRound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pool := f.fundedPool(t, "200")

	x, err := f.svc.Dividends.GrantEquity(ctx, "X", pool.ID, dec("50"), nil)
	require.NoError(t, err)
	_, err = f.svc.Dividends.GrantEquity(ctx, "Y", pool.ID, dec("50"), nil)
	require.NoError(t, err)

	half := dec("100")
	_, err = f.svc.Dividends.DistributePool(ctx, pool.ID, &half)
	require.NoError(t, err)

	_, err = f.svc.Dividends.RevokeEquity(ctx, x.ID, "left the company")
	require.NoError(t, err)
	_, err = f.svc.Dividends.RevokeEquity(ctx, x.ID, "again")
	assert.ErrorIs(t, err, domain.ErrValidation)

	summary, err := f.svc.Dividends.DistributePool(ctx, pool.ID, nil)
	require.NoError(t, err)
	require.Len(t, summary.Payouts, 1)
	assert.Equal(t, "Y", summary.Payouts[0].UserID)
	requireDecimal(t, "100", summary.Payouts[0].DividendAmount)

	round1, err := f.svc.Dividends.ListDistributions(ctx, pool.ID, 1)
	require.NoError(t, err)
	assert.Len(t, round1, 2)

	equity, err := f.svc.Dividends.GetEquitySummary(ctx, "X")
	require.NoError(t, err)
	assert.Empty(t, equity.Holdings)
}

func TestGrantEquity_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pool := f.fundedPool(t, "10")
	past := f.clock.Now().Add(-time.Hour)

	_, err := f.svc.Dividends.GrantEquity(ctx, "X", pool.ID, dec("0"), nil)
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = f.svc.Dividends.GrantEquity(ctx, "X", pool.ID, dec("100.5"), nil)
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = f.svc.Dividends.GrantEquity(ctx, "X", pool.ID, dec("10"), &past)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.Dividends.GrantEquity(ctx, "X", pool.ID, dec("10"), nil)
	require.NoError(t, err)
	_, err = f.svc.Dividends.GrantEquity(ctx, "X", pool.ID, dec("5"), nil)
	assert.ErrorIs(t, err, domain.ErrIntegrityViolation)
}

func TestDistributePool_SkipsExpiredHoldings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pool := f.fundedPool(t, "100")
	expires := f.clock.Now().Add(24 * time.Hour)

	_, err := f.svc.Dividends.GrantEquity(ctx, "X", pool.ID, dec("50"), &expires)
	require.NoError(t, err)
	_, err = f.svc.Dividends.GrantEquity(ctx, "Y", pool.ID, dec("50"), nil)
	require.NoError(t, err)

	f.clock.Advance(48 * time.Hour)

	summary, err := f.svc.Dividends.DistributePool(ctx, pool.ID, nil)
	require.NoError(t, err)
	require.Len(t, summary.Payouts, 1)
	assert.Equal(t, "Y", summary.Payouts[0].UserID)
	requireDecimal(t, "50", summary.TotalEquity)
}

func TestSweepPendingCommissions_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "A", "")
	f.register(t, "B", "A")
	f.register(t, "C", "B")

	_, err := f.svc.Referrals.CalculateReferralCommission(ctx, "C", dec("1000"))
	require.NoError(t, err)

	pool, err := f.svc.Dividends.CreatePool(ctx, "commission pool", "commission", "monthly")
	require.NoError(t, err)

	first, err := f.svc.Dividends.SweepPendingCommissionsIntoPool(ctx, pool.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Commissions)
	// 5% of 100 and 50
	requireDecimal(t, "7.5", first.Amount)

	second, err := f.svc.Dividends.SweepPendingCommissionsIntoPool(ctx, pool.ID)
	require.NoError(t, err)
	assert.Zero(t, second.Commissions)
	requireDecimal(t, "0", second.Amount)

	after, err := f.svc.Dividends.GetPool(ctx, pool.ID)
	require.NoError(t, err)
	requireDecimal(t, "7.5", after.AvailableAmount)
	for _, c := range f.store.Commissions() {
		assert.Equal(t, domain.CommissionPooled, c.Status)
		require.NotNil(t, c.PooledInto)
		assert.Equal(t, pool.ID, *c.PooledInto)
	}
}

func TestFundPool_RejectsUnknownPoolAndBadAmount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Dividends.FundPool(ctx, uuid.New(), dec("10"))
	assert.ErrorIs(t, err, domain.ErrValidation)

	pool := f.fundedPool(t, "10")
	_, err = f.svc.Dividends.FundPool(ctx, pool.ID, dec("-5"))
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.Dividends.FundPool(ctx, pool.ID, dec("0.00005"))
	assert.ErrorIs(t, err, domain.ErrValidation)
	after, err := f.svc.Dividends.GetPool(ctx, pool.ID)
	require.NoError(t, err)
	requireDecimal(t, "10", after.AvailableAmount)

	_, err = f.svc.Dividends.ListDistributions(ctx, pool.ID, -1)
	assert.ErrorIs(t, err, domain.ErrValidation)
}
