package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/rewards-service/internal/domain"
)

func TestTierUpgrade_RewardCreditedOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Ledger.AddContribution(ctx, "user-1", dec("49000"), domain.CategoryProject, "")
	require.NoError(t, err)

	check, err := f.svc.Tiers.CheckTierUpgrade(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, check.Eligible)
	assert.Equal(t, domain.TierRegularPartner, check.NewTier)

	result, err := f.svc.Tiers.ApplyTierUpgrade(ctx, "user-1", domain.TierRegularPartner, false, dec("0"))
	require.NoError(t, err)
	assert.Equal(t, domain.TierNormalUser, result.PreviousTier)
	requireDecimal(t, "1000", result.RewardCredited)
	requireDecimal(t, "51000", result.Account.RemainingContribution)

	_, err = f.svc.Tiers.ApplyTierUpgrade(ctx, "user-1", domain.TierRegularPartner, false, dec("0"))
	assert.ErrorIs(t, err, domain.ErrValidation)

	requireDecimal(t, "51000", f.balance(t, "user-1").RemainingContribution)
	assert.Len(t, f.store.TierChanges("user-1"), 1)

	check, err = f.svc.Tiers.CheckTierUpgrade(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, check.Eligible)
}

func TestTierUpgrade_NeverMovesDown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Tiers.ApplyTierUpgrade(ctx, "user-1", domain.TierSeniorPartner, true, dec("200000"))
	require.NoError(t, err)

	_, err = f.svc.Tiers.ApplyTierUpgrade(ctx, "user-1", domain.TierRegularPartner, true, dec("60000"))
	assert.ErrorIs(t, err, domain.ErrValidation)

	account := f.balance(t, "user-1")
	assert.Equal(t, domain.TierSeniorPartner, account.PartnerTier)
	requireDecimal(t, "200000", account.DirectInvestment)
}

func TestTierUpgrade_InvestmentPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Tiers.ApplyTierUpgrade(ctx, "user-1", domain.TierRegularPartner, true, dec("10000"))
	assert.ErrorIs(t, err, domain.ErrValidation, "threshold not met")
	account := f.balance(t, "user-1")
	assert.Equal(t, domain.TierNormalUser, account.PartnerTier)
	requireDecimal(t, "0", account.DirectInvestment)

	result, err := f.svc.Tiers.ApplyTierUpgrade(ctx, "user-1", domain.TierRegularPartner, true, dec("50000"))
	require.NoError(t, err)
	requireDecimal(t, "50000", result.InvestmentAdded)
	requireDecimal(t, "2000", result.Account.RemainingContribution)

	changes := f.store.TierChanges("user-1")
	require.Len(t, changes, 1)
	assert.True(t, changes[0].IsInvestment)
}

func TestApplyTierUpgrade_RejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name         string
		tier         domain.Tier
		isInvestment bool
		amount       string
	}{
		{"unknown tier", domain.Tier("diamond"), false, "0"},
		{"negative investment", domain.TierRegularPartner, true, "-1"},
		{"investment without amount", domain.TierRegularPartner, true, "0"},
		{"amount without investment", domain.TierRegularPartner, false, "100"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Tiers.ApplyTierUpgrade(ctx, "user-1", tt.tier, tt.isInvestment, dec(tt.amount))
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestRecordProjectEarning_UpgradesTierAutomatically(t *testing.T) {
	f := newFixture(t)
	f.register(t, "user-1", "")

	_, err := f.svc.RecordProjectEarning(context.Background(), "user-1", dec("49000"), "milestone")
	require.NoError(t, err)

	account := f.balance(t, "user-1")
	assert.Equal(t, domain.TierRegularPartner, account.PartnerTier)
	requireDecimal(t, "51000", account.RemainingContribution)
}

func TestTierUpgrade_CommissionOnUpgradeReward(t *testing.T) {
	f := newFixture(t, func(s *Settings) { s.CommissionOnUpgradeReward = true })
	ctx := context.Background()
	f.register(t, "A", "")
	f.register(t, "B", "A")

	_, err := f.svc.Tiers.ApplyTierUpgrade(ctx, "B", domain.TierRegularPartner, true, dec("50000"))
	require.NoError(t, err)

	commissions := f.store.Commissions()
	require.Len(t, commissions, 1)
	assert.True(t, commissions[0].IsUpgradeReward)
	requireDecimal(t, "100", commissions[0].Amount)
	requireDecimal(t, "1100", f.balance(t, "A").RemainingContribution)
}

func TestHighestQualified_EitherPathQualifies(t *testing.T) {
	table := domain.DefaultTierTable()

	assert.Equal(t, domain.TierNormalUser, table.HighestQualified(dec("49999"), dec("0")).Tier)
	assert.Equal(t, domain.TierSeniorPartner, table.HighestQualified(dec("200000"), dec("0")).Tier)
	assert.Equal(t, domain.TierFoundingPartner, table.HighestQualified(dec("10"), dec("1000000")).Tier)
}
