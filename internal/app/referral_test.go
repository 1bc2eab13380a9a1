package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/rewards-service/internal/domain"
)

func TestCalculateReferralCommission_SingleLevel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "A", "")
	f.register(t, "B", "A")

	intents, err := f.svc.Referrals.CalculateReferralCommission(ctx, "B", dec("1000"))
	require.NoError(t, err)
	require.Len(t, intents, 1)

	assert.Equal(t, "A", intents[0].ReferrerID)
	assert.Equal(t, 1, intents[0].Level)
	requireDecimal(t, "0.10", intents[0].Rate)
	requireDecimal(t, "100", intents[0].Amount)

	a := f.balance(t, "A")
	requireDecimal(t, "1100", a.RemainingContribution)
	requireDecimal(t, "100", a.ReferralReward)
}

func TestCalculateReferralCommission_StopsAtThreeLevels(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "root", "")
	f.register(t, "A", "root")
	f.register(t, "B", "A")
	f.register(t, "C", "B")
	f.register(t, "D", "C")

	intents, err := f.svc.Referrals.CalculateReferralCommission(ctx, "D", dec("1000"))
	require.NoError(t, err)
	require.Len(t, intents, 3)

	total := dec("0")
	for i, want := range []struct {
		referrer string
		amount   string
	}{{"C", "100"}, {"B", "50"}, {"A", "30"}} {
		assert.Equal(t, want.referrer, intents[i].ReferrerID)
		assert.Equal(t, i+1, intents[i].Level)
		requireDecimal(t, want.amount, intents[i].Amount)
		total = total.Add(intents[i].Amount)
	}
	requireDecimal(t, "180", total)
	requireDecimal(t, "1000", f.balance(t, "root").RemainingContribution)

	requireDecimal(t, "50", f.balance(t, "B").CommissionIncome)
	assert.Len(t, f.store.Commissions(), 3)
}

func TestCalculateReferralCommission_NoReferrerPaysNothing(t *testing.T) {
	f := newFixture(t)
	f.register(t, "solo", "")

	intents, err := f.svc.Referrals.CalculateReferralCommission(context.Background(), "solo", dec("1000"))
	require.NoError(t, err)
	assert.Empty(t, intents)
	assert.Empty(t, f.store.Commissions())
}

func TestCalculateReferralCommission_RejectsNonPositiveAmount(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Referrals.CalculateReferralCommission(context.Background(), "B", dec("0"))
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestCommissionIntents_RatesSumToEighteenPercent(t *testing.T) {
	intents := CommissionIntents("x", []string{"p1", "p2", "p3", "p4"}, dec("200"))
	require.Len(t, intents, 3)

	rates := dec("0")
	for _, in := range intents {
		rates = rates.Add(in.Rate)
	}
	requireDecimal(t, "0.18", rates)

	assert.Equal(t, domain.CategoryReferral, intents[0].Category())
	assert.Equal(t, domain.CategoryCommission, intents[2].Category())
	assert.Empty(t, CommissionIntents("x", nil, dec("200")))
}

func TestRecordProjectEarning_TeamBonusPolicies(t *testing.T) {
	tests := []struct {
		policy      domain.TeamBonusPolicy
		wantBalance string
		wantTeam    string
		wantLevel1  bool
		wantBonus   bool
	}{
		{domain.TeamBonusExclusive, "2100", "0", true, false},
		{domain.TeamBonusAdditive, "2120", "20", true, true},
		{domain.TeamBonusCommissionOnly, "2100", "0", true, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			f := newFixture(t, func(s *Settings) { s.TeamBonusPolicy = tt.policy })
			ctx := context.Background()
			f.register(t, "A", "")
			f.register(t, "B", "A")

			_, err := f.svc.Tiers.ApplyTierUpgrade(ctx, "A", domain.TierRegularPartner, true, dec("50000"))
			require.NoError(t, err)

			result, err := f.svc.Referrals.RecordProjectEarning(ctx, "B", dec("1000"), "delivery")
			require.NoError(t, err)
			requireDecimal(t, "1000", result.Credited)
			requireDecimal(t, "2000", result.Account.RemainingContribution)

			a := f.balance(t, "A")
			requireDecimal(t, tt.wantBalance, a.RemainingContribution)
			requireDecimal(t, tt.wantTeam, a.TeamIncome)
			assert.Equal(t, tt.wantLevel1, len(result.Commissions) == 1)
			assert.Equal(t, tt.wantBonus, result.TeamBonus != nil)
		})
	}
}

func TestRecordProjectEarning_ExclusivePaysTeamBonusWhenLarger(t *testing.T) {
	f := newFixture(t, func(s *Settings) {
		s.Tiers = domain.DefaultTierTable()
		s.Tiers[1].TeamBonusRate = dec("0.15")
	})
	ctx := context.Background()
	f.register(t, "A", "")
	f.register(t, "B", "A")
	_, err := f.svc.Tiers.ApplyTierUpgrade(ctx, "A", domain.TierRegularPartner, true, dec("50000"))
	require.NoError(t, err)

	result, err := f.svc.Referrals.RecordProjectEarning(ctx, "B", dec("1000"), "")
	require.NoError(t, err)

	require.NotNil(t, result.TeamBonus)
	requireDecimal(t, "150", result.TeamBonus.Amount)
	assert.Empty(t, result.Commissions)
	a := f.balance(t, "A")
	requireDecimal(t, "2150", a.RemainingContribution)
	requireDecimal(t, "0", a.ReferralReward)
}

func TestRecordProjectEarning_UpgradeNeverLowersReferrerIncome(t *testing.T) {
	policies := []domain.TeamBonusPolicy{domain.TeamBonusExclusive, domain.TeamBonusAdditive, domain.TeamBonusCommissionOnly}
	for _, policy := range policies {
		t.Run(string(policy), func(t *testing.T) {
			f := newFixture(t, func(s *Settings) { s.TeamBonusPolicy = policy })
			ctx := context.Background()
			f.register(t, "A", "")
			f.register(t, "B", "A")

			before := f.balance(t, "A").RemainingContribution
			_, err := f.svc.Referrals.RecordProjectEarning(ctx, "B", dec("1000"), "")
			require.NoError(t, err)
			asNormal := f.balance(t, "A").RemainingContribution.Sub(before)

			_, err = f.svc.Tiers.ApplyTierUpgrade(ctx, "A", domain.TierRegularPartner, true, dec("50000"))
			require.NoError(t, err)

			before = f.balance(t, "A").RemainingContribution
			_, err = f.svc.Referrals.RecordProjectEarning(ctx, "B", dec("1000"), "")
			require.NoError(t, err)
			asPartner := f.balance(t, "A").RemainingContribution.Sub(before)

			assert.Truef(t, asPartner.GreaterThanOrEqual(asNormal), "partner earned %s, normal user earned %s", asPartner, asNormal)
		})
	}
}

func TestRecordProjectEarning_ReferrerWithoutTeamRateKeepsCommission(t *testing.T) {
	f := newFixture(t)
	f.register(t, "A", "")
	f.register(t, "B", "A")

	result, err := f.svc.Referrals.RecordProjectEarning(context.Background(), "B", dec("500"), "")
	require.NoError(t, err)

	assert.Nil(t, result.TeamBonus)
	require.Len(t, result.Commissions, 1)
	requireDecimal(t, "50", result.Commissions[0].Amount)
}

func TestRecordProjectEarning_AppliesBadgeMultiplier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "A", "")
	f.register(t, "B", "A")
	f.store.SetActivity(domain.UserActivity{UserID: "B", LoginStreak: 7, LastActiveAt: f.clock.Now()})

	summary, err := f.svc.Orchestrator.RunDailyBatch(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, summary.BadgesGranted)

	result, err := f.svc.Referrals.RecordProjectEarning(ctx, "B", dec("1000"), "")
	require.NoError(t, err)
	requireDecimal(t, "1100", result.Credited)
	requireDecimal(t, "1100", result.Account.ProjectContribution)
	requireDecimal(t, "110", result.Commissions[0].Amount)
}

func TestCommission_PoolShareFixedAtPayment(t *testing.T) {
	f := newFixture(t, func(s *Settings) { s.PoolSweepRate = dec("0.1") })
	f.register(t, "A", "")
	f.register(t, "B", "A")

	_, err := f.svc.Referrals.CalculateReferralCommission(context.Background(), "B", dec("1000"))
	require.NoError(t, err)

	commissions := f.store.Commissions()
	require.Len(t, commissions, 1)
	requireDecimal(t, "10", commissions[0].PoolShare)
	assert.Equal(t, domain.CommissionPending, commissions[0].Status)
}
