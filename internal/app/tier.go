package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/rewards-service/internal/domain"
	"github.com/transfa/rewards-service/internal/store"
	"github.com/transfa/rewards-service/pkg/metrics"
)

// TierEngine evaluates and applies partner tier upgrades.
type TierEngine struct {
	runner
	ledger              *Ledger
	referrals           *ReferralCalculator
	table               domain.TierTable
	commissionOnUpgrade bool
	now                 func() time.Time
}

// NewTierEngine creates a tier engine. referrals is only used when upgrade rewards
// trigger referral commission.
func NewTierEngine(repo store.Repository, ledger *Ledger, referrals *ReferralCalculator, events *EventEmitter, m *metrics.Collector, logger *slog.Logger, settings Settings, now func() time.Time) *TierEngine {
	if now == nil {
		now = time.Now
	}
	return &TierEngine{
		runner:              runner{repo: repo, events: events, metrics: m, logger: logger},
		ledger:              ledger,
		referrals:           referrals,
		table:               settings.Tiers,
		commissionOnUpgrade: settings.CommissionOnUpgradeReward,
		now:                 now,
	}
}

// CheckTierUpgrade proposes the highest tier the user currently qualifies for, if it
// is above the current one.
func (e *TierEngine) CheckTierUpgrade(ctx context.Context, userID string) (domain.TierCheck, error) {
	account, err := e.ledger.GetBalance(ctx, userID)
	if err != nil {
		return domain.TierCheck{}, err
	}
	return e.evaluate(account), nil
}

func (e *TierEngine) evaluate(account *domain.Account) domain.TierCheck {
	check := domain.TierCheck{UserID: account.UserID, CurrentTier: account.PartnerTier}
	best := e.table.HighestQualified(account.CumulativeContribution, account.DirectInvestment)
	if best.Rank > e.table.Rank(account.PartnerTier) {
		check.Eligible = true
		check.NewTier = best.Tier
	}
	return check
}

// ApplyTierUpgrade moves the user to newTier. Eligibility and monotonicity are
// re-checked under the account lock, so a tier's reward is credited at most once.
func (e *TierEngine) ApplyTierUpgrade(ctx context.Context, userID string, newTier domain.Tier, isInvestment bool, investmentAmount decimal.Decimal) (*domain.UpgradeResult, error) {
	if err := validateUserID("user_id", userID); err != nil {
		return nil, err
	}
	rule, ok := e.table.Rule(newTier)
	if !ok {
		return nil, &domain.ValidationError{Field: "new_tier", Reason: "unknown tier " + string(newTier)}
	}
	if investmentAmount.IsNegative() {
		return nil, &domain.ValidationError{Field: "investment_amount", Reason: "must not be negative"}
	}
	if isInvestment && !investmentAmount.IsPositive() {
		return nil, &domain.ValidationError{Field: "investment_amount", Reason: "is required for an investment upgrade"}
	}
	if !isInvestment && !investmentAmount.IsZero() {
		return nil, &domain.ValidationError{Field: "investment_amount", Reason: "only allowed for an investment upgrade"}
	}

	var result *domain.UpgradeResult
	err := e.run(ctx, "apply_tier_upgrade", func(ctx context.Context, tx store.Tx, batch *eventBatch) error {
		account, err := e.ledger.open(ctx, tx, batch, userID)
		if err != nil {
			return err
		}
		previous := account.PartnerTier
		if rule.Rank <= e.table.Rank(previous) {
			return &domain.ValidationError{Field: "new_tier", Reason: "must be above current tier " + string(previous)}
		}

		now := e.now()
		if isInvestment {
			account.DirectInvestment = account.DirectInvestment.Add(investmentAmount)
		}
		if account.CumulativeContribution.LessThan(rule.Threshold) && account.DirectInvestment.LessThan(rule.Threshold) {
			return &domain.ValidationError{Field: "new_tier", Reason: "threshold not met for " + string(newTier)}
		}

		account.PartnerTier = newTier
		account.UpdatedAt = now
		if err := tx.UpdateAccount(ctx, account); err != nil {
			return err
		}
		if err := tx.InsertTierChange(ctx, &store.TierChange{
			ID:               uuid.New(),
			UserID:           userID,
			FromTier:         previous,
			ToTier:           newTier,
			IsInvestment:     isInvestment,
			InvestmentAmount: investmentAmount,
			Reward:           rule.UpgradeReward,
			CreatedAt:        now,
		}); err != nil {
			return err
		}

		if rule.UpgradeReward.IsPositive() {
			account, err = e.ledger.credit(ctx, tx, batch, userID, rule.UpgradeReward, domain.CategoryLevelUpgrade, "tier upgrade reward: "+string(newTier))
			if err != nil {
				return err
			}
			if e.commissionOnUpgrade && e.referrals != nil {
				chain, err := e.referrals.chain(ctx, tx, userID)
				if err != nil {
					return err
				}
				if err := e.referrals.pay(ctx, tx, batch, CommissionIntents(userID, chain, rule.UpgradeReward), true); err != nil {
					return err
				}
			}
		}

		batch.add(domain.EventTierUpgraded, domain.TierEvent{
			UserID:       userID,
			PreviousTier: previous,
			NewTier:      newTier,
			Reward:       rule.UpgradeReward,
			Timestamp:    now,
		})
		result = &domain.UpgradeResult{
			UserID:          userID,
			PreviousTier:    previous,
			NewTier:         newTier,
			RewardCredited:  rule.UpgradeReward,
			InvestmentAdded: investmentAmount,
			Account:         account,
			UpgradedAt:      now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("tier upgraded", "component", "tier", "user_id", userID, "previous_tier", result.PreviousTier, "new_tier", newTier)
	return result, nil
}

// UpgradeIfEligible applies the proposed tier when the user qualifies for one.
// It returns nil when no upgrade is due.
func (e *TierEngine) UpgradeIfEligible(ctx context.Context, userID string) (*domain.UpgradeResult, error) {
	check, err := e.CheckTierUpgrade(ctx, userID)
	if err != nil || !check.Eligible {
		return nil, err
	}
	return e.ApplyTierUpgrade(ctx, userID, check.NewTier, false, decimal.Zero)
}
