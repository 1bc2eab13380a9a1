package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/rewards-service/internal/domain"
	"github.com/transfa/rewards-service/internal/store"
	"github.com/transfa/rewards-service/pkg/metrics"
)

// ReferralCalculator walks the referral graph and pays multi-level commissions.
type ReferralCalculator struct {
	runner
	ledger    *Ledger
	tiers     domain.TierTable
	policy    domain.TeamBonusPolicy
	sweepRate decimal.Decimal
	now       func() time.Time
}

// NewReferralCalculator creates a referral calculator on top of ledger.
func NewReferralCalculator(repo store.Repository, ledger *Ledger, events *EventEmitter, m *metrics.Collector, logger *slog.Logger, settings Settings, now func() time.Time) *ReferralCalculator {
	if now == nil {
		now = time.Now
	}
	return &ReferralCalculator{
		runner:    runner{repo: repo, events: events, metrics: m, logger: logger},
		ledger:    ledger,
		tiers:     settings.Tiers,
		policy:    settings.TeamBonusPolicy,
		sweepRate: settings.PoolSweepRate,
		now:       now,
	}
}

// CalculateReferralCommission pays up to three levels of commission on amountEarned
// and returns the applied intents. A user without a referrer yields an empty list.
func (c *ReferralCalculator) CalculateReferralCommission(ctx context.Context, refereeID string, amountEarned decimal.Decimal) ([]domain.CommissionIntent, error) {
	if err := validateUserID("referee_id", refereeID); err != nil {
		return nil, err
	}
	if err := validatePositive("amount_earned", amountEarned); err != nil {
		return nil, err
	}

	var intents []domain.CommissionIntent
	err := c.run(ctx, "calculate_referral_commission", func(ctx context.Context, tx store.Tx, batch *eventBatch) error {
		chain, err := c.chain(ctx, tx, refereeID)
		if err != nil {
			return err
		}
		intents = CommissionIntents(refereeID, chain, amountEarned)
		return c.pay(ctx, tx, batch, intents, false)
	})
	if err != nil {
		return nil, err
	}
	if intents == nil {
		intents = []domain.CommissionIntent{}
	}
	return intents, nil
}

// RecordProjectEarning credits a project earning, scaled by the user's best badge
// multiplier, and pays the referral commission and team bonus it triggers.
func (c *ReferralCalculator) RecordProjectEarning(ctx context.Context, userID string, amount decimal.Decimal, description string) (*domain.EarningResult, error) {
	if err := validateUserID("user_id", userID); err != nil {
		return nil, err
	}
	if err := validatePositive("amount", amount); err != nil {
		return nil, err
	}

	var result *domain.EarningResult
	err := c.run(ctx, "record_project_earning", func(ctx context.Context, tx store.Tx, batch *eventBatch) error {
		var err error
		result, err = c.recordEarning(ctx, tx, batch, userID, amount, description)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CommissionIntents computes the per-level payouts for a referral chain. chain[0]
// is the direct referrer. Levels beyond the chain are simply absent.
func CommissionIntents(refereeID string, chain []string, amount decimal.Decimal) []domain.CommissionIntent {
	var intents []domain.CommissionIntent
	for i, referrerID := range chain {
		if i >= domain.MaxReferralDepth {
			break
		}
		rate := domain.ReferralRates[i]
		intents = append(intents, domain.CommissionIntent{
			ReferrerID: referrerID,
			RefereeID:  refereeID,
			Level:      i + 1,
			Rate:       rate,
			Amount:     amount.Mul(rate).Round(amountScale),
		})
	}
	return intents
}

func (c *ReferralCalculator) recordEarning(ctx context.Context, tx store.Tx, batch *eventBatch, userID string, amount decimal.Decimal, description string) (*domain.EarningResult, error) {
	multiplier, err := tx.BestBadgeMultiplier(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load badge multiplier: %w", err)
	}
	credited := amount.Mul(multiplier).Round(amountScale)

	account, err := c.ledger.credit(ctx, tx, batch, userID, credited, domain.CategoryProject, description)
	if err != nil {
		return nil, err
	}
	result := &domain.EarningResult{Account: account, Credited: credited}

	chain, err := c.chain(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	intents := CommissionIntents(userID, chain, credited)

	if len(chain) > 0 && c.policy != domain.TeamBonusCommissionOnly {
		bonus, err := c.teamBonus(ctx, tx, batch, chain[0], userID, credited)
		if err != nil {
			return nil, err
		}
		if bonus != nil && c.policy == domain.TeamBonusExclusive {
			// The direct referrer receives the larger of the two payouts.
			if bonus.Amount.GreaterThan(intents[0].Amount) {
				intents = intents[1:]
			} else {
				bonus = nil
			}
		}
		if bonus != nil {
			if _, err := c.ledger.credit(ctx, tx, batch, bonus.ReferrerID, bonus.Amount, domain.CategoryTeam, "team bonus from "+userID); err != nil {
				return nil, err
			}
			result.TeamBonus = bonus
		}
	}

	if err := c.pay(ctx, tx, batch, intents, false); err != nil {
		return nil, err
	}
	result.Commissions = intents
	if result.Commissions == nil {
		result.Commissions = []domain.CommissionIntent{}
	}
	return result, nil
}

// teamBonus computes the direct referrer's team income at their tier's rate
// without crediting it. It returns nil when the referrer's tier carries no team rate.
func (c *ReferralCalculator) teamBonus(ctx context.Context, tx store.Tx, batch *eventBatch, referrerID, refereeID string, earning decimal.Decimal) (*domain.CommissionIntent, error) {
	referrer, err := c.ledger.open(ctx, tx, batch, referrerID)
	if err != nil {
		return nil, err
	}
	rule, ok := c.tiers.Rule(referrer.PartnerTier)
	if !ok || !rule.TeamBonusRate.IsPositive() {
		return nil, nil
	}
	amount := earning.Mul(rule.TeamBonusRate).Round(amountScale)
	if !amount.IsPositive() {
		return nil, nil
	}
	return &domain.CommissionIntent{
		ReferrerID: referrerID,
		RefereeID:  refereeID,
		Level:      1,
		Rate:       rule.TeamBonusRate,
		Amount:     amount,
	}, nil
}

// chain returns the ancestor referrers of userID, nearest first, at most
// MaxReferralDepth long. A repeated user ends the walk.
func (c *ReferralCalculator) chain(ctx context.Context, tx store.Tx, userID string) ([]string, error) {
	seen := map[string]struct{}{userID: {}}
	var chain []string
	current := userID
	for len(chain) < domain.MaxReferralDepth {
		referrer, ok, err := tx.FindReferrer(ctx, current)
		if err != nil {
			return nil, fmt.Errorf("failed to load referrer of %s: %w", current, err)
		}
		if !ok {
			break
		}
		if _, dup := seen[referrer]; dup {
			c.logger.Warn("referral cycle detected; stopping walk", "component", "referral", "user_id", userID, "referrer_id", referrer)
			break
		}
		seen[referrer] = struct{}{}
		chain = append(chain, referrer)
		current = referrer
	}
	return chain, nil
}

// pay credits each intent and writes its commission record with the pool share fixed now.
func (c *ReferralCalculator) pay(ctx context.Context, tx store.Tx, batch *eventBatch, intents []domain.CommissionIntent, isUpgradeReward bool) error {
	now := c.now()
	for _, intent := range intents {
		if !intent.Amount.IsPositive() {
			continue
		}
		description := fmt.Sprintf("level %d referral commission from %s", intent.Level, intent.RefereeID)
		if _, err := c.ledger.credit(ctx, tx, batch, intent.ReferrerID, intent.Amount, intent.Category(), description); err != nil {
			return err
		}
		commission := &domain.Commission{
			ID:              uuid.New(),
			ReferrerID:      intent.ReferrerID,
			RefereeID:       intent.RefereeID,
			Level:           intent.Level,
			Rate:            intent.Rate,
			Amount:          intent.Amount,
			Category:        intent.Category(),
			IsUpgradeReward: isUpgradeReward,
			PoolShare:       intent.Amount.Mul(c.sweepRate).Round(amountScale),
			Status:          domain.CommissionPending,
			CreatedAt:       now,
		}
		if err := tx.InsertCommission(ctx, commission); err != nil {
			return err
		}
	}
	return nil
}
