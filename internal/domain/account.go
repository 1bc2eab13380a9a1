/**
 * @description
 * This file defines the core balance models for the rewards-service ledger.
 * An Account carries the per-user contribution balances; a LedgerEntry is the
 * immutable audit record written alongside every balance mutation.
 *
 * @notes
 * - All amounts are fixed-point decimals (shopspring/decimal). Binary floats are
 *   never used for contribution values.
 * - RemainingContribution is the authoritative spendable balance and is tracked
 *   as its own field rather than derived from the component balances.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Category classifies where a credited contribution came from.
type Category string

const (
	CategoryProject      Category = "project"
	CategoryReferral     Category = "referral"
	CategoryCommission   Category = "commission"
	CategoryTeam         Category = "team"
	CategoryInitial      Category = "initial"
	CategoryLevelUpgrade Category = "level_upgrade"
	CategoryDividend     Category = "dividend"
	CategoryReward       Category = "reward"
	CategoryTransfer     Category = "transfer"
	CategoryExchange     Category = "exchange"
	CategoryPenalty      Category = "penalty"
	CategoryConsumption  Category = "consumption"
)

var knownCategories = map[Category]struct{}{
	CategoryProject:      {},
	CategoryReferral:     {},
	CategoryCommission:   {},
	CategoryTeam:         {},
	CategoryInitial:      {},
	CategoryLevelUpgrade: {},
	CategoryDividend:     {},
	CategoryReward:       {},
	CategoryTransfer:     {},
	CategoryExchange:     {},
	CategoryPenalty:      {},
	CategoryConsumption:  {},
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	_, ok := knownCategories[c]
	return ok
}

// Direction is the side of a ledger entry.
type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// Account is the per-user contribution balance row. It maps to the `accounts` table.
type Account struct {
	UserID                 string          `json:"user_id"`
	CumulativeContribution decimal.Decimal `json:"cumulative_contribution"`
	ProjectContribution    decimal.Decimal `json:"project_contribution"`
	RemainingContribution  decimal.Decimal `json:"remaining_contribution"`
	ConsumedContribution   decimal.Decimal `json:"consumed_contribution"`
	InitialContribution    decimal.Decimal `json:"initial_contribution"`
	ReferralReward         decimal.Decimal `json:"referral_reward"`
	CommissionIncome       decimal.Decimal `json:"commission_income"`
	TeamIncome             decimal.Decimal `json:"team_income"`
	PartnerTier            Tier            `json:"partner_tier"`
	DirectInvestment       decimal.Decimal `json:"direct_investment"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
}

// NewAccount returns a zero-balance account at the lowest partner tier.
func NewAccount(userID string, now time.Time) *Account {
	return &Account{
		UserID:                 userID,
		CumulativeContribution: decimal.Zero,
		ProjectContribution:    decimal.Zero,
		RemainingContribution:  decimal.Zero,
		ConsumedContribution:   decimal.Zero,
		InitialContribution:    decimal.Zero,
		ReferralReward:         decimal.Zero,
		CommissionIncome:       decimal.Zero,
		TeamIncome:             decimal.Zero,
		PartnerTier:            TierNormalUser,
		DirectInvestment:       decimal.Zero,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
}

// Credit adds amount to the remaining balance and routes it into the
// category-specific component field. Transfers move existing contribution
// between users and are not earnings, so they leave the cumulative total alone.
func (a *Account) Credit(amount decimal.Decimal, category Category, now time.Time) error {
	if !amount.IsPositive() {
		return &ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}
	if !category.Valid() {
		return &ValidationError{Field: "category", Reason: "unknown category " + string(category)}
	}

	if category != CategoryTransfer {
		a.CumulativeContribution = a.CumulativeContribution.Add(amount)
	}
	a.RemainingContribution = a.RemainingContribution.Add(amount)

	switch category {
	case CategoryProject:
		a.ProjectContribution = a.ProjectContribution.Add(amount)
	case CategoryReferral:
		a.ReferralReward = a.ReferralReward.Add(amount)
	case CategoryCommission:
		a.CommissionIncome = a.CommissionIncome.Add(amount)
	case CategoryTeam:
		a.TeamIncome = a.TeamIncome.Add(amount)
	case CategoryInitial:
		a.InitialContribution = a.InitialContribution.Add(amount)
	}

	a.UpdatedAt = now
	return nil
}

// Debit moves amount from the remaining balance to the consumed total.
func (a *Account) Debit(amount decimal.Decimal, now time.Time) error {
	if !amount.IsPositive() {
		return &ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}
	if a.RemainingContribution.LessThan(amount) {
		return &InsufficientBalanceError{
			UserID:    a.UserID,
			Available: a.RemainingContribution,
			Requested: amount,
		}
	}

	a.RemainingContribution = a.RemainingContribution.Sub(amount)
	a.ConsumedContribution = a.ConsumedContribution.Add(amount)
	a.UpdatedAt = now
	return nil
}

// LedgerEntry is one immutable row of the append-only `ledger_entries` audit trail.
type LedgerEntry struct {
	ID           uuid.UUID       `json:"id"`
	UserID       string          `json:"user_id"`
	Amount       decimal.Decimal `json:"amount"`
	Direction    Direction       `json:"direction"`
	Category     Category        `json:"category"`
	Description  string          `json:"description"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	CreatedAt    time.Time       `json:"created_at"`
}

// ExchangeResult describes a contribution to currency conversion.
type ExchangeResult struct {
	Account        *Account        `json:"account"`
	Contribution   decimal.Decimal `json:"contribution"`
	CurrencyAmount decimal.Decimal `json:"currency_amount"`
}

// TransferResult holds both sides of a contribution transfer.
type TransferResult struct {
	From *Account `json:"from"`
	To   *Account `json:"to"`
}
