/**
 * @description
 * This file contains the Ledger engine, the only code path that mutates contribution
 * balances. Every other engine writes through its transaction-level primitives
 * (`open`, `credit`, `debit`) so the balance change and its audit entry always land
 * in the same transaction.
 *
 * @dependencies
 * - github.com/shopspring/decimal: Fixed-point amounts.
 * - internal/store: Transactional repository.
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

const (
	defaultLedgerPageSize = 50
	maxLedgerPageSize     = 500
)

// Ledger provides atomic add/consume operations over the account store.
type Ledger struct {
	runner
	registrationBonus decimal.Decimal
	conversionRate    decimal.Decimal
	now               func() time.Time
}

// NewLedger creates a ledger engine.
func NewLedger(repo store.Repository, events *EventEmitter, m *metrics.Collector, logger *slog.Logger, settings Settings, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		runner:            runner{repo: repo, events: events, metrics: m, logger: logger},
		registrationBonus: settings.RegistrationBonus,
		conversionRate:    settings.ContributionPerCurrencyUnit,
		now:               now,
	}
}

func validateUserID(field, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return &domain.ValidationError{Field: field, Reason: "is required"}
	}
	return nil
}

func validatePositive(field string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return &domain.ValidationError{Field: field, Reason: "must be greater than zero"}
	}
	return nil
}

// creditable reports whether a category may be used for a direct credit.
// Transfer credits only come from TransferContribution, paired with a debit.
func creditable(c domain.Category) bool {
	switch c {
	case domain.CategoryConsumption, domain.CategoryPenalty, domain.CategoryExchange, domain.CategoryTransfer:
		return false
	}
	return c.Valid()
}

// GetBalance returns the user's account, creating it with the registration bonus on first access.
func (l *Ledger) GetBalance(ctx context.Context, userID string) (*domain.Account, error) {
	if err := validateUserID("user_id", userID); err != nil {
		return nil, err
	}

	account, err := l.repo.FindAccount(ctx, userID)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, store.ErrAccountNotFound) {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}

	err = l.run(ctx, "get_balance", func(ctx context.Context, tx store.Tx, batch *eventBatch) error {
		account, err = l.open(ctx, tx, batch, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// AddContribution credits amount to the user under category.
func (l *Ledger) AddContribution(ctx context.Context, userID string, amount decimal.Decimal, category domain.Category, description string) (*domain.Account, error) {
	if err := validateUserID("user_id", userID); err != nil {
		return nil, err
	}
	if err := validatePositive("amount", amount); err != nil {
		return nil, err
	}
	if !creditable(category) {
		return nil, &domain.ValidationError{Field: "category", Reason: "cannot credit category " + string(category)}
	}

	var account *domain.Account
	err := l.run(ctx, "add_contribution", func(ctx context.Context, tx store.Tx, batch *eventBatch) error {
		var err error
		account, err = l.credit(ctx, tx, batch, userID, amount, category, description)
		return err
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// ConsumeContribution debits amount from the user's remaining balance. The balance
// check and the debit happen under the same row lock.
func (l *Ledger) ConsumeContribution(ctx context.Context, userID string, amount decimal.Decimal, description string) (*domain.Account, error) {
	if err := validateUserID("user_id", userID); err != nil {
		return nil, err
	}
	if err := validatePositive("amount", amount); err != nil {
		return nil, err
	}

	var account *domain.Account
	err := l.run(ctx, "consume_contribution", func(ctx context.Context, tx store.Tx, batch *eventBatch) error {
		var err error
		account, err = l.debit(ctx, tx, batch, userID, amount, domain.CategoryConsumption, description)
		return err
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// TransferContribution moves amount from one user to another in one transaction.
func (l *Ledger) TransferContribution(ctx context.Context, fromUserID, toUserID string, amount decimal.Decimal, description string) (*domain.TransferResult, error) {
	if err := validateUserID("from_user_id", fromUserID); err != nil {
		return nil, err
	}
	if err := validateUserID("to_user_id", toUserID); err != nil {
		return nil, err
	}
	if fromUserID == toUserID {
		return nil, &domain.ValidationError{Field: "to_user_id", Reason: "must differ from sender"}
	}
	if err := validatePositive("amount", amount); err != nil {
		return nil, err
	}

	result := &domain.TransferResult{}
	err := l.run(ctx, "transfer_contribution", func(ctx context.Context, tx store.Tx, batch *eventBatch) error {
		// Lock both rows in a fixed order so opposing transfers cannot deadlock.
		first, second := fromUserID, toUserID
		if second < first {
			first, second = second, first
		}
		if _, err := l.open(ctx, tx, batch, first); err != nil {
			return err
		}
		if _, err := l.open(ctx, tx, batch, second); err != nil {
			return err
		}

		var err error
		if result.From, err = l.debit(ctx, tx, batch, fromUserID, amount, domain.CategoryTransfer, describe("transfer to "+toUserID, description)); err != nil {
			return err
		}
		result.To, err = l.credit(ctx, tx, batch, toUserID, amount, domain.CategoryTransfer, describe("transfer from "+fromUserID, description))
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ExchangeContribution consumes amount and returns its currency value at the
// configured contribution-per-currency-unit rate.
func (l *Ledger) ExchangeContribution(ctx context.Context, userID string, amount decimal.Decimal) (*domain.ExchangeResult, error) {
	if err := validateUserID("user_id", userID); err != nil {
		return nil, err
	}
	if err := validatePositive("amount", amount); err != nil {
		return nil, err
	}

	currency := l.ToCurrency(amount)
	result := &domain.ExchangeResult{Contribution: amount, CurrencyAmount: currency}
	err := l.run(ctx, "exchange_contribution", func(ctx context.Context, tx store.Tx, batch *eventBatch) error {
		var err error
		result.Account, err = l.debit(ctx, tx, batch, userID, amount, domain.CategoryExchange,
			fmt.Sprintf("exchanged for %s currency units", currency.StringFixed(2)))
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListLedgerEntries returns the newest audit entries of a user.
func (l *Ledger) ListLedgerEntries(ctx context.Context, userID string, limit int) ([]domain.LedgerEntry, error) {
	if err := validateUserID("user_id", userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultLedgerPageSize
	}
	if limit > maxLedgerPageSize {
		limit = maxLedgerPageSize
	}
	entries, err := l.repo.ListLedgerEntries(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	return entries, nil
}

func describe(prefix, description string) string {
	if strings.TrimSpace(description) == "" {
		return prefix
	}
	return prefix + ": " + description
}

// ToContribution converts a currency amount to contribution.
func (l *Ledger) ToContribution(currency decimal.Decimal) decimal.Decimal {
	return currency.Mul(l.conversionRate).Round(amountScale)
}

// ToCurrency converts contribution to currency, rounding down.
func (l *Ledger) ToCurrency(contribution decimal.Decimal) decimal.Decimal {
	return contribution.DivRound(l.conversionRate, amountScale+2).Truncate(amountScale)
}

// open locks the user's account, creating it with the registration bonus if missing.
func (l *Ledger) open(ctx context.Context, tx store.Tx, batch *eventBatch, userID string) (*domain.Account, error) {
	account, err := tx.LockAccount(ctx, userID)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, store.ErrAccountNotFound) {
		return nil, err
	}

	now := l.now()
	account = domain.NewAccount(userID, now)
	inserted, err := tx.InsertAccount(ctx, account)
	if err != nil {
		return nil, err
	}
	if !inserted {
		// Another transaction created it first; its bonus stands.
		return tx.LockAccount(ctx, userID)
	}
	if !l.registrationBonus.IsPositive() {
		return account, nil
	}

	l.logger.Info("account created", "component", "ledger", "user_id", userID, "amount", l.registrationBonus.String())
	return l.apply(ctx, tx, batch, account, l.registrationBonus, domain.CategoryInitial, "registration bonus")
}

// credit adds amount to the user's balances inside tx.
func (l *Ledger) credit(ctx context.Context, tx store.Tx, batch *eventBatch, userID string, amount decimal.Decimal, category domain.Category, description string) (*domain.Account, error) {
	account, err := l.open(ctx, tx, batch, userID)
	if err != nil {
		return nil, err
	}
	return l.apply(ctx, tx, batch, account, amount, category, description)
}

func (l *Ledger) apply(ctx context.Context, tx store.Tx, batch *eventBatch, account *domain.Account, amount decimal.Decimal, category domain.Category, description string) (*domain.Account, error) {
	now := l.now()
	if err := account.Credit(amount, category, now); err != nil {
		return nil, err
	}
	if err := l.persist(ctx, tx, account, amount, domain.DirectionCredit, category, description, now); err != nil {
		return nil, err
	}
	batch.add(domain.EventContributionCredited, domain.LedgerEvent{
		UserID:       account.UserID,
		Amount:       amount,
		Category:     category,
		Description:  description,
		BalanceAfter: account.RemainingContribution,
		Timestamp:    now,
	})
	return account, nil
}

// debit removes amount from the user's remaining balance inside tx.
func (l *Ledger) debit(ctx context.Context, tx store.Tx, batch *eventBatch, userID string, amount decimal.Decimal, category domain.Category, description string) (*domain.Account, error) {
	account, err := l.open(ctx, tx, batch, userID)
	if err != nil {
		return nil, err
	}

	now := l.now()
	if err := account.Debit(amount, now); err != nil {
		return nil, err
	}
	if err := l.persist(ctx, tx, account, amount, domain.DirectionDebit, category, description, now); err != nil {
		return nil, err
	}
	batch.add(domain.EventContributionConsumed, domain.LedgerEvent{
		UserID:       account.UserID,
		Amount:       amount,
		Category:     category,
		Description:  description,
		BalanceAfter: account.RemainingContribution,
		Timestamp:    now,
	})
	return account, nil
}

func (l *Ledger) persist(ctx context.Context, tx store.Tx, account *domain.Account, amount decimal.Decimal, direction domain.Direction, category domain.Category, description string, now time.Time) error {
	if err := tx.UpdateAccount(ctx, account); err != nil {
		return err
	}
	return tx.InsertLedgerEntry(ctx, &domain.LedgerEntry{
		ID:           uuid.New(),
		UserID:       account.UserID,
		Amount:       amount,
		Direction:    direction,
		Category:     category,
		Description:  description,
		BalanceAfter: account.RemainingContribution,
		CreatedAt:    now,
	})
}
