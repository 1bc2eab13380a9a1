package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"github.com/transfa/rewards-service/internal/domain"
	"github.com/transfa/rewards-service/internal/store"
)

// SafetyValidator is the policy gate evaluated before mutating operations. It holds
// no state of its own and reads balances and roles fresh on every call.
type SafetyValidator struct {
	repo              store.Repository
	logger            *slog.Logger
	maxDecimals       int32
	exchangeMin       decimal.Decimal
	exchangeLot       decimal.Decimal
	registrationBonus decimal.Decimal
}

// NewSafetyValidator creates a validator.
func NewSafetyValidator(repo store.Repository, logger *slog.Logger, settings Settings) *SafetyValidator {
	return &SafetyValidator{
		repo:              repo,
		logger:            logger,
		maxDecimals:       settings.AmountMaxDecimals,
		exchangeMin:       settings.ExchangeMinContribution,
		exchangeLot:       settings.ExchangeLotSize,
		registrationBonus: settings.RegistrationBonus,
	}
}

// ValidateOperation checks params for userID. Rule violations come back as a failed
// result; the error is reserved for store faults.
func (v *SafetyValidator) ValidateOperation(ctx context.Context, userID string, params domain.OperationParams) (domain.ValidationResult, error) {
	rejection, err := v.evaluate(ctx, userID, params)
	if err != nil {
		return domain.ValidationResult{}, err
	}
	if rejection != nil {
		return domain.Reject(rejection.Error()), nil
	}
	return domain.Pass(), nil
}

// Guard is ValidateOperation for callers that want the typed rejection as an error.
func (v *SafetyValidator) Guard(ctx context.Context, userID string, params domain.OperationParams) error {
	rejection, err := v.evaluate(ctx, userID, params)
	if err != nil {
		return err
	}
	if rejection != nil {
		v.logger.Warn("operation blocked by safety validator", "component", "safety", "user_id", userID,
			"transaction_type", params.TransactionType, "reason", rejection.Error())
		return rejection
	}
	return nil
}

// evaluate returns the first rule violation, or a fault.
func (v *SafetyValidator) evaluate(ctx context.Context, userID string, p domain.OperationParams) (rejection error, fault error) {
	if err := validateUserID("user_id", userID); err != nil {
		return err, nil
	}
	if !p.TransactionType.Valid() {
		return &domain.ValidationError{Field: "transaction_type", Reason: fmt.Sprintf("unknown transaction type %q", p.TransactionType)}, nil
	}
	if p.Amount.IsNegative() {
		return &domain.ValidationError{Field: "amount", Reason: "must not be negative"}, nil
	}
	if p.Amount.Exponent() < -v.maxDecimals {
		return &domain.ValidationError{Field: "amount", Reason: fmt.Sprintf("must have at most %d decimal places", v.maxDecimals)}, nil
	}
	if p.TransactionType.DrawsBalance() && !p.Amount.IsPositive() {
		return &domain.ValidationError{Field: "amount", Reason: "must be greater than zero"}, nil
	}

	if p.RequiredRole != "" {
		if p.RequiredRole.Rank() < 0 {
			return &domain.ValidationError{Field: "required_role", Reason: "unknown role " + string(p.RequiredRole)}, nil
		}
		member, err := v.repo.FindMember(ctx, userID)
		switch {
		case errors.Is(err, store.ErrMemberNotFound):
			return &domain.PermissionDeniedError{UserID: userID, Required: p.RequiredRole}, nil
		case err != nil:
			return nil, fmt.Errorf("failed to load member: %w", err)
		}
		if !member.Role.AtLeast(p.RequiredRole) {
			return &domain.PermissionDeniedError{UserID: userID, Required: p.RequiredRole, Actual: member.Role}, nil
		}
	}

	if p.TransactionType == domain.TxTransfer {
		if err := validateUserID("target_user_id", p.TargetUserID); err != nil {
			return err, nil
		}
		if p.TargetUserID == userID {
			return &domain.ValidationError{Field: "target_user_id", Reason: "must differ from sender"}, nil
		}
	}

	if p.TransactionType == domain.TxExchange {
		if p.Amount.LessThan(v.exchangeMin) {
			return &domain.ValidationError{Field: "amount", Reason: "below exchange minimum " + v.exchangeMin.String()}, nil
		}
		if v.exchangeLot.IsPositive() && !p.Amount.Mod(v.exchangeLot).IsZero() {
			return &domain.ValidationError{Field: "amount", Reason: "must be a multiple of lot size " + v.exchangeLot.String()}, nil
		}
	}

	if p.TransactionType.DrawsBalance() {
		available, err := v.remaining(ctx, userID)
		if err != nil {
			return nil, err
		}
		if available.LessThan(p.Amount) {
			return &domain.InsufficientBalanceError{UserID: userID, Available: available, Requested: p.Amount}, nil
		}
	}
	return nil, nil
}

// remaining reads the committed balance. A user without an account yet is treated as
// holding the registration bonus it will be opened with.
func (v *SafetyValidator) remaining(ctx context.Context, userID string) (decimal.Decimal, error) {
	account, err := v.repo.FindAccount(ctx, userID)
	if errors.Is(err, store.ErrAccountNotFound) {
		return v.registrationBonus, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load account: %w", err)
	}
	return account.RemainingContribution, nil
}
