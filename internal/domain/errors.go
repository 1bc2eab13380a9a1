package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Sentinels matched by the typed errors below through errors.Is.
var (
	ErrValidation          = errors.New("validation failed")
	ErrInsufficientBalance = errors.New("insufficient contribution balance")
	ErrPermissionDenied    = errors.New("permission denied")
	ErrConcurrencyConflict = errors.New("concurrent update conflict")
	ErrIntegrityViolation  = errors.New("integrity violation")
)

// ValidationError reports malformed input. Callers fix the request; it is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// InsufficientBalanceError is a business rejection, not a fault.
type InsufficientBalanceError struct {
	UserID    string
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient contribution balance for user %s: available %s, requested %s",
		e.UserID, e.Available.String(), e.Requested.String())
}

func (e *InsufficientBalanceError) Is(target error) bool { return target == ErrInsufficientBalance }

// PermissionDeniedError is returned when the caller's role is below the required level.
type PermissionDeniedError struct {
	UserID   string
	Required Role
	Actual   Role
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("permission denied for user %s: requires %s, has %s", e.UserID, e.Required, e.Actual)
}

func (e *PermissionDeniedError) Is(target error) bool { return target == ErrPermissionDenied }

// ConcurrencyConflictError wraps a serialization failure. It is transient and only
// the caller decides whether to retry.
type ConcurrencyConflictError struct {
	Op  string
	Err error
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("concurrent update conflict during %s: %v", e.Op, e.Err)
}

func (e *ConcurrencyConflictError) Unwrap() error { return e.Err }

func (e *ConcurrencyConflictError) Is(target error) bool { return target == ErrConcurrencyConflict }

// IntegrityViolationError reports an attempted duplicate singleton.
type IntegrityViolationError struct {
	Entity string
	Reason string
}

func (e *IntegrityViolationError) Error() string {
	return fmt.Sprintf("integrity violation on %s: %s", e.Entity, e.Reason)
}

func (e *IntegrityViolationError) Is(target error) bool { return target == ErrIntegrityViolation }

// IsBusinessRejection reports whether err is an ordinary rule rejection rather than a system fault.
func IsBusinessRejection(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrPermissionDenied) ||
		errors.Is(err, ErrIntegrityViolation)
}
