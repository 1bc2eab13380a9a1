package domain

import "github.com/shopspring/decimal"

// TransactionType is the fixed set of operation kinds accepted by the safety validator.
type TransactionType string

const (
	TxCredit     TransactionType = "credit"
	TxDebit      TransactionType = "debit"
	TxTransfer   TransactionType = "transfer"
	TxLock       TransactionType = "lock"
	TxExchange   TransactionType = "exchange"
	TxDividend   TransactionType = "dividend"
	TxCommission TransactionType = "commission"
	TxReward     TransactionType = "reward"
	TxPenalty    TransactionType = "penalty"
)

// Valid reports whether t is part of the fixed enum.
func (t TransactionType) Valid() bool {
	switch t {
	case TxCredit, TxDebit, TxTransfer, TxLock, TxExchange, TxDividend, TxCommission, TxReward, TxPenalty:
		return true
	}
	return false
}

// DrawsBalance reports whether the operation spends the caller's remaining balance.
func (t TransactionType) DrawsBalance() bool {
	switch t {
	case TxDebit, TxTransfer, TxLock, TxExchange, TxPenalty:
		return true
	}
	return false
}

// OperationParams is the input to a safety check.
type OperationParams struct {
	TransactionType TransactionType `json:"transaction_type"`
	Amount          decimal.Decimal `json:"amount"`
	TargetUserID    string          `json:"target_user_id,omitempty"`
	RequiredRole    Role            `json:"required_role,omitempty"`
}

// ValidationResult is the outcome of a safety check. Reason is human-readable.
type ValidationResult struct {
	Passed bool   `json:"passed"`
	Reason string `json:"reason,omitempty"`
}

// Pass is the successful ValidationResult.
func Pass() ValidationResult { return ValidationResult{Passed: true} }

// Reject builds a failed ValidationResult.
func Reject(reason string) ValidationResult { return ValidationResult{Passed: false, Reason: reason} }
