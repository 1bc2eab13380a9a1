package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/rewards-service/internal/domain"
)

func TestValidateOperation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerWithRole(t, "admin", domain.RoleAdmin)
	f.register(t, "member", "")
	_, err := f.svc.Ledger.ConsumeContribution(ctx, "member", dec("900"), "")
	require.NoError(t, err)

	tests := []struct {
		name   string
		userID string
		params domain.OperationParams
		passed bool
	}{
		{"credit passes", "member", domain.OperationParams{TransactionType: domain.TxCredit, Amount: dec("10")}, true},
		{"debit within balance", "member", domain.OperationParams{TransactionType: domain.TxDebit, Amount: dec("100")}, true},
		{"debit over balance", "member", domain.OperationParams{TransactionType: domain.TxDebit, Amount: dec("100.0001")}, false},
		{"unknown account uses registration bonus", "newcomer", domain.OperationParams{TransactionType: domain.TxDebit, Amount: dec("1000")}, true},
		{"unknown account over registration bonus", "newcomer", domain.OperationParams{TransactionType: domain.TxDebit, Amount: dec("1001")}, false},
		{"blank user", " ", domain.OperationParams{TransactionType: domain.TxCredit, Amount: dec("1")}, false},
		{"unknown type", "member", domain.OperationParams{TransactionType: "mint", Amount: dec("1")}, false},
		{"negative amount", "member", domain.OperationParams{TransactionType: domain.TxCredit, Amount: dec("-1")}, false},
		{"too many decimals", "member", domain.OperationParams{TransactionType: domain.TxCredit, Amount: dec("0.00001")}, false},
		{"zero debit", "member", domain.OperationParams{TransactionType: domain.TxDebit, Amount: dec("0")}, false},
		{"role satisfied", "admin", domain.OperationParams{TransactionType: domain.TxCredit, Amount: dec("1"), RequiredRole: domain.RoleOperator}, true},
		{"role missing", "member", domain.OperationParams{TransactionType: domain.TxCredit, Amount: dec("1"), RequiredRole: domain.RoleAdmin}, false},
		{"role on unregistered user", "ghost", domain.OperationParams{TransactionType: domain.TxCredit, Amount: dec("1"), RequiredRole: domain.RoleMember}, false},
		{"transfer without target", "member", domain.OperationParams{TransactionType: domain.TxTransfer, Amount: dec("1")}, false},
		{"transfer to self", "member", domain.OperationParams{TransactionType: domain.TxTransfer, Amount: dec("1"), TargetUserID: "member"}, false},
		{"transfer ok", "member", domain.OperationParams{TransactionType: domain.TxTransfer, Amount: dec("1"), TargetUserID: "admin"}, true},
		{"exchange below minimum", "admin", domain.OperationParams{TransactionType: domain.TxExchange, Amount: dec("50")}, false},
		{"exchange off lot", "admin", domain.OperationParams{TransactionType: domain.TxExchange, Amount: dec("150")}, false},
		{"exchange ok", "admin", domain.OperationParams{TransactionType: domain.TxExchange, Amount: dec("200")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := f.svc.Safety.ValidateOperation(ctx, tt.userID, tt.params)
			require.NoError(t, err)
			assert.Equal(t, tt.passed, result.Passed, result.Reason)
			if !tt.passed {
				assert.NotEmpty(t, result.Reason)
			}
		})
	}
}

func TestGuard_ReturnsTypedRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "member", "")

	err := f.svc.Safety.Guard(ctx, "member", domain.OperationParams{TransactionType: domain.TxDebit, Amount: dec("5000")})
	var insufficient *domain.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	requireDecimal(t, "1000", insufficient.Available)
	requireDecimal(t, "5000", insufficient.Requested)

	err = f.svc.Safety.Guard(ctx, "member", domain.OperationParams{TransactionType: domain.TxCredit, Amount: dec("1"), RequiredRole: domain.RoleAdmin})
	var denied *domain.PermissionDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, domain.RoleMember, denied.Actual)

	assert.NoError(t, f.svc.Safety.Guard(ctx, "member", domain.OperationParams{TransactionType: domain.TxReward, Amount: dec("0")}))
}

func TestValidateOperation_DoesNotMutateState(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.Safety.ValidateOperation(context.Background(), "newcomer", domain.OperationParams{TransactionType: domain.TxDebit, Amount: dec("10")})
	require.NoError(t, err)
	assert.True(t, result.Passed)

	_, err = f.store.FindAccount(context.Background(), "newcomer")
	assert.Error(t, err)
}
