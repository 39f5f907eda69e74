package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pantypostorganisation/pantypost-sub009/internal/money"
)

func TestNewTransactionStartsPending(t *testing.T) {
	tx := NewTransaction(TypePurchase, money.FromCents(5500), "alice", "bob", RoleBuyer, RoleSeller)
	assert.NotEmpty(t, tx.ID)
	assert.Equal(t, StatusPending, tx.Status)
	assert.False(t, tx.Status.IsTerminal())
	assert.Nil(t, tx.CompletedAt)
	require.NoError(t, tx.Validate())
}

func TestLifecycleTransitions(t *testing.T) {
	tx := NewTransaction(TypeDeposit, money.FromCents(100), "", "alice", "", RoleBuyer)

	at := time.Now()
	tx.MarkCompleted(at)
	assert.Equal(t, StatusCompleted, tx.Status)
	assert.True(t, tx.Status.IsTerminal())
	require.NotNil(t, tx.CompletedAt)

	failed := NewTransaction(TypeWithdrawal, money.FromCents(2000), "bob", "", RoleSeller, "")
	failed.MarkFailed(at, "payout declined")
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Equal(t, "payout declined", failed.ErrorMessage)
	require.NotNil(t, failed.FailedAt)
}

func TestCanBeReversed(t *testing.T) {
	tx := NewTransaction(TypePurchase, money.FromCents(5500), "alice", "bob", RoleBuyer, RoleSeller)
	assert.False(t, tx.CanBeReversed(), "pending entries cannot be reversed")

	tx.MarkCompleted(time.Now())
	assert.True(t, tx.CanBeReversed())

	tx.ReversedBy = "some-refund"
	assert.False(t, tx.CanBeReversed(), "already reversed")

	refund := NewTransaction(TypeRefund, money.FromCents(5500), "bob", "alice", RoleSeller, RoleBuyer)
	refund.ReversalOf = tx.ID
	refund.MarkCompleted(time.Now())
	assert.False(t, refund.CanBeReversed(), "reversals cannot themselves be reversed")
}

func TestTransactionValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Transaction)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Transaction) {}},
		{name: "zero amount", mutate: func(tx *Transaction) { tx.Amount = 0 }, wantErr: true},
		{name: "negative amount", mutate: func(tx *Transaction) { tx.Amount = -100 }, wantErr: true},
		{name: "unknown type", mutate: func(tx *Transaction) { tx.Type = "loan" }, wantErr: true},
		{name: "no accounts", mutate: func(tx *Transaction) { tx.From, tx.To = "", "" }, wantErr: true},
		{name: "from without role", mutate: func(tx *Transaction) { tx.FromRole = "" }, wantErr: true},
		{name: "bad status", mutate: func(tx *Transaction) { tx.Status = "done" }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := NewTransaction(TypePurchase, money.FromCents(5500), "alice", "bob", RoleBuyer, RoleSeller)
			tt.mutate(tx)
			err := tx.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	deposit := NewTransaction(TypeDeposit, money.FromCents(100), "alice", "alice", RoleBuyer, RoleBuyer)
	assert.Error(t, deposit.Validate(), "deposits must not have a source account")

	withdrawal := NewTransaction(TypeWithdrawal, money.FromCents(100), "alice", "alice", RoleSeller, RoleSeller)
	assert.Error(t, withdrawal.Validate(), "withdrawals must not have a destination account")
}

func TestDebitsAndCreditsAccount(t *testing.T) {
	tx := NewTransaction(TypePurchase, money.FromCents(5500), "alice", "bob", RoleBuyer, RoleSeller)
	assert.True(t, tx.DebitsAccount("alice", RoleBuyer))
	assert.False(t, tx.DebitsAccount("alice", RoleSeller))
	assert.True(t, tx.CreditsAccount("bob", RoleSeller))
	assert.False(t, tx.CreditsAccount("bob", RoleBuyer))
}
