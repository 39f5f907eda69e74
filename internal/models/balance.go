package models

import (
	"fmt"
	"time"

	"github.com/pantypostorganisation/pantypost-sub009/internal/money"
)

// Balance is the cached, derived summary for one user×role account. The
// ledger is the source of truth; Balance exists so reads don't walk history.
type Balance struct {
	UserID  UserID      `json:"user_id"`
	Role    Role        `json:"role"`
	Balance money.Money `json:"balance"`
	// Pending is the sum of amounts in pending transactions debiting this
	// account. Pending credits never count until completion.
	Pending   money.Money `json:"pending_balance"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// NewBalance returns an empty balance record for an account.
func NewBalance(user UserID, role Role) *Balance {
	return &Balance{UserID: user, Role: role, UpdatedAt: time.Now().UTC()}
}

// Available is the settled balance minus pending debits, the amount any new
// debit is authorized against.
func (b *Balance) Available() money.Money {
	return b.Balance - b.Pending
}

// CanDebit reports whether a debit of amount is covered by the available
// balance.
func (b *Balance) CanDebit(amount money.Money) bool {
	return amount.IsPositive() && b.Available() >= amount
}

// Credit adds to the settled balance.
func (b *Balance) Credit(amount money.Money) {
	b.Balance += amount
	b.UpdatedAt = time.Now().UTC()
}

// Debit removes from the settled balance. It returns an error rather than
// ever letting the settled balance go negative.
func (b *Balance) Debit(amount money.Money) error {
	if b.Balance < amount {
		return fmt.Errorf("debit of %s would drive balance %s negative", amount, b.Balance)
	}
	b.Balance -= amount
	b.UpdatedAt = time.Now().UTC()
	return nil
}

// HoldPending records a pending debit against the account.
func (b *Balance) HoldPending(amount money.Money) {
	b.Pending += amount
	b.UpdatedAt = time.Now().UTC()
}

// ReleasePending clears a pending debit once its transaction reaches a
// terminal state.
func (b *Balance) ReleasePending(amount money.Money) {
	b.Pending -= amount
	if b.Pending < 0 {
		b.Pending = 0
	}
	b.UpdatedAt = time.Now().UTC()
}

// Validate checks the non-negative invariants.
func (b *Balance) Validate() error {
	if b.UserID == "" {
		return fmt.Errorf("balance requires a user id")
	}
	if b.Role == "" {
		return fmt.Errorf("balance requires a role")
	}
	if b.Balance.IsNegative() {
		return fmt.Errorf("balance for %s/%s is negative: %s", b.UserID, b.Role, b.Balance)
	}
	if b.Pending.IsNegative() {
		return fmt.Errorf("pending balance for %s/%s is negative: %s", b.UserID, b.Role, b.Pending)
	}
	return nil
}
