package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pantypostorganisation/pantypost-sub009/internal/money"
)

// TransactionType classifies a ledger entry.
type TransactionType string

const (
	TypeDeposit      TransactionType = "deposit"
	TypeWithdrawal   TransactionType = "withdrawal"
	TypePurchase     TransactionType = "purchase"
	TypeSale         TransactionType = "sale"
	TypeTip          TransactionType = "tip"
	TypeSubscription TransactionType = "subscription"
	TypeAdminCredit  TransactionType = "admin_credit"
	TypeAdminDebit   TransactionType = "admin_debit"
	TypeRefund       TransactionType = "refund"
	TypeFee          TransactionType = "fee"
	TypeTierCredit   TransactionType = "tier_credit"
)

var validTypes = map[TransactionType]bool{
	TypeDeposit: true, TypeWithdrawal: true, TypePurchase: true,
	TypeSale: true, TypeTip: true, TypeSubscription: true,
	TypeAdminCredit: true, TypeAdminDebit: true, TypeRefund: true,
	TypeFee: true, TypeTierCredit: true,
}

// TransactionStatus is the lifecycle state of a ledger entry. A transaction
// is created pending and moves to exactly one terminal state.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusFailed    TransactionStatus = "failed"
	StatusCancelled TransactionStatus = "cancelled"
)

// IsTerminal reports whether the status is final.
func (s TransactionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Metadata is audit/display data riding along with a transaction. It is
// never read when computing balances.
type Metadata struct {
	ListingID      string      `json:"listing_id,omitempty"`
	OrderID        string      `json:"order_id,omitempty"`
	SubscriptionID string      `json:"subscription_id,omitempty"`
	PaymentMethod  string      `json:"payment_method,omitempty"`
	PlatformFee    money.Money `json:"platform_fee,omitempty"`
	FeeBps         int64       `json:"fee_bps,omitempty"`
	FeeTxID        string      `json:"fee_tx_id,omitempty"`
	BankAccount    string      `json:"bank_account,omitempty"`
	PayoutRef      string      `json:"payout_ref,omitempty"`
	Operator       string      `json:"operator,omitempty"`
	Reason         string      `json:"reason,omitempty"`
	MigratedFrom   string      `json:"migrated_from,omitempty"`
}

// Transaction is one ledger entry. Once it reaches a terminal state its
// fields are frozen, except that a completed entry may later gain a
// ReversedBy link.
type Transaction struct {
	ID     string            `json:"id"`
	Type   TransactionType   `json:"type"`
	Amount money.Money       `json:"amount"`
	Status TransactionStatus `json:"status"`

	From     UserID `json:"from,omitempty"`
	To       UserID `json:"to,omitempty"`
	FromRole Role   `json:"from_role,omitempty"`
	ToRole   Role   `json:"to_role,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`

	ErrorMessage   string `json:"error_message,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	ReversalOf string `json:"reversal_of,omitempty"`
	ReversedBy string `json:"reversed_by,omitempty"`

	Metadata Metadata `json:"metadata"`
}

// NewTransaction creates a pending ledger entry with a fresh id.
func NewTransaction(txType TransactionType, amount money.Money, from, to UserID, fromRole, toRole Role) *Transaction {
	return &Transaction{
		ID:        uuid.NewString(),
		Type:      txType,
		Amount:    amount,
		Status:    StatusPending,
		From:      from,
		To:        to,
		FromRole:  fromRole,
		ToRole:    toRole,
		CreatedAt: time.Now().UTC(),
	}
}

// MarkCompleted transitions the entry to its completed terminal state.
func (t *Transaction) MarkCompleted(at time.Time) {
	at = at.UTC()
	t.Status = StatusCompleted
	t.CompletedAt = &at
}

// MarkFailed transitions the entry to its failed terminal state with a
// reason.
func (t *Transaction) MarkFailed(at time.Time, reason string) {
	at = at.UTC()
	t.Status = StatusFailed
	t.FailedAt = &at
	t.ErrorMessage = reason
}

// CanBeReversed reports whether a compensating entry may be created: the
// entry must be completed, not itself a reversal, and not already reversed.
func (t *Transaction) CanBeReversed() bool {
	return t.Status == StatusCompleted && t.ReversedBy == "" && t.ReversalOf == ""
}

// DebitsAccount reports whether the transaction takes money out of the
// given account when completed.
func (t *Transaction) DebitsAccount(user UserID, role Role) bool {
	return t.From == user && t.FromRole == role
}

// CreditsAccount reports whether the transaction pays into the given
// account when completed.
func (t *Transaction) CreditsAccount(user UserID, role Role) bool {
	return t.To == user && t.ToRole == role
}

// Validate checks structural consistency before the entry is persisted.
func (t *Transaction) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("transaction id is required")
	}
	if !validTypes[t.Type] {
		return fmt.Errorf("invalid transaction type %q", t.Type)
	}
	if !t.Amount.IsPositive() {
		return fmt.Errorf("transaction amount must be strictly positive, got %s", t.Amount)
	}
	if t.From == "" && t.To == "" {
		return fmt.Errorf("transaction must reference at least one account")
	}
	if t.From != "" && t.FromRole == "" {
		return fmt.Errorf("from account requires a role")
	}
	if t.To != "" && t.ToRole == "" {
		return fmt.Errorf("to account requires a role")
	}
	switch t.Type {
	case TypeDeposit:
		if t.From != "" {
			return fmt.Errorf("deposits have no source account")
		}
	case TypeWithdrawal:
		if t.To != "" {
			return fmt.Errorf("withdrawals have no destination account")
		}
	}
	switch t.Status {
	case StatusPending, StatusCompleted, StatusFailed, StatusCancelled:
	default:
		return fmt.Errorf("invalid transaction status %q", t.Status)
	}
	return nil
}
