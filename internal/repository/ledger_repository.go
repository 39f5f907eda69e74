package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pantypostorganisation/pantypost-sub009/internal/models"
)

const (
	// transactionsKey holds the full ordered transaction list, mirroring
	// the single-collection layout of the legacy store.
	transactionsKey = "wallet_transactions"
)

// balanceKey is the per-account balance key, wallet_<role>_<userId>.
func balanceKey(user models.UserID, role models.Role) string {
	return fmt.Sprintf("wallet_%s_%s", role, user)
}

// TransactionFilter narrows ListTransactions results. Zero values match
// everything.
type TransactionFilter struct {
	User   models.UserID
	Role   models.Role
	Type   models.TransactionType
	Status models.TransactionStatus
	Since  time.Time
	Until  time.Time
	Limit  int
	Offset int
}

// LedgerRepository is append/update access to the transaction collection
// and per-account balance records.
type LedgerRepository interface {
	AppendTransaction(ctx context.Context, tx *models.Transaction) error
	UpdateTransaction(ctx context.Context, tx *models.Transaction) error
	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]*models.Transaction, error)

	GetBalance(ctx context.Context, user models.UserID, role models.Role) (*models.Balance, error)
	SaveBalance(ctx context.Context, balance *models.Balance) error
}

// ErrTransactionNotFound is returned by lookups on unknown ids.
var ErrTransactionNotFound = fmt.Errorf("transaction not found")

type kvLedgerRepository struct {
	store KVStore
	// mu serializes read-modify-write cycles on the transaction list key.
	// The KV contract gives no compare-and-set, so the repository is the
	// single writer for that key within a process.
	mu sync.Mutex
}

// NewLedgerRepository builds a LedgerRepository over a KVStore.
func NewLedgerRepository(store KVStore) LedgerRepository {
	return &kvLedgerRepository{store: store}
}

func (r *kvLedgerRepository) loadAll(ctx context.Context) ([]*models.Transaction, error) {
	var txs []*models.Transaction
	if _, err := r.store.Get(ctx, transactionsKey, &txs); err != nil {
		return nil, fmt.Errorf("failed to load transaction list: %w", err)
	}
	return txs, nil
}

func (r *kvLedgerRepository) AppendTransaction(ctx context.Context, tx *models.Transaction) error {
	if err := tx.Validate(); err != nil {
		return fmt.Errorf("refusing to append invalid transaction: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	txs, err := r.loadAll(ctx)
	if err != nil {
		return err
	}
	for _, existing := range txs {
		if existing.ID == tx.ID {
			return fmt.Errorf("transaction %s already exists", tx.ID)
		}
	}
	txs = append(txs, tx)
	return r.store.Set(ctx, transactionsKey, txs)
}

func (r *kvLedgerRepository) UpdateTransaction(ctx context.Context, tx *models.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	txs, err := r.loadAll(ctx)
	if err != nil {
		return err
	}
	for i, existing := range txs {
		if existing.ID == tx.ID {
			txs[i] = tx
			return r.store.Set(ctx, transactionsKey, txs)
		}
	}
	return fmt.Errorf("update %s: %w", tx.ID, ErrTransactionNotFound)
}

func (r *kvLedgerRepository) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	txs, err := r.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, tx := range txs {
		if tx.ID == id {
			return tx, nil
		}
	}
	return nil, fmt.Errorf("get %s: %w", id, ErrTransactionNotFound)
}

func (r *kvLedgerRepository) ListTransactions(ctx context.Context, filter TransactionFilter) ([]*models.Transaction, error) {
	txs, err := r.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	matched := make([]*models.Transaction, 0, len(txs))
	for _, tx := range txs {
		if !matches(tx, filter) {
			continue
		}
		matched = append(matched, tx)
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []*models.Transaction{}, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func matches(tx *models.Transaction, f TransactionFilter) bool {
	if f.User != "" {
		touches := tx.From == f.User || tx.To == f.User
		if f.Role != "" {
			touches = tx.DebitsAccount(f.User, f.Role) || tx.CreditsAccount(f.User, f.Role)
		}
		if !touches {
			return false
		}
	}
	if f.Type != "" && tx.Type != f.Type {
		return false
	}
	if f.Status != "" && tx.Status != f.Status {
		return false
	}
	if !f.Since.IsZero() && tx.CreatedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && tx.CreatedAt.After(f.Until) {
		return false
	}
	return true
}

func (r *kvLedgerRepository) GetBalance(ctx context.Context, user models.UserID, role models.Role) (*models.Balance, error) {
	balance := models.NewBalance(user, role)
	found, err := r.store.Get(ctx, balanceKey(user, role), balance)
	if err != nil {
		return nil, fmt.Errorf("failed to load balance for %s/%s: %w", user, role, err)
	}
	if !found {
		// Accounts start at zero; absence of a record is not an error.
		return models.NewBalance(user, role), nil
	}
	return balance, nil
}

func (r *kvLedgerRepository) SaveBalance(ctx context.Context, balance *models.Balance) error {
	if err := balance.Validate(); err != nil {
		return fmt.Errorf("refusing to persist invalid balance: %w", err)
	}
	return r.store.Set(ctx, balanceKey(balance.UserID, balance.Role), balance)
}
