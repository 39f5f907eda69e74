package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pantypostorganisation/pantypost-sub009/internal/models"
	"github.com/pantypostorganisation/pantypost-sub009/internal/money"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	found, err := store.Get(ctx, "missing", &map[string]int{})
	require.NoError(t, err)
	assert.False(t, found)

	in := map[string]float64{"alice": 12.5}
	require.NoError(t, store.Set(ctx, "balances", in))

	out := make(map[string]float64)
	found, err = store.Get(ctx, "balances", &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, in, out)

	deleted, err := store.Delete(ctx, "balances")
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = store.Delete(ctx, "balances")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestLedgerRepositoryTransactions(t *testing.T) {
	ctx := context.Background()
	repo := NewLedgerRepository(NewMemoryStore())

	tx := models.NewTransaction(models.TypeDeposit, money.FromCents(500), "", "alice", "", models.RoleBuyer)
	require.NoError(t, repo.AppendTransaction(ctx, tx))

	assert.Error(t, repo.AppendTransaction(ctx, tx), "duplicate ids are rejected")

	got, err := repo.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, tx.ID, got.ID)

	_, err = repo.GetTransaction(ctx, "nope")
	assert.ErrorIs(t, err, ErrTransactionNotFound)

	tx.MarkCompleted(time.Now())
	require.NoError(t, repo.UpdateTransaction(ctx, tx))
	got, err = repo.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
}

func TestLedgerRepositoryListFilters(t *testing.T) {
	ctx := context.Background()
	repo := NewLedgerRepository(NewMemoryStore())

	deposit := models.NewTransaction(models.TypeDeposit, money.FromCents(500), "", "alice", "", models.RoleBuyer)
	deposit.MarkCompleted(time.Now())
	purchase := models.NewTransaction(models.TypePurchase, money.FromCents(300), "alice", "bob", models.RoleBuyer, models.RoleSeller)
	withdrawal := models.NewTransaction(models.TypeWithdrawal, money.FromCents(100), "bob", "", models.RoleSeller, "")
	for _, tx := range []*models.Transaction{deposit, purchase, withdrawal} {
		require.NoError(t, repo.AppendTransaction(ctx, tx))
	}

	all, err := repo.ListTransactions(ctx, TransactionFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	alice, err := repo.ListTransactions(ctx, TransactionFilter{User: "alice"})
	require.NoError(t, err)
	assert.Len(t, alice, 2)

	bobSeller, err := repo.ListTransactions(ctx, TransactionFilter{User: "bob", Role: models.RoleSeller})
	require.NoError(t, err)
	assert.Len(t, bobSeller, 2)

	completed, err := repo.ListTransactions(ctx, TransactionFilter{Status: models.StatusCompleted})
	require.NoError(t, err)
	assert.Len(t, completed, 1)

	limited, err := repo.ListTransactions(ctx, TransactionFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	offset, err := repo.ListTransactions(ctx, TransactionFilter{Offset: 2})
	require.NoError(t, err)
	assert.Len(t, offset, 1)
}

func TestLedgerRepositoryBalances(t *testing.T) {
	ctx := context.Background()
	repo := NewLedgerRepository(NewMemoryStore())

	// Unknown accounts read as zero, not as an error.
	balance, err := repo.GetBalance(ctx, "alice", models.RoleBuyer)
	require.NoError(t, err)
	assert.Equal(t, money.Zero, balance.Balance)

	balance.Credit(money.FromCents(4200))
	require.NoError(t, repo.SaveBalance(ctx, balance))

	reloaded, err := repo.GetBalance(ctx, "alice", models.RoleBuyer)
	require.NoError(t, err)
	assert.Equal(t, money.FromCents(4200), reloaded.Balance)

	// Buyer and seller buckets of the same user are independent.
	seller, err := repo.GetBalance(ctx, "alice", models.RoleSeller)
	require.NoError(t, err)
	assert.Equal(t, money.Zero, seller.Balance)

	bad := models.NewBalance("alice", models.RoleBuyer)
	bad.Balance = -1
	assert.Error(t, repo.SaveBalance(ctx, bad))
}

func TestIdempotencyRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewIdempotencyRepository(NewMemoryStore())

	_, found, err := repo.Lookup(ctx, "key-1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, repo.Record(ctx, "key-1", []string{"tx-a", "tx-b"}))

	ids, found, err := repo.Lookup(ctx, "key-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{"tx-a", "tx-b"}, ids)

	assert.Error(t, repo.Record(ctx, "key-1", []string{"tx-c"}), "keys are write-once")
	assert.Error(t, repo.Record(ctx, "key-2", nil), "empty id lists are rejected")

	// Blank keys mean the caller opted out of idempotency.
	require.NoError(t, repo.Record(ctx, "", []string{"tx-d"}))
	_, found, err = repo.Lookup(ctx, "")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryLockManagerFailsFast(t *testing.T) {
	ctx := context.Background()
	locks := NewMemoryLockManager()
	key := AccountLockKey("buyer", "alice")

	ok, err := locks.Acquire(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = locks.Acquire(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire must fail immediately, not wait")

	other, err := locks.Acquire(ctx, AccountLockKey("seller", "alice"))
	require.NoError(t, err)
	assert.True(t, other, "different accounts do not contend")

	require.NoError(t, locks.Release(ctx, key))
	ok, err = locks.Acquire(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, locks.Release(ctx, "never-held"))
}

func TestMemoryLockManagerSingleWinner(t *testing.T) {
	ctx := context.Background()
	locks := NewMemoryLockManager()

	var wg sync.WaitGroup
	winners := make(chan int, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ok, err := locks.Acquire(ctx, "contested")
			require.NoError(t, err)
			if ok {
				winners <- n
			}
		}(i)
	}
	wg.Wait()
	close(winners)

	count := 0
	for range winners {
		count++
	}
	assert.Equal(t, 1, count, "exactly one concurrent acquirer wins")
}
