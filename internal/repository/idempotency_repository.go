package repository

import (
	"context"
	"fmt"
	"sync"
)

// idempotencyKey holds the full key -> transaction ids map.
const idempotencyKey = "wallet_idempotency_map"

// IdempotencyRepository records which transaction ids an idempotency key
// produced. Entries are written only once the operation reached a terminal
// state, so a hit always points at a finished result.
type IdempotencyRepository interface {
	// Lookup returns the transaction ids recorded for key, or found=false.
	Lookup(ctx context.Context, key string) (ids []string, found bool, err error)
	// Record stores the transaction ids for key. Recording an existing key
	// again is a conflict.
	Record(ctx context.Context, key string, ids []string) error
}

type kvIdempotencyRepository struct {
	store KVStore
	mu    sync.Mutex
}

// NewIdempotencyRepository builds an IdempotencyRepository over a KVStore.
func NewIdempotencyRepository(store KVStore) IdempotencyRepository {
	return &kvIdempotencyRepository{store: store}
}

func (r *kvIdempotencyRepository) loadMap(ctx context.Context) (map[string][]string, error) {
	entries := make(map[string][]string)
	if _, err := r.store.Get(ctx, idempotencyKey, &entries); err != nil {
		return nil, fmt.Errorf("failed to load idempotency map: %w", err)
	}
	return entries, nil
}

func (r *kvIdempotencyRepository) Lookup(ctx context.Context, key string) ([]string, bool, error) {
	if key == "" {
		return nil, false, nil
	}
	entries, err := r.loadMap(ctx)
	if err != nil {
		return nil, false, err
	}
	ids, found := entries[key]
	return ids, found, nil
}

func (r *kvIdempotencyRepository) Record(ctx context.Context, key string, ids []string) error {
	if key == "" {
		return nil
	}
	if len(ids) == 0 {
		return fmt.Errorf("refusing to record idempotency key %q with no transactions", key)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.loadMap(ctx)
	if err != nil {
		return err
	}
	if _, exists := entries[key]; exists {
		return fmt.Errorf("idempotency key %q already recorded", key)
	}
	entries[key] = ids
	return r.store.Set(ctx, idempotencyKey, entries)
}
