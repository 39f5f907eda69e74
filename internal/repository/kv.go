package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// KVStore is the persistence contract the ledger engine runs on. Values are
// JSON-serializable; keys are scoped by a string namespace. Whether the
// backing store is an in-process map, Redis, or Mongo is a deployment
// choice, not a ledger concern.
type KVStore interface {
	// Get unmarshals the value at key into dest and reports whether the key
	// existed.
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	// Set writes the JSON encoding of value at key.
	Set(ctx context.Context, key string, value interface{}) error
	// Delete removes the key and reports whether it existed.
	Delete(ctx context.Context, key string) (bool, error)
}

// memoryStore is the in-process KVStore used in tests and single-node
// sandbox deployments. Values round-trip through JSON so behavior matches
// the remote backends exactly.
type memoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore returns an empty in-memory KVStore.
func NewMemoryStore() KVStore {
	return &memoryStore{data: make(map[string][]byte)}
}

func (s *memoryStore) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	s.mu.RLock()
	raw, ok := s.data[key]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return true, fmt.Errorf("failed to decode value at %q: %w", key, err)
	}
	return true, nil
}

func (s *memoryStore) Set(ctx context.Context, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode value for %q: %w", key, err)
	}
	s.mu.Lock()
	s.data[key] = raw
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) Delete(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[key]
	delete(s.data, key)
	return ok, nil
}
