package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// LockManager is a non-blocking per-resource lock. Acquire either takes the
// lock immediately or reports contention; callers never queue.
type LockManager interface {
	// Acquire attempts to take the lock for key. It returns false without
	// waiting if another holder has it.
	Acquire(ctx context.Context, key string) (bool, error)
	// Release frees the lock for key. Releasing an unheld lock is a no-op.
	Release(ctx context.Context, key string) error
}

// AccountLockKey is the canonical lock key for a wallet account.
func AccountLockKey(role, user string) string {
	return "lock:wallet:" + role + ":" + user
}

type memoryLockManager struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewMemoryLockManager builds an in-process LockManager. Suitable for a
// single instance; multi-instance deployments use the Redis manager.
func NewMemoryLockManager() LockManager {
	return &memoryLockManager{held: make(map[string]struct{})}
}

func (m *memoryLockManager) Acquire(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.held[key]; taken {
		return false, nil
	}
	m.held[key] = struct{}{}
	return true, nil
}

func (m *memoryLockManager) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, key)
	return nil
}

// releaseScript deletes the lock only when the caller still owns it, so a
// slow holder cannot release a lock that expired and was re-acquired.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type redisLockManager struct {
	client *redis.Client
	ttl    time.Duration
	log    *logrus.Logger

	mu     sync.Mutex
	owners map[string]string
}

// NewRedisLockManager builds a LockManager backed by Redis SET NX with a
// safety TTL. The TTL bounds how long a crashed holder can block others.
func NewRedisLockManager(client *redis.Client, ttl time.Duration, log *logrus.Logger) LockManager {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &redisLockManager{
		client: client,
		ttl:    ttl,
		log:    log,
		owners: make(map[string]string),
	}
}

func (m *redisLockManager) Acquire(ctx context.Context, key string) (bool, error) {
	token := uuid.New().String()
	ok, err := m.client.SetNX(ctx, key, token, m.ttl).Result()
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	m.mu.Lock()
	m.owners[key] = token
	m.mu.Unlock()
	return true, nil
}

func (m *redisLockManager) Release(ctx context.Context, key string) error {
	m.mu.Lock()
	token, held := m.owners[key]
	delete(m.owners, key)
	m.mu.Unlock()
	if !held {
		return nil
	}
	deleted, err := releaseScript.Run(ctx, m.client, []string{key}, token).Int()
	if err != nil {
		return err
	}
	if deleted == 0 && m.log != nil {
		m.log.WithField("key", key).Warn("Lock expired before release")
	}
	return nil
}
