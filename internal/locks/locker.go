// Package locks serializes work per key. Locks for different keys never
// block each other.
package locks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/angelmondragon/payrecon/pkg/config"
	"github.com/google/uuid"
)

// ErrNotAcquired means the wait for a lock ended before it was granted.
var ErrNotAcquired = errors.New("lock not acquired")

// Locker grants exclusive ownership of a key until release is called.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// KeyedMutex is an in-process Locker. Entries are dropped when unused.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*keyEntry
}

type keyEntry struct {
	ch   chan struct{}
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{entries: map[string]*keyEntry{}}
}

func (k *KeyedMutex) Acquire(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	entry, ok := k.entries[key]
	if !ok {
		entry = &keyEntry{ch: make(chan struct{}, 1)}
		k.entries[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
	case <-ctx.Done():
		k.unref(key, entry)
		return nil, fmt.Errorf("%w: %v", ErrNotAcquired, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.ch
			k.unref(key, entry)
		})
	}, nil
}

func (k *KeyedMutex) unref(key string, entry *keyEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(k.entries, key)
	}
}

// Len reports how many keys are held or awaited.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}

type redisStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	DelIfValue(ctx context.Context, key, value string) (bool, error)
	LockKey(scope, id string) string
}

const (
	redisLockScope     = "ledger"
	defaultRedisTTL    = 15 * time.Second
	defaultRetryPeriod = 50 * time.Millisecond
)

// RedisLocker is a cross-instance Locker built on SETNX with an owner token.
// The TTL bounds how long a crashed holder can block a key.
type RedisLocker struct {
	client redisStore
	ttl    time.Duration
	retry  time.Duration
}

func NewRedisLocker(client redisStore, ttl time.Duration) (*RedisLocker, error) {
	if client == nil {
		return nil, errors.New("redis client required for lock")
	}
	if ttl <= 0 {
		ttl = defaultRedisTTL
	}
	return &RedisLocker{client: client, ttl: ttl, retry: defaultRetryPeriod}, nil
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	redisKey := l.client.LockKey(redisLockScope, key)
	owner := uuid.NewString()

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrNotAcquired, ctx.Err())
		case <-timer.C:
		}

		ok, err := l.client.SetNX(ctx, redisKey, owner, l.ttl)
		if err != nil {
			return nil, fmt.Errorf("setnx: %w", err)
		}
		if ok {
			var once sync.Once
			return func() {
				once.Do(func() {
					releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
					defer cancel()
					_, _ = l.client.DelIfValue(releaseCtx, redisKey, owner)
				})
			}, nil
		}
		timer.Reset(l.retry)
	}
}

// FromConfig picks the backend named by the lock flag.
func FromConfig(flags config.FeatureFlagsConfig, client redisStore) (Locker, error) {
	switch flags.LockBackend {
	case config.LockBackendRedis:
		return NewRedisLocker(client, flags.LockTTL)
	case config.LockBackendMemory, "":
		return NewKeyedMutex(), nil
	default:
		return nil, fmt.Errorf("unknown lock backend %q", flags.LockBackend)
	}
}
