package gc

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultLockKey is the Redis key guarding scheduled collection runs.
const DefaultLockKey = "artifact_keeper:storage_gc:lock"

// ErrLockHeld is returned by Acquire when another instance holds the lock.
var ErrLockHeld = errors.New("storage gc lock held by another instance")

//go:embed release_lock.lua
var releaseLockScript string

// Unlock releases a lock returned by Locker.Acquire.
type Unlock func(ctx context.Context) error

// Locker provides mutual exclusion between replicas running the scheduler.
type Locker interface {
	Acquire(ctx context.Context, ttl time.Duration) (Unlock, error)
}

// NopLocker always succeeds. Used when a single instance runs GC.
type NopLocker struct{}

func (NopLocker) Acquire(ctx context.Context, ttl time.Duration) (Unlock, error) {
	return func(context.Context) error { return nil }, nil
}

// RedisLocker is a single-key Redis lock. The key expires after the TTL so a
// crashed holder cannot block collection forever.
type RedisLocker struct {
	client  *redis.Client
	key     string
	release *redis.Script
}

// NewRedisLocker creates a locker on key. An empty key selects DefaultLockKey.
func NewRedisLocker(client *redis.Client, key string) *RedisLocker {
	if key == "" {
		key = DefaultLockKey
	}
	return &RedisLocker{
		client:  client,
		key:     key,
		release: redis.NewScript(releaseLockScript),
	}
}

// Acquire takes the lock with SET NX PX and a random token. The returned
// Unlock deletes the key only while it still holds that token.
func (l *RedisLocker) Acquire(ctx context.Context, ttl time.Duration) (Unlock, error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, l.key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire storage gc lock: %w", err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	return func(ctx context.Context) error {
		if err := l.release.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil {
			return fmt.Errorf("failed to release storage gc lock: %w", err)
		}
		return nil
	}, nil
}
