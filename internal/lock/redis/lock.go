// Package redis provides a Redis-backed implementation of the lock
// manager, usable by multiple engine instances against one Redis.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"courier-go/internal/config"
	"courier-go/internal/domain"
	"courier-go/internal/lock"
)

// releaseScript deletes a lease key only when the stored token matches,
// so an expired-and-reacquired lease is never released by the old holder.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	end
	return 0
`)

// Locker implements lock.Locker using Redis SET NX PX leases.
type Locker struct {
	client *redis.Client
}

// NewLocker creates a new Redis-backed locker.
func NewLocker(cfg *config.RedisConfig) (*Locker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Locker{client: client}, nil
}

// Acquire claims the key for ttl. The lease token is a fresh id, checked
// again on release.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (lock.Lease, error) {
	token := domain.NewID()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return nil, domain.ErrLockUnavailable
	}

	return &lease{client: l.client, key: key, token: token}, nil
}

// Close closes the Redis client connection.
func (l *Locker) Close() error {
	if l.client != nil {
		return l.client.Close()
	}
	return nil
}

// lease is a single Redis-held claim.
type lease struct {
	client *redis.Client
	key    string
	token  string
}

// Key returns the locked key.
func (le *lease) Key() string {
	return le.key
}

// Release deletes the key if this lease still owns it.
func (le *lease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, le.client, []string{le.key}, le.token).Err(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}
