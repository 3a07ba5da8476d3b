// Package lock defines the distributed lock manager contract: short-lived
// mutual-exclusion leases shared by every engine instance, used by the
// retry scheduler to keep two instances off the same message.
package lock

import (
	"context"
	"time"
)

// Lease is a time-bounded mutual-exclusion claim over a key. The TTL is a
// hard expiry so a crashed holder cannot block a key forever; Release is
// ownership-checked, so releasing an already-expired lease is a no-op.
type Lease interface {
	// Key returns the locked key.
	Key() string

	// Release gives the lease up early. Safe to call after expiry.
	Release(ctx context.Context) error
}

// Locker hands out leases keyed by message id (or a coarser shard key).
// Acquire returns domain.ErrLockUnavailable when another instance holds
// the key; that is a normal skip signal, not a failure.
// Implementations must be safe for concurrent use.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)

	// Close releases any resources held by the locker.
	Close() error
}
