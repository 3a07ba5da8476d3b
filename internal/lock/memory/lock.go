// Package memory provides a process-local implementation of the lock
// manager. This is useful for testing and single-instance development.
package memory

import (
	"context"
	"sync"
	"time"

	"courier-go/internal/domain"
	"courier-go/internal/lock"
)

// entry is one held lease with its hard expiry.
type entry struct {
	token     string
	expiresAt time.Time
}

// Locker implements lock.Locker with an in-process lease table. Leases
// expire lazily: an expired entry is overwritten by the next Acquire.
type Locker struct {
	mu     sync.Mutex
	leases map[string]entry
}

// NewLocker creates an empty in-memory locker.
func NewLocker() *Locker {
	return &Locker{leases: make(map[string]entry)}
}

// Acquire claims the key for ttl.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (lock.Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if held, ok := l.leases[key]; ok && held.expiresAt.After(now) {
		return nil, domain.ErrLockUnavailable
	}

	token := domain.NewID()
	l.leases[key] = entry{token: token, expiresAt: now.Add(ttl)}

	return &lease{locker: l, key: key, token: token}, nil
}

// Close releases all held leases.
func (l *Locker) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.leases = make(map[string]entry)
	return nil
}

// lease is a single process-local claim.
type lease struct {
	locker *Locker
	key    string
	token  string
}

// Key returns the locked key.
func (le *lease) Key() string {
	return le.key
}

// Release gives the lease up if it is still owned by this holder.
func (le *lease) Release(ctx context.Context) error {
	le.locker.mu.Lock()
	defer le.locker.mu.Unlock()

	if held, ok := le.locker.leases[le.key]; ok && held.token == le.token {
		delete(le.locker.leases, le.key)
	}
	return nil
}
