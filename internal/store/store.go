// Package store defines the interface for the durable message ledger.
// This abstraction allows swapping implementations (PostgreSQL, in-memory)
// without changing the engine or scheduler.
package store

import (
	"context"
	"time"

	"courier-go/internal/domain"
)

// StatusChange describes the result of one delivery attempt to be applied
// to a ledger row.
type StatusChange struct {
	// Status is the new delivery state.
	Status domain.Status

	// Retries is the new failed-attempt count. It must never decrease.
	Retries int

	// Exception is the failure text to record in the message's
	// cap-exception header. Empty leaves the header untouched.
	Exception string

	// DueAt is the next-attempt time for rows staying retryable.
	DueAt time.Time

	// ExpiresAt arms cleanup; set only when the status is terminal.
	ExpiresAt *time.Time
}

// MessageStore is the durable ledger of outbound and inbound messages.
// All cross-instance coordination is mediated through it: UpdateStatus is
// a single atomic compare-and-set on the row version, and a successful
// update leaves the row at expectedVersion+1.
// Implementations must be safe for concurrent use.
type MessageStore interface {
	// Insert stores a new message. Returns domain.ErrDuplicateMessage if
	// the id already exists in the same ledger.
	Insert(ctx context.Context, msg *domain.Message) error

	// UpdateStatus applies a status change if and only if the row is
	// still at expectedVersion. Returns domain.ErrVersionConflict when
	// another instance advanced the row first, in which case the caller
	// must not retry the same attempt.
	UpdateStatus(ctx context.Context, kind domain.Kind, id string, change StatusChange, expectedVersion int64) error

	// FindDue returns retryable messages whose next-attempt time is at or
	// before now, oldest first. Terminal rows (those with an expiry set)
	// are never returned.
	FindDue(ctx context.Context, kind domain.Kind, now time.Time, batchSize int) ([]*domain.Message, error)

	// FindExpired returns ids of messages whose expiry has passed.
	FindExpired(ctx context.Context, kind domain.Kind, now time.Time, batchSize int) ([]string, error)

	// Delete removes the given messages and reports how many went away.
	Delete(ctx context.Context, kind domain.Kind, ids []string) (int64, error)

	// GetByID retrieves a single message.
	// Returns domain.ErrMessageNotFound if absent.
	GetByID(ctx context.Context, kind domain.Kind, id string) (*domain.Message, error)

	// ListByStatus returns messages in the given state, newest first,
	// for the operator API.
	ListByStatus(ctx context.Context, kind domain.Kind, status domain.Status, limit int) ([]*domain.Message, error)

	// Rearm resets a terminal failed message for a fresh round of
	// attempts: status back to Scheduled, retries zeroed, expiry cleared.
	Rearm(ctx context.Context, kind domain.Kind, id string) error
}
