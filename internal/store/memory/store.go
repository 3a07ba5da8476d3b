// Package memory provides an in-memory implementation of the message
// ledger. This is useful for testing and development without external
// dependencies.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"courier-go/internal/domain"
	"courier-go/internal/store"
)

// MessageStore implements store.MessageStore with process-local maps.
// It preserves the full compare-and-set semantics of the contract so
// concurrency tests exercise the same code paths as a real backend.
type MessageStore struct {
	mu      sync.Mutex
	ledgers map[domain.Kind]map[string]*domain.Message
}

// NewMessageStore creates an empty in-memory ledger pair.
func NewMessageStore() *MessageStore {
	return &MessageStore{
		ledgers: map[domain.Kind]map[string]*domain.Message{
			domain.KindOutbound: {},
			domain.KindInbound:  {},
		},
	}
}

// Insert stores a new message.
func (s *MessageStore) Insert(ctx context.Context, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ledger := s.ledgers[msg.Kind]
	if _, exists := ledger[msg.ID]; exists {
		return domain.ErrDuplicateMessage
	}

	ledger[msg.ID] = cloneMessage(msg)
	return nil
}

// UpdateStatus applies a status change under the version check.
func (s *MessageStore) UpdateStatus(ctx context.Context, kind domain.Kind, id string, change store.StatusChange, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.ledgers[kind][id]
	if !ok {
		return domain.ErrMessageNotFound
	}
	if msg.Version != expectedVersion {
		return domain.ErrVersionConflict
	}

	msg.Status = change.Status
	msg.Retries = change.Retries
	msg.DueAt = change.DueAt
	msg.ExpiresAt = change.ExpiresAt
	if change.Exception != "" {
		msg.Headers[domain.HeaderException] = change.Exception
	}
	msg.Version++

	return nil
}

// FindDue returns retryable messages due at or before now, oldest first.
func (s *MessageStore) FindDue(ctx context.Context, kind domain.Kind, now time.Time, batchSize int) ([]*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*domain.Message
	for _, msg := range s.ledgers[kind] {
		if msg.Status == domain.StatusSucceeded || msg.ExpiresAt != nil {
			continue
		}
		if msg.DueAt.After(now) {
			continue
		}
		due = append(due, cloneMessage(msg))
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].AddedAt.Before(due[j].AddedAt)
	})

	if batchSize > 0 && len(due) > batchSize {
		due = due[:batchSize]
	}

	return due, nil
}

// FindExpired returns ids whose expiry has passed.
func (s *MessageStore) FindExpired(ctx context.Context, kind domain.Kind, now time.Time, batchSize int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, msg := range s.ledgers[kind] {
		if msg.ExpiresAt == nil || msg.ExpiresAt.After(now) {
			continue
		}
		ids = append(ids, id)
		if batchSize > 0 && len(ids) >= batchSize {
			break
		}
	}

	return ids, nil
}

// Delete removes the given messages.
func (s *MessageStore) Delete(ctx context.Context, kind domain.Kind, ids []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ledger := s.ledgers[kind]
	var removed int64
	for _, id := range ids {
		if _, ok := ledger[id]; ok {
			delete(ledger, id)
			removed++
		}
	}

	return removed, nil
}

// GetByID retrieves a single message.
func (s *MessageStore) GetByID(ctx context.Context, kind domain.Kind, id string) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.ledgers[kind][id]
	if !ok {
		return nil, domain.ErrMessageNotFound
	}

	return cloneMessage(msg), nil
}

// ListByStatus returns messages in the given state, newest first.
func (s *MessageStore) ListByStatus(ctx context.Context, kind domain.Kind, status domain.Status, limit int) ([]*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.Message
	for _, msg := range s.ledgers[kind] {
		if msg.Status != status {
			continue
		}
		out = append(out, cloneMessage(msg))
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].AddedAt.After(out[j].AddedAt)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

// Rearm resets a failed message for a fresh round of attempts.
func (s *MessageStore) Rearm(ctx context.Context, kind domain.Kind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.ledgers[kind][id]
	if !ok {
		return domain.ErrMessageNotFound
	}

	msg.Status = domain.StatusScheduled
	msg.Retries = 0
	msg.DueAt = time.Now().UTC()
	msg.ExpiresAt = nil
	msg.Version++

	return nil
}

// cloneMessage copies a message so callers never share the stored row.
func cloneMessage(msg *domain.Message) *domain.Message {
	clone := *msg
	clone.Headers = make(map[string]string, len(msg.Headers))
	for k, v := range msg.Headers {
		clone.Headers[k] = v
	}
	if msg.ExpiresAt != nil {
		t := *msg.ExpiresAt
		clone.ExpiresAt = &t
	}
	clone.Body = append([]byte(nil), msg.Body...)
	return &clone
}
