package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"courier-go/internal/domain"
	"courier-go/internal/store"
)

// MessageStore implements store.MessageStore using PostgreSQL. The version
// column carries the optimistic-concurrency check: every conditional
// update is a single statement guarded by WHERE version = $n, so two
// instances racing on the same row leave exactly one winner.
type MessageStore struct {
	db *DB
}

// NewMessageStore creates a new PostgreSQL-backed message store.
func NewMessageStore(db *DB) *MessageStore {
	return &MessageStore{db: db}
}

// tableFor maps a ledger kind to its table name.
func tableFor(kind domain.Kind) string {
	if kind == domain.KindInbound {
		return "courier_received"
	}
	return "courier_published"
}

// Insert stores a new message.
func (s *MessageStore) Insert(ctx context.Context, msg *domain.Message) error {
	headers, err := json.Marshal(msg.Headers)
	if err != nil {
		return fmt.Errorf("failed to marshal headers: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (
			id, name, type, body, headers, status, retries,
			added_at, due_at, expires_at, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`, tableFor(msg.Kind))

	result, err := s.db.pool.Exec(ctx, query,
		msg.ID,
		msg.Name,
		nullableString(msg.Type),
		msg.Body,
		headers,
		msg.Status,
		msg.Retries,
		msg.AddedAt,
		msg.DueAt,
		msg.ExpiresAt,
		msg.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domain.ErrDuplicateMessage
	}

	return nil
}

// UpdateStatus applies a status change under the version check.
func (s *MessageStore) UpdateStatus(ctx context.Context, kind domain.Kind, id string, change store.StatusChange, expectedVersion int64) error {
	query := fmt.Sprintf(`
		UPDATE %s SET
			status = $3,
			retries = $4,
			due_at = $5,
			expires_at = $6,
			headers = CASE WHEN $7 = ''
				THEN headers
				ELSE jsonb_set(headers, '{%s}', to_jsonb($7::text))
			END,
			version = version + 1
		WHERE id = $1 AND version = $2
	`, tableFor(kind), domain.HeaderException)

	result, err := s.db.pool.Exec(ctx, query,
		id,
		expectedVersion,
		change.Status,
		change.Retries,
		change.DueAt,
		change.ExpiresAt,
		change.Exception,
	)
	if err != nil {
		return fmt.Errorf("failed to update message status: %w", err)
	}

	if result.RowsAffected() == 0 {
		// Either the row is gone or another instance advanced it first.
		if _, getErr := s.GetByID(ctx, kind, id); errors.Is(getErr, domain.ErrMessageNotFound) {
			return domain.ErrMessageNotFound
		}
		return domain.ErrVersionConflict
	}

	return nil
}

// FindDue returns retryable messages due at or before now, oldest first.
func (s *MessageStore) FindDue(ctx context.Context, kind domain.Kind, now time.Time, batchSize int) ([]*domain.Message, error) {
	query := fmt.Sprintf(`
		SELECT id, name, type, body, headers, status, retries,
			added_at, due_at, expires_at, version
		FROM %s
		WHERE status IN ($1, $2) AND due_at <= $3 AND expires_at IS NULL
		ORDER BY added_at ASC
		LIMIT $4
	`, tableFor(kind))

	rows, err := s.db.pool.Query(ctx, query,
		domain.StatusScheduled, domain.StatusFailed, now, batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to query due messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows, kind)
}

// FindExpired returns ids whose expiry has passed.
func (s *MessageStore) FindExpired(ctx context.Context, kind domain.Kind, now time.Time, batchSize int) ([]string, error) {
	query := fmt.Sprintf(`
		SELECT id FROM %s
		WHERE expires_at IS NOT NULL AND expires_at <= $1
		LIMIT $2
	`, tableFor(kind))

	rows, err := s.db.pool.Query(ctx, query, now, batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired messages: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan expired id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read expired ids: %w", err)
	}

	return ids, nil
}

// Delete removes the given messages.
func (s *MessageStore) Delete(ctx context.Context, kind domain.Kind, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1)`, tableFor(kind))

	result, err := s.db.pool.Exec(ctx, query, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to delete messages: %w", err)
	}

	return result.RowsAffected(), nil
}

// GetByID retrieves a single message.
func (s *MessageStore) GetByID(ctx context.Context, kind domain.Kind, id string) (*domain.Message, error) {
	query := fmt.Sprintf(`
		SELECT id, name, type, body, headers, status, retries,
			added_at, due_at, expires_at, version
		FROM %s
		WHERE id = $1
	`, tableFor(kind))

	msg, err := scanMessage(s.db.pool.QueryRow(ctx, query, id), kind)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	return msg, nil
}

// ListByStatus returns messages in the given state, newest first.
func (s *MessageStore) ListByStatus(ctx context.Context, kind domain.Kind, status domain.Status, limit int) ([]*domain.Message, error) {
	query := fmt.Sprintf(`
		SELECT id, name, type, body, headers, status, retries,
			added_at, due_at, expires_at, version
		FROM %s
		WHERE status = $1
		ORDER BY added_at DESC
		LIMIT $2
	`, tableFor(kind))

	rows, err := s.db.pool.Query(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages by status: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows, kind)
}

// Rearm resets a failed message for a fresh round of attempts.
func (s *MessageStore) Rearm(ctx context.Context, kind domain.Kind, id string) error {
	query := fmt.Sprintf(`
		UPDATE %s SET
			status = $2,
			retries = 0,
			due_at = $3,
			expires_at = NULL,
			version = version + 1
		WHERE id = $1
	`, tableFor(kind))

	result, err := s.db.pool.Exec(ctx, query, id, domain.StatusScheduled, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to rearm message: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domain.ErrMessageNotFound
	}

	return nil
}

// rowScanner is satisfied by both pgx.Rows and pgx.Row.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanMessage reads one ledger row into a domain message.
func scanMessage(row rowScanner, kind domain.Kind) (*domain.Message, error) {
	var (
		msg     domain.Message
		msgType *string
		headers []byte
	)

	err := row.Scan(
		&msg.ID,
		&msg.Name,
		&msgType,
		&msg.Body,
		&headers,
		&msg.Status,
		&msg.Retries,
		&msg.AddedAt,
		&msg.DueAt,
		&msg.ExpiresAt,
		&msg.Version,
	)
	if err != nil {
		return nil, err
	}

	msg.Kind = kind
	if msgType != nil {
		msg.Type = *msgType
	}
	if err := json.Unmarshal(headers, &msg.Headers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal headers: %w", err)
	}

	return &msg, nil
}

// scanMessages reads all rows of a ledger query.
func scanMessages(rows pgx.Rows, kind domain.Kind) ([]*domain.Message, error) {
	var messages []*domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows, kind)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}

	return messages, nil
}

// nullableString converts an empty string to a NULL-able pointer.
func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
