// Package postgres provides a PostgreSQL-backed implementation of the
// message ledger.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"courier-go/internal/config"
)

// DB wraps a PostgreSQL connection pool.
type DB struct {
	pool *pgxpool.Pool
}

// NewDB creates a new PostgreSQL connection pool.
func NewDB(ctx context.Context, cfg *config.PostgresConfig) (*DB, error) {
	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s&pool_max_conns=%d",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
		cfg.SSLMode,
		cfg.MaxOpenConns,
	)

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxOpenConns
	poolConfig.MinConns = cfg.MaxIdleConns
	poolConfig.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Pool returns the underlying connection pool.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Close closes the connection pool.
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// RunMigrations creates the required database tables. The outbound and
// inbound ledgers share one shape: the message columns plus the due/expiry
// timestamps the scheduler and collector query on.
func (db *DB) RunMigrations(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS courier_published (
			id VARCHAR(36) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			type VARCHAR(255),
			body BYTEA NOT NULL,
			headers JSONB NOT NULL,
			status VARCHAR(20) NOT NULL,
			retries INTEGER NOT NULL DEFAULT 0,
			added_at TIMESTAMP WITH TIME ZONE NOT NULL,
			due_at TIMESTAMP WITH TIME ZONE NOT NULL,
			expires_at TIMESTAMP WITH TIME ZONE,
			version BIGINT NOT NULL DEFAULT 1
		);

		CREATE INDEX IF NOT EXISTS idx_published_due ON courier_published(status, due_at) WHERE expires_at IS NULL;
		CREATE INDEX IF NOT EXISTS idx_published_expires ON courier_published(expires_at) WHERE expires_at IS NOT NULL;

		CREATE TABLE IF NOT EXISTS courier_received (
			id VARCHAR(36) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			type VARCHAR(255),
			body BYTEA NOT NULL,
			headers JSONB NOT NULL,
			status VARCHAR(20) NOT NULL,
			retries INTEGER NOT NULL DEFAULT 0,
			added_at TIMESTAMP WITH TIME ZONE NOT NULL,
			due_at TIMESTAMP WITH TIME ZONE NOT NULL,
			expires_at TIMESTAMP WITH TIME ZONE,
			version BIGINT NOT NULL DEFAULT 1
		);

		CREATE INDEX IF NOT EXISTS idx_received_due ON courier_received(status, due_at) WHERE expires_at IS NULL;
		CREATE INDEX IF NOT EXISTS idx_received_expires ON courier_received(expires_at) WHERE expires_at IS NOT NULL;
	`

	_, err := db.pool.Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
