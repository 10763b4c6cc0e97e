// Package postgres provides PostgreSQL-backed implementations of the store
// interfaces and the audit backend. Compare-and-set writes are enforced with
// a version column and a partial unique index on the current record per key.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"vigil-go/internal/config"
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

// RunMigrations creates the required database tables.
func (db *DB) RunMigrations(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS alerts (
			id VARCHAR(36) PRIMARY KEY,
			dedup_key VARCHAR(512) NOT NULL,
			resource_id VARCHAR(255) NOT NULL,
			rule_id VARCHAR(255) NOT NULL,
			kind VARCHAR(20) NOT NULL,
			severity VARCHAR(20) NOT NULL,
			state VARCHAR(20) NOT NULL,
			title TEXT NOT NULL,
			description TEXT,
			opened_at TIMESTAMP WITH TIME ZONE NOT NULL,
			acked_at TIMESTAMP WITH TIME ZONE,
			resolved_at TIMESTAMP WITH TIME ZONE,
			resolve_reason VARCHAR(20) NOT NULL DEFAULT '',
			breach_streak INTEGER NOT NULL DEFAULT 0,
			clear_streak INTEGER NOT NULL DEFAULT 0,
			last_seen_at TIMESTAMP WITH TIME ZONE NOT NULL,
			last_value DOUBLE PRECISION NOT NULL DEFAULT 0,
			last_notified_at JSONB,
			delivery_degraded BOOLEAN NOT NULL DEFAULT FALSE,
			is_current BOOLEAN NOT NULL DEFAULT TRUE,
			version BIGINT NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL,
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_current_key
			ON alerts(dedup_key) WHERE is_current;
		CREATE INDEX IF NOT EXISTS idx_alerts_resource ON alerts(resource_id);
		CREATE INDEX IF NOT EXISTS idx_alerts_state ON alerts(state);
		CREATE INDEX IF NOT EXISTS idx_alerts_opened ON alerts(opened_at);

		CREATE TABLE IF NOT EXISTS notification_attempts (
			id VARCHAR(36) PRIMARY KEY,
			alert_id VARCHAR(36) NOT NULL,
			channel VARCHAR(255) NOT NULL,
			transition VARCHAR(30) NOT NULL,
			idempotency_key VARCHAR(64) NOT NULL,
			outcome VARCHAR(20) NOT NULL,
			error TEXT,
			attempted_at TIMESTAMP WITH TIME ZONE NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_attempts_alert ON notification_attempts(alert_id);
		CREATE INDEX IF NOT EXISTS idx_attempts_key ON notification_attempts(idempotency_key);

		CREATE TABLE IF NOT EXISTS audit_records (
			seq BIGINT PRIMARY KEY,
			prev_hash VARCHAR(64) NOT NULL,
			hash VARCHAR(64) NOT NULL,
			recorded_at TIMESTAMP WITH TIME ZONE NOT NULL,
			payload JSONB NOT NULL
		);
	`

	_, err := db.pool.Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
