package postgres

import (
	"context"
	"fmt"

	"vigil-go/internal/domain"
)

// AttemptStore implements store.AttemptStore using PostgreSQL.
type AttemptStore struct {
	db *DB
}

// NewAttemptStore creates a PostgreSQL-backed attempt store.
func NewAttemptStore(db *DB) *AttemptStore {
	return &AttemptStore{db: db}
}

// Record appends a notification attempt.
func (s *AttemptStore) Record(ctx context.Context, attempt *domain.NotificationAttempt) error {
	_, err := s.db.pool.Exec(ctx, `
		INSERT INTO notification_attempts (
			id, alert_id, channel, transition, idempotency_key,
			outcome, error, attempted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		attempt.ID, attempt.AlertID, attempt.Channel, attempt.Transition,
		attempt.IdempotencyKey, attempt.Outcome, attempt.Error, attempt.AttemptedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	return nil
}

// HasSucceeded reports whether any attempt with the key has succeeded.
func (s *AttemptStore) HasSucceeded(ctx context.Context, idempotencyKey string) (bool, error) {
	var exists bool
	err := s.db.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM notification_attempts
			WHERE idempotency_key = $1 AND outcome = $2
		)
	`, idempotencyKey, domain.AttemptSuccess).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check idempotency key: %w", err)
	}
	return exists, nil
}

// ListByAlert returns all attempts for an alert, oldest first.
func (s *AttemptStore) ListByAlert(ctx context.Context, alertID string) ([]*domain.NotificationAttempt, error) {
	rows, err := s.db.pool.Query(ctx, `
		SELECT id, alert_id, channel, transition, idempotency_key,
			   outcome, error, attempted_at
		FROM notification_attempts
		WHERE alert_id = $1
		ORDER BY attempted_at ASC
	`, alertID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*domain.NotificationAttempt
	for rows.Next() {
		var attempt domain.NotificationAttempt
		if err := rows.Scan(
			&attempt.ID, &attempt.AlertID, &attempt.Channel, &attempt.Transition,
			&attempt.IdempotencyKey, &attempt.Outcome, &attempt.Error,
			&attempt.AttemptedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		attempts = append(attempts, &attempt)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attempts: %w", err)
	}
	return attempts, nil
}
