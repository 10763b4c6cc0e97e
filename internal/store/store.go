// Package store defines interfaces for alert and notification-attempt
// persistence. These abstractions allow swapping implementations (in-memory,
// Redis, PostgreSQL) without changing business logic.
package store

import (
	"context"

	"vigil-go/internal/domain"
)

// AlertStore is the durable keyed store of alert records: the single source
// of truth for "is this alert currently open".
//
// Each (resourceID, ruleID) key has at most one current record. The current
// record may be a streak tracker that has never opened (OpenedAt is zero);
// trackers are visible through Get but excluded from List and ListOpen.
// Superseded records (a resolved episode replaced by a new one) are retained
// and remain queryable by ID and through List.
//
// All implementations must be safe for concurrent use.
type AlertStore interface {
	// Get retrieves the current alert record for a key.
	// Returns nil, nil if no record exists.
	Get(ctx context.Context, resourceID, ruleID string) (*domain.Alert, error)

	// GetByID retrieves any alert record (current or superseded) by ID.
	// Returns domain.ErrAlertNotFound if absent.
	GetByID(ctx context.Context, id string) (*domain.Alert, error)

	// Upsert writes an alert with compare-and-set semantics and returns the
	// stored record with its incremented version.
	//
	// expectedVersion 0 creates a new current record for the key; if the key
	// already has a current record that is still open, the create fails with
	// domain.ErrVersionConflict. A resolved current record is superseded.
	//
	// A non-zero expectedVersion updates the existing record only when the
	// stored version matches; otherwise domain.ErrVersionConflict is
	// returned and the caller must re-read and retry.
	Upsert(ctx context.Context, alert *domain.Alert, expectedVersion int64) (*domain.Alert, error)

	// ListOpen returns all currently open (or acknowledged) alerts.
	ListOpen(ctx context.Context) ([]*domain.Alert, error)

	// List returns alerts matching the filter, newest first.
	List(ctx context.Context, filter domain.AlertFilter) ([]*domain.Alert, error)

	// Close releases any resources held by the store.
	Close() error
}

// AttemptStore records notification attempts. It is append-only: attempts
// are never updated or deleted, retries produce new records.
type AttemptStore interface {
	// Record appends a notification attempt.
	Record(ctx context.Context, attempt *domain.NotificationAttempt) error

	// HasSucceeded reports whether any attempt with the given idempotency
	// key has already succeeded.
	HasSucceeded(ctx context.Context, idempotencyKey string) (bool, error)

	// ListByAlert returns all attempts for an alert, oldest first.
	ListByAlert(ctx context.Context, alertID string) ([]*domain.NotificationAttempt, error)
}
