package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"vigil-go/internal/domain"
)

// uniqueViolation is the PostgreSQL error code for unique index conflicts.
const uniqueViolation = "23505"

const alertColumns = `id, resource_id, rule_id, kind, severity, state, title,
	description, opened_at, acked_at, resolved_at, resolve_reason,
	breach_streak, clear_streak, last_seen_at, last_value, last_notified_at,
	delivery_degraded, version, created_at, updated_at`

// AlertStore implements store.AlertStore using PostgreSQL.
type AlertStore struct {
	db *DB
}

// NewAlertStore creates a PostgreSQL-backed alert store.
func NewAlertStore(db *DB) *AlertStore {
	return &AlertStore{db: db}
}

// Get retrieves the current alert record for a key. Returns nil, nil if no
// record exists.
func (s *AlertStore) Get(ctx context.Context, resourceID, ruleID string) (*domain.Alert, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM alerts
		WHERE dedup_key = $1 AND is_current
	`, alertColumns)

	alert, err := scanAlert(s.db.pool.QueryRow(ctx, query, domain.AlertKey(resourceID, ruleID)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return alert, nil
}

// GetByID retrieves any alert record, current or superseded, by ID.
func (s *AlertStore) GetByID(ctx context.Context, id string) (*domain.Alert, error) {
	query := fmt.Sprintf(`SELECT %s FROM alerts WHERE id = $1`, alertColumns)

	alert, err := scanAlert(s.db.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrAlertNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return alert, nil
}

// Upsert writes an alert with compare-and-set semantics.
func (s *AlertStore) Upsert(ctx context.Context, alert *domain.Alert, expectedVersion int64) (*domain.Alert, error) {
	if expectedVersion == 0 {
		return s.create(ctx, alert)
	}
	return s.update(ctx, alert, expectedVersion)
}

// create inserts a new current record for the key. A resolved current record
// is superseded; an open one or a never-opened streak tracker makes the
// create fail with a version conflict. The partial unique index on
// (dedup_key) WHERE is_current closes the race between two concurrent creates.
func (s *AlertStore) create(ctx context.Context, alert *domain.Alert) (*domain.Alert, error) {
	tx, err := s.db.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var currentID string
	var currentState domain.AlertState
	var currentOpenedAt time.Time
	err = tx.QueryRow(ctx,
		`SELECT id, state, opened_at FROM alerts WHERE dedup_key = $1 AND is_current FOR UPDATE`,
		alert.Key(),
	).Scan(&currentID, &currentState, &currentOpenedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// No current record, plain insert below.
	case err != nil:
		return nil, fmt.Errorf("failed to read current alert: %w", err)
	case currentState != domain.AlertStateResolved || currentOpenedAt.IsZero():
		// Open alerts and never-opened streak trackers must be written
		// through their version; only a resolved episode is superseded.
		return nil, domain.ErrVersionConflict
	default:
		if _, err := tx.Exec(ctx,
			`UPDATE alerts SET is_current = FALSE WHERE id = $1`, currentID,
		); err != nil {
			return nil, fmt.Errorf("failed to supersede alert: %w", err)
		}
	}

	notified, err := marshalNotified(alert.LastNotifiedAt)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO alerts (
			id, dedup_key, resource_id, rule_id, kind, severity, state, title,
			description, opened_at, acked_at, resolved_at, resolve_reason,
			breach_streak, clear_streak, last_seen_at, last_value,
			last_notified_at, delivery_degraded, is_current, version,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, TRUE, 1, $20, $21
		)
	`,
		alert.ID, alert.Key(), alert.ResourceID, alert.RuleID, alert.Kind,
		alert.Severity, alert.State, alert.Title, alert.Description,
		alert.OpenedAt, alert.AckedAt, alert.ResolvedAt, alert.ResolveReason,
		alert.BreachStreak, alert.ClearStreak, alert.LastSeenAt, alert.LastValue,
		notified, alert.DeliveryDegraded, alert.CreatedAt, alert.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, domain.ErrVersionConflict
		}
		return nil, fmt.Errorf("failed to create alert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit alert create: %w", err)
	}

	stored := *alert
	stored.Version = 1
	return &stored, nil
}

// update applies a version-matched write. Zero rows affected means either
// the record is gone or another writer won; the version probe distinguishes
// the two.
func (s *AlertStore) update(ctx context.Context, alert *domain.Alert, expectedVersion int64) (*domain.Alert, error) {
	notified, err := marshalNotified(alert.LastNotifiedAt)
	if err != nil {
		return nil, err
	}

	result, err := s.db.pool.Exec(ctx, `
		UPDATE alerts SET
			severity = $3, state = $4, title = $5, description = $6,
			opened_at = $7, acked_at = $8, resolved_at = $9,
			resolve_reason = $10, breach_streak = $11, clear_streak = $12,
			last_seen_at = $13, last_value = $14, last_notified_at = $15,
			delivery_degraded = $16, updated_at = $17, version = version + 1
		WHERE id = $1 AND version = $2
	`,
		alert.ID, expectedVersion, alert.Severity, alert.State, alert.Title,
		alert.Description, alert.OpenedAt, alert.AckedAt, alert.ResolvedAt,
		alert.ResolveReason, alert.BreachStreak, alert.ClearStreak,
		alert.LastSeenAt, alert.LastValue, notified, alert.DeliveryDegraded,
		alert.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update alert: %w", err)
	}

	if result.RowsAffected() == 0 {
		var exists bool
		if err := s.db.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM alerts WHERE id = $1)`, alert.ID,
		).Scan(&exists); err != nil {
			return nil, fmt.Errorf("failed to probe alert: %w", err)
		}
		if !exists {
			return nil, domain.ErrAlertNotFound
		}
		return nil, domain.ErrVersionConflict
	}

	stored := *alert
	stored.Version = expectedVersion + 1
	return &stored, nil
}

// ListOpen returns all currently open or acknowledged alerts.
func (s *AlertStore) ListOpen(ctx context.Context) ([]*domain.Alert, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM alerts
		WHERE is_current AND state IN ($1, $2)
		ORDER BY opened_at DESC
	`, alertColumns)

	rows, err := s.db.pool.Query(ctx, query, domain.AlertStateOpen, domain.AlertStateAcknowledged)
	if err != nil {
		return nil, fmt.Errorf("failed to list open alerts: %w", err)
	}
	defer rows.Close()

	return scanAlerts(rows)
}

// List returns alerts matching the filter, newest first. Streak trackers
// that never opened are excluded.
func (s *AlertStore) List(ctx context.Context, filter domain.AlertFilter) ([]*domain.Alert, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM alerts
		WHERE opened_at > '0001-01-01T00:00:01Z'
	`, alertColumns)
	args := []interface{}{}
	argNum := 1

	if filter.ResourceID != "" {
		query += fmt.Sprintf(" AND resource_id = $%d", argNum)
		args = append(args, filter.ResourceID)
		argNum++
	}
	if filter.State != "" {
		query += fmt.Sprintf(" AND state = $%d", argNum)
		args = append(args, filter.State)
		argNum++
	}
	if filter.Severity != "" {
		query += fmt.Sprintf(" AND severity = $%d", argNum)
		args = append(args, filter.Severity)
		argNum++
	}
	if filter.Kind != "" {
		query += fmt.Sprintf(" AND kind = $%d", argNum)
		args = append(args, filter.Kind)
		argNum++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(" AND opened_at >= $%d", argNum)
		args = append(args, filter.Since)
		argNum++
	}
	if !filter.Until.IsZero() {
		query += fmt.Sprintf(" AND opened_at <= $%d", argNum)
		args = append(args, filter.Until)
		argNum++
	}

	query += " ORDER BY opened_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filter.Limit)
		argNum++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, filter.Offset)
	}

	rows, err := s.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	return scanAlerts(rows)
}

// Close is a no-op; the shared DB owns the pool.
func (s *AlertStore) Close() error {
	return nil
}

// scanAlert scans a single row into an Alert.
func scanAlert(row pgx.Row) (*domain.Alert, error) {
	var alert domain.Alert
	var notified []byte

	err := row.Scan(
		&alert.ID,
		&alert.ResourceID,
		&alert.RuleID,
		&alert.Kind,
		&alert.Severity,
		&alert.State,
		&alert.Title,
		&alert.Description,
		&alert.OpenedAt,
		&alert.AckedAt,
		&alert.ResolvedAt,
		&alert.ResolveReason,
		&alert.BreachStreak,
		&alert.ClearStreak,
		&alert.LastSeenAt,
		&alert.LastValue,
		&notified,
		&alert.DeliveryDegraded,
		&alert.Version,
		&alert.CreatedAt,
		&alert.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(notified) > 0 {
		if err := json.Unmarshal(notified, &alert.LastNotifiedAt); err != nil {
			return nil, fmt.Errorf("failed to decode notification timestamps: %w", err)
		}
	}
	return &alert, nil
}

// scanAlerts scans multiple rows into a slice of Alerts.
func scanAlerts(rows pgx.Rows) ([]*domain.Alert, error) {
	var alerts []*domain.Alert

	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, alert)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alerts: %w", err)
	}
	return alerts, nil
}

func marshalNotified(notified map[string]time.Time) ([]byte, error) {
	if len(notified) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(notified)
	if err != nil {
		return nil, fmt.Errorf("failed to encode notification timestamps: %w", err)
	}
	return data, nil
}
