package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"vigil-go/internal/audit"
)

// AuditBackend implements audit.Backend using PostgreSQL. The sequence
// primary key rejects duplicate appends, so a split-brain writer cannot
// silently fork the chain.
type AuditBackend struct {
	db *DB
}

// NewAuditBackend creates a PostgreSQL-backed audit backend.
func NewAuditBackend(db *DB) *AuditBackend {
	return &AuditBackend{db: db}
}

// Append durably stores a record.
func (b *AuditBackend) Append(ctx context.Context, record *audit.Record) error {
	payload, err := json.Marshal(record.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode audit payload: %w", err)
	}

	_, err = b.db.pool.Exec(ctx, `
		INSERT INTO audit_records (seq, prev_hash, hash, recorded_at, payload)
		VALUES ($1, $2, $3, $4, $5)
	`, record.Seq, record.PrevHash, record.Hash, record.RecordedAt, payload)
	if err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	return nil
}

// Range returns records with from <= Seq <= to, in sequence order.
// to == 0 means "to the end".
func (b *AuditBackend) Range(ctx context.Context, from, to uint64) ([]*audit.Record, error) {
	query := `
		SELECT seq, prev_hash, hash, recorded_at, payload
		FROM audit_records
		WHERE seq >= $1
	`
	args := []interface{}{from}
	if to != 0 {
		query += " AND seq <= $2"
		args = append(args, to)
	}
	query += " ORDER BY seq ASC"

	rows, err := b.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read audit records: %w", err)
	}
	defer rows.Close()

	var records []*audit.Record
	for rows.Next() {
		record, err := scanAuditRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit records: %w", err)
	}
	return records, nil
}

// Last returns the record with the highest sequence number, or nil, nil when
// the log is empty.
func (b *AuditBackend) Last(ctx context.Context) (*audit.Record, error) {
	row := b.db.pool.QueryRow(ctx, `
		SELECT seq, prev_hash, hash, recorded_at, payload
		FROM audit_records
		ORDER BY seq DESC
		LIMIT 1
	`)

	record, err := scanAuditRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

func scanAuditRecord(row pgx.Row) (*audit.Record, error) {
	var record audit.Record
	var payload []byte

	if err := row.Scan(&record.Seq, &record.PrevHash, &record.Hash,
		&record.RecordedAt, &payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan audit record: %w", err)
	}

	if err := json.Unmarshal(payload, &record.Payload); err != nil {
		return nil, fmt.Errorf("failed to decode audit payload: %w", err)
	}
	return &record, nil
}
