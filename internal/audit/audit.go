// Package audit implements the append-only, tamper-evident audit log.
// Every record embeds the hash of its predecessor, so any retroactive edit
// or reordering breaks the chain and is detected by Verify.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"vigil-go/internal/domain"
)

// ErrTamperDetected is returned by Verify when the hash chain is broken.
var ErrTamperDetected = errors.New("audit chain tamper detected")

// Payload is the transition description carried by a record.
type Payload struct {
	// Transition is the lifecycle transition or delivery event recorded.
	Transition domain.Transition `json:"transition"`

	// AlertID is the alert the transition concerns.
	AlertID string `json:"alert_id"`

	// ResourceID and RuleID identify the alert key.
	ResourceID string `json:"resource_id"`
	RuleID     string `json:"rule_id"`

	// Actor is who drove the transition: "system" or an operator name.
	Actor string `json:"actor"`

	// Details carries transition-specific context (values, channels, reasons).
	Details map[string]string `json:"details,omitempty"`
}

// Record is one immutable entry in the audit log.
type Record struct {
	// Seq is the gap-free, monotonically increasing sequence number.
	Seq uint64 `json:"seq"`

	// PrevHash is the hash of the preceding record, empty for the first.
	PrevHash string `json:"prev_hash"`

	// Hash is sha256(prevHash, seq, recordedAt, payload).
	Hash string `json:"hash"`

	// RecordedAt is when the record was appended.
	RecordedAt time.Time `json:"recorded_at"`

	// Payload is the transition description.
	Payload Payload `json:"payload"`
}

// Backend stores audit records. Implementations only need plain appends and
// range reads; ordering and hashing are owned by Log.
type Backend interface {
	// Append durably stores a record.
	Append(ctx context.Context, record *Record) error

	// Range returns records with from <= Seq <= to, in sequence order.
	// to == 0 means "to the end".
	Range(ctx context.Context, from, to uint64) ([]*Record, error)

	// Last returns the record with the highest sequence number,
	// or nil, nil when the log is empty.
	Last(ctx context.Context) (*Record, error)
}

// Log is the audit log writer. Appends are serialized behind a single mutex:
// this is the one global ordering point of the system, required to keep
// sequence numbers gap-free under concurrent writers.
type Log struct {
	backend Backend

	mu       sync.Mutex
	tailSeq  uint64
	tailHash string
}

// NewLog creates a log over a backend, resuming the chain from the
// backend's last record if one exists.
func NewLog(ctx context.Context, backend Backend) (*Log, error) {
	last, err := backend.Last(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read audit tail: %w", err)
	}

	l := &Log{backend: backend}
	if last != nil {
		l.tailSeq = last.Seq
		l.tailHash = last.Hash
	}
	return l, nil
}

// Append durably writes a new record for the payload and returns it.
// The record is hashed over its predecessor, so the caller must treat a
// returned error as "transition not committed".
func (l *Log) Append(ctx context.Context, payload Payload) (*Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	record := &Record{
		Seq:        l.tailSeq + 1,
		PrevHash:   l.tailHash,
		RecordedAt: time.Now().UTC(),
		Payload:    payload,
	}

	hash, err := computeHash(record)
	if err != nil {
		return nil, err
	}
	record.Hash = hash

	if err := l.backend.Append(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to append audit record: %w", err)
	}

	l.tailSeq = record.Seq
	l.tailHash = record.Hash
	return record, nil
}

// Range returns records with from <= Seq <= to. to == 0 means "to the end".
func (l *Log) Range(ctx context.Context, from, to uint64) ([]*Record, error) {
	return l.backend.Range(ctx, from, to)
}

// Verify walks the whole chain recomputing hashes. It returns
// ErrTamperDetected if any record's payload, order, or linkage was altered
// after writing.
func (l *Log) Verify(ctx context.Context) error {
	records, err := l.backend.Range(ctx, 1, 0)
	if err != nil {
		return fmt.Errorf("failed to read audit log: %w", err)
	}

	prevHash := ""
	for i, record := range records {
		if record.Seq != uint64(i)+1 {
			return fmt.Errorf("%w: sequence gap at %d", ErrTamperDetected, record.Seq)
		}
		if record.PrevHash != prevHash {
			return fmt.Errorf("%w: broken linkage at seq %d", ErrTamperDetected, record.Seq)
		}
		hash, err := computeHash(record)
		if err != nil {
			return err
		}
		if hash != record.Hash {
			return fmt.Errorf("%w: hash mismatch at seq %d", ErrTamperDetected, record.Seq)
		}
		prevHash = record.Hash
	}
	return nil
}

// computeHash hashes a record's chain position and payload. The stored Hash
// field itself is not part of the input.
func computeHash(record *Record) (string, error) {
	payload, err := json.Marshal(record.Payload)
	if err != nil {
		return "", fmt.Errorf("failed to serialize audit payload: %w", err)
	}

	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%d|", record.PrevHash, record.Seq, record.RecordedAt.UnixNano())
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil)), nil
}
