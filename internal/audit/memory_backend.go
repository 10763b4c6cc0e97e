package audit

import (
	"context"
	"sync"
)

// MemoryBackend stores audit records in a slice. Used in memory storage
// mode and by tests.
type MemoryBackend struct {
	mu      sync.RWMutex
	records []*Record
}

// NewMemoryBackend creates an empty in-memory audit backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

// Append stores a record.
func (b *MemoryBackend) Append(ctx context.Context, record *Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	copied := *record
	b.records = append(b.records, &copied)
	return nil
}

// Range returns records with from <= Seq <= to, in sequence order.
func (b *MemoryBackend) Range(ctx context.Context, from, to uint64) ([]*Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []*Record
	for _, record := range b.records {
		if record.Seq < from {
			continue
		}
		if to != 0 && record.Seq > to {
			continue
		}
		copied := *record
		result = append(result, &copied)
	}
	return result, nil
}

// Last returns the most recently appended record, or nil when empty.
func (b *MemoryBackend) Last(ctx context.Context) (*Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.records) == 0 {
		return nil, nil
	}
	copied := *b.records[len(b.records)-1]
	return &copied, nil
}

// Tamper overwrites the payload of the record at seq. Only used by tests to
// prove Verify detects retroactive edits.
func (b *MemoryBackend) Tamper(seq uint64, payload Payload) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, record := range b.records {
		if record.Seq == seq {
			record.Payload = payload
			return
		}
	}
}
