// Package memory provides in-memory implementations of the store interfaces.
// These are useful for testing and development without external dependencies.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"vigil-go/internal/domain"
)

// AlertStore is an in-memory implementation of store.AlertStore.
// Compare-and-set semantics are enforced under a single mutex, which makes
// per-key updates linearizable.
type AlertStore struct {
	mu sync.RWMutex

	// current holds the live record per (resource, rule) key.
	current map[string]*domain.Alert

	// byID holds every record ever written, including superseded episodes.
	byID map[string]*domain.Alert
}

// NewAlertStore creates a new in-memory alert store.
func NewAlertStore() *AlertStore {
	return &AlertStore{
		current: make(map[string]*domain.Alert),
		byID:    make(map[string]*domain.Alert),
	}
}

// Get retrieves the current alert record for a key.
func (s *AlertStore) Get(ctx context.Context, resourceID, ruleID string) (*domain.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	alert, exists := s.current[domain.AlertKey(resourceID, ruleID)]
	if !exists {
		return nil, nil
	}
	return cloneAlert(alert), nil
}

// GetByID retrieves any alert record by ID.
func (s *AlertStore) GetByID(ctx context.Context, id string) (*domain.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	alert, exists := s.byID[id]
	if !exists {
		return nil, domain.ErrAlertNotFound
	}
	return cloneAlert(alert), nil
}

// Upsert writes an alert with compare-and-set semantics.
func (s *AlertStore) Upsert(ctx context.Context, alert *domain.Alert, expectedVersion int64) (*domain.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := cloneAlert(alert)

	if expectedVersion == 0 {
		// Only a resolved episode gives up the current slot. An open alert
		// or a never-opened streak tracker (zero OpenedAt) must be written
		// through its version, or a racing create would silently drop the
		// loser's streak update.
		if cur, exists := s.current[alert.Key()]; exists && (cur.IsOpen() || cur.OpenedAt.IsZero()) {
			return nil, domain.ErrVersionConflict
		}
		// A superseded record stays in byID but gives up the current slot
		// to the new episode.
		stored.Version = 1
		s.current[alert.Key()] = stored
		s.byID[stored.ID] = stored
		return cloneAlert(stored), nil
	}

	existing, exists := s.byID[alert.ID]
	if !exists {
		return nil, domain.ErrAlertNotFound
	}
	if existing.Version != expectedVersion {
		return nil, domain.ErrVersionConflict
	}

	stored.Version = expectedVersion + 1
	s.byID[stored.ID] = stored
	if cur, ok := s.current[alert.Key()]; ok && cur.ID == stored.ID {
		s.current[alert.Key()] = stored
	}
	return cloneAlert(stored), nil
}

// ListOpen returns all currently open or acknowledged alerts.
func (s *AlertStore) ListOpen(ctx context.Context) ([]*domain.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var open []*domain.Alert
	for _, alert := range s.current {
		if alert.IsOpen() {
			open = append(open, cloneAlert(alert))
		}
	}
	sort.Slice(open, func(i, j int) bool {
		return open[i].OpenedAt.After(open[j].OpenedAt)
	})
	return open, nil
}

// List returns alerts matching the filter, newest first. Streak trackers
// that never opened are excluded.
func (s *AlertStore) List(ctx context.Context, filter domain.AlertFilter) ([]*domain.Alert, error) {
	s.mu.RLock()

	var matched []*domain.Alert
	for _, alert := range s.byID {
		if alert.OpenedAt.IsZero() {
			continue
		}
		if matchesFilter(alert, &filter) {
			matched = append(matched, cloneAlert(alert))
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].OpenedAt.After(matched[j].OpenedAt)
	})

	return paginate(matched, filter.Offset, filter.Limit), nil
}

// Close releases resources. A no-op for the in-memory store.
func (s *AlertStore) Close() error {
	return nil
}

func matchesFilter(alert *domain.Alert, filter *domain.AlertFilter) bool {
	if filter.ResourceID != "" && alert.ResourceID != filter.ResourceID {
		return false
	}
	if filter.State != "" && alert.State != filter.State {
		return false
	}
	if filter.Severity != "" && alert.Severity != filter.Severity {
		return false
	}
	if filter.Kind != "" && alert.Kind != filter.Kind {
		return false
	}
	if !filter.Since.IsZero() && alert.OpenedAt.Before(filter.Since) {
		return false
	}
	if !filter.Until.IsZero() && alert.OpenedAt.After(filter.Until) {
		return false
	}
	return true
}

func paginate(alerts []*domain.Alert, offset, limit int) []*domain.Alert {
	if offset >= len(alerts) {
		return []*domain.Alert{}
	}
	alerts = alerts[offset:]
	if limit > 0 && limit < len(alerts) {
		alerts = alerts[:limit]
	}
	return alerts
}

// cloneAlert deep-copies an alert to prevent external modification.
func cloneAlert(a *domain.Alert) *domain.Alert {
	c := *a
	if a.LastNotifiedAt != nil {
		c.LastNotifiedAt = make(map[string]time.Time, len(a.LastNotifiedAt))
		for ch, t := range a.LastNotifiedAt {
			c.LastNotifiedAt[ch] = t
		}
	}
	if a.AckedAt != nil {
		t := *a.AckedAt
		c.AckedAt = &t
	}
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}
