package memory

import (
	"context"
	"sync"

	"vigil-go/internal/domain"
)

// AttemptStore is an in-memory, append-only store of notification attempts.
type AttemptStore struct {
	mu       sync.RWMutex
	attempts []*domain.NotificationAttempt

	// succeeded indexes idempotency keys with at least one success.
	succeeded map[string]bool
}

// NewAttemptStore creates a new in-memory attempt store.
func NewAttemptStore() *AttemptStore {
	return &AttemptStore{
		succeeded: make(map[string]bool),
	}
}

// Record appends a notification attempt.
func (s *AttemptStore) Record(ctx context.Context, attempt *domain.NotificationAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *attempt
	s.attempts = append(s.attempts, &stored)
	if attempt.Outcome == domain.AttemptSuccess {
		s.succeeded[attempt.IdempotencyKey] = true
	}
	return nil
}

// HasSucceeded reports whether any attempt with the key has succeeded.
func (s *AttemptStore) HasSucceeded(ctx context.Context, idempotencyKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.succeeded[idempotencyKey], nil
}

// ListByAlert returns all attempts for an alert, oldest first.
func (s *AttemptStore) ListByAlert(ctx context.Context, alertID string) ([]*domain.NotificationAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.NotificationAttempt
	for _, attempt := range s.attempts {
		if attempt.AlertID == alertID {
			copied := *attempt
			result = append(result, &copied)
		}
	}
	return result, nil
}
