// Package processor consumes the ingestion queue and drives the alert
// manager. It also tracks pipeline lag, which backs the health endpoint's
// liveness verdict.
package processor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"vigil-go/internal/manager"
	"vigil-go/internal/metrics"
	"vigil-go/internal/queue"
)

// Service processes queued samples and security records.
type Service struct {
	consumer queue.Consumer
	manager  *manager.Manager
	logger   *slog.Logger

	mu              sync.RWMutex
	lastProcessedAt time.Time
	lastLag         time.Duration
}

// NewService creates a new processor service.
func NewService(consumer queue.Consumer, mgr *manager.Manager, logger *slog.Logger) *Service {
	return &Service{
		consumer: consumer,
		manager:  mgr,
		logger:   logger,
	}
}

// Start begins consuming messages. Blocks until the context is canceled.
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info("starting processor service")
	return s.consumer.Start(ctx, s.handleMessage)
}

// handleMessage routes one message to the manager by kind. Malformed
// messages are logged and skipped, never retried.
func (s *Service) handleMessage(ctx context.Context, msg *queue.Message) error {
	defer s.observe(msg)

	switch msg.Kind() {
	case queue.KindSample:
		sample, err := queue.DecodeSample(msg)
		if err != nil {
			s.logger.Error("dropping malformed sample message", "error", err)
			return nil
		}
		return s.manager.HandleSample(ctx, sample)

	case queue.KindSecurityRecord:
		record, err := queue.DecodeSecurityRecord(msg)
		if err != nil {
			s.logger.Error("dropping malformed security message", "error", err)
			return nil
		}
		return s.manager.HandleSecurityRecord(ctx, record)

	default:
		s.logger.Warn("dropping message of unknown kind", "kind", msg.Kind())
		return nil
	}
}

// observe updates the pipeline lag from the message's publish timestamp.
func (s *Service) observe(msg *queue.Message) {
	now := time.Now()
	lag := time.Duration(0)
	if producedAt := msg.ProducedAt(); !producedAt.IsZero() {
		lag = now.Sub(producedAt)
		if lag < 0 {
			lag = 0
		}
	}

	s.mu.Lock()
	s.lastProcessedAt = now
	s.lastLag = lag
	s.mu.Unlock()

	metrics.PipelineLagSeconds.Set(lag.Seconds())
}

// Lag returns the measured delay of the most recently processed message.
func (s *Service) Lag() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastLag
}

// Healthy reports whether the pipeline is processing within the lag bound.
// An idle pipeline is healthy: no message processed yet means no backlog.
func (s *Service) Healthy(bound time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastProcessedAt.IsZero() {
		return true
	}
	return s.lastLag <= bound
}
