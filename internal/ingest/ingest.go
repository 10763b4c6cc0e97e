// Package ingest provides the sample ingestion service. It validates
// incoming metric samples and security records and publishes them to the
// message queue for asynchronous evaluation, partitioned by resource so
// per-resource streak updates stay ordered.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"vigil-go/internal/domain"
	"vigil-go/internal/metrics"
	"vigil-go/internal/queue"
)

// ErrPublishFailed is returned when a validated payload cannot be enqueued.
var ErrPublishFailed = errors.New("failed to publish to queue")

// Service handles ingestion of metric samples and security records.
type Service struct {
	producer queue.Producer
	logger   *slog.Logger
}

// NewService creates a new ingest service.
func NewService(producer queue.Producer, logger *slog.Logger) *Service {
	return &Service{
		producer: producer,
		logger:   logger,
	}
}

// IngestSample validates and enqueues one metric sample.
func (s *Service) IngestSample(ctx context.Context, sample *domain.MetricSample) error {
	if err := sample.Validate(); err != nil {
		return fmt.Errorf("invalid sample: %w", err)
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now().UTC()
	}

	metrics.SamplesReceivedTotal.WithLabelValues(sample.ResourceType).Inc()

	msg, err := queue.NewSampleMessage(sample, time.Now())
	if err != nil {
		return err
	}
	if err := s.producer.Publish(ctx, msg); err != nil {
		s.logger.Error("failed to publish sample",
			"resourceID", sample.ResourceID, "metric", sample.Metric, "error", err)
		return ErrPublishFailed
	}

	s.logger.Debug("sample published",
		"resourceID", sample.ResourceID, "metric", sample.Metric, "value", sample.Value)
	return nil
}

// IngestSecurityRecord validates and enqueues one security record.
func (s *Service) IngestSecurityRecord(ctx context.Context, record *domain.SecurityRecord) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("invalid security record: %w", err)
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	metrics.SecurityRecordsReceivedTotal.Inc()

	msg, err := queue.NewSecurityMessage(record, time.Now())
	if err != nil {
		return err
	}
	if err := s.producer.Publish(ctx, msg); err != nil {
		s.logger.Error("failed to publish security record",
			"resourceID", record.ResourceID, "action", record.Action, "error", err)
		return ErrPublishFailed
	}

	s.logger.Debug("security record published",
		"resourceID", record.ResourceID, "action", record.Action)
	return nil
}
