// Package queue defines the ingestion pipeline's message transport.
// This abstraction allows swapping implementations (Kafka, in-memory)
// without changing business logic.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"vigil-go/internal/domain"
)

// Message headers.
const (
	// HeaderKind distinguishes metric samples from security records.
	HeaderKind = "kind"

	// HeaderProducedAt carries the publish timestamp (RFC 3339 nano) used
	// by the processor to measure pipeline lag.
	HeaderProducedAt = "produced_at"
)

// Message kinds.
const (
	KindSample         = "sample"
	KindSecurityRecord = "security_record"
)

// ErrUnknownKind is returned when decoding a message whose kind header does
// not match the requested payload type.
var ErrUnknownKind = errors.New("unknown message kind")

// Message represents a message in the queue.
type Message struct {
	// Key is the partition key. Messages with the same key are processed
	// in order, which keeps per-resource streak updates sequential.
	Key []byte

	// Value is the JSON-encoded payload.
	Value []byte

	// Headers contains the kind and produced-at metadata.
	Headers map[string]string
}

// NewSampleMessage encodes a metric sample, partitioned by resource ID.
func NewSampleMessage(sample *domain.MetricSample, producedAt time.Time) (*Message, error) {
	value, err := json.Marshal(sample)
	if err != nil {
		return nil, fmt.Errorf("failed to encode sample: %w", err)
	}
	return &Message{
		Key:   []byte(sample.ResourceID),
		Value: value,
		Headers: map[string]string{
			HeaderKind:       KindSample,
			HeaderProducedAt: producedAt.UTC().Format(time.RFC3339Nano),
		},
	}, nil
}

// NewSecurityMessage encodes a security record, partitioned by resource ID.
func NewSecurityMessage(record *domain.SecurityRecord, producedAt time.Time) (*Message, error) {
	value, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to encode security record: %w", err)
	}
	return &Message{
		Key:   []byte(record.ResourceID),
		Value: value,
		Headers: map[string]string{
			HeaderKind:       KindSecurityRecord,
			HeaderProducedAt: producedAt.UTC().Format(time.RFC3339Nano),
		},
	}, nil
}

// Kind returns the message kind header, defaulting to a sample for messages
// published before the header existed.
func (m *Message) Kind() string {
	if kind, ok := m.Headers[HeaderKind]; ok {
		return kind
	}
	return KindSample
}

// ProducedAt returns the publish timestamp, or the zero time when absent.
func (m *Message) ProducedAt() time.Time {
	raw, ok := m.Headers[HeaderProducedAt]
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

// DecodeSample decodes a sample message.
func DecodeSample(m *Message) (*domain.MetricSample, error) {
	if m.Kind() != KindSample {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, m.Kind())
	}
	var sample domain.MetricSample
	if err := json.Unmarshal(m.Value, &sample); err != nil {
		return nil, fmt.Errorf("failed to decode sample: %w", err)
	}
	return &sample, nil
}

// DecodeSecurityRecord decodes a security record message.
func DecodeSecurityRecord(m *Message) (*domain.SecurityRecord, error) {
	if m.Kind() != KindSecurityRecord {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, m.Kind())
	}
	var record domain.SecurityRecord
	if err := json.Unmarshal(m.Value, &record); err != nil {
		return nil, fmt.Errorf("failed to decode security record: %w", err)
	}
	return &record, nil
}

// Producer defines the interface for publishing messages to a queue.
// Implementations must be safe for concurrent use.
type Producer interface {
	// Publish sends a message to the queue.
	// The key is used for partitioning - messages with the same key
	// are guaranteed to be processed in order.
	Publish(ctx context.Context, msg *Message) error

	// Close releases any resources held by the producer.
	Close() error
}

// MessageHandler is a callback function for processing consumed messages.
// Return an error to indicate processing failure (implementation may retry).
type MessageHandler func(ctx context.Context, msg *Message) error

// Consumer defines the interface for consuming messages from a queue.
type Consumer interface {
	// Start begins consuming messages and calls the handler for each one.
	// This is a blocking call that runs until the context is canceled
	// or an unrecoverable error occurs.
	Start(ctx context.Context, handler MessageHandler) error

	// Close stops consuming and releases any resources.
	Close() error
}
