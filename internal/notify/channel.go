// Package notify implements the notification dispatcher: fan-out of alert
// events to channels with per-channel retry, backoff, and idempotency.
// Channels are polymorphic over a single capability: Send.
package notify

import (
	"context"
	"time"

	"vigil-go/internal/domain"
)

// Status classifies the result of a single send.
type Status string

const (
	// StatusSuccess means the channel accepted the message.
	StatusSuccess Status = "success"
	// StatusTransientFailure means the send failed but may succeed on retry
	// (network errors, timeouts, 5xx responses).
	StatusTransientFailure Status = "transient_failure"
	// StatusPermanentFailure means retrying cannot help (malformed
	// destination, 4xx responses). Retries stop immediately.
	StatusPermanentFailure Status = "permanent_failure"
)

// Outcome is the result of one channel send.
type Outcome struct {
	Status Status
	Err    error
}

// Success returns a successful outcome.
func Success() Outcome {
	return Outcome{Status: StatusSuccess}
}

// Transient returns a retryable failure outcome.
func Transient(err error) Outcome {
	return Outcome{Status: StatusTransientFailure, Err: err}
}

// Permanent returns a non-retryable failure outcome.
func Permanent(err error) Outcome {
	return Outcome{Status: StatusPermanentFailure, Err: err}
}

// Message is the channel-agnostic notification payload. Channels format it
// into their own wire representation (JSON webhook body, plaintext email).
type Message struct {
	AlertID    string            `json:"alert_id"`
	ResourceID string            `json:"resource_id"`
	RuleID     string            `json:"rule_id"`
	Transition domain.Transition `json:"transition"`
	Severity   domain.Severity   `json:"severity"`
	State      domain.AlertState `json:"state"`
	Title      string            `json:"title"`
	Body       string            `json:"body"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Channel is an external delivery transport. Implementations must be safe
// for concurrent use.
type Channel interface {
	// Name returns the channel's configured name, used for idempotency
	// keys and attempt records.
	Name() string

	// Send delivers a message and classifies the result.
	Send(ctx context.Context, msg *Message) Outcome
}
