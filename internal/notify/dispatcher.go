package notify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"vigil-go/internal/domain"
	"vigil-go/internal/metrics"
	"vigil-go/internal/store"
)

// Options tunes dispatcher retry behavior.
type Options struct {
	// MaxAttempts bounds sends per channel per delivery. Minimum 1.
	MaxAttempts int

	// BackoffBase is the first retry delay; it doubles per attempt.
	BackoffBase time.Duration

	// SendTimeout bounds each individual send.
	SendTimeout time.Duration
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.MaxAttempts < 1 {
		out.MaxAttempts = 4
	}
	if out.BackoffBase <= 0 {
		out.BackoffBase = 200 * time.Millisecond
	}
	if out.SendTimeout <= 0 {
		out.SendTimeout = 5 * time.Second
	}
	return out
}

// Dispatcher fans an alert event out to channels. Each (alert, transition,
// channel) tuple is delivered at most once: a succeeded idempotency key is
// never re-sent, even across ingestion-level retries.
type Dispatcher struct {
	attempts store.AttemptStore
	opts     Options
	logger   *slog.Logger

	// sleep is swapped out by tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewDispatcher creates a dispatcher recording attempts in the given store.
func NewDispatcher(attempts store.AttemptStore, opts Options, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		attempts: attempts,
		opts:     opts.withDefaults(),
		logger:   logger,
		sleep:    sleepCtx,
	}
}

// IdempotencyKey computes the deterministic delivery identity for an
// (alert, transition, channel) tuple.
func IdempotencyKey(alertID string, transition domain.Transition, channel string) string {
	h := sha256.Sum256([]byte(alertID + "|" + string(transition) + "|" + channel))
	return hex.EncodeToString(h[:])
}

// Deliver sends one alert event to every channel. It returns all recorded
// attempts and whether any channel exhausted its retries (the caller marks
// the alert delivery-degraded). Delivery failure never propagates as an
// error: the state transition that triggered it is already committed.
func (d *Dispatcher) Deliver(ctx context.Context, alert *domain.Alert, transition domain.Transition, channels []Channel) ([]*domain.NotificationAttempt, bool) {
	return d.deliver(ctx, alert, transition, "", channels)
}

// DeliverAgain sends a repeat delivery (escalation reminder or operator
// redelivery) for an alert. The salt distinguishes it from earlier
// deliveries of the same transition so the idempotency check does not
// suppress it, while ingestion-level retries of the same repeat still
// deduplicate.
func (d *Dispatcher) DeliverAgain(ctx context.Context, alert *domain.Alert, transition domain.Transition, salt string, channels []Channel) ([]*domain.NotificationAttempt, bool) {
	return d.deliver(ctx, alert, transition, salt, channels)
}

func (d *Dispatcher) deliver(ctx context.Context, alert *domain.Alert, transition domain.Transition, salt string, channels []Channel) ([]*domain.NotificationAttempt, bool) {
	msg := buildMessage(alert, transition)

	var all []*domain.NotificationAttempt
	degraded := false
	for _, channel := range channels {
		identity := alert.ID
		if salt != "" {
			identity = alert.ID + "@" + salt
		}
		key := IdempotencyKey(identity, transition, channel.Name())
		attempts, ok := d.deliverToChannel(ctx, alert, transition, key, channel, msg)
		all = append(all, attempts...)
		if !ok {
			degraded = true
		}
	}
	return all, degraded
}

// deliverToChannel runs the retry loop for one channel. Returns false when
// every attempt failed.
func (d *Dispatcher) deliverToChannel(ctx context.Context, alert *domain.Alert, transition domain.Transition, key string, channel Channel, msg *Message) ([]*domain.NotificationAttempt, bool) {
	done, err := d.attempts.HasSucceeded(ctx, key)
	if err != nil {
		d.logger.Error("failed to check idempotency key",
			"alertID", alert.ID, "channel", channel.Name(), "error", err)
	} else if done {
		d.logger.Debug("skipping duplicate notification",
			"alertID", alert.ID, "transition", transition, "channel", channel.Name())
		return nil, true
	}

	var recorded []*domain.NotificationAttempt
	for attempt := 1; attempt <= d.opts.MaxAttempts; attempt++ {
		sendCtx, cancel := context.WithTimeout(ctx, d.opts.SendTimeout)
		outcome := channel.Send(sendCtx, msg)
		cancel()

		switch outcome.Status {
		case StatusSuccess:
			recorded = append(recorded, d.record(ctx, alert.ID, transition, channel.Name(), key, domain.AttemptSuccess, nil))
			metrics.NotificationsSentTotal.WithLabelValues(channel.Name(), "success").Inc()
			return recorded, true

		case StatusPermanentFailure:
			d.logger.Error("permanent notification failure, not retrying",
				"alertID", alert.ID, "channel", channel.Name(), "error", outcome.Err)
			recorded = append(recorded, d.record(ctx, alert.ID, transition, channel.Name(), key, domain.AttemptFailed, outcome.Err))
			metrics.NotificationsSentTotal.WithLabelValues(channel.Name(), "failure").Inc()
			return recorded, false

		default: // transient
			last := attempt == d.opts.MaxAttempts
			outcomeKind := domain.AttemptRetrying
			if last {
				outcomeKind = domain.AttemptFailed
			}
			d.logger.Warn("transient notification failure",
				"alertID", alert.ID, "channel", channel.Name(),
				"attempt", attempt, "error", outcome.Err)
			recorded = append(recorded, d.record(ctx, alert.ID, transition, channel.Name(), key, outcomeKind, outcome.Err))
			if last {
				metrics.NotificationsSentTotal.WithLabelValues(channel.Name(), "failure").Inc()
				return recorded, false
			}
			backoff := d.opts.BackoffBase << (attempt - 1)
			if err := d.sleep(ctx, backoff); err != nil {
				return recorded, false
			}
		}
	}
	return recorded, false
}

// record appends one attempt. Attempt-store failures are logged but do not
// interrupt delivery.
func (d *Dispatcher) record(ctx context.Context, alertID string, transition domain.Transition, channel, key string, outcome domain.AttemptOutcome, sendErr error) *domain.NotificationAttempt {
	attempt := &domain.NotificationAttempt{
		ID:             uuid.New().String(),
		AlertID:        alertID,
		Channel:        channel,
		Transition:     transition,
		IdempotencyKey: key,
		Outcome:        outcome,
		AttemptedAt:    time.Now().UTC(),
	}
	if sendErr != nil {
		attempt.Error = sendErr.Error()
	}

	if err := d.attempts.Record(ctx, attempt); err != nil {
		d.logger.Error("failed to record notification attempt",
			"alertID", alertID, "channel", channel, "error", err)
	}
	return attempt
}

func buildMessage(alert *domain.Alert, transition domain.Transition) *Message {
	return &Message{
		AlertID:    alert.ID,
		ResourceID: alert.ResourceID,
		RuleID:     alert.RuleID,
		Transition: transition,
		Severity:   alert.Severity,
		State:      alert.State,
		Title:      alert.Title,
		Body: fmt.Sprintf("%s\nResource: %s\nRule: %s\nSeverity: %s\nState: %s\n%s",
			alert.Title, alert.ResourceID, alert.RuleID, alert.Severity, alert.State, alert.Description),
		Timestamp: time.Now().UTC(),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
