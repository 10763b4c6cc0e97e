package domain

import "time"

// Transition names the lifecycle transitions and delivery events recorded
// in the audit log and used for notification idempotency.
type Transition string

const (
	// TransitionRaised marks the first open of an alert episode.
	TransitionRaised Transition = "raised"
	// TransitionCleared marks a resolution driven by the clear streak.
	TransitionCleared Transition = "cleared"
	// TransitionAcknowledged marks an operator acknowledgement.
	TransitionAcknowledged Transition = "acknowledged"
	// TransitionResolved marks a manual operator resolution.
	TransitionResolved Transition = "resolved"
	// TransitionDeboarded marks a forced resolution due to resource deboarding.
	TransitionDeboarded Transition = "deboarded"
	// TransitionRenotified marks a reminder notification for a still-open alert.
	TransitionRenotified Transition = "renotified"
	// TransitionDeliveryDegraded marks exhaustion of notification attempts.
	TransitionDeliveryDegraded Transition = "delivery_degraded"
	// TransitionRedelivery marks an operator-triggered re-delivery.
	TransitionRedelivery Transition = "redelivery"
)

// AttemptOutcome is the result of a single notification attempt.
type AttemptOutcome string

const (
	AttemptSuccess  AttemptOutcome = "success"
	AttemptFailed   AttemptOutcome = "failed"
	AttemptRetrying AttemptOutcome = "retrying"
)

// NotificationAttempt records one delivery attempt of an alert event to a
// channel. Attempts are append-only; retries produce additional records with
// fresh timestamps but share the same idempotency key.
type NotificationAttempt struct {
	// ID is the unique identifier for this attempt.
	ID string `json:"id"`

	// AlertID is the alert the notification concerns.
	AlertID string `json:"alert_id"`

	// Channel is the delivery channel name.
	Channel string `json:"channel"`

	// Transition is the lifecycle transition being notified.
	Transition Transition `json:"transition"`

	// IdempotencyKey is hash(alertID, transition, channel). Once one attempt
	// with this key has succeeded, the dispatcher never re-delivers.
	IdempotencyKey string `json:"idempotency_key"`

	// Outcome is the attempt result.
	Outcome AttemptOutcome `json:"outcome"`

	// Error holds the failure description for non-success outcomes.
	Error string `json:"error,omitempty"`

	// AttemptedAt is when this attempt was made.
	AttemptedAt time.Time `json:"attempted_at"`
}
