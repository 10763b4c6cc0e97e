package domain

import (
	"errors"
	"time"
)

// Errors surfaced by alert operations.
var (
	// ErrAlertNotFound is returned when an alert cannot be found.
	ErrAlertNotFound = errors.New("alert not found")

	// ErrVersionConflict is returned by compare-and-set writes when the
	// stored version no longer matches the expected one.
	ErrVersionConflict = errors.New("alert version conflict")

	// ErrInvalidState is returned when a lifecycle operation is not valid
	// for the alert's current state.
	ErrInvalidState = errors.New("invalid alert state for operation")
)

// AlertKind distinguishes threshold-driven alerts from security alerts.
type AlertKind string

const (
	// AlertKindResource indicates a threshold rule breach on a resource metric.
	AlertKindResource AlertKind = "resource"
	// AlertKindSecurity indicates a detected security event.
	AlertKindSecurity AlertKind = "security"
)

// AlertState represents the lifecycle state of an alert.
type AlertState string

const (
	// AlertStateOpen indicates the alert condition is currently active.
	AlertStateOpen AlertState = "open"
	// AlertStateAcknowledged indicates an operator has seen the alert.
	// Acknowledgement does not stop the clear-streak resolution.
	AlertStateAcknowledged AlertState = "acknowledged"
	// AlertStateResolved indicates the alert has been resolved.
	AlertStateResolved AlertState = "resolved"
)

// Resolution reasons recorded on the alert and in the audit log.
const (
	ResolveReasonCleared   = "cleared"
	ResolveReasonManual    = "manual"
	ResolveReasonDeboarded = "deboarded"
)

// Alert represents an alert raised for a monitored resource.
// Alerts are keyed by (ResourceID, RuleID): at most one open alert exists
// per key at any time. Resolved alerts are never deleted and remain queryable.
type Alert struct {
	// ID is the unique identifier for this alert.
	ID string `json:"id"`

	// ResourceID identifies the resource this alert concerns.
	ResourceID string `json:"resource_id"`

	// RuleID is the threshold rule ID for resource alerts, or the
	// security event type for security alerts.
	RuleID string `json:"rule_id"`

	// Kind indicates whether this is a resource or security alert.
	Kind AlertKind `json:"kind"`

	// Severity is the alert severity level.
	Severity Severity `json:"severity"`

	// State is the current lifecycle state.
	State AlertState `json:"state"`

	// Title is a human-readable summary of the alert.
	Title string `json:"title"`

	// Description carries additional context (metric values, actor, ...).
	Description string `json:"description,omitempty"`

	// OpenedAt is when the alert transitioned to open.
	OpenedAt time.Time `json:"opened_at"`

	// AckedAt is when the alert was acknowledged. Nil if never acknowledged.
	AckedAt *time.Time `json:"acked_at,omitempty"`

	// ResolvedAt is when the alert was resolved. Nil while open.
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`

	// ResolveReason records why the alert resolved: cleared, manual, deboarded.
	ResolveReason string `json:"resolve_reason,omitempty"`

	// BreachStreak counts consecutive breaching samples for this key.
	BreachStreak int `json:"breach_streak"`

	// ClearStreak counts consecutive clear samples for this key.
	ClearStreak int `json:"clear_streak"`

	// LastSeenAt is the timestamp of the last evaluated sample for this key.
	LastSeenAt time.Time `json:"last_seen_at"`

	// LastValue is the most recent observed metric value.
	LastValue float64 `json:"last_value"`

	// LastNotifiedAt records, per channel, when a notification last succeeded.
	LastNotifiedAt map[string]time.Time `json:"last_notified_at,omitempty"`

	// DeliveryDegraded marks that notification attempts were exhausted
	// without success. The lifecycle state itself remains accurate.
	DeliveryDegraded bool `json:"delivery_degraded"`

	// Version is the optimistic concurrency token used by compare-and-set
	// writes. Zero means the alert has never been persisted.
	Version int64 `json:"version"`

	// CreatedAt is when the alert record was first created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the alert record was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// AlertKey builds the deduplication key for a (resource, rule) pair.
func AlertKey(resourceID, ruleID string) string {
	return resourceID + "/" + ruleID
}

// Key returns the alert's deduplication key.
func (a *Alert) Key() string {
	return AlertKey(a.ResourceID, a.RuleID)
}

// IsOpen returns true while the alert is open or acknowledged.
func (a *Alert) IsOpen() bool {
	return a.State == AlertStateOpen || a.State == AlertStateAcknowledged
}

// IsResolved returns true if the alert has been resolved.
func (a *Alert) IsResolved() bool {
	return a.State == AlertStateResolved
}

// Open transitions the alert to the open state.
func (a *Alert) Open(now time.Time) {
	a.State = AlertStateOpen
	a.OpenedAt = now
	a.ResolvedAt = nil
	a.ResolveReason = ""
	a.UpdatedAt = now
}

// Acknowledge transitions an open alert to acknowledged.
// Acknowledging an already-acknowledged alert is a no-op; acknowledging a
// resolved alert returns ErrInvalidState.
func (a *Alert) Acknowledge(now time.Time) error {
	switch a.State {
	case AlertStateAcknowledged:
		return nil
	case AlertStateOpen:
		a.State = AlertStateAcknowledged
		a.AckedAt = &now
		a.UpdatedAt = now
		return nil
	default:
		return ErrInvalidState
	}
}

// Resolve transitions any non-resolved alert to resolved with the given reason.
// Resolving an already-resolved alert is a no-op.
func (a *Alert) Resolve(now time.Time, reason string) {
	if a.State == AlertStateResolved {
		return
	}
	a.State = AlertStateResolved
	a.ResolvedAt = &now
	a.ResolveReason = reason
	a.UpdatedAt = now
}

// MarkNotified records a successful notification on a channel.
func (a *Alert) MarkNotified(channel string, at time.Time) {
	if a.LastNotifiedAt == nil {
		a.LastNotifiedAt = make(map[string]time.Time)
	}
	a.LastNotifiedAt[channel] = at
}

// AlertFilter provides filtering options for querying alerts.
type AlertFilter struct {
	ResourceID string
	State      AlertState
	Severity   Severity
	Kind       AlertKind
	Since      time.Time
	Until      time.Time
	Limit      int
	Offset     int
}
