package domain

import (
	"errors"
	"time"
)

// Security event types recognized by the detector.
const (
	SecurityEventUnauthorizedAccess  = "unauthorized_access"
	SecurityEventConfigurationChange = "configuration_change"
	SecurityEventPolicyViolation     = "policy_violation"
	SecurityEventPrivilegeEscalation = "privilege_escalation"
	SecurityEventResourceExposure    = "resource_exposure"
)

// SecurityEventTypes lists all recognized security event types.
var SecurityEventTypes = []string{
	SecurityEventUnauthorizedAccess,
	SecurityEventConfigurationChange,
	SecurityEventPolicyViolation,
	SecurityEventPrivilegeEscalation,
	SecurityEventResourceExposure,
}

// IsSecurityEventType returns true if t is a recognized security event type.
func IsSecurityEventType(t string) bool {
	for _, known := range SecurityEventTypes {
		if known == t {
			return true
		}
	}
	return false
}

// SecurityRecord is a raw, already-parsed audit record received from a log
// collector (e.g. an API-call log entry). Records that match no detection
// pattern are simply discarded.
type SecurityRecord struct {
	// ResourceID identifies the resource the recorded action targeted.
	ResourceID string `json:"resource_id"`

	// Source names the collector or trail the record came from.
	Source string `json:"source,omitempty"`

	// Action is the recorded API action (e.g. "iam:PutRolePolicy").
	Action string `json:"action"`

	// Actor is the principal that performed the action.
	Actor string `json:"actor,omitempty"`

	// Outcome is the recorded result: "success", "denied", "failure".
	Outcome string `json:"outcome,omitempty"`

	// Timestamp is when the action occurred.
	Timestamp time.Time `json:"timestamp"`

	// Details carries additional collector-specific fields.
	Details map[string]string `json:"details,omitempty"`
}

// Validate checks if the record has the fields detection depends on.
func (r *SecurityRecord) Validate() error {
	if r.ResourceID == "" {
		return ErrEmptyResourceID
	}
	if r.Action == "" {
		return ErrEmptyAction
	}
	return nil
}

// ErrEmptyAction is returned for security records without an action field.
var ErrEmptyAction = errors.New("action is required")

// SecurityCandidate is a classified security event produced by the detector.
// One record may yield multiple independent candidates; deduplication by
// (resource, event type) key is the alert manager's job.
type SecurityCandidate struct {
	// EventType is one of the recognized security event types.
	EventType string `json:"event_type"`

	// ResourceID is the affected resource or account scope.
	ResourceID string `json:"resource_id"`

	// Severity is derived from the event type.
	Severity Severity `json:"severity"`

	// Summary is a human-readable description of the detected event.
	Summary string `json:"summary"`
}
