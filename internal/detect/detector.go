// Package detect implements the security event detector: a stateless
// classifier mapping raw audit records to security alert candidates.
// Patterns are evaluated independently; a record matching several patterns
// yields several candidates, and a record matching none yields nothing.
package detect

import (
	"fmt"
	"strings"

	"vigil-go/internal/domain"
)

// Pattern describes one detection rule over a security record.
// All non-empty match fields must hold for the pattern to fire.
type Pattern struct {
	// EventType is the security event type this pattern produces.
	EventType string `yaml:"event_type"`

	// ActionPrefix matches records whose action starts with this prefix.
	ActionPrefix string `yaml:"action_prefix"`

	// ActionContains matches records whose action contains this substring.
	ActionContains string `yaml:"action_contains"`

	// Outcome matches the record's outcome exactly (e.g. "denied").
	Outcome string `yaml:"outcome"`
}

// Matches reports whether the pattern fires on a record.
func (p *Pattern) Matches(record *domain.SecurityRecord) bool {
	if p.ActionPrefix != "" && !strings.HasPrefix(record.Action, p.ActionPrefix) {
		return false
	}
	if p.ActionContains != "" && !strings.Contains(record.Action, p.ActionContains) {
		return false
	}
	if p.Outcome != "" && record.Outcome != p.Outcome {
		return false
	}
	return true
}

// Detector classifies security records against a fixed pattern set.
type Detector struct {
	patterns []Pattern
}

// New creates a detector with the given patterns. Patterns with an
// unrecognized event type are dropped.
func New(patterns []Pattern) *Detector {
	valid := make([]Pattern, 0, len(patterns))
	for _, p := range patterns {
		if domain.IsSecurityEventType(p.EventType) {
			valid = append(valid, p)
		}
	}
	return &Detector{patterns: valid}
}

// NewDefault creates a detector with the built-in pattern set covering the
// recognized security event types.
func NewDefault() *Detector {
	return New(DefaultPatterns())
}

// DefaultPatterns returns the built-in detection patterns.
func DefaultPatterns() []Pattern {
	return []Pattern{
		{EventType: domain.SecurityEventUnauthorizedAccess, Outcome: "denied"},
		{EventType: domain.SecurityEventPrivilegeEscalation, ActionPrefix: "iam:", ActionContains: "Policy", Outcome: "success"},
		{EventType: domain.SecurityEventPolicyViolation, ActionContains: "DisableLogging"},
		{EventType: domain.SecurityEventConfigurationChange, ActionContains: "ModifyConfiguration"},
		{EventType: domain.SecurityEventResourceExposure, ActionContains: "PutPublicAccess"},
	}
}

// Classify maps a record to zero or more independent security candidates.
// Unknown records are not an error; they simply yield no candidates.
func (d *Detector) Classify(record *domain.SecurityRecord) []domain.SecurityCandidate {
	var candidates []domain.SecurityCandidate
	for i := range d.patterns {
		p := &d.patterns[i]
		if !p.Matches(record) {
			continue
		}
		candidates = append(candidates, domain.SecurityCandidate{
			EventType:  p.EventType,
			ResourceID: record.ResourceID,
			Severity:   SeverityFor(p.EventType),
			Summary:    summarize(p.EventType, record),
		})
	}
	return candidates
}

// SeverityFor maps a security event type to its alert severity.
// Access and exposure events are critical, the rest are warnings.
func SeverityFor(eventType string) domain.Severity {
	switch eventType {
	case domain.SecurityEventUnauthorizedAccess,
		domain.SecurityEventPrivilegeEscalation,
		domain.SecurityEventResourceExposure:
		return domain.SeverityCritical
	default:
		return domain.SeverityWarning
	}
}

func summarize(eventType string, record *domain.SecurityRecord) string {
	actor := record.Actor
	if actor == "" {
		actor = "unknown actor"
	}
	return fmt.Sprintf("%s: %s by %s on %s",
		titleCase(eventType), record.Action, actor, record.ResourceID)
}

// titleCase turns "unauthorized_access" into "Unauthorized Access".
func titleCase(eventType string) string {
	words := strings.Split(eventType, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
