package domain

import (
	"errors"
	"time"
)

// Comparator is the comparison operator of a threshold rule.
type Comparator string

const (
	ComparatorGT  Comparator = ">"
	ComparatorGTE Comparator = ">="
	ComparatorLT  Comparator = "<"
	ComparatorLTE Comparator = "<="
)

// IsValid returns true if the comparator is a known valid value.
func (c Comparator) IsValid() bool {
	switch c {
	case ComparatorGT, ComparatorGTE, ComparatorLT, ComparatorLTE:
		return true
	default:
		return false
	}
}

// Compare applies the operator to a sample value and a threshold.
// The equality boundary follows the operator exactly: ">=" includes
// the threshold value as a breach, ">" does not.
func (c Comparator) Compare(value, threshold float64) bool {
	switch c {
	case ComparatorGT:
		return value > threshold
	case ComparatorGTE:
		return value >= threshold
	case ComparatorLT:
		return value < threshold
	case ComparatorLTE:
		return value <= threshold
	default:
		return false
	}
}

// Severity represents the severity level of an alert.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// IsValid returns true if the severity is a known valid value.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityWarning, SeverityInfo:
		return true
	default:
		return false
	}
}

// ThresholdRule describes when a metric condition should raise an alert.
// Rules are owned by configuration and read-only to the alert manager.
type ThresholdRule struct {
	// ID uniquely identifies the rule. Together with a resource ID it
	// forms the alert deduplication key.
	ID string `json:"id" yaml:"id"`

	// Name is a human-readable rule name used in alert titles.
	Name string `json:"name" yaml:"name"`

	// ResourceType selects which resources this rule applies to.
	ResourceType string `json:"resource_type" yaml:"resource_type"`

	// Metric is the metric name this rule evaluates.
	Metric string `json:"metric" yaml:"metric"`

	// Comparator is the comparison operator applied against Threshold.
	Comparator Comparator `json:"comparator" yaml:"comparator"`

	// Threshold is the boundary value.
	Threshold float64 `json:"threshold" yaml:"threshold"`

	// OpenAfter is the number of consecutive breaching samples required
	// before an alert opens. Minimum 1.
	OpenAfter int `json:"open_after" yaml:"open_after"`

	// CloseAfter is the number of consecutive clear samples required
	// before an open alert resolves. Minimum 1.
	CloseAfter int `json:"close_after" yaml:"close_after"`

	// Severity is the severity assigned to alerts this rule opens.
	Severity Severity `json:"severity" yaml:"severity"`

	// RenotifyInterval is how long an alert must stay open before a
	// reminder notification is sent on a further breach. Zero disables
	// reminders.
	RenotifyInterval time.Duration `json:"renotify_interval" yaml:"renotify_interval"`
}

// Validation errors for ThresholdRule.
var (
	ErrEmptyRuleID       = errors.New("rule id is required")
	ErrInvalidComparator = errors.New("comparator must be one of >, >=, <, <=")
	ErrInvalidSeverity   = errors.New("severity must be 'critical', 'warning', or 'info'")
	ErrInvalidStreak     = errors.New("open_after and close_after must be >= 1")
)

// Validate checks if the rule has all required fields with valid values.
func (r *ThresholdRule) Validate() error {
	if r.ID == "" {
		return ErrEmptyRuleID
	}
	if r.ResourceType == "" {
		return ErrEmptyResourceType
	}
	if r.Metric == "" {
		return ErrEmptyMetric
	}
	if !r.Comparator.IsValid() {
		return ErrInvalidComparator
	}
	if !r.Severity.IsValid() {
		return ErrInvalidSeverity
	}
	if r.OpenAfter < 1 || r.CloseAfter < 1 {
		return ErrInvalidStreak
	}
	return nil
}

// AppliesTo returns true if the rule matches a sample's resource type and metric.
func (r *ThresholdRule) AppliesTo(sample *MetricSample) bool {
	return r.ResourceType == sample.ResourceType && r.Metric == sample.Metric
}
