// Package domain contains the core business entities and value objects for VigilGo.
// These models represent the ubiquitous language of the cloud monitoring domain.
package domain

import (
	"errors"
	"math"
	"time"
)

// MetricSample is a single observed metric value for a monitored resource.
// Samples are ephemeral: they are evaluated and discarded, only the streak
// counters they produce survive in the alert record.
type MetricSample struct {
	// ResourceID identifies the monitored resource this sample belongs to.
	ResourceID string `json:"resource_id"`

	// ResourceType is the resource's type (e.g. "ec2", "rds", "s3"),
	// used to select applicable threshold rules.
	ResourceType string `json:"resource_type"`

	// Metric is the metric name (e.g. "cpu_utilization").
	Metric string `json:"metric"`

	// Value is the observed numeric value.
	Value float64 `json:"value"`

	// Unit is the metric unit (e.g. "percent", "bytes").
	Unit string `json:"unit,omitempty"`

	// Timestamp is when the sample was observed by the collector.
	Timestamp time.Time `json:"timestamp"`
}

// Validation errors for MetricSample.
var (
	ErrEmptyResourceID   = errors.New("resource_id is required")
	ErrEmptyResourceType = errors.New("resource_type is required")
	ErrEmptyMetric       = errors.New("metric is required")
	ErrInvalidValue      = errors.New("value must be a finite number")
)

// Validate checks if the sample has all required fields with valid values.
// Returns an error describing the first validation failure, or nil if valid.
func (s *MetricSample) Validate() error {
	if s.ResourceID == "" {
		return ErrEmptyResourceID
	}
	if s.ResourceType == "" {
		return ErrEmptyResourceType
	}
	if s.Metric == "" {
		return ErrEmptyMetric
	}
	if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
		return ErrInvalidValue
	}
	return nil
}
