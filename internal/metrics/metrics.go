// Package metrics provides Prometheus metrics for VigilGo.
// It tracks sample evaluation, alert lifecycle transitions, notification
// delivery, and audit log growth.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "vigil"
)

// Pipeline metrics track the ingestion and evaluation path.
var (
	// SamplesReceivedTotal counts metric samples received by the API.
	SamplesReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_received_total",
			Help:      "Total number of metric samples received by the ingest API",
		},
		[]string{"resource_type"},
	)

	// SecurityRecordsReceivedTotal counts security records received.
	SecurityRecordsReceivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "security_records_received_total",
			Help:      "Total number of security records received by the ingest API",
		},
	)

	// SamplesProcessedTotal counts samples processed by the evaluation
	// pipeline, labeled by result.
	SamplesProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_processed_total",
			Help:      "Total number of samples processed",
		},
		[]string{"result"}, // result: ok, invalid, dropped, error
	)

	// SampleProcessingLatency measures time to evaluate one sample.
	SampleProcessingLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sample_processing_latency_seconds",
			Help:      "Time to evaluate a single sample in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// PipelineLagSeconds is the age of the most recently processed message.
	// The health endpoint compares it against the configured lag bound.
	PipelineLagSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_lag_seconds",
			Help:      "Age of the most recently processed message in seconds",
		},
	)
)

// Alert metrics track alert lifecycle.
var (
	// AlertsOpenedTotal counts alerts transitioned to open.
	AlertsOpenedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_opened_total",
			Help:      "Total number of alerts opened",
		},
		[]string{"kind", "severity"},
	)

	// AlertsResolvedTotal counts alerts resolved, labeled by reason.
	AlertsResolvedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_resolved_total",
			Help:      "Total number of alerts resolved",
		},
		[]string{"kind", "reason"}, // reason: cleared, manual, deboarded
	)

	// OpenAlerts tracks the current number of open alerts.
	OpenAlerts = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_alerts",
			Help:      "Current number of open alerts",
		},
		[]string{"kind"},
	)

	// TransitionConflictsTotal counts compare-and-set conflicts observed
	// while applying transitions. Conflicts are retried, not errors.
	TransitionConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transition_conflicts_total",
			Help:      "Total number of compare-and-set conflicts during transitions",
		},
	)
)

// Notification metrics track the delivery pipeline.
var (
	// NotificationsSentTotal counts notification sends by final status.
	NotificationsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_sent_total",
			Help:      "Total number of notification deliveries",
		},
		[]string{"channel", "status"}, // status: success, failure
	)

	// DeliveryDegradedTotal counts alerts marked delivery-degraded.
	DeliveryDegradedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_degraded_total",
			Help:      "Total number of alerts marked delivery-degraded",
		},
	)

	// NotificationLatency measures time from transition to delivery.
	NotificationLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "notification_latency_seconds",
			Help:      "Time from alert transition to notification dispatch in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)
)

// Audit metrics track the audit log.
var (
	// AuditRecordsTotal counts appended audit records by transition.
	AuditRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_records_total",
			Help:      "Total number of audit records appended",
		},
		[]string{"transition"},
	)
)
