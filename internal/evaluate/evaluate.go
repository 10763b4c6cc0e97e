// Package evaluate implements the threshold evaluator: a pure mapping from
// a metric sample and a threshold rule to a breach signal. It performs no I/O
// and holds no state; consecutive-count hysteresis lives in the alert manager.
package evaluate

import (
	"vigil-go/internal/domain"
)

// BreachSignal is the result of evaluating one sample against one rule.
type BreachSignal struct {
	// Breaching is true when the sample satisfies the rule's comparator.
	Breaching bool

	// Rule is the evaluated rule.
	Rule *domain.ThresholdRule

	// Value is the sample value that was compared.
	Value float64

	// Threshold echoes the rule's threshold for reporting.
	Threshold float64
}

// Evaluate compares a sample against a rule.
func Evaluate(sample *domain.MetricSample, rule *domain.ThresholdRule) BreachSignal {
	return BreachSignal{
		Breaching: rule.Comparator.Compare(sample.Value, rule.Threshold),
		Rule:      rule,
		Value:     sample.Value,
		Threshold: rule.Threshold,
	}
}

// Match returns the rules applicable to a sample's resource type and metric.
func Match(rules []*domain.ThresholdRule, sample *domain.MetricSample) []*domain.ThresholdRule {
	var matched []*domain.ThresholdRule
	for _, rule := range rules {
		if rule.AppliesTo(sample) {
			matched = append(matched, rule)
		}
	}
	return matched
}
