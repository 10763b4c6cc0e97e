package detect

import (
	"testing"
	"time"

	"vigil-go/internal/domain"
)

func record(action, outcome, actor string) *domain.SecurityRecord {
	return &domain.SecurityRecord{
		ResourceID: "i-abc123",
		Source:     "cloudtrail",
		Action:     action,
		Actor:      actor,
		Outcome:    outcome,
		Timestamp:  time.Now().UTC(),
	}
}

func TestClassify_UnauthorizedAccess(t *testing.T) {
	d := NewDefault()

	candidates := d.Classify(record("s3:GetObject", "denied", "alice"))
	if len(candidates) != 1 {
		t.Fatalf("len(candidates) = %d, want 1", len(candidates))
	}

	c := candidates[0]
	if c.EventType != domain.SecurityEventUnauthorizedAccess {
		t.Errorf("EventType = %v, want unauthorized_access", c.EventType)
	}
	if c.Severity != domain.SeverityCritical {
		t.Errorf("Severity = %v, want critical", c.Severity)
	}
	if c.ResourceID != "i-abc123" {
		t.Errorf("ResourceID = %v, want i-abc123", c.ResourceID)
	}
}

func TestClassify_NoMatchYieldsNothing(t *testing.T) {
	d := NewDefault()

	candidates := d.Classify(record("ec2:DescribeInstances", "success", "bob"))
	if len(candidates) != 0 {
		t.Errorf("len(candidates) = %d, want 0", len(candidates))
	}
}

func TestClassify_MultiplePatternsYieldIndependentCandidates(t *testing.T) {
	// A denied IAM policy write matches both the unauthorized-access and
	// policy-violation style patterns below; the detector must not merge them.
	d := New([]Pattern{
		{EventType: domain.SecurityEventUnauthorizedAccess, Outcome: "denied"},
		{EventType: domain.SecurityEventPolicyViolation, ActionContains: "Policy"},
	})

	candidates := d.Classify(record("iam:PutRolePolicy", "denied", "mallory"))
	if len(candidates) != 2 {
		t.Fatalf("len(candidates) = %d, want 2", len(candidates))
	}

	types := map[string]bool{}
	for _, c := range candidates {
		types[c.EventType] = true
	}
	if !types[domain.SecurityEventUnauthorizedAccess] || !types[domain.SecurityEventPolicyViolation] {
		t.Errorf("candidate types = %v, want both patterns represented", types)
	}
}

func TestClassify_PrivilegeEscalation(t *testing.T) {
	d := NewDefault()

	candidates := d.Classify(record("iam:AttachUserPolicy", "success", "mallory"))
	if len(candidates) != 1 {
		t.Fatalf("len(candidates) = %d, want 1", len(candidates))
	}
	if candidates[0].EventType != domain.SecurityEventPrivilegeEscalation {
		t.Errorf("EventType = %v, want privilege_escalation", candidates[0].EventType)
	}
}

func TestNew_DropsUnknownEventTypes(t *testing.T) {
	d := New([]Pattern{
		{EventType: "made_up_event", ActionContains: "x"},
		{EventType: domain.SecurityEventConfigurationChange, ActionContains: "ModifyConfiguration"},
	})

	if len(d.patterns) != 1 {
		t.Errorf("len(patterns) = %d, want 1", len(d.patterns))
	}
}

func TestSeverityFor(t *testing.T) {
	critical := []string{
		domain.SecurityEventUnauthorizedAccess,
		domain.SecurityEventPrivilegeEscalation,
		domain.SecurityEventResourceExposure,
	}
	for _, et := range critical {
		if SeverityFor(et) != domain.SeverityCritical {
			t.Errorf("SeverityFor(%s) = %v, want critical", et, SeverityFor(et))
		}
	}
	if SeverityFor(domain.SecurityEventConfigurationChange) != domain.SeverityWarning {
		t.Error("configuration_change should be warning severity")
	}
}
