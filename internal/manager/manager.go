// Package manager implements the alert lifecycle state machine. It owns the
// transition algorithm: streak hysteresis, compare-and-set retries against
// the alert store, audit recording, and notification fan-out. The evaluator
// and detector stay pure; all state lives here and in the store.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"vigil-go/internal/audit"
	"vigil-go/internal/detect"
	"vigil-go/internal/domain"
	"vigil-go/internal/evaluate"
	"vigil-go/internal/metrics"
	"vigil-go/internal/notify"
	"vigil-go/internal/store"
)

// ErrRetriesExhausted is returned when a transition could not be applied
// within the configured compare-and-set retry budget. The sample is dropped,
// never silently: the caller logs it and counts it.
var ErrRetriesExhausted = errors.New("transition retries exhausted")

// Options tunes the manager's transition behavior.
type Options struct {
	// TransitionRetries bounds compare-and-set attempts per signal.
	TransitionRetries int

	// RenotifyInterval is the default reminder cadence for alerts that stay
	// open; a rule's own interval takes precedence. Zero disables reminders.
	RenotifyInterval time.Duration

	// NotifyAcknowledged controls whether acknowledged alerts still receive
	// reminder notifications.
	NotifyAcknowledged bool
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.TransitionRetries < 1 {
		out.TransitionRetries = 5
	}
	return out
}

// Deps carries the manager's collaborators.
type Deps struct {
	Alerts     store.AlertStore
	Attempts   store.AttemptStore
	Audit      *audit.Log
	Dispatcher *notify.Dispatcher

	// Channels receives all alert notifications. ResolveChannels is the
	// subset that also wants resolution events.
	Channels        []notify.Channel
	ResolveChannels []notify.Channel

	Detector *detect.Detector
	Logger   *slog.Logger
}

// Manager applies breach signals and security candidates to alert state.
// Safe for concurrent use; per-key linearizability is delegated to the
// store's compare-and-set writes.
type Manager struct {
	alerts          store.AlertStore
	attempts        store.AttemptStore
	audit           *audit.Log
	dispatcher      *notify.Dispatcher
	channels        []notify.Channel
	resolveChannels []notify.Channel
	detector        *detect.Detector
	logger          *slog.Logger
	opts            Options

	rulesMu sync.RWMutex
	rules   []*domain.ThresholdRule

	// deboarded resources have their samples dropped at evaluation time.
	// The set is process-local: force-resolution of open alerts is
	// persisted through the store, but sample dropping only applies on the
	// instance that served the deboard call.
	deboardMu sync.RWMutex
	deboarded map[string]struct{}

	// pendingAudit holds payloads whose append failed after the state write
	// had already committed. They are re-appended ahead of any later audit
	// write, so a replayed message restores the missing record even when
	// the replay itself takes a no-write path.
	pendingMu    sync.Mutex
	pendingAudit []audit.Payload

	// now is swapped out by tests to drive reminder cadence.
	now func() time.Time
}

// New creates a manager. Rules start empty; call SetRules after loading the
// rule file so config reloads and startup share one path.
func New(deps Deps, opts Options) *Manager {
	detector := deps.Detector
	if detector == nil {
		detector = detect.NewDefault()
	}
	return &Manager{
		alerts:          deps.Alerts,
		attempts:        deps.Attempts,
		audit:           deps.Audit,
		dispatcher:      deps.Dispatcher,
		channels:        deps.Channels,
		resolveChannels: deps.ResolveChannels,
		detector:        detector,
		logger:          deps.Logger,
		opts:            opts.withDefaults(),
		deboarded:       make(map[string]struct{}),
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// SetRules swaps the active rule set and detection patterns. Takes effect
// for subsequently evaluated samples only.
func (m *Manager) SetRules(rules []*domain.ThresholdRule, patterns []detect.Pattern) {
	m.rulesMu.Lock()
	m.rules = rules
	if patterns != nil {
		m.detector = detect.New(patterns)
	}
	m.rulesMu.Unlock()
}

// Rules returns the active rule set.
func (m *Manager) Rules() []*domain.ThresholdRule {
	m.rulesMu.RLock()
	defer m.rulesMu.RUnlock()
	return m.rules
}

// HandleSample evaluates one metric sample against every applicable rule and
// applies the resulting transitions.
func (m *Manager) HandleSample(ctx context.Context, sample *domain.MetricSample) error {
	start := time.Now()

	if err := sample.Validate(); err != nil {
		metrics.SamplesProcessedTotal.WithLabelValues("invalid").Inc()
		return fmt.Errorf("invalid sample: %w", err)
	}
	if m.isDeboarded(sample.ResourceID) {
		metrics.SamplesProcessedTotal.WithLabelValues("dropped").Inc()
		m.logger.Debug("dropping sample for deboarded resource", "resourceID", sample.ResourceID)
		return nil
	}

	// A replayed message may find its transition already applied, so any
	// audit record it left behind must be restored before evaluation.
	if err := m.flushParkedAudit(ctx); err != nil {
		metrics.SamplesProcessedTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to restore parked audit records: %w", err)
	}

	for _, rule := range evaluate.Match(m.Rules(), sample) {
		signal := evaluate.Evaluate(sample, rule)
		if err := m.applySignal(ctx, sample, signal); err != nil {
			metrics.SamplesProcessedTotal.WithLabelValues("error").Inc()
			m.logger.Error("failed to apply breach signal, sample dropped",
				"resourceID", sample.ResourceID, "ruleID", rule.ID, "error", err)
			return err
		}
	}

	metrics.SamplesProcessedTotal.WithLabelValues("ok").Inc()
	metrics.SampleProcessingLatency.Observe(time.Since(start).Seconds())
	return nil
}

// HandleSecurityRecord classifies one security record and raises a security
// alert for every matched pattern. Records that match nothing are ignored.
func (m *Manager) HandleSecurityRecord(ctx context.Context, record *domain.SecurityRecord) error {
	if err := record.Validate(); err != nil {
		metrics.SamplesProcessedTotal.WithLabelValues("invalid").Inc()
		return fmt.Errorf("invalid security record: %w", err)
	}
	if m.isDeboarded(record.ResourceID) {
		metrics.SamplesProcessedTotal.WithLabelValues("dropped").Inc()
		m.logger.Debug("dropping security record for deboarded resource", "resourceID", record.ResourceID)
		return nil
	}

	if err := m.flushParkedAudit(ctx); err != nil {
		metrics.SamplesProcessedTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to restore parked audit records: %w", err)
	}

	m.rulesMu.RLock()
	detector := m.detector
	m.rulesMu.RUnlock()

	for _, candidate := range detector.Classify(record) {
		if err := m.applyCandidate(ctx, candidate); err != nil {
			metrics.SamplesProcessedTotal.WithLabelValues("error").Inc()
			m.logger.Error("failed to apply security candidate",
				"resourceID", record.ResourceID, "eventType", candidate.EventType, "error", err)
			return err
		}
	}

	metrics.SamplesProcessedTotal.WithLabelValues("ok").Inc()
	return nil
}

// applySignal runs the read-decide-write loop for one breach signal.
func (m *Manager) applySignal(ctx context.Context, sample *domain.MetricSample, signal evaluate.BreachSignal) error {
	rule := signal.Rule

	for attempt := 0; attempt < m.opts.TransitionRetries; attempt++ {
		current, err := m.alerts.Get(ctx, sample.ResourceID, rule.ID)
		if err != nil {
			return fmt.Errorf("failed to read alert state: %w", err)
		}

		next, expected, transition := m.decide(current, sample, signal)
		if next == nil {
			return nil
		}

		stored, err := m.alerts.Upsert(ctx, next, expected)
		if errors.Is(err, domain.ErrVersionConflict) {
			metrics.TransitionConflictsTotal.Inc()
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to write alert state: %w", err)
		}

		switch transition {
		case domain.TransitionRaised:
			metrics.AlertsOpenedTotal.WithLabelValues(string(stored.Kind), string(stored.Severity)).Inc()
			metrics.OpenAlerts.WithLabelValues(string(stored.Kind)).Inc()
			return m.commit(ctx, stored, transition, "system", map[string]string{
				"value":     formatFloat(signal.Value),
				"threshold": formatFloat(signal.Threshold),
			}, m.channels)

		case domain.TransitionCleared:
			metrics.AlertsResolvedTotal.WithLabelValues(string(stored.Kind), domain.ResolveReasonCleared).Inc()
			metrics.OpenAlerts.WithLabelValues(string(stored.Kind)).Dec()
			return m.commit(ctx, stored, transition, "system", map[string]string{
				"value": formatFloat(signal.Value),
			}, m.resolveChannels)

		case domain.TransitionRenotified:
			return m.remind(ctx, stored)

		default:
			return nil
		}
	}

	return fmt.Errorf("%w for %s/%s", ErrRetriesExhausted, sample.ResourceID, rule.ID)
}

// decide computes the next alert record for a signal. Returns nil when no
// write is needed. The returned transition is empty for metadata-only writes.
func (m *Manager) decide(current *domain.Alert, sample *domain.MetricSample, signal evaluate.BreachSignal) (*domain.Alert, int64, domain.Transition) {
	now := m.now()
	rule := signal.Rule

	if !signal.Breaching {
		if current == nil {
			return nil, 0, ""
		}
		next := *current
		next.ClearStreak++
		next.BreachStreak = 0
		next.LastSeenAt = sample.Timestamp
		next.LastValue = signal.Value
		next.UpdatedAt = now
		if next.IsOpen() && next.ClearStreak >= rule.CloseAfter {
			next.Resolve(now, domain.ResolveReasonCleared)
			return &next, current.Version, domain.TransitionCleared
		}
		return &next, current.Version, ""
	}

	if current == nil {
		next := m.newResourceAlert(sample, rule, now)
		next.BreachStreak = 1
		if next.BreachStreak >= rule.OpenAfter {
			next.Open(now)
			return next, 0, domain.TransitionRaised
		}
		return next, 0, ""
	}

	if current.IsOpen() {
		next := *current
		next.BreachStreak++
		next.ClearStreak = 0
		next.LastSeenAt = sample.Timestamp
		next.LastValue = signal.Value
		next.UpdatedAt = now
		if m.reminderDue(current, rule, now) {
			return &next, current.Version, domain.TransitionRenotified
		}
		return &next, current.Version, ""
	}

	// Tracker or resolved episode.
	streak := current.BreachStreak + 1
	if streak < rule.OpenAfter {
		next := *current
		next.BreachStreak = streak
		next.ClearStreak = 0
		next.LastSeenAt = sample.Timestamp
		next.LastValue = signal.Value
		next.UpdatedAt = now
		return &next, current.Version, ""
	}

	if current.OpenedAt.IsZero() {
		// Never-opened tracker crosses the threshold: it becomes the alert.
		next := *current
		next.BreachStreak = streak
		next.ClearStreak = 0
		next.LastSeenAt = sample.Timestamp
		next.LastValue = signal.Value
		next.Open(now)
		return &next, current.Version, domain.TransitionRaised
	}

	// A resolved episode re-opens as a fresh record with a fresh ID, so the
	// new episode's notifications are not suppressed by the old episode's
	// idempotency keys. The old record is superseded, not deleted.
	next := m.newResourceAlert(sample, rule, now)
	next.BreachStreak = streak
	next.Open(now)
	return next, 0, domain.TransitionRaised
}

func (m *Manager) newResourceAlert(sample *domain.MetricSample, rule *domain.ThresholdRule, now time.Time) *domain.Alert {
	return &domain.Alert{
		ID:         uuid.New().String(),
		ResourceID: sample.ResourceID,
		RuleID:     rule.ID,
		Kind:       domain.AlertKindResource,
		Severity:   rule.Severity,
		State:      domain.AlertStateResolved,
		Title:      fmt.Sprintf("%s on %s", rule.Name, sample.ResourceID),
		Description: fmt.Sprintf("%s %s %s (observed %s)",
			rule.Metric, rule.Comparator, formatFloat(rule.Threshold), formatFloat(sample.Value)),
		LastSeenAt: sample.Timestamp,
		LastValue:  sample.Value,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// applyCandidate raises or refreshes a security alert. Security alerts open
// on the first matching record and resolve only manually or by deboarding.
func (m *Manager) applyCandidate(ctx context.Context, candidate domain.SecurityCandidate) error {
	for attempt := 0; attempt < m.opts.TransitionRetries; attempt++ {
		now := m.now()
		current, err := m.alerts.Get(ctx, candidate.ResourceID, candidate.EventType)
		if err != nil {
			return fmt.Errorf("failed to read alert state: %w", err)
		}

		if current != nil && current.IsOpen() {
			next := *current
			next.BreachStreak++
			next.LastSeenAt = now
			next.UpdatedAt = now

			remind := m.securityReminderDue(current, now)
			stored, err := m.alerts.Upsert(ctx, &next, current.Version)
			if errors.Is(err, domain.ErrVersionConflict) {
				metrics.TransitionConflictsTotal.Inc()
				continue
			}
			if err != nil {
				return fmt.Errorf("failed to write alert state: %w", err)
			}
			if remind {
				return m.remind(ctx, stored)
			}
			return nil
		}

		next := &domain.Alert{
			ID:           uuid.New().String(),
			ResourceID:   candidate.ResourceID,
			RuleID:       candidate.EventType,
			Kind:         domain.AlertKindSecurity,
			Severity:     candidate.Severity,
			Title:        candidate.Summary,
			BreachStreak: 1,
			LastSeenAt:   now,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		next.Open(now)

		stored, err := m.alerts.Upsert(ctx, next, 0)
		if errors.Is(err, domain.ErrVersionConflict) {
			metrics.TransitionConflictsTotal.Inc()
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to write alert state: %w", err)
		}

		metrics.AlertsOpenedTotal.WithLabelValues(string(stored.Kind), string(stored.Severity)).Inc()
		metrics.OpenAlerts.WithLabelValues(string(stored.Kind)).Inc()
		return m.commit(ctx, stored, domain.TransitionRaised, "system", map[string]string{
			"event_type": candidate.EventType,
		}, m.channels)
	}

	return fmt.Errorf("%w for %s/%s", ErrRetriesExhausted, candidate.ResourceID, candidate.EventType)
}

// Acknowledge marks an open alert as seen by an operator. Acknowledging an
// already-acknowledged alert is a no-op; a resolved or unknown alert returns
// domain.ErrInvalidState and writes no audit record.
func (m *Manager) Acknowledge(ctx context.Context, alertID, actor string) (*domain.Alert, error) {
	for attempt := 0; attempt < m.opts.TransitionRetries; attempt++ {
		current, err := m.alerts.GetByID(ctx, alertID)
		if errors.Is(err, domain.ErrAlertNotFound) {
			return nil, fmt.Errorf("%w: alert %s not found", domain.ErrInvalidState, alertID)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read alert: %w", err)
		}

		if current.State == domain.AlertStateAcknowledged {
			return current, nil
		}

		next := *current
		if err := next.Acknowledge(m.now()); err != nil {
			return nil, err
		}

		stored, err := m.alerts.Upsert(ctx, &next, current.Version)
		if errors.Is(err, domain.ErrVersionConflict) {
			metrics.TransitionConflictsTotal.Inc()
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to write alert state: %w", err)
		}

		if err := m.appendAudit(ctx, stored, domain.TransitionAcknowledged, actor, nil); err != nil {
			return nil, err
		}
		return stored, nil
	}
	return nil, fmt.Errorf("%w acknowledging %s", ErrRetriesExhausted, alertID)
}

// Resolve is the operator override: any non-resolved alert transitions to
// resolved. Resolving an already-resolved alert is a no-op.
func (m *Manager) Resolve(ctx context.Context, alertID, actor string) (*domain.Alert, error) {
	for attempt := 0; attempt < m.opts.TransitionRetries; attempt++ {
		current, err := m.alerts.GetByID(ctx, alertID)
		if err != nil {
			return nil, err
		}
		if current.IsResolved() {
			return current, nil
		}

		next := *current
		next.Resolve(m.now(), domain.ResolveReasonManual)

		stored, err := m.alerts.Upsert(ctx, &next, current.Version)
		if errors.Is(err, domain.ErrVersionConflict) {
			metrics.TransitionConflictsTotal.Inc()
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to write alert state: %w", err)
		}

		metrics.AlertsResolvedTotal.WithLabelValues(string(stored.Kind), domain.ResolveReasonManual).Inc()
		metrics.OpenAlerts.WithLabelValues(string(stored.Kind)).Dec()
		if err := m.commit(ctx, stored, domain.TransitionResolved, actor, nil, m.resolveChannels); err != nil {
			return nil, err
		}
		return stored, nil
	}
	return nil, fmt.Errorf("%w resolving %s", ErrRetriesExhausted, alertID)
}

// Deboard force-resolves every open alert for a resource and drops its
// subsequent samples. Returns the number of alerts resolved.
func (m *Manager) Deboard(ctx context.Context, resourceID, actor string) (int, error) {
	m.deboardMu.Lock()
	m.deboarded[resourceID] = struct{}{}
	m.deboardMu.Unlock()

	open, err := m.alerts.ListOpen(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list open alerts: %w", err)
	}

	resolved := 0
	for _, alert := range open {
		if alert.ResourceID != resourceID {
			continue
		}
		if err := m.deboardOne(ctx, alert.ID, actor); err != nil {
			return resolved, err
		}
		resolved++
	}
	return resolved, nil
}

func (m *Manager) deboardOne(ctx context.Context, alertID, actor string) error {
	for attempt := 0; attempt < m.opts.TransitionRetries; attempt++ {
		current, err := m.alerts.GetByID(ctx, alertID)
		if err != nil {
			return err
		}
		if current.IsResolved() {
			return nil
		}

		next := *current
		next.Resolve(m.now(), domain.ResolveReasonDeboarded)

		stored, err := m.alerts.Upsert(ctx, &next, current.Version)
		if errors.Is(err, domain.ErrVersionConflict) {
			metrics.TransitionConflictsTotal.Inc()
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to write alert state: %w", err)
		}

		metrics.AlertsResolvedTotal.WithLabelValues(string(stored.Kind), domain.ResolveReasonDeboarded).Inc()
		metrics.OpenAlerts.WithLabelValues(string(stored.Kind)).Dec()
		return m.commit(ctx, stored, domain.TransitionDeboarded, actor, nil, m.resolveChannels)
	}
	return fmt.Errorf("%w deboarding %s", ErrRetriesExhausted, alertID)
}

// Redeliver re-sends an alert's notification on demand, bypassing the
// original delivery's idempotency key.
func (m *Manager) Redeliver(ctx context.Context, alertID, actor string) (*domain.Alert, error) {
	alert, err := m.alerts.GetByID(ctx, alertID)
	if err != nil {
		return nil, err
	}

	if err := m.appendAudit(ctx, alert, domain.TransitionRedelivery, actor, nil); err != nil {
		return nil, err
	}

	salt := strconv.FormatInt(m.now().UnixNano(), 10)
	_, degraded := m.dispatcher.DeliverAgain(ctx, alert, domain.TransitionRedelivery, salt, m.channels)
	if degraded {
		m.markDegraded(ctx, alert.ID)
	}
	return alert, nil
}

// Attempts returns the notification attempt history for an alert.
func (m *Manager) Attempts(ctx context.Context, alertID string) ([]*domain.NotificationAttempt, error) {
	if _, err := m.alerts.GetByID(ctx, alertID); err != nil {
		return nil, err
	}
	return m.attempts.ListByAlert(ctx, alertID)
}

// commit finishes a state transition that is already persisted: it appends
// the audit record and, only once that is durable, dispatches notifications.
// An audit failure aborts processing before any notification goes out.
func (m *Manager) commit(ctx context.Context, alert *domain.Alert, transition domain.Transition, actor string, details map[string]string, channels []notify.Channel) error {
	if err := m.appendAudit(ctx, alert, transition, actor, details); err != nil {
		return err
	}
	if len(channels) == 0 {
		return nil
	}

	start := time.Now()
	attempts, degraded := m.dispatcher.Deliver(ctx, alert, transition, channels)
	metrics.NotificationLatency.Observe(time.Since(start).Seconds())

	m.recordDeliveries(ctx, alert, attempts)
	if degraded {
		m.markDegraded(ctx, alert.ID)
	}
	return nil
}

// remind sends an escalation reminder for a still-open alert. The reminder's
// idempotency salt is the previous notification epoch, so racing samples in
// the same window collapse to one send.
func (m *Manager) remind(ctx context.Context, alert *domain.Alert) error {
	if len(m.channels) == 0 {
		return nil
	}
	if err := m.appendAudit(ctx, alert, domain.TransitionRenotified, "system", nil); err != nil {
		return err
	}

	salt := strconv.FormatInt(lastNotifiedAt(alert).UnixNano(), 10)
	attempts, degraded := m.dispatcher.DeliverAgain(ctx, alert, domain.TransitionRenotified, salt, m.channels)

	m.recordDeliveries(ctx, alert, attempts)
	if degraded {
		m.markDegraded(ctx, alert.ID)
	}
	return nil
}

// appendAudit durably records a transition whose state write has already
// committed. Appends retry with the same bounded policy as store writes; a
// payload that still cannot be written is parked and re-appended before the
// next audit write, and the caller's error makes the queue redeliver the
// message so the park is drained.
func (m *Manager) appendAudit(ctx context.Context, alert *domain.Alert, transition domain.Transition, actor string, details map[string]string) error {
	payload := audit.Payload{
		Transition: transition,
		AlertID:    alert.ID,
		ResourceID: alert.ResourceID,
		RuleID:     alert.RuleID,
		Actor:      actor,
		Details:    details,
	}

	// Parked payloads go first to keep the chain in transition order.
	if err := m.flushParkedAudit(ctx); err != nil {
		m.parkAudit(payload)
		return fmt.Errorf("failed to write audit record for %s: %w", transition, err)
	}
	if err := m.appendPayload(ctx, payload); err != nil {
		m.parkAudit(payload)
		return fmt.Errorf("failed to write audit record for %s: %w", transition, err)
	}
	return nil
}

func (m *Manager) appendPayload(ctx context.Context, payload audit.Payload) error {
	var err error
	for attempt := 0; attempt < m.opts.TransitionRetries; attempt++ {
		if _, err = m.audit.Append(ctx, payload); err == nil {
			metrics.AuditRecordsTotal.WithLabelValues(string(payload.Transition)).Inc()
			return nil
		}
	}
	return err
}

func (m *Manager) parkAudit(payload audit.Payload) {
	m.pendingMu.Lock()
	m.pendingAudit = append(m.pendingAudit, payload)
	m.pendingMu.Unlock()
}

// flushParkedAudit re-appends payloads left behind by earlier audit failures,
// oldest first. Stops at the first payload that still cannot be written.
func (m *Manager) flushParkedAudit(ctx context.Context) error {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()

	for len(m.pendingAudit) > 0 {
		if err := m.appendPayload(ctx, m.pendingAudit[0]); err != nil {
			return err
		}
		m.pendingAudit = m.pendingAudit[1:]
	}
	return nil
}

// recordDeliveries stamps successful channel sends onto the alert record so
// reminder cadence survives restarts. Best effort: a conflict here just
// means another writer got there first.
func (m *Manager) recordDeliveries(ctx context.Context, alert *domain.Alert, attempts []*domain.NotificationAttempt) {
	now := m.now()
	succeeded := make(map[string]bool)
	for _, attempt := range attempts {
		if attempt.Outcome == domain.AttemptSuccess {
			succeeded[attempt.Channel] = true
		}
	}
	if len(succeeded) == 0 {
		return
	}

	current, err := m.alerts.GetByID(ctx, alert.ID)
	if err != nil {
		return
	}
	next := *current
	for channel := range succeeded {
		next.MarkNotified(channel, now)
	}
	if _, err := m.alerts.Upsert(ctx, &next, current.Version); err != nil {
		m.logger.Debug("skipping delivery timestamp update", "alertID", alert.ID, "error", err)
	}
}

// markDegraded flags an alert whose notification attempts were exhausted.
// The lifecycle state itself stays accurate.
func (m *Manager) markDegraded(ctx context.Context, alertID string) {
	for attempt := 0; attempt < m.opts.TransitionRetries; attempt++ {
		current, err := m.alerts.GetByID(ctx, alertID)
		if err != nil {
			m.logger.Error("failed to read alert for degraded marking", "alertID", alertID, "error", err)
			return
		}
		if current.DeliveryDegraded {
			return
		}

		next := *current
		next.DeliveryDegraded = true
		next.UpdatedAt = m.now()

		stored, err := m.alerts.Upsert(ctx, &next, current.Version)
		if errors.Is(err, domain.ErrVersionConflict) {
			metrics.TransitionConflictsTotal.Inc()
			continue
		}
		if err != nil {
			m.logger.Error("failed to mark alert delivery-degraded", "alertID", alertID, "error", err)
			return
		}

		metrics.DeliveryDegradedTotal.Inc()
		if err := m.appendAudit(ctx, stored, domain.TransitionDeliveryDegraded, "system", nil); err != nil {
			m.logger.Error("failed to audit delivery degradation", "alertID", alertID, "error", err)
		}
		return
	}
	m.logger.Error("gave up marking alert delivery-degraded", "alertID", alertID)
}

// reminderDue reports whether a further breach of an open alert should send
// an escalation reminder.
func (m *Manager) reminderDue(alert *domain.Alert, rule *domain.ThresholdRule, now time.Time) bool {
	interval := rule.RenotifyInterval
	if interval <= 0 {
		interval = m.opts.RenotifyInterval
	}
	return m.reminderDueAt(alert, interval, now)
}

func (m *Manager) securityReminderDue(alert *domain.Alert, now time.Time) bool {
	return m.reminderDueAt(alert, m.opts.RenotifyInterval, now)
}

func (m *Manager) reminderDueAt(alert *domain.Alert, interval time.Duration, now time.Time) bool {
	if interval <= 0 {
		return false
	}
	if alert.State == domain.AlertStateAcknowledged && !m.opts.NotifyAcknowledged {
		return false
	}
	return now.Sub(lastNotifiedAt(alert)) >= interval
}

// lastNotifiedAt is the most recent successful delivery across channels,
// falling back to the open time when nothing has been delivered yet.
func lastNotifiedAt(alert *domain.Alert) time.Time {
	last := alert.OpenedAt
	for _, at := range alert.LastNotifiedAt {
		if at.After(last) {
			last = at
		}
	}
	return last
}

func (m *Manager) isDeboarded(resourceID string) bool {
	m.deboardMu.RLock()
	defer m.deboardMu.RUnlock()
	_, ok := m.deboarded[resourceID]
	return ok
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
