package manager

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"vigil-go/internal/audit"
	"vigil-go/internal/domain"
	"vigil-go/internal/notify"
	"vigil-go/internal/store/memory"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeChannel counts external sends. An optional script controls the outcome
// of each send by its 1-based sequence number.
type fakeChannel struct {
	mu     sync.Mutex
	name   string
	sends  int
	script func(n int) notify.Outcome
}

func (c *fakeChannel) Name() string { return c.name }

func (c *fakeChannel) Send(ctx context.Context, msg *notify.Message) notify.Outcome {
	c.mu.Lock()
	c.sends++
	n := c.sends
	script := c.script
	c.mu.Unlock()

	if script != nil {
		return script(n)
	}
	return notify.Success()
}

func (c *fakeChannel) Sends() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sends
}

type testEnv struct {
	mgr      *Manager
	alerts   *memory.AlertStore
	attempts *memory.AttemptStore
	backend  *audit.MemoryBackend
	channel  *fakeChannel
	clock    *fakeClock
}

func newTestEnv(t *testing.T, opts Options, rules ...*domain.ThresholdRule) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	alerts := memory.NewAlertStore()
	attempts := memory.NewAttemptStore()
	backend := audit.NewMemoryBackend()

	log, err := audit.NewLog(context.Background(), backend)
	if err != nil {
		t.Fatalf("NewLog error: %v", err)
	}

	channel := &fakeChannel{name: "test-channel"}
	dispatcher := notify.NewDispatcher(attempts, notify.Options{
		MaxAttempts: 2,
		BackoffBase: time.Nanosecond,
	}, logger)

	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	mgr := New(Deps{
		Alerts:     alerts,
		Attempts:   attempts,
		Audit:      log,
		Dispatcher: dispatcher,
		Channels:   []notify.Channel{channel},
		Logger:     logger,
	}, opts)
	mgr.now = clock.Now
	mgr.SetRules(rules, nil)

	return &testEnv{mgr: mgr, alerts: alerts, attempts: attempts, backend: backend, channel: channel, clock: clock}
}

func cpuRule(openAfter, closeAfter int) *domain.ThresholdRule {
	return &domain.ThresholdRule{
		ID:           "cpu-high",
		Name:         "High CPU",
		ResourceType: "ec2",
		Metric:       "cpu_utilization",
		Comparator:   domain.ComparatorGTE,
		Threshold:    80,
		OpenAfter:    openAfter,
		CloseAfter:   closeAfter,
		Severity:     domain.SeverityWarning,
	}
}

func (e *testEnv) sample(value float64) *domain.MetricSample {
	return &domain.MetricSample{
		ResourceID:   "i-0abc",
		ResourceType: "ec2",
		Metric:       "cpu_utilization",
		Value:        value,
		Timestamp:    e.clock.Now(),
	}
}

func (e *testEnv) feed(t *testing.T, values ...float64) {
	t.Helper()
	for _, v := range values {
		if err := e.mgr.HandleSample(context.Background(), e.sample(v)); err != nil {
			t.Fatalf("HandleSample(%v) error: %v", v, err)
		}
	}
}

func (e *testEnv) auditTransitions(t *testing.T) []domain.Transition {
	t.Helper()
	records, err := e.backend.Range(context.Background(), 1, 0)
	if err != nil {
		t.Fatalf("audit Range error: %v", err)
	}
	transitions := make([]domain.Transition, 0, len(records))
	for _, r := range records {
		transitions = append(transitions, r.Payload.Transition)
	}
	return transitions
}

func (e *testEnv) current(t *testing.T) *domain.Alert {
	t.Helper()
	alert, err := e.alerts.Get(context.Background(), "i-0abc", "cpu-high")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	return alert
}

func TestHandleSample_HysteresisLifecycle(t *testing.T) {
	env := newTestEnv(t, Options{}, cpuRule(3, 2))

	env.feed(t, 90, 95)
	if alert := env.current(t); alert == nil || alert.IsOpen() {
		t.Fatalf("alert open after 2 breaches, want tracker only: %+v", alert)
	}

	env.feed(t, 91)
	alert := env.current(t)
	if alert == nil || alert.State != domain.AlertStateOpen {
		t.Fatalf("alert state after 3rd breach = %+v, want open", alert)
	}
	if alert.BreachStreak != 3 {
		t.Errorf("BreachStreak = %d, want 3", alert.BreachStreak)
	}

	env.feed(t, 50)
	if alert := env.current(t); !alert.IsOpen() {
		t.Fatal("alert resolved after 1 clear sample, want 2 required")
	}

	env.feed(t, 40)
	alert = env.current(t)
	if alert.State != domain.AlertStateResolved {
		t.Fatalf("state after 2nd clear = %v, want resolved", alert.State)
	}
	if alert.ResolveReason != domain.ResolveReasonCleared {
		t.Errorf("ResolveReason = %q, want cleared", alert.ResolveReason)
	}

	got := env.auditTransitions(t)
	want := []domain.Transition{domain.TransitionRaised, domain.TransitionCleared}
	if len(got) != len(want) {
		t.Fatalf("audit transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("audit transitions = %v, want %v", got, want)
		}
	}

	// No resolve channels configured: exactly the one raised notification.
	if env.channel.Sends() != 1 {
		t.Errorf("external sends = %d, want 1", env.channel.Sends())
	}
}

func TestHandleSample_ExactlyOneRaised(t *testing.T) {
	env := newTestEnv(t, Options{}, cpuRule(1, 1))

	env.feed(t, 90, 91, 92, 93, 94)

	raised := 0
	for _, tr := range env.auditTransitions(t) {
		if tr == domain.TransitionRaised {
			raised++
		}
	}
	if raised != 1 {
		t.Errorf("raised audit records = %d, want 1", raised)
	}
	if env.channel.Sends() != 1 {
		t.Errorf("external sends = %d, want 1", env.channel.Sends())
	}

	alert := env.current(t)
	if alert.State != domain.AlertStateOpen || alert.BreachStreak != 5 {
		t.Errorf("alert = state %v streak %d, want open streak 5", alert.State, alert.BreachStreak)
	}
}

func TestHandleSample_ConcurrentSameKey(t *testing.T) {
	env := newTestEnv(t, Options{TransitionRetries: 20}, cpuRule(1, 1))

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- env.mgr.HandleSample(context.Background(), env.sample(95))
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("HandleSample error surfaced to caller: %v", err)
		}
	}

	raised := 0
	for _, tr := range env.auditTransitions(t) {
		if tr == domain.TransitionRaised {
			raised++
		}
	}
	if raised != 1 {
		t.Errorf("raised audit records = %d, want 1", raised)
	}

	open, err := env.alerts.ListOpen(context.Background())
	if err != nil {
		t.Fatalf("ListOpen error: %v", err)
	}
	if len(open) != 1 {
		t.Errorf("open alerts = %d, want 1", len(open))
	}
	if env.channel.Sends() != 1 {
		t.Errorf("external sends = %d, want 1", env.channel.Sends())
	}
}

func TestHandleSample_ReopenIsNewEpisode(t *testing.T) {
	env := newTestEnv(t, Options{}, cpuRule(1, 1))

	env.feed(t, 90)
	first := env.current(t)

	env.feed(t, 10)
	env.feed(t, 95)
	second := env.current(t)

	if second.ID == first.ID {
		t.Error("re-opened alert reused the resolved episode's ID")
	}
	if second.State != domain.AlertStateOpen {
		t.Errorf("second episode state = %v, want open", second.State)
	}

	// Fresh episode means a fresh idempotency key: both raises notify.
	if env.channel.Sends() != 2 {
		t.Errorf("external sends = %d, want 2", env.channel.Sends())
	}

	got, err := env.alerts.GetByID(context.Background(), first.ID)
	if err != nil {
		t.Fatalf("superseded episode lost: %v", err)
	}
	if got.State != domain.AlertStateResolved {
		t.Errorf("superseded episode state = %v, want resolved", got.State)
	}
}

func TestAcknowledge(t *testing.T) {
	env := newTestEnv(t, Options{}, cpuRule(1, 1))
	env.feed(t, 90)
	alert := env.current(t)

	acked, err := env.mgr.Acknowledge(context.Background(), alert.ID, "alice")
	if err != nil {
		t.Fatalf("Acknowledge error: %v", err)
	}
	if acked.State != domain.AlertStateAcknowledged {
		t.Errorf("state = %v, want acknowledged", acked.State)
	}

	// Idempotent: the second acknowledge writes no further audit record.
	if _, err := env.mgr.Acknowledge(context.Background(), alert.ID, "alice"); err != nil {
		t.Fatalf("repeat Acknowledge error: %v", err)
	}

	ackRecords := 0
	for _, tr := range env.auditTransitions(t) {
		if tr == domain.TransitionAcknowledged {
			ackRecords++
		}
	}
	if ackRecords != 1 {
		t.Errorf("acknowledged audit records = %d, want 1", ackRecords)
	}
}

func TestAcknowledge_ResolvedReturnsInvalidState(t *testing.T) {
	env := newTestEnv(t, Options{}, cpuRule(1, 1))
	env.feed(t, 90)
	alert := env.current(t)
	env.feed(t, 10)

	before := len(env.auditTransitions(t))
	if _, err := env.mgr.Acknowledge(context.Background(), alert.ID, "alice"); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("Acknowledge on resolved = %v, want ErrInvalidState", err)
	}
	if after := len(env.auditTransitions(t)); after != before {
		t.Errorf("audit records grew from %d to %d on rejected acknowledge", before, after)
	}
}

func TestAcknowledge_AbsentReturnsInvalidState(t *testing.T) {
	env := newTestEnv(t, Options{}, cpuRule(1, 1))

	if _, err := env.mgr.Acknowledge(context.Background(), "no-such-alert", "alice"); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("Acknowledge on absent = %v, want ErrInvalidState", err)
	}
}

func TestAcknowledgedAlertStillResolvesOnClearStreak(t *testing.T) {
	env := newTestEnv(t, Options{}, cpuRule(1, 1))
	env.feed(t, 90)
	alert := env.current(t)

	if _, err := env.mgr.Acknowledge(context.Background(), alert.ID, "alice"); err != nil {
		t.Fatalf("Acknowledge error: %v", err)
	}
	env.feed(t, 10)

	got := env.current(t)
	if got.State != domain.AlertStateResolved {
		t.Errorf("state = %v, want resolved despite acknowledgement", got.State)
	}
}

func TestResolve_ManualOverride(t *testing.T) {
	env := newTestEnv(t, Options{}, cpuRule(1, 1))
	env.feed(t, 90)
	alert := env.current(t)

	resolved, err := env.mgr.Resolve(context.Background(), alert.ID, "bob")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if resolved.State != domain.AlertStateResolved || resolved.ResolveReason != domain.ResolveReasonManual {
		t.Errorf("alert = state %v reason %q, want resolved/manual", resolved.State, resolved.ResolveReason)
	}

	// No-op on an already-resolved alert.
	if _, err := env.mgr.Resolve(context.Background(), alert.ID, "bob"); err != nil {
		t.Fatalf("repeat Resolve error: %v", err)
	}

	records, err := env.backend.Range(context.Background(), 1, 0)
	if err != nil {
		t.Fatalf("Range error: %v", err)
	}
	manual := 0
	for _, r := range records {
		if r.Payload.Transition == domain.TransitionResolved {
			manual++
			if r.Payload.Actor != "bob" {
				t.Errorf("resolved actor = %q, want bob", r.Payload.Actor)
			}
		}
	}
	if manual != 1 {
		t.Errorf("resolved audit records = %d, want 1", manual)
	}
}

func TestDeboard(t *testing.T) {
	diskRule := cpuRule(1, 1)
	diskRule.ID = "disk-full"
	diskRule.Metric = "disk_utilization"

	env := newTestEnv(t, Options{}, cpuRule(1, 1), diskRule)
	env.feed(t, 90) // opens cpu-high
	if err := env.mgr.HandleSample(context.Background(), &domain.MetricSample{
		ResourceID: "i-0abc", ResourceType: "ec2", Metric: "disk_utilization",
		Value: 99, Timestamp: env.clock.Now(),
	}); err != nil {
		t.Fatalf("HandleSample error: %v", err)
	}

	count, err := env.mgr.Deboard(context.Background(), "i-0abc", "carol")
	if err != nil {
		t.Fatalf("Deboard error: %v", err)
	}
	if count != 2 {
		t.Errorf("deboard resolved %d alerts, want 2", count)
	}

	open, err := env.alerts.ListOpen(context.Background())
	if err != nil {
		t.Fatalf("ListOpen error: %v", err)
	}
	if len(open) != 0 {
		t.Errorf("open alerts after deboard = %d, want 0", len(open))
	}

	deboarded := 0
	for _, tr := range env.auditTransitions(t) {
		if tr == domain.TransitionDeboarded {
			deboarded++
		}
	}
	if deboarded != 2 {
		t.Errorf("deboarded audit records = %d, want 2", deboarded)
	}

	// Subsequent samples for the resource are dropped without reopening.
	env.feed(t, 95)
	alert := env.current(t)
	if alert.IsOpen() {
		t.Error("sample for deboarded resource reopened an alert")
	}
}

func TestRenotify_IntervalElapsed(t *testing.T) {
	rule := cpuRule(1, 1)
	rule.RenotifyInterval = 10 * time.Minute

	env := newTestEnv(t, Options{}, rule)
	env.feed(t, 90)
	if env.channel.Sends() != 1 {
		t.Fatalf("sends after raise = %d, want 1", env.channel.Sends())
	}

	env.clock.Advance(5 * time.Minute)
	env.feed(t, 91)
	if env.channel.Sends() != 1 {
		t.Errorf("sends before interval elapsed = %d, want 1", env.channel.Sends())
	}

	env.clock.Advance(6 * time.Minute)
	env.feed(t, 92)
	if env.channel.Sends() != 2 {
		t.Errorf("sends after interval elapsed = %d, want 2", env.channel.Sends())
	}

	renotified := 0
	for _, tr := range env.auditTransitions(t) {
		if tr == domain.TransitionRenotified {
			renotified++
		}
	}
	if renotified != 1 {
		t.Errorf("renotified audit records = %d, want 1", renotified)
	}
}

func TestRenotify_AcknowledgedSuppression(t *testing.T) {
	for _, tc := range []struct {
		name               string
		notifyAcknowledged bool
		wantSends          int
	}{
		{name: "suppressed when disabled", notifyAcknowledged: false, wantSends: 1},
		{name: "delivered when enabled", notifyAcknowledged: true, wantSends: 2},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rule := cpuRule(1, 1)
			rule.RenotifyInterval = 10 * time.Minute

			env := newTestEnv(t, Options{NotifyAcknowledged: tc.notifyAcknowledged}, rule)
			env.feed(t, 90)
			alert := env.current(t)
			if _, err := env.mgr.Acknowledge(context.Background(), alert.ID, "alice"); err != nil {
				t.Fatalf("Acknowledge error: %v", err)
			}

			env.clock.Advance(11 * time.Minute)
			env.feed(t, 91)

			if env.channel.Sends() != tc.wantSends {
				t.Errorf("sends = %d, want %d", env.channel.Sends(), tc.wantSends)
			}
		})
	}
}

func TestHandleSecurityRecord(t *testing.T) {
	env := newTestEnv(t, Options{})

	record := &domain.SecurityRecord{
		ResourceID: "arn:aws:s3:::prod-data",
		Action:     "s3:GetObject",
		Actor:      "mallory",
		Outcome:    "denied",
		Timestamp:  env.clock.Now(),
	}
	if err := env.mgr.HandleSecurityRecord(context.Background(), record); err != nil {
		t.Fatalf("HandleSecurityRecord error: %v", err)
	}

	alert, err := env.alerts.Get(context.Background(), record.ResourceID, domain.SecurityEventUnauthorizedAccess)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if alert == nil || alert.State != domain.AlertStateOpen {
		t.Fatalf("security alert = %+v, want open", alert)
	}
	if alert.Kind != domain.AlertKindSecurity || alert.Severity != domain.SeverityCritical {
		t.Errorf("alert kind/severity = %v/%v, want security/critical", alert.Kind, alert.Severity)
	}

	// A second matching record refreshes the alert, no duplicate raise.
	if err := env.mgr.HandleSecurityRecord(context.Background(), record); err != nil {
		t.Fatalf("repeat HandleSecurityRecord error: %v", err)
	}

	raised := 0
	for _, tr := range env.auditTransitions(t) {
		if tr == domain.TransitionRaised {
			raised++
		}
	}
	if raised != 1 {
		t.Errorf("raised audit records = %d, want 1", raised)
	}
	if env.channel.Sends() != 1 {
		t.Errorf("external sends = %d, want 1", env.channel.Sends())
	}
}

func TestHandleSecurityRecord_NoMatchNoAlert(t *testing.T) {
	env := newTestEnv(t, Options{})

	record := &domain.SecurityRecord{
		ResourceID: "arn:aws:s3:::prod-data",
		Action:     "s3:GetObject",
		Outcome:    "success",
		Timestamp:  env.clock.Now(),
	}
	if err := env.mgr.HandleSecurityRecord(context.Background(), record); err != nil {
		t.Fatalf("HandleSecurityRecord error: %v", err)
	}

	if got := env.auditTransitions(t); len(got) != 0 {
		t.Errorf("audit records for unmatched record = %v, want none", got)
	}
}

func TestDeliveryDegraded(t *testing.T) {
	env := newTestEnv(t, Options{}, cpuRule(1, 1))
	env.channel.script = func(n int) notify.Outcome {
		return notify.Transient(errors.New("connection refused"))
	}

	env.feed(t, 90)

	alert := env.current(t)
	if alert.State != domain.AlertStateOpen {
		t.Errorf("state = %v, want open despite delivery failure", alert.State)
	}
	if !alert.DeliveryDegraded {
		t.Error("DeliveryDegraded = false, want true after exhausted attempts")
	}

	got := env.auditTransitions(t)
	want := []domain.Transition{domain.TransitionRaised, domain.TransitionDeliveryDegraded}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("audit transitions = %v, want %v", got, want)
	}
}

func TestRedeliver(t *testing.T) {
	env := newTestEnv(t, Options{}, cpuRule(1, 1))
	env.feed(t, 90)
	alert := env.current(t)

	if _, err := env.mgr.Redeliver(context.Background(), alert.ID, "alice"); err != nil {
		t.Fatalf("Redeliver error: %v", err)
	}

	// Redelivery bypasses the original raise's idempotency key.
	if env.channel.Sends() != 2 {
		t.Errorf("external sends = %d, want 2", env.channel.Sends())
	}

	redeliveries := 0
	for _, tr := range env.auditTransitions(t) {
		if tr == domain.TransitionRedelivery {
			redeliveries++
		}
	}
	if redeliveries != 1 {
		t.Errorf("redelivery audit records = %d, want 1", redeliveries)
	}
}

func TestAuditChainRemainsVerifiable(t *testing.T) {
	env := newTestEnv(t, Options{}, cpuRule(1, 1))
	env.feed(t, 90, 10, 95, 20)

	log, err := audit.NewLog(context.Background(), env.backend)
	if err != nil {
		t.Fatalf("NewLog error: %v", err)
	}
	if err := log.Verify(context.Background()); err != nil {
		t.Errorf("Verify error after lifecycle transitions: %v", err)
	}
}

// flakyAuditBackend fails appends while down, simulating an audit store
// outage after the alert write has already committed.
type flakyAuditBackend struct {
	*audit.MemoryBackend
	mu   sync.Mutex
	down bool
}

func (b *flakyAuditBackend) setDown(down bool) {
	b.mu.Lock()
	b.down = down
	b.mu.Unlock()
}

func (b *flakyAuditBackend) Append(ctx context.Context, record *audit.Record) error {
	b.mu.Lock()
	down := b.down
	b.mu.Unlock()
	if down {
		return errors.New("audit backend unavailable")
	}
	return b.MemoryBackend.Append(ctx, record)
}

func TestHandleSample_AuditOutageRestoredOnReplay(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	alerts := memory.NewAlertStore()
	attempts := memory.NewAttemptStore()
	backend := &flakyAuditBackend{MemoryBackend: audit.NewMemoryBackend()}

	log, err := audit.NewLog(context.Background(), backend)
	if err != nil {
		t.Fatalf("NewLog error: %v", err)
	}

	channel := &fakeChannel{name: "test-channel"}
	dispatcher := notify.NewDispatcher(attempts, notify.Options{
		MaxAttempts: 2,
		BackoffBase: time.Nanosecond,
	}, logger)
	mgr := New(Deps{
		Alerts:     alerts,
		Attempts:   attempts,
		Audit:      log,
		Dispatcher: dispatcher,
		Channels:   []notify.Channel{channel},
		Logger:     logger,
	}, Options{})
	mgr.SetRules([]*domain.ThresholdRule{cpuRule(1, 1)}, nil)

	ctx := context.Background()
	sample := &domain.MetricSample{
		ResourceID:   "i-0abc",
		ResourceType: "ec2",
		Metric:       "cpu_utilization",
		Value:        95,
		Timestamp:    time.Now().UTC(),
	}

	backend.setDown(true)
	if err := mgr.HandleSample(ctx, sample); err == nil {
		t.Fatal("HandleSample should surface the audit append failure")
	}

	// The state write committed before the audit outage.
	cur, err := alerts.Get(ctx, "i-0abc", "cpu-high")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if cur == nil || cur.State != domain.AlertStateOpen {
		t.Fatalf("alert = %+v, want open", cur)
	}

	// Nothing may be delivered until the audit record is durable.
	if channel.Sends() != 0 {
		t.Errorf("sends during audit outage = %d, want 0", channel.Sends())
	}

	// Queue redelivery replays the same sample after the backend recovers.
	// The alert is already open, so the replay itself writes no transition,
	// but it must restore the missing audit record.
	backend.setDown(false)
	if err := mgr.HandleSample(ctx, sample); err != nil {
		t.Fatalf("HandleSample replay error: %v", err)
	}

	records, err := backend.MemoryBackend.Range(ctx, 1, 0)
	if err != nil {
		t.Fatalf("audit Range error: %v", err)
	}
	raised := 0
	for _, r := range records {
		if r.Payload.Transition == domain.TransitionRaised {
			raised++
		}
	}
	if raised != 1 {
		t.Fatalf("raised audit records after replay = %d, want 1", raised)
	}

	if err := log.Verify(ctx); err != nil {
		t.Errorf("Verify error after recovery: %v", err)
	}
}

func TestHandleSample_AuditAppendRetriesTransientFailure(t *testing.T) {
	env := newTestEnv(t, Options{}, cpuRule(1, 1))

	// One transient append failure must be absorbed by the retry loop
	// without surfacing an error or losing the record.
	failures := 1
	env.mgr.audit = mustLog(t, &scriptedAuditBackend{
		MemoryBackend: env.backend,
		failures:      &failures,
	})

	env.feed(t, 95)

	transitions := env.auditTransitions(t)
	if len(transitions) != 1 || transitions[0] != domain.TransitionRaised {
		t.Fatalf("audit transitions = %v, want [raised]", transitions)
	}
	if env.channel.Sends() != 1 {
		t.Errorf("sends = %d, want 1", env.channel.Sends())
	}
}

// scriptedAuditBackend fails the first *failures appends, then recovers.
type scriptedAuditBackend struct {
	*audit.MemoryBackend
	mu       sync.Mutex
	failures *int
}

func (b *scriptedAuditBackend) Append(ctx context.Context, record *audit.Record) error {
	b.mu.Lock()
	if *b.failures > 0 {
		*b.failures--
		b.mu.Unlock()
		return errors.New("audit backend unavailable")
	}
	b.mu.Unlock()
	return b.MemoryBackend.Append(ctx, record)
}

func mustLog(t *testing.T, backend audit.Backend) *audit.Log {
	t.Helper()
	log, err := audit.NewLog(context.Background(), backend)
	if err != nil {
		t.Fatalf("NewLog error: %v", err)
	}
	return log
}

func TestHandleSample_ConcurrentTrackerUpdatesConverge(t *testing.T) {
	env := newTestEnv(t, Options{TransitionRetries: 20}, cpuRule(2, 1))

	// Two first-ever breaching samples race on creating the streak tracker.
	// Exactly one create may win; the loser must re-read and increment on
	// top, reaching the open threshold.
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := env.mgr.HandleSample(context.Background(), env.sample(95)); err != nil {
				t.Errorf("HandleSample error: %v", err)
			}
		}()
	}
	wg.Wait()

	alert := env.current(t)
	if alert == nil || alert.State != domain.AlertStateOpen {
		t.Fatalf("alert = %+v, want open after two concurrent breaches", alert)
	}
	if alert.BreachStreak != 2 {
		t.Errorf("BreachStreak = %d, want 2 (no update dropped)", alert.BreachStreak)
	}

	raised := 0
	for _, tr := range env.auditTransitions(t) {
		if tr == domain.TransitionRaised {
			raised++
		}
	}
	if raised != 1 {
		t.Errorf("raised audit records = %d, want 1", raised)
	}
	if env.channel.Sends() != 1 {
		t.Errorf("sends = %d, want 1", env.channel.Sends())
	}
}
