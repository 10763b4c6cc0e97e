package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"vigil-go/internal/api"
	"vigil-go/internal/audit"
	"vigil-go/internal/config"
	"vigil-go/internal/domain"
	"vigil-go/internal/ingest"
	"vigil-go/internal/manager"
	"vigil-go/internal/notify"
	"vigil-go/internal/processor"
	memqueue "vigil-go/internal/queue/memory"
	memstore "vigil-go/internal/store/memory"
)

// recordingChannel is an always-succeeding notification channel that counts
// sends.
type recordingChannel struct {
	mu    sync.Mutex
	sends []*notify.Message
}

func (c *recordingChannel) Name() string { return "test-webhook" }

func (c *recordingChannel) Send(ctx context.Context, msg *notify.Message) notify.Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sends = append(c.sends, msg)
	return notify.Success()
}

func (c *recordingChannel) sendCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sends)
}

// stack is the full in-process application: HTTP API in front, queue and
// evaluation pipeline behind, everything on memory backends.
type stack struct {
	server  *api.Server
	mgr     *manager.Manager
	queue   *memqueue.Queue
	channel *recordingChannel
	cancel  context.CancelFunc
	done    chan struct{}
}

func newStack(rules ...*domain.ThresholdRule) *stack {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	alerts := memstore.NewAlertStore()
	attempts := memstore.NewAttemptStore()

	auditLog, err := audit.NewLog(context.Background(), audit.NewMemoryBackend())
	Expect(err).NotTo(HaveOccurred())

	channel := &recordingChannel{}
	dispatcher := notify.NewDispatcher(attempts, notify.Options{
		MaxAttempts: 2,
		BackoffBase: time.Millisecond,
		SendTimeout: time.Second,
	}, logger)

	mgr := manager.New(manager.Deps{
		Alerts:          alerts,
		Attempts:        attempts,
		Audit:           auditLog,
		Dispatcher:      dispatcher,
		Channels:        []notify.Channel{channel},
		ResolveChannels: []notify.Channel{channel},
		Logger:          logger,
	}, manager.Options{})
	mgr.SetRules(rules, nil)

	q := memqueue.NewQueue(256)
	proc := processor.NewService(q, mgr, logger)

	server := api.NewServer(api.ServerDeps{
		Config: &config.ServerConfig{
			Host:         "127.0.0.1",
			Port:         0,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
			IdleTimeout:  5 * time.Second,
		},
		Logger:          logger,
		Health:          proc,
		LagBound:        30 * time.Second,
		IngestHandler:   api.NewIngestHandler(ingest.NewService(q, logger), logger),
		AlertHandler:    api.NewAlertHandler(alerts, mgr, logger),
		AuditHandler:    api.NewAuditHandler(auditLog, logger),
		ResourceHandler: api.NewResourceHandler(mgr, logger),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = proc.Start(ctx)
	}()

	return &stack{
		server:  server,
		mgr:     mgr,
		queue:   q,
		channel: channel,
		cancel:  cancel,
		done:    done,
	}
}

func (s *stack) stop() {
	s.cancel()
	_ = s.queue.Close()
	Eventually(s.done, 2*time.Second).Should(BeClosed())
}

// do performs an in-process HTTP request against the API.
func (s *stack) do(method, path string, body interface{}) *http.Response {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, path, reader)
	Expect(err).NotTo(HaveOccurred())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.server.App().Test(req, 5000)
	Expect(err).NotTo(HaveOccurred())
	return resp
}

// decode parses the standard response envelope and returns the data field.
func decode(resp *http.Response) interface{} {
	defer resp.Body.Close()
	var envelope map[string]interface{}
	Expect(json.NewDecoder(resp.Body).Decode(&envelope)).To(Succeed())
	return envelope["data"]
}

// listAlerts queries /v1/alerts with the given parameters.
func (s *stack) listAlerts(params url.Values) []interface{} {
	resp := s.do("GET", "/v1/alerts?"+params.Encode(), nil)
	Expect(resp.StatusCode).To(Equal(http.StatusOK))
	data, _ := decode(resp).([]interface{})
	return data
}

func cpuRule() *domain.ThresholdRule {
	return &domain.ThresholdRule{
		ID:           "cpu-high",
		Name:         "High CPU utilization",
		ResourceType: "ec2",
		Metric:       "cpu_utilization",
		Comparator:   domain.ComparatorGTE,
		Threshold:    90,
		OpenAfter:    3,
		CloseAfter:   2,
		Severity:     domain.SeverityWarning,
	}
}

func sample(resourceID string, value float64) map[string]interface{} {
	return map[string]interface{}{
		"resource_id":   resourceID,
		"resource_type": "ec2",
		"metric":        "cpu_utilization",
		"value":         value,
		"timestamp":     time.Now().UTC().Format(time.RFC3339Nano),
	}
}

var _ = Describe("Threshold alert lifecycle", Ordered, func() {
	var (
		s       *stack
		alertID string
	)

	BeforeAll(func() {
		s = newStack(cpuRule())
	})

	AfterAll(func() {
		s.stop()
	})

	It("accepts breaching samples and opens an alert after the streak", func() {
		for _, v := range []float64{92, 95, 91} {
			resp := s.do("POST", "/v1/samples", sample("i-0abc", v))
			Expect(resp.StatusCode).To(Equal(http.StatusAccepted))
			resp.Body.Close()
		}

		Eventually(func() int {
			return len(s.listAlerts(url.Values{"state": {"open"}}))
		}, 5*time.Second, 20*time.Millisecond).Should(Equal(1))

		alert := s.listAlerts(url.Values{"state": {"open"}})[0].(map[string]interface{})
		alertID = alert["id"].(string)
		Expect(alert["resource_id"]).To(Equal("i-0abc"))
		Expect(alert["rule_id"]).To(Equal("cpu-high"))
		Expect(alert["kind"]).To(Equal("resource"))
		Expect(alert["severity"]).To(Equal("warning"))
	})

	It("notifies the channel exactly once for the raise", func() {
		Eventually(s.channel.sendCount, 2*time.Second).Should(Equal(1))
		Consistently(s.channel.sendCount, 200*time.Millisecond).Should(Equal(1))
	})

	It("acknowledges the alert and tolerates repeated acknowledgement", func() {
		resp := s.do("POST", "/v1/alerts/"+alertID+"/acknowledge", map[string]string{"actor": "alice"})
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		alert := decode(resp).(map[string]interface{})
		Expect(alert["state"]).To(Equal("acknowledged"))

		resp = s.do("POST", "/v1/alerts/"+alertID+"/acknowledge", map[string]string{"actor": "alice"})
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		resp.Body.Close()
	})

	It("resolves the alert after the clear streak", func() {
		for _, v := range []float64{40, 35} {
			resp := s.do("POST", "/v1/samples", sample("i-0abc", v))
			Expect(resp.StatusCode).To(Equal(http.StatusAccepted))
			resp.Body.Close()
		}

		Eventually(func() string {
			resp := s.do("GET", "/v1/alerts/"+alertID, nil)
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return ""
			}
			var envelope map[string]interface{}
			if json.NewDecoder(resp.Body).Decode(&envelope) != nil {
				return ""
			}
			alert := envelope["data"].(map[string]interface{})
			state, _ := alert["state"].(string)
			return state
		}, 5*time.Second, 20*time.Millisecond).Should(Equal("resolved"))

		resp := s.do("GET", "/v1/alerts/"+alertID, nil)
		alert := decode(resp).(map[string]interface{})
		Expect(alert["resolve_reason"]).To(Equal("cleared"))
	})

	It("rejects acknowledging the resolved alert", func() {
		resp := s.do("POST", "/v1/alerts/"+alertID+"/acknowledge", nil)
		Expect(resp.StatusCode).To(Equal(http.StatusConflict))
		resp.Body.Close()
	})

	It("records the lifecycle in a verifiable audit chain", func() {
		resp := s.do("GET", "/v1/audit/verify", nil)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		result := decode(resp).(map[string]interface{})
		Expect(result["intact"]).To(BeTrue())

		resp = s.do("GET", "/v1/audit", nil)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		records, _ := decode(resp).([]interface{})

		var transitions []string
		for _, r := range records {
			payload := r.(map[string]interface{})["payload"].(map[string]interface{})
			transitions = append(transitions, payload["transition"].(string))
		}
		Expect(transitions).To(ContainElements("raised", "acknowledged", "cleared"))
	})

	It("exposes the notification attempt history", func() {
		resp := s.do("GET", "/v1/alerts/"+alertID+"/attempts", nil)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		attempts, _ := decode(resp).([]interface{})
		Expect(len(attempts)).To(BeNumerically(">=", 1))
	})
})

var _ = Describe("Security record detection", Ordered, func() {
	var s *stack

	BeforeAll(func() {
		s = newStack()
	})

	AfterAll(func() {
		s.stop()
	})

	record := map[string]interface{}{
		"resource_id": "bucket-logs",
		"source":      "cloudtrail",
		"action":      "s3:GetObject",
		"actor":       "external-user",
		"outcome":     "denied",
		"timestamp":   time.Now().UTC().Format(time.RFC3339Nano),
	}

	It("opens a critical security alert for a denied access", func() {
		resp := s.do("POST", "/v1/security-records", record)
		Expect(resp.StatusCode).To(Equal(http.StatusAccepted))
		resp.Body.Close()

		Eventually(func() int {
			return len(s.listAlerts(url.Values{"kind": {"security"}}))
		}, 5*time.Second, 20*time.Millisecond).Should(Equal(1))

		alert := s.listAlerts(url.Values{"kind": {"security"}})[0].(map[string]interface{})
		Expect(alert["state"]).To(Equal("open"))
		Expect(alert["severity"]).To(Equal("critical"))
		Expect(alert["rule_id"]).To(Equal("unauthorized_access"))
	})

	It("refreshes the open alert instead of raising again on duplicates", func() {
		before := s.channel.sendCount()

		resp := s.do("POST", "/v1/security-records", record)
		Expect(resp.StatusCode).To(Equal(http.StatusAccepted))
		resp.Body.Close()

		Consistently(func() int {
			return len(s.listAlerts(url.Values{"kind": {"security"}}))
		}, 300*time.Millisecond).Should(Equal(1))
		Expect(s.channel.sendCount()).To(Equal(before))
	})
})

var _ = Describe("Resource deboarding", Ordered, func() {
	var s *stack

	BeforeAll(func() {
		rule := cpuRule()
		rule.OpenAfter = 1
		s = newStack(rule)
	})

	AfterAll(func() {
		s.stop()
	})

	It("force-resolves open alerts for the resource", func() {
		resp := s.do("POST", "/v1/samples", sample("i-gone", 99))
		Expect(resp.StatusCode).To(Equal(http.StatusAccepted))
		resp.Body.Close()

		Eventually(func() int {
			return len(s.listAlerts(url.Values{"state": {"open"}}))
		}, 5*time.Second, 20*time.Millisecond).Should(Equal(1))

		resp = s.do("POST", "/v1/resources/i-gone/deboard", map[string]string{"actor": "offboarding"})
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		result := decode(resp).(map[string]interface{})
		Expect(result["alerts_resolved"]).To(BeNumerically("==", 1))

		alerts := s.listAlerts(url.Values{"resource_id": {"i-gone"}})
		Expect(alerts).To(HaveLen(1))
		alert := alerts[0].(map[string]interface{})
		Expect(alert["state"]).To(Equal("resolved"))
		Expect(alert["resolve_reason"]).To(Equal("deboarded"))
	})

	It("drops subsequent samples for the deboarded resource", func() {
		resp := s.do("POST", "/v1/samples", sample("i-gone", 99))
		Expect(resp.StatusCode).To(Equal(http.StatusAccepted))
		resp.Body.Close()

		Consistently(func() int {
			return len(s.listAlerts(url.Values{"state": {"open"}}))
		}, 300*time.Millisecond).Should(BeZero())
	})
})

var _ = Describe("Ingestion validation and health", func() {
	var s *stack

	BeforeEach(func() {
		s = newStack(cpuRule())
	})

	AfterEach(func() {
		s.stop()
	})

	It("rejects samples missing required fields", func() {
		resp := s.do("POST", "/v1/samples", map[string]interface{}{
			"resource_type": "ec2",
			"metric":        "cpu_utilization",
			"value":         50,
		})
		Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		resp.Body.Close()
	})

	It("rejects security records without an action", func() {
		resp := s.do("POST", "/v1/security-records", map[string]interface{}{
			"resource_id": "bucket-logs",
		})
		Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		resp.Body.Close()
	})

	It("reports healthy while the pipeline keeps up", func() {
		resp := s.do("GET", "/healthz", nil)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		result := decode(resp).(map[string]interface{})
		Expect(result["status"]).To(Equal("healthy"))
	})

	It("lists the recognized security event types", func() {
		resp := s.do("GET", "/v1/security-event-types", nil)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		types, _ := decode(resp).([]interface{})
		Expect(types).To(ContainElement("unauthorized_access"))
	})
})
