package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// WebhookChannel posts the message as JSON to a configured URL.
type WebhookChannel struct {
	name   string
	url    string
	client *http.Client
}

// NewWebhookChannel creates a webhook channel. The URL is validated on
// first send, not at construction, so a misconfigured channel surfaces as a
// PermanentFailure attempt rather than a startup error.
func NewWebhookChannel(name, rawURL string) *WebhookChannel {
	return &WebhookChannel{
		name:   name,
		url:    rawURL,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Name returns the channel's configured name.
func (c *WebhookChannel) Name() string {
	return c.name
}

// Send posts the message as a JSON document.
func (c *WebhookChannel) Send(ctx context.Context, msg *Message) Outcome {
	body, err := json.Marshal(msg)
	if err != nil {
		return Permanent(fmt.Errorf("failed to encode payload: %w", err))
	}
	return c.post(ctx, body)
}

func (c *WebhookChannel) post(ctx context.Context, body []byte) Outcome {
	if _, err := url.ParseRequestURI(c.url); err != nil {
		return Permanent(fmt.Errorf("invalid webhook url %q: %w", c.url, err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Permanent(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Transient(fmt.Errorf("webhook post failed: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return Success()
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return Transient(fmt.Errorf("webhook returned %d", resp.StatusCode))
	default:
		return Permanent(fmt.Errorf("webhook returned %d", resp.StatusCode))
	}
}

// SlackChannel delivers alerts to a Slack incoming webhook. The payload is
// the webhook "text" format rather than the generic JSON document.
type SlackChannel struct {
	WebhookChannel
}

// NewSlackChannel creates a Slack webhook channel.
func NewSlackChannel(name, webhookURL string) *SlackChannel {
	return &SlackChannel{WebhookChannel: *NewWebhookChannel(name, webhookURL)}
}

// Send posts the message in Slack webhook format.
func (c *SlackChannel) Send(ctx context.Context, msg *Message) Outcome {
	body, err := json.Marshal(map[string]string{
		"text": fmt.Sprintf("*[%s] %s*\n%s", msg.Severity, msg.Title, msg.Body),
	})
	if err != nil {
		return Permanent(fmt.Errorf("failed to encode payload: %w", err))
	}
	return c.post(ctx, body)
}
