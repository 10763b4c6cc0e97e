package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"
)

// EmailChannel delivers alerts as plaintext email over SMTP with STARTTLS.
type EmailChannel struct {
	name       string
	addr       string // host:port
	username   string
	password   string
	from       string
	recipients []string

	// send is swapped out by tests; defaults to smtp.SendMail.
	send func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailChannel creates an SMTP email channel.
func NewEmailChannel(name, addr, username, password, from string, recipients []string) *EmailChannel {
	return &EmailChannel{
		name:       name,
		addr:       addr,
		username:   username,
		password:   password,
		from:       from,
		recipients: recipients,
		send:       smtp.SendMail,
	}
}

// Name returns the channel's configured name.
func (c *EmailChannel) Name() string {
	return c.name
}

// Send formats the message as a plaintext email and submits it.
func (c *EmailChannel) Send(ctx context.Context, msg *Message) Outcome {
	if len(c.recipients) == 0 {
		return Permanent(fmt.Errorf("email channel %q has no recipients", c.name))
	}
	host, _, err := net.SplitHostPort(c.addr)
	if err != nil {
		return Permanent(fmt.Errorf("invalid smtp address %q: %w", c.addr, err))
	}

	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(string(msg.Severity)), msg.Title)
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", c.from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(c.recipients, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n\r\n", subject)
	b.WriteString(msg.Body)
	b.WriteString("\r\n")

	var auth smtp.Auth
	if c.username != "" {
		auth = smtp.PlainAuth("", c.username, c.password, host)
	}

	// smtp.SendMail has no context support; failures are transient and
	// bounded by the dispatcher's retry policy.
	if err := c.send(c.addr, auth, c.from, c.recipients, []byte(b.String())); err != nil {
		return Transient(fmt.Errorf("smtp send failed: %w", err))
	}
	return Success()
}
