// Package email sends plain-text mail over SMTP.
package email

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/mail.v2"
)

type dialer interface {
	DialAndSend(m ...*mail.Message) error
}

// Client sends mail through one SMTP relay.
type Client struct {
	from   string
	dialer dialer
}

// NewClient creates a client for the given relay. A zero timeout keeps the
// library default.
func NewClient(smtpHost string, smtpPort int, username, password, from string, timeout time.Duration) *Client {
	d := mail.NewDialer(smtpHost, smtpPort, username, password)
	if timeout > 0 {
		d.Timeout = timeout
	}
	d.StartTLSPolicy = mail.OpportunisticStartTLS
	return &Client{from: from, dialer: d}
}

// Send delivers one message. The SMTP exchange itself is not cancellable;
// ctx is checked before dialing.
func (c *Client) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.dialer.DialAndSend(c.build(to, subject, body)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (c *Client) build(to, subject, body string) *mail.Message {
	message := mail.NewMessage()
	message.SetHeader("From", c.from)
	message.SetHeader("To", to)
	message.SetHeader("Subject", subject)
	message.SetDateHeader("Date", time.Now())
	message.SetBody("text/plain", body)
	return message
}
