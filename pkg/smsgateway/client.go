// Package smsgateway is a small client for JSON-over-HTTP messaging gateways
// used for SMS and WhatsApp delivery.
package smsgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client posts messages to one gateway endpoint.
type Client struct {
	endpoint string
	token    string
	from     string
	channel  string
	client   *http.Client
}

// NewClient creates a client. channel is sent along so one gateway can serve
// both SMS and WhatsApp.
func NewClient(endpoint, token, from, channel string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		token:    token,
		from:     from,
		channel:  channel,
		client:   &http.Client{Timeout: timeout},
	}
}

type sendRequest struct {
	Channel string `json:"channel"`
	From    string `json:"from,omitempty"`
	To      string `json:"to"`
	Text    string `json:"text"`
}

// Send delivers text to the E.164 number to. Any non-2xx answer is an error.
func (c *Client) Send(ctx context.Context, to, text string) error {
	body, err := json.Marshal(sendRequest{Channel: c.channel, From: c.from, To: to, Text: text})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s gateway error: %s: %s", c.channel, resp.Status, bytes.TrimSpace(detail))
	}
	return nil
}
