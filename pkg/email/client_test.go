package email

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/mail.v2"
)

type fakeDialer struct {
	sent []*mail.Message
	err  error
}

func (f *fakeDialer) DialAndSend(m ...*mail.Message) error {
	f.sent = append(f.sent, m...)
	return f.err
}

func TestClient_Send(t *testing.T) {
	d := &fakeDialer{}
	c := &Client{from: "helpdesk@uni.edu", dialer: d}

	require.NoError(t, c.Send(context.Background(), "ana@uni.edu", "[TCK-1] Resolved", "All done."))
	require.Len(t, d.sent, 1)

	var buf bytes.Buffer
	_, err := d.sent[0].WriteTo(&buf)
	require.NoError(t, err)
	raw := buf.String()
	assert.Contains(t, raw, "From: helpdesk@uni.edu")
	assert.Contains(t, raw, "To: ana@uni.edu")
	assert.Contains(t, raw, "Subject: [TCK-1] Resolved")
	assert.Contains(t, raw, "All done.")
}

func TestClient_SendErrors(t *testing.T) {
	d := &fakeDialer{err: errors.New("535 auth failed")}
	c := &Client{from: "helpdesk@uni.edu", dialer: d}
	assert.ErrorContains(t, c.Send(context.Background(), "ana@uni.edu", "s", "b"), "535")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.err = nil
	assert.ErrorIs(t, c.Send(ctx, "ana@uni.edu", "s", "b"), context.Canceled)
	assert.Len(t, d.sent, 1)
}
