package smsgateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Send(t *testing.T) {
	var got sendRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", "UniDesk", "sms", time.Second)
	require.NoError(t, c.Send(context.Background(), "+15551234567", "TCK-1 is RESOLVED"))

	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, sendRequest{Channel: "sms", From: "UniDesk", To: "+15551234567", Text: "TCK-1 is RESOLVED"}, got)
}

func TestClient_SendRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid destination", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "", "", "whatsapp", time.Second).Send(context.Background(), "+15551234567", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "whatsapp gateway error")
	assert.Contains(t, err.Error(), "invalid destination")
}

func TestClient_SendHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, NewClient(srv.URL, "", "", "sms", time.Second).Send(ctx, "+15551234567", "hi"))
}
