// Package realtime carries conversation envelopes between processes over
// Redis pub/sub.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/support-portal/internal/conversation"
)

const (
	channelPrefix = "support:ticket:"
	streamBuffer  = 32
)

type pubSubClient interface {
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisTransport implements conversation.PushTransport and conversation.Publisher.
type RedisTransport struct {
	client pubSubClient
	logger *zap.Logger
}

// NewRedisTransport wraps a go-redis client.
func NewRedisTransport(client pubSubClient, logger *zap.Logger) *RedisTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisTransport{client: client, logger: logger.Named("realtime")}
}

// Channel returns the pub/sub channel of a ticket.
func Channel(ticketID string) string {
	return channelPrefix + ticketID + ":conversation"
}

// Publish broadcasts env to every subscriber of the ticket.
func (t *RedisTransport) Publish(ctx context.Context, ticketID string, env conversation.Envelope) error {
	payload, err := Encode(env)
	if err != nil {
		return err
	}
	if err := t.client.Publish(ctx, Channel(ticketID), payload).Err(); err != nil {
		return fmt.Errorf("realtime: publish: %w", err)
	}
	return nil
}

// Subscribe confirms the subscription and then streams decoded envelopes
// until ctx ends or the subscription is closed.
func (t *RedisTransport) Subscribe(ctx context.Context, ticketID string) (<-chan conversation.Envelope, error) {
	ps := t.client.Subscribe(ctx, Channel(ticketID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("realtime: subscribe: %w", err)
	}

	out := make(chan conversation.Envelope, streamBuffer)
	go func() {
		defer close(out)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				env, err := Decode([]byte(m.Payload))
				if err != nil {
					t.logger.Warn("discarding malformed envelope", zap.String("channel", m.Channel), zap.Error(err))
					continue
				}
				select {
				case out <- env:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Encode serializes an envelope for the wire.
func Encode(env conversation.Envelope) ([]byte, error) {
	if (env.Message == nil) == (env.Typing == nil) {
		return nil, fmt.Errorf("realtime: envelope must carry exactly one of message or typing")
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("realtime: encode: %w", err)
	}
	return payload, nil
}

// Decode parses a wire envelope.
func Decode(payload []byte) (conversation.Envelope, error) {
	var env conversation.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return conversation.Envelope{}, fmt.Errorf("realtime: decode: %w", err)
	}
	if (env.Message == nil) == (env.Typing == nil) {
		return conversation.Envelope{}, fmt.Errorf("realtime: envelope must carry exactly one of message or typing")
	}
	return env, nil
}
