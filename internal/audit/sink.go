// Package audit ships delivery attempts and ticket events to an audit trail.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/spec-kit/support-portal/internal/domain"
	"github.com/spec-kit/support-portal/internal/events"
	"github.com/spec-kit/support-portal/internal/observability"
)

// Sink receives audit records. Record methods never block the caller.
type Sink interface {
	Record(ctx context.Context, attempt domain.DeliveryAttempt)
	RecordEvent(ctx context.Context, evt events.Event)
}

// Subscribe forwards every ticket event to sink.
func Subscribe(dispatcher events.Dispatcher, sink Sink) {
	handler := func(ctx context.Context, evt events.Event) error {
		sink.RecordEvent(ctx, evt)
		return nil
	}
	dispatcher.Subscribe(events.EventTicketCreated, handler)
	dispatcher.Subscribe(events.EventTicketTransitioned, handler)
	dispatcher.Subscribe(events.EventSLABreached, handler)
}

// LogSink writes audit records to the structured log only.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a log-only sink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("audit")}
}

// Record logs one delivery attempt.
func (s *LogSink) Record(_ context.Context, attempt domain.DeliveryAttempt) {
	s.logger.Info("delivery attempt",
		zap.String("ticket_id", attempt.TicketID),
		zap.String("event_id", attempt.EventID),
		zap.String("channel", string(attempt.Channel)),
		zap.String("outcome", string(attempt.Outcome)),
		zap.String("reason", attempt.Reason),
		zap.Time("at", attempt.At))
}

// RecordEvent logs one ticket event.
func (s *LogSink) RecordEvent(_ context.Context, evt events.Event) {
	s.logger.Info("ticket event",
		zap.String("event_id", evt.ID),
		zap.String("event_type", string(evt.Type)),
		zap.String("ticket_id", evt.TicketID),
		zap.String("actor_id", evt.Actor.ID))
}

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type record struct {
	routingKey string
	body       interface{}
}

type attemptRecord struct {
	Channel  domain.Channel         `json:"channel"`
	TicketID string                 `json:"ticket_id"`
	EventID  string                 `json:"event_id"`
	Outcome  domain.DeliveryOutcome `json:"outcome"`
	Reason   string                 `json:"reason,omitempty"`
	At       time.Time              `json:"at"`
}

// RabbitSink publishes JSON records to a topic exchange from a background
// goroutine. Records are dropped when the buffer is full.
type RabbitSink struct {
	conn     *amqp.Connection
	channel  publisher
	closer   func() error
	exchange string
	queue    chan record
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// DialRabbitSink connects to RabbitMQ and declares the exchange.
func DialRabbitSink(url, exchange string, buffer int, logger *zap.Logger, metrics *observability.Metrics) (*RabbitSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("audit: dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("audit: open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("audit: declare exchange: %w", err)
	}
	sink := newRabbitSink(ch, exchange, buffer, logger, metrics)
	sink.conn = conn
	sink.closer = func() error {
		if err := ch.Close(); err != nil {
			sink.logger.Warn("close audit channel", zap.Error(err))
		}
		return conn.Close()
	}
	return sink, nil
}

func newRabbitSink(ch publisher, exchange string, buffer int, logger *zap.Logger, metrics *observability.Metrics) *RabbitSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = 1
	}
	return &RabbitSink{
		channel:  ch,
		exchange: exchange,
		queue:    make(chan record, buffer),
		logger:   logger.Named("audit"),
		metrics:  metrics,
	}
}

// Record enqueues a delivery attempt under delivery.<channel>.<outcome>.
func (s *RabbitSink) Record(_ context.Context, attempt domain.DeliveryAttempt) {
	key := fmt.Sprintf("delivery.%s.%s", attempt.Channel, strings.ToLower(string(attempt.Outcome)))
	s.enqueue(record{routingKey: key, body: attemptRecord(attempt)})
}

// RecordEvent enqueues a ticket event under ticket.<type>.
func (s *RabbitSink) RecordEvent(_ context.Context, evt events.Event) {
	s.enqueue(record{routingKey: "ticket." + string(evt.Type), body: evt})
}

func (s *RabbitSink) enqueue(r record) {
	select {
	case s.queue <- r:
	default:
		s.metrics.RecordDropped("audit")
		s.logger.Warn("audit buffer full, record dropped", zap.String("routing_key", r.routingKey))
	}
}

// Run publishes buffered records until ctx is done, then drains what is left
// with a short grace period.
func (s *RabbitSink) Run(ctx context.Context) error {
	for {
		select {
		case r := <-s.queue:
			s.publish(ctx, r)
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			for {
				select {
				case r := <-s.queue:
					s.publish(drainCtx, r)
				default:
					return nil
				}
			}
		}
	}
}

func (s *RabbitSink) publish(ctx context.Context, r record) {
	body, err := json.Marshal(r.body)
	if err != nil {
		s.logger.Error("marshal audit record", zap.String("routing_key", r.routingKey), zap.Error(err))
		return
	}
	err = s.channel.PublishWithContext(ctx, s.exchange, r.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		s.logger.Warn("publish audit record", zap.String("routing_key", r.routingKey), zap.Error(err))
	}
}

// Close releases the connection.
func (s *RabbitSink) Close() error {
	if s == nil || s.closer == nil {
		return nil
	}
	return s.closer()
}
