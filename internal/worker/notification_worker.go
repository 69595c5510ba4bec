// Package worker hosts the background loops started next to the HTTP server.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/support-portal/internal/domain"
	"github.com/spec-kit/support-portal/internal/events"
	"github.com/spec-kit/support-portal/internal/observability"
)

const (
	defaultQueueSize = 256
	drainTimeout     = 5 * time.Second
)

// NotificationHandler delivers one committed ticket change.
type NotificationHandler interface {
	Handle(ctx context.Context, event events.Event) ([]domain.DeliveryAttempt, error)
}

// NotificationWorker moves notification delivery off the request path.
// Events are handled one at a time in arrival order.
type NotificationWorker struct {
	handler NotificationHandler
	queue   chan events.Event
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewNotificationWorker creates a worker with a bounded queue.
func NewNotificationWorker(handler NotificationHandler, size int, logger *zap.Logger, metrics *observability.Metrics) *NotificationWorker {
	if size <= 0 {
		size = defaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationWorker{
		handler: handler,
		queue:   make(chan events.Event, size),
		logger:  logger.Named("notifications"),
		metrics: metrics,
	}
}

// Register subscribes the worker to ticket changes.
func (w *NotificationWorker) Register(dispatcher events.Dispatcher) {
	dispatcher.Subscribe(events.EventTicketTransitioned, w.Enqueue)
}

// Enqueue never blocks the publisher. A full queue drops the event.
func (w *NotificationWorker) Enqueue(_ context.Context, event events.Event) error {
	select {
	case w.queue <- event:
	default:
		w.metrics.RecordDropped("notifications")
		w.logger.Warn("notification queue full, dropping event",
			zap.String("event_id", event.ID),
			zap.String("ticket_id", event.TicketID))
	}
	return nil
}

// Run processes events until ctx ends, then drains what is already queued.
func (w *NotificationWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return nil
		case event := <-w.queue:
			w.process(ctx, event)
		}
	}
}

func (w *NotificationWorker) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case event := <-w.queue:
			w.process(ctx, event)
		default:
			return
		}
	}
}

func (w *NotificationWorker) process(ctx context.Context, event events.Event) {
	attempts, err := w.handler.Handle(ctx, event)
	if err != nil {
		w.logger.Error("notification handling failed",
			zap.String("event_id", event.ID),
			zap.String("ticket_id", event.TicketID),
			zap.Error(err))
		return
	}
	if len(attempts) > 0 {
		w.logger.Debug("notification handled",
			zap.String("event_id", event.ID),
			zap.Int("attempts", len(attempts)))
	}
}
