package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/support-portal/internal/events"
	"github.com/spec-kit/support-portal/internal/repository"
)

const overdueBatch = 100

// SLAMonitor periodically stamps overdue tickets as breached and announces
// each breach exactly once.
type SLAMonitor struct {
	tickets    repository.TicketRepository
	dispatcher events.Dispatcher
	interval   time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

// NewSLAMonitor creates a monitor scanning every interval.
func NewSLAMonitor(tickets repository.TicketRepository, dispatcher events.Dispatcher, interval time.Duration, logger *zap.Logger) *SLAMonitor {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SLAMonitor{
		tickets:    tickets,
		dispatcher: dispatcher,
		interval:   interval,
		logger:     logger.Named("sla_monitor"),
		now:        time.Now,
	}
}

// Run scans immediately and then on every tick until ctx ends.
func (m *SLAMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		if _, err := m.Scan(ctx); err != nil && ctx.Err() == nil {
			m.logger.Warn("breach scan failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Scan marks every currently overdue ticket and returns how many breaches
// it announced.
func (m *SLAMonitor) Scan(ctx context.Context) (int, error) {
	now := m.now().UTC()
	overdue, err := m.tickets.ListOverdue(ctx, now, overdueBatch)
	if err != nil {
		return 0, err
	}

	announced := 0
	for _, ticket := range overdue {
		marked, err := m.tickets.MarkBreached(ctx, ticket.ID, now)
		if err != nil {
			m.logger.Warn("mark breached failed", zap.String("ticket_id", ticket.ID), zap.Error(err))
			continue
		}
		if !marked || ticket.SLADeadline == nil {
			continue
		}
		announced++
		m.logger.Info("sla breached",
			zap.String("ticket_id", ticket.ID),
			zap.String("priority", string(ticket.Priority)),
			zap.Time("deadline", *ticket.SLADeadline))
		_ = m.dispatcher.Publish(ctx, events.Event{
			ID:        uuid.NewString(),
			Type:      events.EventSLABreached,
			TicketID:  ticket.ID,
			Timestamp: now,
			Payload: events.SLABreachedPayload{
				Priority:    ticket.Priority,
				SLADeadline: *ticket.SLADeadline,
				DetectedAt:  now,
				AssigneeID:  ticket.AssigneeID,
			},
		})
	}
	return announced, nil
}
