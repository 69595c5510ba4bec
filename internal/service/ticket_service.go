package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/support-portal/internal/domain"
	"github.com/spec-kit/support-portal/internal/events"
	"github.com/spec-kit/support-portal/internal/lifecycle"
	"github.com/spec-kit/support-portal/internal/observability"
	"github.com/spec-kit/support-portal/internal/repository"
	"github.com/spec-kit/support-portal/internal/sla"
)

// TicketService coordinates ticket workflows.
type TicketService struct {
	tickets    repository.TicketRepository
	clock      *sla.Clock
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	TicketRepo repository.TicketRepository
	Clock      *sla.Clock
	Dispatcher events.Dispatcher
	Metrics    *observability.Metrics
	Logger     *zap.Logger
	Now        func() time.Time
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	Title       string
	Description string
	Priority    domain.TicketPriority
}

// TicketListFilter describes listing filters. Students always get their own
// tickets regardless of what they ask for.
type TicketListFilter struct {
	AssigneeID  *string
	Statuses    []domain.TicketStatus
	Priorities  []domain.TicketPriority
	SearchTerm  *string
	Breached    *bool
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	Limit       int
	Offset      int
}

// TicketView is a ticket with its live SLA countdown.
type TicketView struct {
	Ticket    domain.Ticket
	Countdown sla.Countdown
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &TicketService{
		tickets:    deps.TicketRepo,
		clock:      deps.Clock,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     logger,
		now:        now,
	}
}

// CreateTicket opens a ticket owned by the actor with a deadline stamped from
// the policy in force right now.
func (s *TicketService) CreateTicket(ctx context.Context, actor domain.Actor, input TicketCreateInput) (*domain.Ticket, error) {
	policy, err := s.clock.Policy(ctx)
	if err != nil {
		return nil, err
	}

	ticket, err := lifecycle.New(lifecycle.NewTicketInput{
		OwnerID:     actor.ID,
		Title:       input.Title,
		Description: input.Description,
		Priority:    input.Priority,
	}, s.now().UTC())
	if err != nil {
		return nil, err
	}
	sla.Stamp(&ticket, policy)

	if err := s.tickets.CreateWithinLimit(ctx, &ticket, policy.MaxOpenTickets); err != nil {
		if errors.Is(err, repository.ErrOpenTicketLimit) {
			return nil, ErrTooManyOpenTickets
		}
		return nil, err
	}

	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketCreated,
		TicketID: ticket.ID,
		Actor:    actorOf(actor),
		Payload: events.TicketCreatedPayload{
			OwnerID:     ticket.OwnerID,
			Priority:    ticket.Priority,
			Title:       ticket.Title,
			SLADeadline: ticket.SLADeadline,
		},
	})
	return &ticket, nil
}

// GetTicket fetches a ticket the actor may see.
func (s *TicketService) GetTicket(ctx context.Context, actor domain.Actor, ticketID string) (*TicketView, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !canView(actor, *ticket) {
		return nil, ErrForbidden
	}
	return &TicketView{Ticket: *ticket, Countdown: sla.Remaining(*ticket, s.now())}, nil
}

// ListTickets returns tickets visible to the actor, newest first.
func (s *TicketService) ListTickets(ctx context.Context, actor domain.Actor, filter TicketListFilter) ([]TicketView, error) {
	repoFilter := repository.TicketFilter{
		AssigneeID:  filter.AssigneeID,
		Statuses:    filter.Statuses,
		Priorities:  filter.Priorities,
		SearchTerm:  filter.SearchTerm,
		Breached:    filter.Breached,
		CreatedFrom: filter.CreatedFrom,
		CreatedTo:   filter.CreatedTo,
		Limit:       filter.Limit,
		Offset:      filter.Offset,
	}
	if !actor.Role.IsStaff() {
		owner := actor.ID
		repoFilter.OwnerID = &owner
	}

	tickets, err := s.tickets.ListWithFilter(ctx, repoFilter)
	if err != nil {
		return nil, err
	}
	now := s.now()
	views := make([]TicketView, 0, len(tickets))
	for _, ticket := range tickets {
		views = append(views, TicketView{Ticket: ticket, Countdown: sla.Remaining(ticket, now)})
	}
	return views, nil
}

// Transition moves a ticket to next. Students may only close their own
// resolved ticket.
func (s *TicketService) Transition(ctx context.Context, actor domain.Actor, ticketID string, next domain.TicketStatus) (*domain.Ticket, error) {
	if !next.Valid() {
		return nil, lifecycle.ErrInvalidInput
	}
	authorize := func(t domain.Ticket) error {
		if actor.Role.IsStaff() {
			return nil
		}
		if t.OwnerID == actor.ID && next == domain.TicketStatusClosed {
			return nil
		}
		return ErrForbidden
	}
	return s.apply(ctx, actor, ticketID, authorize, func(t domain.Ticket, now time.Time) (lifecycle.Change, error) {
		return lifecycle.Transition(t, next, now)
	})
}

// SetPriority changes the priority and recomputes the deadline of an
// unresolved ticket.
func (s *TicketService) SetPriority(ctx context.Context, actor domain.Actor, ticketID string, priority domain.TicketPriority) (*domain.Ticket, error) {
	return s.apply(ctx, actor, ticketID, staffOnly(actor), func(t domain.Ticket, now time.Time) (lifecycle.Change, error) {
		return lifecycle.SetPriority(t, priority, now)
	})
}

// Reopen returns a resolved ticket to OPEN with a fresh SLA timer.
func (s *TicketService) Reopen(ctx context.Context, actor domain.Actor, ticketID string) (*domain.Ticket, error) {
	authorize := func(t domain.Ticket) error {
		if canView(actor, t) {
			return nil
		}
		return ErrForbidden
	}
	return s.apply(ctx, actor, ticketID, authorize, lifecycle.Reopen)
}

// Assign sets or clears the staff member working the ticket.
func (s *TicketService) Assign(ctx context.Context, actor domain.Actor, ticketID string, assigneeID *string) (*domain.Ticket, error) {
	return s.apply(ctx, actor, ticketID, staffOnly(actor), func(t domain.Ticket, now time.Time) (lifecycle.Change, error) {
		return lifecycle.Assign(t, assigneeID, now)
	})
}

// apply runs op under the ticket row lock and publishes its event once the
// change is committed. The policy is read before the lock is taken.
func (s *TicketService) apply(
	ctx context.Context,
	actor domain.Actor,
	ticketID string,
	authorize func(domain.Ticket) error,
	op func(domain.Ticket, time.Time) (lifecycle.Change, error),
) (*domain.Ticket, error) {
	policy, err := s.clock.Policy(ctx)
	if err != nil {
		return nil, err
	}

	var change lifecycle.Change
	updated, err := s.tickets.Mutate(ctx, ticketID, func(t *domain.Ticket) error {
		if err := authorize(*t); err != nil {
			return err
		}
		c, err := op(*t, s.now().UTC())
		if err != nil {
			return err
		}
		if c.RecomputeSLA {
			sla.Stamp(&c.Ticket, policy)
			c.Event.SLADeadline = c.Ticket.SLADeadline
		}
		*t = c.Ticket
		change = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ticket %s: %w", ticketID, err)
	}

	s.metrics.RecordTransition(string(change.Event.Kind))
	s.logger.Info("ticket changed",
		zap.String("ticket_id", ticketID),
		zap.String("kind", string(change.Event.Kind)),
		zap.String("status", string(updated.Status)),
		zap.String("priority", string(updated.Priority)),
		zap.String("actor_id", actor.ID))

	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketTransitioned,
		TicketID: ticketID,
		Actor:    actorOf(actor),
		Payload:  change.Event,
	})
	return updated, nil
}

func (s *TicketService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now().UTC()
	}
	_ = s.dispatcher.Publish(ctx, event)
}

func canView(actor domain.Actor, t domain.Ticket) bool {
	return actor.Role.IsStaff() || t.OwnerID == actor.ID
}

func staffOnly(actor domain.Actor) func(domain.Ticket) error {
	return func(domain.Ticket) error {
		if !actor.Role.IsStaff() {
			return ErrForbidden
		}
		return nil
	}
}

func actorOf(actor domain.Actor) events.Actor {
	return events.Actor{ID: actor.ID, Role: actor.Role}
}
