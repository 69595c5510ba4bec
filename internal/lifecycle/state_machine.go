// Package lifecycle owns the finite-state model of a support ticket.
//
// Every function here is pure: it takes a ticket value and returns the next
// value together with the event describing the change. Persisting the result
// and publishing the event is left to the caller, which must do both exactly
// once per successful call.
package lifecycle

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/support-portal/internal/domain"
	"github.com/spec-kit/support-portal/internal/events"
)

var (
	// ErrInvalidTransition is returned when the target status is not reachable.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrTicketClosed is returned for mutations of a closed ticket.
	ErrTicketClosed = errors.New("ticket is closed")
	// ErrInvalidInput is returned for malformed ticket data.
	ErrInvalidInput = errors.New("invalid ticket input")
)

var allowedTransitions = map[domain.TicketStatus][]domain.TicketStatus{
	domain.TicketStatusOpen:       {domain.TicketStatusInProgress, domain.TicketStatusResolved},
	domain.TicketStatusInProgress: {domain.TicketStatusResolved},
	domain.TicketStatusResolved:   {domain.TicketStatusClosed},
	domain.TicketStatusClosed:     {},
}

// CanTransition reports whether next is reachable from current in one step.
func CanTransition(current, next domain.TicketStatus) bool {
	for _, candidate := range allowedTransitions[current] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Change is the outcome of a successful lifecycle operation.
type Change struct {
	Ticket       domain.Ticket
	Event        events.TicketTransitioned
	RecomputeSLA bool
}

// NewTicketInput describes an accepted submission.
type NewTicketInput struct {
	OwnerID     string
	Title       string
	Description string
	Priority    domain.TicketPriority
}

// New builds an open ticket whose SLA timer starts at now.
func New(input NewTicketInput, now time.Time) (domain.Ticket, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" || strings.TrimSpace(input.OwnerID) == "" {
		return domain.Ticket{}, ErrInvalidInput
	}
	priority := input.Priority
	if priority == "" {
		priority = domain.TicketPriorityMedium
	}
	if !priority.Valid() {
		return domain.Ticket{}, ErrInvalidInput
	}
	return domain.Ticket{
		ID:           uuid.NewString(),
		ExternalKey:  generateTicketKey(),
		OwnerID:      input.OwnerID,
		Title:        title,
		Description:  strings.TrimSpace(input.Description),
		Status:       domain.TicketStatusOpen,
		Priority:     priority,
		CreatedAt:    now,
		UpdatedAt:    now,
		SLAStartedAt: now,
	}, nil
}

// Transition moves the ticket to next along the forward graph.
func Transition(t domain.Ticket, next domain.TicketStatus, now time.Time) (Change, error) {
	if !CanTransition(t.Status, next) {
		return Change{}, ErrInvalidTransition
	}
	updated := t
	updated.Status = next
	updated.UpdatedAt = now
	switch {
	case next == domain.TicketStatusResolved:
		resolvedAt := now
		updated.ResolvedAt = &resolvedAt
	case next.Terminal():
		if updated.ResolvedAt == nil {
			resolvedAt := now
			updated.ResolvedAt = &resolvedAt
		}
	default:
		updated.ResolvedAt = nil
	}
	return Change{
		Ticket:       updated,
		Event:        transitioned(t, updated, events.KindStatus),
		RecomputeSLA: !next.Terminal(),
	}, nil
}

// SetPriority changes the priority of any ticket that is not closed.
func SetPriority(t domain.Ticket, priority domain.TicketPriority, now time.Time) (Change, error) {
	if t.Status == domain.TicketStatusClosed {
		return Change{}, ErrTicketClosed
	}
	if !priority.Valid() {
		return Change{}, ErrInvalidInput
	}
	updated := t
	updated.Priority = priority
	updated.UpdatedAt = now
	return Change{
		Ticket:       updated,
		Event:        transitioned(t, updated, events.KindPriority),
		RecomputeSLA: !updated.Status.Terminal(),
	}, nil
}

// Reopen returns a resolved ticket to OPEN and restarts its SLA timer.
func Reopen(t domain.Ticket, now time.Time) (Change, error) {
	switch t.Status {
	case domain.TicketStatusClosed:
		return Change{}, ErrTicketClosed
	case domain.TicketStatusResolved:
	default:
		return Change{}, ErrInvalidTransition
	}
	updated := t
	updated.Status = domain.TicketStatusOpen
	updated.ResolvedAt = nil
	updated.SLABreachedAt = nil
	updated.SLAStartedAt = now
	updated.UpdatedAt = now
	return Change{
		Ticket:       updated,
		Event:        transitioned(t, updated, events.KindReopen),
		RecomputeSLA: true,
	}, nil
}

// Assign sets or clears the staff assignee. Status and priority are untouched.
func Assign(t domain.Ticket, assigneeID *string, now time.Time) (Change, error) {
	if t.Status == domain.TicketStatusClosed {
		return Change{}, ErrTicketClosed
	}
	updated := t
	if assigneeID != nil && strings.TrimSpace(*assigneeID) == "" {
		assigneeID = nil
	}
	updated.AssigneeID = assigneeID
	updated.UpdatedAt = now
	return Change{
		Ticket: updated,
		Event:  transitioned(t, updated, events.KindAssign),
	}, nil
}

func transitioned(before, after domain.Ticket, kind events.TransitionKind) events.TicketTransitioned {
	return events.TicketTransitioned{
		TicketID:    after.ID,
		ExternalKey: after.ExternalKey,
		OwnerID:     after.OwnerID,
		Title:       after.Title,
		Kind:        kind,
		OldStatus:   before.Status,
		NewStatus:   after.Status,
		OldPriority: before.Priority,
		NewPriority: after.Priority,
		SLADeadline: after.SLADeadline,
	}
}

func generateTicketKey() string {
	return "TCK-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}
