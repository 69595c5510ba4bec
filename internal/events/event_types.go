package events

import (
	"time"

	"github.com/spec-kit/support-portal/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated      EventType = "ticket_created"
	EventTicketTransitioned EventType = "ticket_transitioned"
	EventSLABreached        EventType = "sla_breached"
)

// Actor encapsulates actor metadata for an event.
type Actor struct {
	ID   string      `json:"id,omitempty"`
	Role domain.Role `json:"role,omitempty"`
}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TicketID  string      `json:"ticket_id"`
	Actor     Actor       `json:"actor"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// TransitionKind says which operation produced a TicketTransitioned event.
type TransitionKind string

const (
	KindStatus   TransitionKind = "status"
	KindPriority TransitionKind = "priority"
	KindReopen   TransitionKind = "reopen"
	KindAssign   TransitionKind = "assign"
)

// TicketTransitioned is emitted once per committed lifecycle change.
type TicketTransitioned struct {
	TicketID    string                `json:"ticket_id"`
	ExternalKey string                `json:"external_key"`
	OwnerID     string                `json:"owner_id"`
	Title       string                `json:"title"`
	Kind        TransitionKind        `json:"kind"`
	OldStatus   domain.TicketStatus   `json:"old_status"`
	NewStatus   domain.TicketStatus   `json:"new_status"`
	OldPriority domain.TicketPriority `json:"old_priority"`
	NewPriority domain.TicketPriority `json:"new_priority"`
	SLADeadline *time.Time            `json:"sla_deadline,omitempty"`
}

// StatusChanged reports whether the status moved.
func (t TicketTransitioned) StatusChanged() bool {
	return t.OldStatus != t.NewStatus
}

// PriorityChanged reports whether the priority moved.
func (t TicketTransitioned) PriorityChanged() bool {
	return t.OldPriority != t.NewPriority
}

// Reportable reports whether the student should hear about the change.
// Metadata-only updates such as assignment are not reportable.
func (t TicketTransitioned) Reportable() bool {
	return t.StatusChanged() || t.PriorityChanged()
}

// Resolution reports whether the change concludes the ticket.
func (t TicketTransitioned) Resolution() bool {
	return t.StatusChanged() && t.NewStatus.Terminal()
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	OwnerID     string                `json:"owner_id"`
	Priority    domain.TicketPriority `json:"priority"`
	Title       string                `json:"title"`
	SLADeadline *time.Time            `json:"sla_deadline,omitempty"`
}

// SLABreachedPayload payload.
type SLABreachedPayload struct {
	Priority    domain.TicketPriority `json:"priority"`
	SLADeadline time.Time             `json:"sla_deadline"`
	DetectedAt  time.Time             `json:"detected_at"`
	AssigneeID  *string               `json:"assignee_id,omitempty"`
}
