package dto

import (
	"time"

	"github.com/spec-kit/support-portal/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	Title       string                `json:"title"`
	Description string                `json:"description"`
	Priority    domain.TicketPriority `json:"priority"`
}

// TransitionRequest moves a ticket along the lifecycle.
type TransitionRequest struct {
	Status domain.TicketStatus `json:"status"`
}

// PriorityRequest payload.
type PriorityRequest struct {
	Priority domain.TicketPriority `json:"priority"`
}

// AssignRequest sets or clears the assignee. A null id unassigns.
type AssignRequest struct {
	AssigneeID *string `json:"assignee_id"`
}

// SLAResponse is the live countdown of a ticket.
type SLAResponse struct {
	Deadline         *time.Time `json:"deadline"`
	RemainingSeconds int64      `json:"remaining_seconds"`
	Class            string     `json:"class"`
	Breached         bool       `json:"breached"`
	BreachedAt       *time.Time `json:"breached_at,omitempty"`
}

// TicketResponse provides full ticket info.
type TicketResponse struct {
	ID          string                `json:"id"`
	ExternalKey string                `json:"external_key"`
	OwnerID     string                `json:"owner_id"`
	AssigneeID  *string               `json:"assignee_id"`
	Title       string                `json:"title"`
	Description string                `json:"description"`
	Status      domain.TicketStatus   `json:"status"`
	Priority    domain.TicketPriority `json:"priority"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
	ResolvedAt  *time.Time            `json:"resolved_at"`
	SLA         SLAResponse           `json:"sla"`
}
