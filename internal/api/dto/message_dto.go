package dto

import (
	"time"

	"github.com/spec-kit/support-portal/internal/domain"
)

// CreateMessageRequest payload.
type CreateMessageRequest struct {
	Content string `json:"content"`
}

// TypingRequest toggles the caller's typing indicator.
type TypingRequest struct {
	Active bool `json:"active"`
}

// MessageResponse represents one thread message.
type MessageResponse struct {
	ID         string            `json:"id"`
	TicketID   string            `json:"ticket_id"`
	SenderRole domain.SenderRole `json:"sender_role"`
	SenderID   string            `json:"sender_id"`
	Content    string            `json:"content"`
	CreatedAt  time.Time         `json:"created_at"`
}

// StreamSnapshot is the first event of a conversation stream.
type StreamSnapshot struct {
	State    string            `json:"state"`
	Degraded bool              `json:"degraded"`
	Messages []MessageResponse `json:"messages"`
	Typing   []string          `json:"typing"`
}

// StreamPresence is sent whenever the typing set or sync state changes.
type StreamPresence struct {
	State    string   `json:"state"`
	Degraded bool     `json:"degraded"`
	Typing   []string `json:"typing"`
}
