package domain

import "time"

// SenderRole indicates who authored a message.
type SenderRole string

const (
	SenderRoleStudent SenderRole = "student"
	SenderRoleStaff   SenderRole = "staff"
)

// Valid reports whether r is a known sender role.
func (r SenderRole) Valid() bool {
	return r == SenderRoleStudent || r == SenderRoleStaff
}

// Message captures one entry of a ticket conversation thread.
type Message struct {
	ID         string     `json:"id"`
	TicketID   string     `json:"ticket_id"`
	SenderRole SenderRole `json:"sender_role"`
	SenderID   string     `json:"sender_id"`
	Content    string     `json:"content"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Before reports whether m sorts before other in thread order.
func (m Message) Before(other Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}
