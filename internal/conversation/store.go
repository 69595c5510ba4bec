// Package conversation keeps a ticket's message timeline in sync across
// participants by combining a push transport with a periodic pull.
package conversation

import (
	"context"
	"errors"
	"time"

	"github.com/spec-kit/support-portal/internal/domain"
)

// ErrSyncFetchFailed is returned when the message store cannot be read.
var ErrSyncFetchFailed = errors.New("conversation: sync fetch failed")

// Cursor is a position in (CreatedAt, ID) order. The zero cursor precedes
// every message.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// CursorOf returns the position of m.
func CursorOf(m domain.Message) Cursor {
	return Cursor{CreatedAt: m.CreatedAt, ID: m.ID}
}

// IsZero reports whether c is the start of history.
func (c Cursor) IsZero() bool {
	return c.CreatedAt.IsZero() && c.ID == ""
}

// Precedes reports whether m sorts strictly after c.
func (c Cursor) Precedes(m domain.Message) bool {
	if m.CreatedAt.Equal(c.CreatedAt) {
		return m.ID > c.ID
	}
	return m.CreatedAt.After(c.CreatedAt)
}

// Rewind moves the cursor back by d, keeping every message at or after the
// new instant in range.
func (c Cursor) Rewind(d time.Duration) Cursor {
	if c.IsZero() || d <= 0 {
		return c
	}
	return Cursor{CreatedAt: c.CreatedAt.Add(-d)}
}

// MessageStore persists messages and answers incremental reads.
type MessageStore interface {
	Append(ctx context.Context, msg domain.Message) (domain.Message, error)
	// Since returns the ticket's messages strictly after cursor, oldest first.
	Since(ctx context.Context, ticketID string, cursor Cursor) ([]domain.Message, error)
}

// TypingSignal announces that a participant started or stopped typing.
type TypingSignal struct {
	TicketID      string    `json:"ticket_id"`
	ParticipantID string    `json:"participant_id"`
	Active        bool      `json:"active"`
	At            time.Time `json:"at"`
}

// Envelope is one push delivery. Exactly one field is set.
type Envelope struct {
	Message *domain.Message `json:"message,omitempty"`
	Typing  *TypingSignal   `json:"typing,omitempty"`
}

// PushTransport delivers envelopes for a ticket as they happen. The channel
// is closed when the subscription is lost or ctx ends.
type PushTransport interface {
	Subscribe(ctx context.Context, ticketID string) (<-chan Envelope, error)
}

// Publisher broadcasts envelopes to every subscriber of a ticket.
type Publisher interface {
	Publish(ctx context.Context, ticketID string, env Envelope) error
}
