package repository

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"github.com/spec-kit/support-portal/internal/conversation"
	"github.com/spec-kit/support-portal/internal/domain"
)

var messageColumns = []string{"id", "ticket_id", "sender_role", "sender_id", "content", "created_at"}

type messageRow struct {
	ID         string    `db:"id"`
	TicketID   string    `db:"ticket_id"`
	SenderRole string    `db:"sender_role"`
	SenderID   string    `db:"sender_id"`
	Content    string    `db:"content"`
	CreatedAt  time.Time `db:"created_at"`
}

// MessageRepository stores ticket conversation messages. It implements
// conversation.MessageStore.
type MessageRepository struct {
	db DB
}

var _ conversation.MessageStore = (*MessageRepository)(nil)

// NewMessageRepository builds repository.
func NewMessageRepository(db DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Append inserts msg. The database assigns created_at.
func (r *MessageRepository) Append(ctx context.Context, msg domain.Message) (domain.Message, error) {
	const query = `
        INSERT INTO ticket_messages (id, ticket_id, sender_role, sender_id, content)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING created_at`
	if err := r.db.QueryRow(ctx, query,
		msg.ID,
		msg.TicketID,
		msg.SenderRole,
		msg.SenderID,
		msg.Content,
	).Scan(&msg.CreatedAt); err != nil {
		return domain.Message{}, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}

// Since returns messages strictly after cursor in (created_at, id) order.
func (r *MessageRepository) Since(ctx context.Context, ticketID string, cursor conversation.Cursor) ([]domain.Message, error) {
	builder := psql.Select(messageColumns...).From("ticket_messages").Where(sq.Eq{"ticket_id": ticketID})
	switch {
	case cursor.IsZero():
	case cursor.ID == "":
		builder = builder.Where(sq.GtOrEq{"created_at": cursor.CreatedAt})
	default:
		builder = builder.Where(sq.Expr("(created_at, id) > (?, ?::uuid)", cursor.CreatedAt, cursor.ID))
	}
	query, args, err := builder.OrderBy("created_at ASC", "id ASC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("list messages: build: %w", err)
	}

	var rows []messageRow
	if err := pgxscan.Select(ctx, r.db, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	messages := make([]domain.Message, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, domain.Message{
			ID:         row.ID,
			TicketID:   row.TicketID,
			SenderRole: domain.SenderRole(row.SenderRole),
			SenderID:   row.SenderID,
			Content:    row.Content,
			CreatedAt:  row.CreatedAt,
		})
	}
	return messages, nil
}
