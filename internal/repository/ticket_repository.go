package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/support-portal/internal/domain"
)

const defaultListLimit = 50

var ticketColumns = []string{
	"id", "external_key", "owner_id", "assignee_id", "title", "description",
	"status", "priority", "created_at", "updated_at",
	"sla_started_at", "sla_deadline", "resolved_at", "sla_breached_at",
}

// TicketFilter captures list parameters.
type TicketFilter struct {
	OwnerID     *string
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

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	// CreateWithinLimit inserts ticket unless its owner already has limit
	// unresolved tickets. A limit of zero disables the check.
	CreateWithinLimit(ctx context.Context, ticket *domain.Ticket, limit int) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
	// Mutate locks the ticket row, applies fn and persists the result in one
	// transaction. An error from fn rolls back.
	Mutate(ctx context.Context, id string, fn func(*domain.Ticket) error) (*domain.Ticket, error)
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]domain.Ticket, error)
	// MarkBreached stamps sla_breached_at once. It reports false when the
	// ticket was already marked, resolved or is no longer overdue.
	MarkBreached(ctx context.Context, id string, at time.Time) (bool, error)
}

type ticketRow struct {
	ID            string     `db:"id"`
	ExternalKey   string     `db:"external_key"`
	OwnerID       string     `db:"owner_id"`
	AssigneeID    *string    `db:"assignee_id"`
	Title         string     `db:"title"`
	Description   string     `db:"description"`
	Status        string     `db:"status"`
	Priority      string     `db:"priority"`
	CreatedAt     time.Time  `db:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"`
	SLAStartedAt  time.Time  `db:"sla_started_at"`
	SLADeadline   *time.Time `db:"sla_deadline"`
	ResolvedAt    *time.Time `db:"resolved_at"`
	SLABreachedAt *time.Time `db:"sla_breached_at"`
}

func (r ticketRow) toDomain() domain.Ticket {
	return domain.Ticket{
		ID:            r.ID,
		ExternalKey:   r.ExternalKey,
		OwnerID:       r.OwnerID,
		AssigneeID:    r.AssigneeID,
		Title:         r.Title,
		Description:   r.Description,
		Status:        domain.TicketStatus(r.Status),
		Priority:      domain.TicketPriority(r.Priority),
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
		SLAStartedAt:  r.SLAStartedAt,
		SLADeadline:   r.SLADeadline,
		ResolvedAt:    r.ResolvedAt,
		SLABreachedAt: r.SLABreachedAt,
	}
}

type ticketRepository struct {
	db DB
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(db DB) TicketRepository {
	return &ticketRepository{db: db}
}

func (r *ticketRepository) CreateWithinLimit(ctx context.Context, ticket *domain.Ticket, limit int) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("create ticket: begin: %w", err)
	}
	defer rollback(ctx, tx)

	if limit > 0 {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, ticket.OwnerID); err != nil {
			return fmt.Errorf("create ticket: lock owner: %w", err)
		}
		var open int
		if err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM tickets WHERE owner_id=$1 AND status IN ('OPEN','IN_PROGRESS')`,
			ticket.OwnerID,
		).Scan(&open); err != nil {
			return fmt.Errorf("create ticket: count open: %w", err)
		}
		if open >= limit {
			return ErrOpenTicketLimit
		}
	}

	query, args, err := psql.Insert("tickets").Columns(ticketColumns...).Values(
		ticket.ID,
		ticket.ExternalKey,
		ticket.OwnerID,
		ticket.AssigneeID,
		ticket.Title,
		ticket.Description,
		ticket.Status,
		ticket.Priority,
		ticket.CreatedAt,
		ticket.UpdatedAt,
		ticket.SLAStartedAt,
		ticket.SLADeadline,
		ticket.ResolvedAt,
		ticket.SLABreachedAt,
	).ToSql()
	if err != nil {
		return fmt.Errorf("create ticket: build: %w", err)
	}
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("create ticket: insert: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("create ticket: commit: %w", err)
	}
	return nil
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query, args, err := psql.Select(ticketColumns...).From("tickets").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, err
	}
	return fetchTicket(ctx, r.db, query, args...)
}

func (r *ticketRepository) ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	builder := psql.Select(ticketColumns...).From("tickets")

	if filter.OwnerID != nil {
		builder = builder.Where(sq.Eq{"owner_id": *filter.OwnerID})
	}
	if filter.AssigneeID != nil {
		builder = builder.Where(sq.Eq{"assignee_id": *filter.AssigneeID})
	}
	if len(filter.Statuses) > 0 {
		builder = builder.Where(sq.Eq{"status": toStrings(filter.Statuses)})
	}
	if len(filter.Priorities) > 0 {
		builder = builder.Where(sq.Eq{"priority": toStrings(filter.Priorities)})
	}
	if filter.Breached != nil {
		if *filter.Breached {
			builder = builder.Where(sq.NotEq{"sla_breached_at": nil})
		} else {
			builder = builder.Where(sq.Eq{"sla_breached_at": nil})
		}
	}
	if filter.CreatedFrom != nil {
		builder = builder.Where(sq.GtOrEq{"created_at": *filter.CreatedFrom})
	}
	if filter.CreatedTo != nil {
		builder = builder.Where(sq.LtOrEq{"created_at": *filter.CreatedTo})
	}
	if filter.SearchTerm != nil && strings.TrimSpace(*filter.SearchTerm) != "" {
		search := "%" + strings.ToLower(strings.TrimSpace(*filter.SearchTerm)) + "%"
		builder = builder.Where(sq.Or{
			sq.Like{"LOWER(title)": search},
			sq.Like{"LOWER(description)": search},
			sq.Like{"LOWER(external_key)": search},
		})
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = defaultListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder = builder.OrderBy("created_at DESC", "id DESC").Limit(uint64(limit)).Offset(uint64(offset))

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("list tickets: build: %w", err)
	}
	return selectTickets(ctx, r.db, query, args...)
}

func (r *ticketRepository) Mutate(ctx context.Context, id string, fn func(*domain.Ticket) error) (*domain.Ticket, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("mutate ticket: begin: %w", err)
	}
	defer rollback(ctx, tx)

	query, args, err := psql.Select(ticketColumns...).From("tickets").Where(sq.Eq{"id": id}).Suffix("FOR UPDATE").ToSql()
	if err != nil {
		return nil, err
	}
	ticket, err := fetchTicket(ctx, tx, query, args...)
	if err != nil {
		return nil, err
	}

	if err := fn(ticket); err != nil {
		return nil, err
	}

	update, updateArgs, err := psql.Update("tickets").SetMap(map[string]interface{}{
		"assignee_id":     ticket.AssigneeID,
		"status":          ticket.Status,
		"priority":        ticket.Priority,
		"updated_at":      ticket.UpdatedAt,
		"sla_started_at":  ticket.SLAStartedAt,
		"sla_deadline":    ticket.SLADeadline,
		"resolved_at":     ticket.ResolvedAt,
		"sla_breached_at": ticket.SLABreachedAt,
	}).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("mutate ticket: build: %w", err)
	}
	if _, err := tx.Exec(ctx, update, updateArgs...); err != nil {
		return nil, fmt.Errorf("mutate ticket: update: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("mutate ticket: commit: %w", err)
	}
	return ticket, nil
}

func (r *ticketRepository) ListOverdue(ctx context.Context, now time.Time, limit int) ([]domain.Ticket, error) {
	if limit <= 0 {
		limit = 100
	}
	query, args, err := psql.Select(ticketColumns...).From("tickets").
		Where(sq.Eq{"status": []string{string(domain.TicketStatusOpen), string(domain.TicketStatusInProgress)}}).
		Where(sq.Eq{"sla_breached_at": nil}).
		Where(sq.Lt{"sla_deadline": now}).
		OrderBy("sla_deadline ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("list overdue: build: %w", err)
	}
	return selectTickets(ctx, r.db, query, args...)
}

func (r *ticketRepository) MarkBreached(ctx context.Context, id string, at time.Time) (bool, error) {
	const query = `
        UPDATE tickets SET sla_breached_at=$1
        WHERE id=$2 AND sla_breached_at IS NULL AND status IN ('OPEN','IN_PROGRESS') AND sla_deadline < $1`
	cmd, err := r.db.Exec(ctx, query, at, id)
	if err != nil {
		return false, fmt.Errorf("mark breached: %w", err)
	}
	return cmd.RowsAffected() == 1, nil
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func fetchTicket(ctx context.Context, q rowQuerier, query string, args ...any) (*domain.Ticket, error) {
	var row ticketRow
	if err := q.QueryRow(ctx, query, args...).Scan(
		&row.ID,
		&row.ExternalKey,
		&row.OwnerID,
		&row.AssigneeID,
		&row.Title,
		&row.Description,
		&row.Status,
		&row.Priority,
		&row.CreatedAt,
		&row.UpdatedAt,
		&row.SLAStartedAt,
		&row.SLADeadline,
		&row.ResolvedAt,
		&row.SLABreachedAt,
	); err != nil {
		return nil, err
	}
	ticket := row.toDomain()
	return &ticket, nil
}

func selectTickets(ctx context.Context, db DB, query string, args ...any) ([]domain.Ticket, error) {
	var rows []ticketRow
	if err := pgxscan.Select(ctx, db, &rows, query, args...); err != nil {
		return nil, err
	}
	tickets := make([]domain.Ticket, 0, len(rows))
	for _, row := range rows {
		tickets = append(tickets, row.toDomain())
	}
	return tickets, nil
}

func toStrings[T ~string](values []T) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}
