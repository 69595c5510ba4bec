package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spec-kit/support-portal/internal/conversation"
	"github.com/spec-kit/support-portal/internal/domain"
	"github.com/spec-kit/support-portal/internal/persistence"
)

// Set SUPPORT_PORTAL_IT=1 to run against a throwaway Postgres container.
func setupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if os.Getenv("SUPPORT_PORTAL_IT") != "1" {
		t.Skip("integration tests disabled; set SUPPORT_PORTAL_IT=1")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("support"),
		postgres.WithUsername("support"),
		postgres.WithPassword("support"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, persistence.RunMigrations(ctx, pool, zap.NewNop()))
	return pool
}

func openTicket(owner string, created time.Time) *domain.Ticket {
	id := uuid.NewString()
	deadline := created.Add(4 * time.Hour)
	return &domain.Ticket{
		ID:           id,
		ExternalKey:  "TCK-" + id[:8],
		OwnerID:      owner,
		Title:        "Lab PC won't boot",
		Status:       domain.TicketStatusOpen,
		Priority:     domain.TicketPriorityUrgent,
		CreatedAt:    created,
		UpdatedAt:    created,
		SLAStartedAt: created,
		SLADeadline:  &deadline,
	}
}

func TestIntegration_OpenTicketLimitUnderContention(t *testing.T) {
	pool := setupPostgres(t)
	repo := NewTicketRepository(pool)
	owner := uuid.NewString()

	var created, rejected atomic.Int32
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			err := repo.CreateWithinLimit(ctx, openTicket(owner, time.Now().UTC()), 5)
			switch {
			case err == nil:
				created.Add(1)
			case errors.Is(err, ErrOpenTicketLimit):
				rejected.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(5), created.Load())
	assert.Equal(t, int32(5), rejected.Load())
}

func TestIntegration_MutateSerializesPerTicket(t *testing.T) {
	pool := setupPostgres(t)
	repo := NewTicketRepository(pool)
	ticket := openTicket(uuid.NewString(), time.Now().UTC().Truncate(time.Second))
	require.NoError(t, repo.CreateWithinLimit(context.Background(), ticket, 0))

	var g errgroup.Group
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			_, err := repo.Mutate(context.Background(), ticket.ID, func(t *domain.Ticket) error {
				t.UpdatedAt = t.UpdatedAt.Add(time.Second)
				return nil
			})
			return err
		})
	}
	require.NoError(t, g.Wait())

	stored, err := repo.GetByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.True(t, ticket.UpdatedAt.Add(20*time.Second).Equal(stored.UpdatedAt), "lost update: %s", stored.UpdatedAt)
}

func TestIntegration_MessagesSinceCursor(t *testing.T) {
	pool := setupPostgres(t)
	tickets := NewTicketRepository(pool)
	messages := NewMessageRepository(pool)
	ticket := openTicket(uuid.NewString(), time.Now().UTC())
	require.NoError(t, tickets.CreateWithinLimit(context.Background(), ticket, 0))

	var last domain.Message
	for i := 0; i < 3; i++ {
		msg, err := messages.Append(context.Background(), domain.Message{
			ID:         uuid.NewString(),
			TicketID:   ticket.ID,
			SenderRole: domain.SenderRoleStudent,
			SenderID:   ticket.OwnerID,
			Content:    fmt.Sprintf("message %d", i),
		})
		require.NoError(t, err)
		last = msg
	}

	all, err := messages.Since(context.Background(), ticket.ID, conversation.Cursor{})
	require.NoError(t, err)
	require.Len(t, all, 3)

	after, err := messages.Since(context.Background(), ticket.ID, conversation.CursorOf(all[1]))
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, last.ID, after[0].ID)

	rewound, err := messages.Since(context.Background(), ticket.ID, conversation.CursorOf(last).Rewind(time.Minute))
	require.NoError(t, err)
	assert.Len(t, rewound, 3)
}
