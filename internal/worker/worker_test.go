package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spec-kit/support-portal/internal/domain"
	"github.com/spec-kit/support-portal/internal/events"
	"github.com/spec-kit/support-portal/internal/observability"
	"github.com/spec-kit/support-portal/internal/repository"
)

type recordingHandler struct {
	mu   sync.Mutex
	seen []string
	err  error
}

func (h *recordingHandler) Handle(_ context.Context, evt events.Event) ([]domain.DeliveryAttempt, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = append(h.seen, evt.ID)
	return nil, h.err
}

func TestNotificationWorker_DropsWhenFull(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	metrics := observability.NewMetrics()
	w := NewNotificationWorker(&recordingHandler{}, 1, zap.New(core), metrics)

	require.NoError(t, w.Enqueue(context.Background(), events.Event{ID: "e1"}))
	require.NoError(t, w.Enqueue(context.Background(), events.Event{ID: "e2", TicketID: "t-1"}))

	assert.Equal(t, int64(1), metrics.Snapshot()["dropped"]["notifications"])
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "e2", logs.All()[0].ContextMap()["event_id"])
}

func TestNotificationWorker_ProcessesInOrderAndDrains(t *testing.T) {
	handler := &recordingHandler{}
	w := NewNotificationWorker(handler, 8, nil, nil)
	dispatcher := events.NewInMemoryDispatcher(nil)
	w.Register(dispatcher)

	for _, id := range []string{"e1", "e2", "e3"} {
		require.NoError(t, dispatcher.Publish(context.Background(), events.Event{ID: id, Type: events.EventTicketTransitioned}))
	}
	require.NoError(t, dispatcher.Publish(context.Background(), events.Event{ID: "ignored", Type: events.EventTicketCreated}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, w.Run(ctx))
	assert.Equal(t, []string{"e1", "e2", "e3"}, handler.seen)
}

func TestNotificationWorker_HandlerErrorIsLogged(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	handler := &recordingHandler{err: errors.New("db down")}
	w := NewNotificationWorker(handler, 4, zap.New(core), nil)
	require.NoError(t, w.Enqueue(context.Background(), events.Event{ID: "e1"}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	require.Eventually(t, func() bool { return logs.Len() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

type overdueRepo struct {
	repository.TicketRepository
	mu       sync.Mutex
	tickets  []domain.Ticket
	breached map[string]bool
	listErr  error
}

func (r *overdueRepo) ListOverdue(_ context.Context, now time.Time, _ int) ([]domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []domain.Ticket
	for _, t := range r.tickets {
		if !r.breached[t.ID] && t.SLADeadline != nil && t.SLADeadline.Before(now) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *overdueRepo) MarkBreached(_ context.Context, id string, _ time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.breached[id] {
		return false, nil
	}
	r.breached[id] = true
	return true, nil
}

func TestSLAMonitor_AnnouncesEachBreachOnce(t *testing.T) {
	now := time.Date(2026, 10, 5, 18, 0, 0, 0, time.UTC)
	late := now.Add(-time.Minute)
	fine := now.Add(time.Hour)
	repo := &overdueRepo{
		tickets: []domain.Ticket{
			{ID: "t-late", Priority: domain.TicketPriorityUrgent, Status: domain.TicketStatusOpen, SLADeadline: &late},
			{ID: "t-fine", Priority: domain.TicketPriorityLow, Status: domain.TicketStatusOpen, SLADeadline: &fine},
		},
		breached: map[string]bool{},
	}

	dispatcher := events.NewInMemoryDispatcher(nil)
	var got []events.Event
	dispatcher.Subscribe(events.EventSLABreached, func(_ context.Context, evt events.Event) error {
		got = append(got, evt)
		return nil
	})

	m := NewSLAMonitor(repo, dispatcher, time.Minute, nil)
	m.now = func() time.Time { return now }

	n, err := m.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = m.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.Len(t, got, 1)
	assert.Equal(t, "t-late", got[0].TicketID)
	payload, ok := got[0].Payload.(events.SLABreachedPayload)
	require.True(t, ok)
	assert.Equal(t, late, payload.SLADeadline)
	assert.Equal(t, now, payload.DetectedAt)
}

func TestSLAMonitor_RunStopsOnCancel(t *testing.T) {
	repo := &overdueRepo{breached: map[string]bool{}, listErr: errors.New("conn refused")}
	m := NewSLAMonitor(repo, events.NewInMemoryDispatcher(nil), 10*time.Millisecond, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NoError(t, m.Run(ctx))
}
