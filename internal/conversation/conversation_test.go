package conversation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/support-portal/internal/domain"
	"github.com/spec-kit/support-portal/internal/observability"
)

const ticket = "ticket-1"

var t0 = time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

func msg(id string, offset time.Duration) domain.Message {
	return domain.Message{ID: id, TicketID: ticket, SenderRole: domain.SenderRoleStaff, Content: id, CreatedAt: t0.Add(offset)}
}

func ids(msgs []domain.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

type memStore struct {
	mu    sync.Mutex
	msgs  []domain.Message
	fail  int
	calls int
}

func (m *memStore) add(msgs ...domain.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, msgs...)
}

func (m *memStore) failNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = n
}

func (m *memStore) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *memStore) Append(_ context.Context, msg domain.Message) (domain.Message, error) {
	m.add(msg)
	return msg, nil
}

func (m *memStore) Since(_ context.Context, ticketID string, cursor Cursor) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.fail > 0 {
		m.fail--
		return nil, errors.New("db unavailable")
	}
	var out []domain.Message
	for _, msg := range m.msgs {
		if msg.TicketID == ticketID && cursor.Precedes(msg) {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

type fakeTransport struct {
	mu      sync.Mutex
	streams []chan Envelope
	failing bool
}

func (f *fakeTransport) Subscribe(ctx context.Context, _ string) (<-chan Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return nil, errors.New("pubsub down")
	}
	ch := make(chan Envelope, 16)
	f.streams = append(f.streams, ch)
	return ch, nil
}

func (f *fakeTransport) setFailing(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = v
}

func (f *fakeTransport) subscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.streams)
}

func (f *fakeTransport) push(env Envelope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streams[len(f.streams)-1] <- env
}

func (f *fakeTransport) drop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	close(f.streams[len(f.streams)-1])
}

func TestTimeline_MergeIsIdempotent(t *testing.T) {
	tl := NewTimeline(ticket)
	batch := []domain.Message{msg("a", 0), msg("b", time.Second)}

	assert.Equal(t, []string{"a", "b"}, ids(tl.Merge(batch)))
	assert.Empty(t, tl.Merge(batch))
	assert.Equal(t, []string{"a", "b"}, ids(tl.Messages()))
}

func TestTimeline_ArrivalOrderIndependent(t *testing.T) {
	all := []domain.Message{msg("a", 0), msg("b", time.Second), msg("c", time.Second), msg("d", 3*time.Second)}
	orders := [][]int{{0, 1, 2, 3}, {3, 2, 1, 0}, {2, 0, 3, 1}, {1, 3, 0, 2}}

	for _, order := range orders {
		tl := NewTimeline(ticket)
		for _, i := range order {
			tl.Merge([]domain.Message{all[i]})
		}
		assert.Equal(t, []string{"a", "b", "c", "d"}, ids(tl.Messages()), "order %v", order)
	}
}

func TestTimeline_DedupWithinBatchAndForeignTickets(t *testing.T) {
	tl := NewTimeline(ticket)
	foreign := msg("x", 0)
	foreign.TicketID = "other"
	edited := msg("a", 0)
	edited.Content = "edited"

	added := tl.Merge([]domain.Message{msg("a", 0), edited, foreign})
	require.Len(t, added, 1)
	assert.Equal(t, "a", added[0].Content)
	assert.Equal(t, 1, tl.Len())
}

func TestPresence_Expiry(t *testing.T) {
	now := t0
	p := NewPresence(3*time.Second, func() time.Time { return now })

	p.Touch(ticket, "staff-1")
	p.Touch(ticket, "student-1")
	p.Touch("other", "staff-2")
	assert.Equal(t, []string{"staff-1", "student-1"}, p.Active(ticket))

	now = now.Add(2 * time.Second)
	p.Touch(ticket, "student-1")
	now = now.Add(1500 * time.Millisecond)
	assert.Equal(t, []string{"student-1"}, p.Active(ticket))

	p.Apply(TypingSignal{TicketID: ticket, ParticipantID: "student-1"})
	assert.Empty(t, p.Active(ticket))
}

func TestSession_StartFetchesHistory(t *testing.T) {
	store := &memStore{}
	store.add(msg("b", time.Second), msg("a", 0))
	transport := &fakeTransport{}
	metrics := observability.NewMetrics()

	s := NewSession(ticket, store, transport, nil, Config{PollInterval: time.Hour}, WithSessionMetrics(metrics))
	assert.Equal(t, StateIdle, s.State())
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()

	assert.Equal(t, StateSynced, s.State())
	assert.Equal(t, []string{"a", "b"}, ids(s.Messages()))
	assert.Equal(t, int64(1), metrics.Snapshot()["sync_fetches"]["ok"])
}

func TestSession_StartFailure(t *testing.T) {
	store := &memStore{}
	store.failNext(1)
	s := NewSession(ticket, store, &fakeTransport{}, nil, Config{PollInterval: time.Hour})

	err := s.Start(context.Background())
	require.ErrorIs(t, err, ErrSyncFetchFailed)
	assert.Equal(t, StateIdle, s.State())

	require.NoError(t, s.Start(context.Background()))
	s.Close()
}

// A push delivers c before the pull has seen b, which was committed later
// with an earlier timestamp. The pull must still pick b up.
func TestSession_PushThenLateCommittedPull(t *testing.T) {
	store := &memStore{}
	store.add(msg("a", 0))
	transport := &fakeTransport{}
	s := NewSession(ticket, store, transport, nil, Config{PollInterval: time.Hour, Lookback: 2 * time.Second})
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()

	c := msg("c", 1500*time.Millisecond)
	transport.push(Envelope{Message: &c})
	require.Eventually(t, func() bool { return len(s.Messages()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a", "c"}, ids(s.Messages()))

	store.add(c)
	require.NoError(t, s.Sync(context.Background()))
	store.add(msg("b", time.Second))
	require.NoError(t, s.Sync(context.Background()))

	assert.Equal(t, []string{"a", "b", "c"}, ids(s.Messages()))
}

func TestSession_PullFailureRecovers(t *testing.T) {
	store := &memStore{}
	store.add(msg("a", 0))
	transport := &fakeTransport{}
	s := NewSession(ticket, store, transport, nil, Config{PollInterval: time.Hour})
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()

	store.failNext(1)
	store.add(msg("b", time.Second))
	require.ErrorIs(t, s.Sync(context.Background()), ErrSyncFetchFailed)
	assert.Equal(t, StateSynced, s.State())
	assert.True(t, s.Degraded())

	require.NoError(t, s.Sync(context.Background()))
	assert.Equal(t, StateSynced, s.State())
	assert.False(t, s.Degraded())
	assert.Equal(t, []string{"a", "b"}, ids(s.Messages()))
}

func TestSession_PushLossDegradesAndResubscribes(t *testing.T) {
	store := &memStore{}
	transport := &fakeTransport{}
	s := NewSession(ticket, store, transport, nil, Config{PollInterval: 10 * time.Millisecond})
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()

	transport.setFailing(true)
	transport.drop()
	require.Eventually(t, s.Degraded, time.Second, time.Millisecond)
	assert.Equal(t, StateSynced, s.State())

	store.add(msg("a", 0))
	require.Eventually(t, func() bool { return len(s.Messages()) == 1 }, time.Second, 5*time.Millisecond)

	transport.setFailing(false)
	require.Eventually(t, func() bool { return !s.Degraded() }, time.Second, time.Millisecond)
	assert.GreaterOrEqual(t, transport.subscriptions(), 2)
}

func TestSession_SubscribeFailureAtStart(t *testing.T) {
	transport := &fakeTransport{failing: true}
	s := NewSession(ticket, &memStore{}, transport, nil, Config{PollInterval: 10 * time.Millisecond})
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()

	assert.Equal(t, StateSynced, s.State())
	assert.True(t, s.Degraded())
	transport.setFailing(false)
	require.Eventually(t, func() bool { return !s.Degraded() }, time.Second, time.Millisecond)
}

func TestSession_TypingAndWatch(t *testing.T) {
	transport := &fakeTransport{}
	s := NewSession(ticket, &memStore{}, transport, nil, Config{PollInterval: time.Hour})
	require.NoError(t, s.Start(context.Background()))

	snapshot, updates, stop := s.Watch()
	defer stop()
	assert.Empty(t, snapshot)

	transport.push(Envelope{Typing: &TypingSignal{TicketID: ticket, ParticipantID: "staff-1", Active: true}})
	a := msg("a", 0)
	transport.push(Envelope{Message: &a})

	select {
	case update := <-updates:
		assert.False(t, update.Reset)
		assert.Equal(t, []string{"a"}, ids(update.Messages))
	case <-time.After(time.Second):
		t.Fatal("no update")
	}
	assert.Equal(t, []string{"staff-1"}, s.Typing())

	s.Close()
	assert.Equal(t, StateClosed, s.State())
	_, open := <-updates
	assert.False(t, open)
}

func TestSession_RestartRefetches(t *testing.T) {
	store := &memStore{}
	store.add(msg("a", 0))
	s := NewSession(ticket, store, nil, nil, Config{PollInterval: time.Hour})
	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, StateSynced, s.State())
	s.Close()

	store.add(msg("b", time.Second))
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()
	assert.Equal(t, []string{"a", "b"}, ids(s.Messages()))
	assert.Equal(t, 2, store.callCount())
}

func TestSession_PullOnlyIsSyncedAndHealthy(t *testing.T) {
	store := &memStore{}
	s := NewSession(ticket, store, nil, nil, Config{PollInterval: time.Hour})
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()

	store.add(msg("a", 0))
	require.NoError(t, s.Sync(context.Background()))
	assert.Equal(t, StateSynced, s.State())
	assert.False(t, s.Degraded())
}

func TestSession_MergePassesThroughReconciling(t *testing.T) {
	store := &memStore{}
	store.add(msg("a", 0))
	s := NewSession(ticket, store, &fakeTransport{}, nil, Config{PollInterval: time.Hour})
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()

	var seen []State
	s.mu.Lock()
	s.stateHook = func(st State) { seen = append(seen, st) }
	s.mu.Unlock()

	store.add(msg("b", time.Second))
	require.NoError(t, s.Sync(context.Background()))

	s.mu.Lock()
	got := append([]State(nil), seen...)
	s.mu.Unlock()
	assert.Equal(t, []State{StateReconciling, StateSynced}, got)
	assert.Equal(t, StateSynced, s.State())
}

func TestSession_WatchSnapshotAndUpdatesDoNotOverlap(t *testing.T) {
	store := &memStore{}
	store.add(msg("a", 0))
	s := NewSession(ticket, store, nil, nil, Config{PollInterval: time.Hour})
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()

	store.add(msg("x", time.Second))
	require.NoError(t, s.Sync(context.Background()))

	snapshot, updates, stop := s.Watch()
	defer stop()
	assert.Equal(t, []string{"a", "x"}, ids(snapshot))
	select {
	case update := <-updates:
		t.Fatalf("unexpected update %v", ids(update.Messages))
	default:
	}

	store.add(msg("y", 2*time.Second))
	require.NoError(t, s.Sync(context.Background()))
	update := <-updates
	assert.Equal(t, []string{"y"}, ids(update.Messages))
}

func TestSession_LaggingWatcherIsReset(t *testing.T) {
	store := &memStore{}
	s := NewSession(ticket, store, nil, nil, Config{PollInterval: time.Hour})
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()

	snapshot, updates, stop := s.Watch()
	defer stop()

	for i := 0; i < watcherBuffer+6; i++ {
		store.add(msg(fmt.Sprintf("m%03d", i), time.Duration(i)*time.Second))
		require.NoError(t, s.Sync(context.Background()))
	}

	view := ids(snapshot)
	resets := 0
	for drained := false; !drained; {
		select {
		case update := <-updates:
			if update.Reset {
				resets++
				view = ids(update.Messages)
				continue
			}
			view = append(view, ids(update.Messages)...)
		default:
			drained = true
		}
	}
	assert.Equal(t, 1, resets)
	assert.Equal(t, ids(s.Messages()), view)
	assert.Len(t, view, watcherBuffer+6)
}

func TestSession_WatcherBeforeStartGetsHistory(t *testing.T) {
	store := &memStore{}
	store.add(msg("a", 0))
	s := NewSession(ticket, store, nil, nil, Config{PollInterval: time.Hour})

	snapshot, updates, stop := s.Watch()
	defer stop()
	assert.Empty(t, snapshot)

	require.NoError(t, s.Start(context.Background()))
	defer s.Close()
	update := <-updates
	assert.True(t, update.Reset)
	assert.Equal(t, []string{"a"}, ids(update.Messages))
}

type gatedStore struct {
	*memStore
	entered chan struct{}
	gate    chan struct{}
}

func (g gatedStore) Since(ctx context.Context, ticketID string, cursor Cursor) ([]domain.Message, error) {
	g.entered <- struct{}{}
	<-g.gate
	return g.memStore.Since(ctx, ticketID, cursor)
}

func TestSession_ReadersDoNotWaitForHistoryFetch(t *testing.T) {
	store := gatedStore{memStore: &memStore{}, entered: make(chan struct{}, 1), gate: make(chan struct{})}
	store.add(msg("a", 0))
	s := NewSession(ticket, store, nil, nil, Config{PollInterval: time.Hour})

	started := make(chan error, 1)
	go func() { started <- s.Start(context.Background()) }()
	<-store.entered

	read := make(chan State, 1)
	go func() {
		_ = s.Messages()
		read <- s.State()
	}()
	select {
	case st := <-read:
		assert.Equal(t, StateIdle, st)
	case <-time.After(time.Second):
		t.Fatal("State blocked behind the history fetch")
	}

	close(store.gate)
	require.NoError(t, <-started)
	defer s.Close()
	assert.Equal(t, []string{"a"}, ids(s.Messages()))
}

func TestHub_SharesSessionPerTicket(t *testing.T) {
	store := &memStore{}
	store.add(msg("a", 0))
	hub := NewHub(context.Background(), store, &fakeTransport{}, nil, Config{PollInterval: time.Hour}, nil)

	first, releaseFirst, err := hub.Join(context.Background(), ticket)
	require.NoError(t, err)
	second, releaseSecond, err := hub.Join(context.Background(), ticket)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, store.callCount())
	assert.Equal(t, 1, hub.Active())

	releaseFirst()
	releaseFirst()
	assert.Equal(t, StateSynced, first.State())

	releaseSecond()
	assert.Equal(t, 0, hub.Active())
	assert.Equal(t, StateClosed, first.State())
}

func TestHub_JoinFailure(t *testing.T) {
	store := &memStore{}
	store.failNext(1)
	hub := NewHub(context.Background(), store, nil, nil, Config{PollInterval: time.Hour}, nil)

	_, _, err := hub.Join(context.Background(), ticket)
	require.ErrorIs(t, err, ErrSyncFetchFailed)
	assert.Equal(t, 0, hub.Active())

	s, release, err := hub.Join(context.Background(), ticket)
	require.NoError(t, err)
	defer release()
	assert.NotNil(t, s)
}
