package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/support-portal/internal/domain"
	"github.com/spec-kit/support-portal/internal/observability"
)

// State is the synchronization state of a session.
type State string

const (
	StateIdle        State = "idle"
	StateSynced      State = "synced"
	StateReconciling State = "reconciling"
	StateClosed      State = "closed"
)

// Defaults for Config.
const (
	DefaultPollInterval = 5 * time.Second
	DefaultLookback     = 2 * time.Second
)

const watcherBuffer = 64

// Config tunes a session.
type Config struct {
	PollInterval time.Duration
	Lookback     time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Lookback < 0 {
		c.Lookback = 0
	} else if c.Lookback == 0 {
		c.Lookback = DefaultLookback
	}
	return c
}

// Update is one delivery to a watcher. A Reset update carries the whole
// timeline and replaces everything delivered before it.
type Update struct {
	Messages []domain.Message
	Reset    bool
}

// Session keeps one ticket's timeline current. A pull loop reads the store
// on every tick and a push loop consumes the transport; both share one
// context and stop together.
//
// A running session is Synced and passes through Reconciling while a batch
// is merged. Push or pull trouble does not change the state; it is reported
// by Degraded.
type Session struct {
	ticketID  string
	store     MessageStore
	transport PushTransport
	presence  *Presence
	cfg       Config
	logger    *zap.Logger
	metrics   *observability.Metrics

	// startMu serializes Start and Close. mergeMu orders merges against
	// watcher registration so a snapshot and the updates after it never
	// overlap or leave a gap.
	startMu sync.Mutex
	mergeMu sync.Mutex

	mu        sync.Mutex
	state     State
	timeline  *Timeline
	cursor    Cursor
	pushUp    bool
	pullOK    bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	watchers  map[int]chan Update
	nextID    int
	stateHook func(State)
}

// SessionOption customizes a session.
type SessionOption func(*Session)

// WithSessionLogger sets the logger.
func WithSessionLogger(logger *zap.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSessionMetrics sets the metrics registry.
func WithSessionMetrics(metrics *observability.Metrics) SessionOption {
	return func(s *Session) { s.metrics = metrics }
}

// NewSession creates an idle session. transport and presence may be nil.
func NewSession(ticketID string, store MessageStore, transport PushTransport, presence *Presence, cfg Config, opts ...SessionOption) *Session {
	s := &Session{
		ticketID:  ticketID,
		store:     store,
		transport: transport,
		presence:  presence,
		cfg:       cfg.withDefaults(),
		logger:    zap.NewNop(),
		state:     StateIdle,
		timeline:  NewTimeline(ticketID),
		watchers:  make(map[int]chan Update),
	}
	if s.presence == nil {
		s.presence = NewPresence(DefaultTypingTTL, nil)
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("ticket_id", ticketID))
	return s
}

// TicketID returns the ticket this session follows.
func (s *Session) TicketID() string { return s.ticketID }

// Start subscribes to the push transport, fetches the full history and
// launches the pull and push loops under a context derived from ctx.
// Starting a running session is a no-op; a closed session restarts from an
// empty timeline.
func (s *Session) Start(ctx context.Context) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	s.mu.Lock()
	running := s.cancel != nil
	s.mu.Unlock()
	if running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	var (
		stream    <-chan Envelope
		streamErr error
	)
	if s.transport != nil {
		stream, streamErr = s.transport.Subscribe(runCtx, s.ticketID)
	}

	history, err := s.store.Since(ctx, s.ticketID, Cursor{})
	if err != nil {
		cancel()
		s.metrics.RecordSyncFetch(false)
		return fmt.Errorf("%w: %v", ErrSyncFetchFailed, err)
	}
	s.metrics.RecordSyncFetch(true)

	timeline := NewTimeline(s.ticketID)
	timeline.Merge(history)

	s.mergeMu.Lock()
	s.mu.Lock()
	s.timeline = timeline
	s.cursor = highWater(Cursor{}, history)
	s.pullOK = true
	s.pushUp = stream != nil && streamErr == nil
	s.cancel = cancel
	s.setStateLocked(StateSynced)
	if timeline.Len() > 0 {
		snapshot := timeline.Messages()
		for _, ch := range s.watchers {
			s.resetLocked(ch, snapshot)
		}
	}
	s.mu.Unlock()
	s.mergeMu.Unlock()

	if streamErr != nil {
		stream = nil
		s.logger.Warn("push subscribe failed, degrading to pull", zap.Error(streamErr))
	}

	s.wg.Add(2)
	go s.pullLoop(runCtx)
	go s.pushLoop(runCtx, stream)
	return nil
}

// Close stops both loops, waits for them and closes every watcher.
func (s *Session) Close() {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.setStateLocked(StateClosed)
	for id, ch := range s.watchers {
		close(ch)
		delete(s.watchers, id)
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Degraded reports whether a running session has lost its push
// subscription or its last pull failed. A session without a transport is
// pull-only by configuration and is not degraded while pulls succeed.
func (s *Session) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return false
	}
	return !s.pullOK || (s.transport != nil && !s.pushUp)
}

// Messages returns the timeline in order.
func (s *Session) Messages() []domain.Message {
	return s.currentTimeline().Messages()
}

// Typing returns the participants currently typing.
func (s *Session) Typing() []string {
	return s.presence.Active(s.ticketID)
}

// Watch returns the current timeline together with a channel receiving every
// batch merged after it, and a func that stops watching. The channel is
// closed when the session closes. A watcher that falls a full buffer behind
// has its backlog replaced by a Reset update.
func (s *Session) Watch() ([]domain.Message, <-chan Update, func()) {
	s.mergeMu.Lock()
	defer s.mergeMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.timeline.Messages()
	ch := make(chan Update, watcherBuffer)
	if s.state == StateClosed {
		close(ch)
		return snapshot, ch, func() {}
	}
	id := s.nextID
	s.nextID++
	s.watchers[id] = ch

	var once sync.Once
	return snapshot, ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if w, ok := s.watchers[id]; ok {
				close(w)
				delete(s.watchers, id)
			}
		})
	}
}

// Sync performs one pull immediately.
func (s *Session) Sync(ctx context.Context) error {
	return s.pull(ctx)
}

func (s *Session) pullLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.pull(ctx); err != nil && !errors.Is(ctx.Err(), context.Canceled) {
				s.logger.Warn("conversation pull failed, retrying next tick", zap.Error(err))
			}
		}
	}
}

func (s *Session) pull(ctx context.Context) error {
	s.mu.Lock()
	from := s.cursor.Rewind(s.cfg.Lookback)
	s.mu.Unlock()

	batch, err := s.store.Since(ctx, s.ticketID, from)
	if err != nil {
		s.metrics.RecordSyncFetch(false)
		s.mu.Lock()
		s.pullOK = false
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrSyncFetchFailed, err)
	}
	s.metrics.RecordSyncFetch(true)

	s.mu.Lock()
	s.cursor = highWater(s.cursor, batch)
	s.pullOK = true
	s.mu.Unlock()

	s.merge(batch)
	return nil
}

// pushLoop consumes stream and keeps a subscription open. On loss it waits
// one poll interval before subscribing again; the pull loop covers the gap.
func (s *Session) pushLoop(ctx context.Context, stream <-chan Envelope) {
	defer s.wg.Done()
	if s.transport == nil {
		return
	}
	for {
		if stream != nil {
			s.consume(ctx, stream)
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("push stream lost, degrading to pull")
			s.setPush(false)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.PollInterval):
		}

		var err error
		stream, err = s.transport.Subscribe(ctx, s.ticketID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("push resubscribe failed", zap.Error(err))
			stream = nil
			continue
		}
		s.setPush(true)
	}
}

func (s *Session) consume(ctx context.Context, stream <-chan Envelope) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-stream:
			if !ok {
				return
			}
			switch {
			case env.Message != nil:
				s.merge([]domain.Message{*env.Message})
			case env.Typing != nil && env.Typing.TicketID == s.ticketID:
				s.presence.Apply(*env.Typing)
			}
		}
	}
}

func (s *Session) merge(batch []domain.Message) {
	if len(batch) == 0 {
		return
	}
	s.mergeMu.Lock()
	defer s.mergeMu.Unlock()

	s.mu.Lock()
	timeline := s.timeline
	if s.state == StateSynced {
		s.setStateLocked(StateReconciling)
	}
	s.mu.Unlock()

	added := timeline.Merge(batch)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateReconciling {
		s.setStateLocked(StateSynced)
	}
	if len(added) == 0 {
		return
	}
	for _, ch := range s.watchers {
		select {
		case ch <- Update{Messages: added}:
		default:
			s.logger.Warn("conversation watcher lagging, resyncing", zap.Int("messages", timeline.Len()))
			s.resetLocked(ch, timeline.Messages())
		}
	}
}

// resetLocked discards whatever ch still buffers and queues the full
// timeline in its place. Only the session sends on ch and it does so under
// s.mu, so the drained buffer has room.
func (s *Session) resetLocked(ch chan Update, snapshot []domain.Message) {
	for drained := false; !drained; {
		select {
		case <-ch:
		default:
			drained = true
		}
	}
	select {
	case ch <- Update{Messages: snapshot, Reset: true}:
	default:
		s.logger.Error("conversation watcher reset not delivered")
	}
}

func (s *Session) currentTimeline() *Timeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeline
}

func (s *Session) setPush(up bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushUp = up
}

func (s *Session) setStateLocked(state State) {
	s.state = state
	if s.stateHook != nil {
		s.stateHook(state)
	}
}

// highWater advances cur to the newest message in batch.
func highWater(cur Cursor, batch []domain.Message) Cursor {
	for _, msg := range batch {
		if cur.Precedes(msg) {
			cur = CursorOf(msg)
		}
	}
	return cur
}
