package conversation

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Hub shares one running session per ticket across all local viewers.
type Hub struct {
	ctx       context.Context
	store     MessageStore
	transport PushTransport
	presence  *Presence
	cfg       Config
	opts      []SessionOption
	logger    *zap.Logger

	mu       sync.Mutex
	sessions map[string]*hubEntry
}

type hubEntry struct {
	session *Session
	refs    int
	ready   chan struct{}
	err     error
}

// NewHub creates a hub. Sessions live under ctx, not under the context of
// the request that happened to open them.
func NewHub(ctx context.Context, store MessageStore, transport PushTransport, presence *Presence, cfg Config, logger *zap.Logger, opts ...SessionOption) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if presence == nil {
		presence = NewPresence(DefaultTypingTTL, nil)
	}
	opts = append([]SessionOption{WithSessionLogger(logger)}, opts...)
	return &Hub{
		ctx:       ctx,
		store:     store,
		transport: transport,
		presence:  presence,
		cfg:       cfg,
		opts:      opts,
		logger:    logger,
		sessions:  make(map[string]*hubEntry),
	}
}

// Presence returns the tracker shared by every session of the hub.
func (h *Hub) Presence() *Presence {
	return h.presence
}

// Join returns the running session for ticketID, starting it on first use,
// and a release func. The last release closes the session.
func (h *Hub) Join(ctx context.Context, ticketID string) (*Session, func(), error) {
	h.mu.Lock()
	entry, ok := h.sessions[ticketID]
	if ok {
		entry.refs++
		h.mu.Unlock()
		select {
		case <-entry.ready:
		case <-ctx.Done():
			h.release(ticketID, entry)
			return nil, nil, ctx.Err()
		}
		if entry.err != nil {
			h.release(ticketID, entry)
			return nil, nil, entry.err
		}
		return entry.session, h.releaser(ticketID, entry), nil
	}

	entry = &hubEntry{
		session: NewSession(ticketID, h.store, h.transport, h.presence, h.cfg, h.opts...),
		refs:    1,
		ready:   make(chan struct{}),
	}
	h.sessions[ticketID] = entry
	h.mu.Unlock()

	entry.err = entry.session.Start(h.ctx)
	close(entry.ready)
	if entry.err != nil {
		h.release(ticketID, entry)
		return nil, nil, entry.err
	}
	h.logger.Debug("conversation session started", zap.String("ticket_id", ticketID))
	return entry.session, h.releaser(ticketID, entry), nil
}

// Active returns the number of tickets with a live session.
func (h *Hub) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Close stops every session.
func (h *Hub) Close() {
	h.mu.Lock()
	entries := make([]*hubEntry, 0, len(h.sessions))
	for id, entry := range h.sessions {
		entries = append(entries, entry)
		delete(h.sessions, id)
	}
	h.mu.Unlock()

	for _, entry := range entries {
		<-entry.ready
		entry.session.Close()
	}
}

func (h *Hub) releaser(ticketID string, entry *hubEntry) func() {
	var once sync.Once
	return func() {
		once.Do(func() { h.release(ticketID, entry) })
	}
}

func (h *Hub) release(ticketID string, entry *hubEntry) {
	h.mu.Lock()
	entry.refs--
	last := entry.refs == 0
	if last && h.sessions[ticketID] == entry {
		delete(h.sessions, ticketID)
	}
	h.mu.Unlock()

	if last && entry.err == nil {
		entry.session.Close()
		h.logger.Debug("conversation session closed", zap.String("ticket_id", ticketID))
	}
}
