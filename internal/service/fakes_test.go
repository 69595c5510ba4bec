package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/support-portal/internal/conversation"
	"github.com/spec-kit/support-portal/internal/domain"
	"github.com/spec-kit/support-portal/internal/events"
	"github.com/spec-kit/support-portal/internal/repository"
	"github.com/spec-kit/support-portal/internal/sla"
)

var baseTime = time.Date(2026, 10, 5, 9, 0, 0, 0, time.UTC)

type memTickets struct {
	mu      sync.Mutex
	tickets map[string]domain.Ticket
}

func newMemTickets(seed ...domain.Ticket) *memTickets {
	m := &memTickets{tickets: make(map[string]domain.Ticket)}
	for _, t := range seed {
		m.tickets[t.ID] = t
	}
	return m
}

func (m *memTickets) CreateWithinLimit(_ context.Context, ticket *domain.Ticket, limit int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit > 0 {
		open := 0
		for _, t := range m.tickets {
			if t.OwnerID == ticket.OwnerID && !t.Status.Terminal() {
				open++
			}
		}
		if open >= limit {
			return repository.ErrOpenTicketLimit
		}
	}
	m.tickets[ticket.ID] = *ticket
	return nil
}

func (m *memTickets) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &t, nil
}

func (m *memTickets) ListWithFilter(_ context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Ticket
	for _, t := range m.tickets {
		if filter.OwnerID != nil && t.OwnerID != *filter.OwnerID {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memTickets) Mutate(_ context.Context, id string, fn func(*domain.Ticket) error) (*domain.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	if err := fn(&t); err != nil {
		return nil, err
	}
	m.tickets[id] = t
	return &t, nil
}

func (m *memTickets) ListOverdue(context.Context, time.Time, int) ([]domain.Ticket, error) {
	return nil, nil
}

func (m *memTickets) MarkBreached(context.Context, string, time.Time) (bool, error) {
	return false, nil
}

type policySource struct {
	mu     sync.Mutex
	policy sla.Policy
}

func (p *policySource) Get(context.Context) (sla.Policy, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.policy, nil
}

func (p *policySource) setPeak(active bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.policy.PeakModeActive = active
}

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) handler(_ context.Context, evt events.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, evt)
	return nil
}

func (l *eventLog) all() []events.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]events.Event(nil), l.events...)
}

type fakeUsers struct {
	contacts map[string]domain.Contact
	prefs    map[string]domain.NotificationPreference
	roles    map[string]domain.Role
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{
		contacts: map[string]domain.Contact{},
		prefs:    map[string]domain.NotificationPreference{},
		roles:    map[string]domain.Role{},
	}
}

func (f *fakeUsers) GetContact(_ context.Context, userID string) (*domain.Contact, error) {
	c, ok := f.contacts[userID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &c, nil
}

func (f *fakeUsers) UpsertContact(_ context.Context, contact domain.Contact, role domain.Role) error {
	f.contacts[contact.UserID] = contact
	f.roles[contact.UserID] = role
	return nil
}

func (f *fakeUsers) GetPreferences(_ context.Context, userID string) (*domain.NotificationPreference, error) {
	p, ok := f.prefs[userID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &p, nil
}

func (f *fakeUsers) SavePreferences(_ context.Context, userID string, prefs domain.NotificationPreference) error {
	f.prefs[userID] = prefs
	return nil
}

type memMessages struct {
	mu   sync.Mutex
	msgs []domain.Message
	tick int
}

func (m *memMessages) Append(_ context.Context, msg domain.Message) (domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tick++
	msg.CreatedAt = baseTime.Add(time.Duration(m.tick) * time.Second)
	m.msgs = append(m.msgs, msg)
	return msg, nil
}

func (m *memMessages) Since(_ context.Context, ticketID string, cursor conversation.Cursor) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Message
	for _, msg := range m.msgs {
		if msg.TicketID == ticketID && cursor.Precedes(msg) {
			out = append(out, msg)
		}
	}
	return out, nil
}

type recordingPublisher struct {
	mu   sync.Mutex
	envs []conversation.Envelope
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, env conversation.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.envs = append(p.envs, env)
	return p.err
}

func (p *recordingPublisher) Subscribe(ctx context.Context, _ string) (<-chan conversation.Envelope, error) {
	ch := make(chan conversation.Envelope)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}
