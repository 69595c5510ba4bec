package conversation

import (
	"sort"
	"sync"
	"time"
)

// DefaultTypingTTL is how long a typing signal stays visible.
const DefaultTypingTTL = 3 * time.Second

// Presence tracks who is typing on which ticket.
type Presence struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]map[string]time.Time
}

// NewPresence builds a tracker. A nil now uses time.Now.
func NewPresence(ttl time.Duration, now func() time.Time) *Presence {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Presence{ttl: ttl, now: now, entries: make(map[string]map[string]time.Time)}
}

// Touch marks participant as typing on ticket.
func (p *Presence) Touch(ticketID, participantID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	byTicket, ok := p.entries[ticketID]
	if !ok {
		byTicket = make(map[string]time.Time)
		p.entries[ticketID] = byTicket
	}
	byTicket[participantID] = p.now().Add(p.ttl)
}

// Clear removes participant from ticket.
func (p *Presence) Clear(ticketID, participantID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if byTicket, ok := p.entries[ticketID]; ok {
		delete(byTicket, participantID)
		if len(byTicket) == 0 {
			delete(p.entries, ticketID)
		}
	}
}

// Active lists participants still typing on ticket, sorted. Expired entries are pruned.
func (p *Presence) Active(ticketID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	byTicket := p.entries[ticketID]
	now := p.now()
	active := make([]string, 0, len(byTicket))
	for participant, expires := range byTicket {
		if !now.Before(expires) {
			delete(byTicket, participant)
			continue
		}
		active = append(active, participant)
	}
	if len(byTicket) == 0 {
		delete(p.entries, ticketID)
	}
	sort.Strings(active)
	return active
}

// Apply updates presence from a pushed signal.
func (p *Presence) Apply(sig TypingSignal) {
	if sig.Active {
		p.Touch(sig.TicketID, sig.ParticipantID)
		return
	}
	p.Clear(sig.TicketID, sig.ParticipantID)
}
