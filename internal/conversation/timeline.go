package conversation

import (
	"sort"
	"sync"

	"github.com/spec-kit/support-portal/internal/domain"
)

// Timeline is the ordered, de-duplicated message list of one ticket.
type Timeline struct {
	ticketID string

	mu       sync.RWMutex
	messages []domain.Message
	seen     map[string]struct{}
}

// NewTimeline creates an empty timeline.
func NewTimeline(ticketID string) *Timeline {
	return &Timeline{ticketID: ticketID, seen: make(map[string]struct{})}
}

// Merge adds unseen messages and returns them in timeline order. Duplicates
// are detected by id only, including within batch. Messages of other tickets
// are ignored.
func (t *Timeline) Merge(batch []domain.Message) []domain.Message {
	if len(batch) == 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	var added []domain.Message
	for _, msg := range batch {
		if msg.TicketID != t.ticketID || msg.ID == "" {
			continue
		}
		if _, ok := t.seen[msg.ID]; ok {
			continue
		}
		t.seen[msg.ID] = struct{}{}
		added = append(added, msg)
	}
	if len(added) == 0 {
		return nil
	}

	sortMessages(added)
	last := len(t.messages) - 1
	t.messages = append(t.messages, added...)
	if last >= 0 && !t.messages[last].Before(added[0]) {
		sortMessages(t.messages)
	}
	return added
}

// Messages returns a copy of the timeline.
func (t *Timeline) Messages() []domain.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]domain.Message(nil), t.messages...)
}

// Len returns the number of messages.
func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

func sortMessages(msgs []domain.Message) {
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Before(msgs[j]) })
}
