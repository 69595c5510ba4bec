package service

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/support-portal/internal/conversation"
	"github.com/spec-kit/support-portal/internal/domain"
	"github.com/spec-kit/support-portal/internal/lifecycle"
	"github.com/spec-kit/support-portal/internal/repository"
)

// MaxMessageLength caps message content, counted in runes.
const MaxMessageLength = 4000

// ConversationService posts to and reads from ticket threads.
type ConversationService struct {
	tickets   repository.TicketRepository
	store     conversation.MessageStore
	publisher conversation.Publisher
	hub       *conversation.Hub
	logger    *zap.Logger
	now       func() time.Time
}

// ConversationDependencies bundles collaborators for the conversation service.
type ConversationDependencies struct {
	TicketRepo repository.TicketRepository
	Store      conversation.MessageStore
	Publisher  conversation.Publisher
	Hub        *conversation.Hub
	Logger     *zap.Logger
	Now        func() time.Time
}

// NewConversationService constructs the service.
func NewConversationService(deps ConversationDependencies) *ConversationService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &ConversationService{
		tickets:   deps.TicketRepo,
		store:     deps.Store,
		publisher: deps.Publisher,
		hub:       deps.Hub,
		logger:    logger,
		now:       now,
	}
}

// PostMessage appends a message to the thread and pushes it to live viewers.
// The store is the source of truth: a failed push is caught up by the next pull.
func (s *ConversationService) PostMessage(ctx context.Context, actor domain.Actor, ticketID, content string) (*domain.Message, error) {
	ticket, err := s.visibleTicket(ctx, actor, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.Status == domain.TicketStatusClosed {
		return nil, lifecycle.ErrTicketClosed
	}

	content = strings.TrimSpace(content)
	if content == "" || utf8.RuneCountInString(content) > MaxMessageLength {
		return nil, ErrInvalidMessage
	}

	role := domain.SenderRoleStudent
	if actor.Role.IsStaff() {
		role = domain.SenderRoleStaff
	}
	msg, err := s.store.Append(ctx, domain.Message{
		ID:         uuid.NewString(),
		TicketID:   ticketID,
		SenderRole: role,
		SenderID:   actor.ID,
		Content:    content,
	})
	if err != nil {
		return nil, err
	}

	s.push(ctx, ticketID, conversation.Envelope{Message: &msg})
	if s.hub != nil {
		s.hub.Presence().Clear(ticketID, actor.ID)
	}
	return &msg, nil
}

// History returns the whole thread, oldest first.
func (s *ConversationService) History(ctx context.Context, actor domain.Actor, ticketID string) ([]domain.Message, error) {
	if _, err := s.visibleTicket(ctx, actor, ticketID); err != nil {
		return nil, err
	}
	return s.store.Since(ctx, ticketID, conversation.Cursor{})
}

// SignalTyping records that the actor started or stopped typing and
// broadcasts it. Typing indicators are best effort.
func (s *ConversationService) SignalTyping(ctx context.Context, actor domain.Actor, ticketID string, active bool) error {
	if _, err := s.visibleTicket(ctx, actor, ticketID); err != nil {
		return err
	}
	signal := conversation.TypingSignal{
		TicketID:      ticketID,
		ParticipantID: actor.ID,
		Active:        active,
		At:            s.now().UTC(),
	}
	if s.hub != nil {
		s.hub.Presence().Apply(signal)
	}
	s.push(ctx, ticketID, conversation.Envelope{Typing: &signal})
	return nil
}

// Open joins the shared live session of the ticket. The returned func must
// be called when the viewer leaves.
func (s *ConversationService) Open(ctx context.Context, actor domain.Actor, ticketID string) (*conversation.Session, func(), error) {
	if _, err := s.visibleTicket(ctx, actor, ticketID); err != nil {
		return nil, nil, err
	}
	return s.hub.Join(ctx, ticketID)
}

func (s *ConversationService) visibleTicket(ctx context.Context, actor domain.Actor, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !canView(actor, *ticket) {
		return nil, ErrForbidden
	}
	return ticket, nil
}

func (s *ConversationService) push(ctx context.Context, ticketID string, env conversation.Envelope) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, ticketID, env); err != nil {
		s.logger.Warn("conversation push failed",
			zap.String("ticket_id", ticketID),
			zap.Error(err))
	}
}
