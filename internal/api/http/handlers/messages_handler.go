package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/spec-kit/support-portal/internal/api/dto"
	"github.com/spec-kit/support-portal/internal/conversation"
	"github.com/spec-kit/support-portal/internal/domain"
	apperrors "github.com/spec-kit/support-portal/pkg/util/errorutil"
)

const defaultStreamTick = 2 * time.Second

// ConversationService is the thread workflow used by the handlers.
type ConversationService interface {
	PostMessage(ctx context.Context, actor domain.Actor, ticketID, content string) (*domain.Message, error)
	History(ctx context.Context, actor domain.Actor, ticketID string) ([]domain.Message, error)
	SignalTyping(ctx context.Context, actor domain.Actor, ticketID string, active bool) error
	Open(ctx context.Context, actor domain.Actor, ticketID string) (*conversation.Session, func(), error)
}

// MessagesHandler serves ticket threads, including the live event stream.
type MessagesHandler struct {
	service ConversationService
	tick    time.Duration
	logger  *zap.Logger
}

// NewMessagesHandler constructs handler. tick is how often the stream
// re-checks presence and sends a keep-alive.
func NewMessagesHandler(conversationService ConversationService, tick time.Duration, logger *zap.Logger) *MessagesHandler {
	if tick <= 0 {
		tick = defaultStreamTick
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MessagesHandler{service: conversationService, tick: tick, logger: logger}
}

// ListMessages GET /api/tickets/:id/messages.
func (h *MessagesHandler) ListMessages(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	ticketID, err := ticketIDParam(c)
	if err != nil {
		return err
	}
	msgs, err := h.service.History(c.UserContext(), actor, ticketID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": messageResponses(msgs)})
}

// PostMessage POST /api/tickets/:id/messages.
func (h *MessagesHandler) PostMessage(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	ticketID, err := ticketIDParam(c)
	if err != nil {
		return err
	}
	var req dto.CreateMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	msg, err := h.service.PostMessage(c.UserContext(), actor, ticketID, req.Content)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": messageResponse(*msg)})
}

// Typing POST /api/tickets/:id/typing.
func (h *MessagesHandler) Typing(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	ticketID, err := ticketIDParam(c)
	if err != nil {
		return err
	}
	var req dto.TypingRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if err := h.service.SignalTyping(c.UserContext(), actor, ticketID, req.Active); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// Stream GET /api/tickets/:id/stream. Server-sent events: one snapshot, then
// a messages event per merged batch and a presence event when typing or the
// sync state changes. A viewer that falls behind gets a new snapshot.
func (h *MessagesHandler) Stream(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	ticketID, err := ticketIDParam(c)
	if err != nil {
		return err
	}
	session, release, err := h.service.Open(c.UserContext(), actor, ticketID)
	if err != nil {
		return err
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	snapshot, updates, stop := session.Watch()
	logger := h.logger.With(zap.String("ticket_id", ticketID), zap.String("viewer_id", actor.ID))
	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer release()
		defer stop()
		h.pump(w, session, snapshot, updates, logger)
	}))
	return nil
}

// pump writes the stream until the client goes away or the session closes.
// snapshot and updates come from one Watch call, so every message reaches
// the client exactly once; a Reset update is sent as a fresh snapshot.
func (h *MessagesHandler) pump(w *bufio.Writer, session *conversation.Session, snapshot []domain.Message, updates <-chan conversation.Update, logger *zap.Logger) {
	presence := currentPresence(session)
	if err := writeSnapshot(w, presence, snapshot); err != nil {
		return
	}
	if err := w.Flush(); err != nil {
		return
	}

	ticker := time.NewTicker(h.tick)
	defer ticker.Stop()
	for {
		var err error
		select {
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Reset {
				presence = currentPresence(session)
				err = writeSnapshot(w, presence, update.Messages)
			} else {
				err = writeEvent(w, "messages", messageResponses(update.Messages))
			}
		case <-ticker.C:
			current := currentPresence(session)
			if current.State != presence.State || current.Degraded != presence.Degraded || !slices.Equal(current.Typing, presence.Typing) {
				presence = current
				err = writeEvent(w, "presence", current)
			} else {
				_, err = io.WriteString(w, ": keep-alive\n\n")
			}
		}
		if err == nil {
			err = w.Flush()
		}
		if err != nil {
			logger.Debug("stream closed", zap.Error(err))
			return
		}
	}
}

func currentPresence(session *conversation.Session) dto.StreamPresence {
	return dto.StreamPresence{
		State:    string(session.State()),
		Degraded: session.Degraded(),
		Typing:   session.Typing(),
	}
}

func writeSnapshot(w io.Writer, presence dto.StreamPresence, msgs []domain.Message) error {
	return writeEvent(w, "snapshot", dto.StreamSnapshot{
		State:    presence.State,
		Degraded: presence.Degraded,
		Messages: messageResponses(msgs),
		Typing:   presence.Typing,
	})
}

// writeEvent writes one server-sent event with a JSON data line.
func writeEvent(w io.Writer, name string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, body)
	return err
}

func messageResponses(msgs []domain.Message) []dto.MessageResponse {
	out := make([]dto.MessageResponse, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, messageResponse(msg))
	}
	return out
}

func messageResponse(msg domain.Message) dto.MessageResponse {
	return dto.MessageResponse{
		ID:         msg.ID,
		TicketID:   msg.TicketID,
		SenderRole: msg.SenderRole,
		SenderID:   msg.SenderID,
		Content:    msg.Content,
		CreatedAt:  msg.CreatedAt,
	}
}
