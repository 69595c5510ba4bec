// Package notification fans ticket transitions out to the student's enabled channels.
package notification

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/support-portal/internal/domain"
	"github.com/spec-kit/support-portal/internal/events"
	"github.com/spec-kit/support-portal/internal/observability"
)

// ErrChannelDeliveryFailed marks a FAILED attempt. It is recorded, never returned.
var ErrChannelDeliveryFailed = errors.New("channel delivery failed")

// Channels is the fixed dispatch order.
var Channels = []domain.Channel{domain.ChannelEmail, domain.ChannelSMS, domain.ChannelWhatsApp}

var e164 = regexp.MustCompile(`^\+[1-9][0-9]{7,14}$`)

// Sender delivers one message to one address. A nil error means delivered.
type Sender interface {
	Send(ctx context.Context, target string, msg Message) error
}

// AttemptSink receives every delivery attempt. Implementations must not block.
type AttemptSink interface {
	Record(ctx context.Context, attempt domain.DeliveryAttempt)
}

// Recipient is the ticket owner as seen by the dispatcher.
type Recipient struct {
	Contact     domain.Contact
	Preferences domain.NotificationPreference
}

// Dispatcher owns the channel senders and renders templates.
type Dispatcher struct {
	senders   map[domain.Channel]Sender
	templates *Templates
	sink      AttemptSink
	metrics   *observability.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMetrics sets the metrics registry.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = metrics }
}

// WithSink sets the attempt sink.
func WithSink(sink AttemptSink) Option {
	return func(d *Dispatcher) { d.sink = sink }
}

// WithClock overrides the attempt timestamp source.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// NewDispatcher builds a dispatcher. Channels without a sender produce SKIPPED attempts.
func NewDispatcher(senders map[domain.Channel]Sender, templates *Templates, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		senders:   make(map[domain.Channel]Sender, len(senders)),
		templates: templates,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for channel, sender := range senders {
		if sender != nil {
			d.senders[channel] = sender
		}
	}
	if d.templates == nil {
		d.templates = MustTemplates("")
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// TransitionOf extracts the transition payload from an event envelope.
func TransitionOf(evt events.Event) (events.TicketTransitioned, bool) {
	switch payload := evt.Payload.(type) {
	case events.TicketTransitioned:
		return payload, true
	case *events.TicketTransitioned:
		if payload != nil {
			return *payload, true
		}
	}
	return events.TicketTransitioned{}, false
}

// Dispatch delivers the transition carried by evt to every enabled channel,
// in channel order. Failures on one channel never stop the others.
func (d *Dispatcher) Dispatch(ctx context.Context, evt events.Event, recipient Recipient) []domain.DeliveryAttempt {
	change, ok := TransitionOf(evt)
	if !ok || !change.Reportable() {
		return nil
	}

	var attempts []domain.DeliveryAttempt
	for _, channel := range Channels {
		if !enabled(recipient.Preferences, channel) {
			continue
		}
		attempt := d.deliver(ctx, channel, evt.ID, change, recipient.Contact)
		d.record(ctx, attempt)
		attempts = append(attempts, attempt)
	}
	return attempts
}

func (d *Dispatcher) deliver(ctx context.Context, channel domain.Channel, eventID string, change events.TicketTransitioned, contact domain.Contact) domain.DeliveryAttempt {
	attempt := domain.DeliveryAttempt{
		Channel:  channel,
		TicketID: change.TicketID,
		EventID:  eventID,
	}

	target, reason := address(channel, contact)
	if reason != "" {
		attempt.Outcome, attempt.Reason, attempt.At = domain.DeliverySkipped, reason, d.now()
		return attempt
	}
	sender, ok := d.senders[channel]
	if !ok {
		attempt.Outcome, attempt.Reason, attempt.At = domain.DeliverySkipped, "no sender configured", d.now()
		return attempt
	}

	msg, err := d.templates.Render(channel, change, contact)
	if err != nil {
		attempt.Outcome, attempt.Reason, attempt.At = domain.DeliveryFailed, fmt.Errorf("%w: %v", ErrChannelDeliveryFailed, err).Error(), d.now()
		return attempt
	}
	if err := sender.Send(ctx, target, msg); err != nil {
		attempt.Outcome, attempt.Reason, attempt.At = domain.DeliveryFailed, fmt.Errorf("%w: %v", ErrChannelDeliveryFailed, err).Error(), d.now()
		return attempt
	}
	attempt.Outcome, attempt.At = domain.DeliverySent, d.now()
	return attempt
}

func (d *Dispatcher) record(ctx context.Context, attempt domain.DeliveryAttempt) {
	fields := []zap.Field{
		zap.String("ticket_id", attempt.TicketID),
		zap.String("event_id", attempt.EventID),
		zap.String("channel", string(attempt.Channel)),
		zap.String("outcome", string(attempt.Outcome)),
	}
	switch attempt.Outcome {
	case domain.DeliveryFailed:
		d.logger.Warn("notification delivery failed", append(fields, zap.String("reason", attempt.Reason))...)
	case domain.DeliverySkipped:
		d.logger.Info("notification delivery skipped", append(fields, zap.String("reason", attempt.Reason))...)
	default:
		d.logger.Info("notification delivered", fields...)
	}
	d.metrics.RecordDelivery(string(attempt.Channel), string(attempt.Outcome))
	if d.sink != nil {
		d.sink.Record(ctx, attempt)
	}
}

func enabled(prefs domain.NotificationPreference, channel domain.Channel) bool {
	switch channel {
	case domain.ChannelEmail:
		return prefs.Email
	case domain.ChannelSMS:
		return prefs.SMS
	case domain.ChannelWhatsApp:
		return prefs.WhatsApp
	}
	return false
}

// address returns the target for channel, or a skip reason.
func address(channel domain.Channel, contact domain.Contact) (string, string) {
	switch channel {
	case domain.ChannelEmail:
		if contact.Email == "" {
			return "", "no email address on file"
		}
		addr, err := mail.ParseAddress(contact.Email)
		if err != nil {
			return "", "invalid email address"
		}
		return addr.Address, ""
	case domain.ChannelSMS, domain.ChannelWhatsApp:
		if contact.Phone == nil || *contact.Phone == "" {
			return "", "no phone number on file"
		}
		if !e164.MatchString(*contact.Phone) {
			return "", "phone number is not E.164"
		}
		if !contact.PhoneVerified {
			return "", "phone number not verified"
		}
		return *contact.Phone, ""
	}
	return "", "unknown channel"
}
