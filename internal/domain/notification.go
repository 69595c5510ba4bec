package domain

import "time"

// NotificationPreference holds the per-user channel switches.
type NotificationPreference struct {
	Email    bool
	SMS      bool
	WhatsApp bool
}

// DefaultNotificationPreference returns email on, SMS and WhatsApp off.
func DefaultNotificationPreference() NotificationPreference {
	return NotificationPreference{Email: true}
}

// Contact is the addressing information known for a user.
type Contact struct {
	UserID        string
	Name          string
	Email         string
	Phone         *string
	PhoneVerified bool
}

// Channel names a notification delivery channel.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
)

// DeliveryOutcome is the result of one channel delivery.
type DeliveryOutcome string

const (
	DeliverySent    DeliveryOutcome = "SENT"
	DeliveryFailed  DeliveryOutcome = "FAILED"
	DeliverySkipped DeliveryOutcome = "SKIPPED"
)

// DeliveryAttempt records what happened on one channel for one event.
type DeliveryAttempt struct {
	Channel  Channel
	TicketID string
	EventID  string
	Outcome  DeliveryOutcome
	Reason   string
	At       time.Time
}
