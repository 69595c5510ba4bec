package dto

// PreferencesPayload is both the request and response body for channel switches.
type PreferencesPayload struct {
	Email    bool `json:"email"`
	SMS      bool `json:"sms"`
	WhatsApp bool `json:"whatsapp"`
}

// ContactRequest payload.
type ContactRequest struct {
	Name  string  `json:"name"`
	Email string  `json:"email"`
	Phone *string `json:"phone"`
}

// ContactResponse echoes the stored contact.
type ContactResponse struct {
	Name          string  `json:"name"`
	Email         string  `json:"email"`
	Phone         *string `json:"phone"`
	PhoneVerified bool    `json:"phone_verified"`
}

// PeakModeRequest toggles peak mode.
type PeakModeRequest struct {
	Active *bool `json:"active"`
}

// PolicyResponse shows the SLA policy in force.
type PolicyResponse struct {
	PeakModeActive     bool              `json:"peak_mode_active"`
	PeakModeMultiplier int               `json:"peak_mode_multiplier"`
	MaxOpenTickets     int               `json:"max_open_tickets"`
	Windows            map[string]string `json:"windows"`
}
