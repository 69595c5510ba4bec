package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/support-portal/internal/api/dto"
	"github.com/spec-kit/support-portal/internal/domain"
	apperrors "github.com/spec-kit/support-portal/pkg/util/errorutil"
)

// PreferenceService manages the caller's channel switches and contact.
type PreferenceService interface {
	Get(ctx context.Context, userID string) (domain.NotificationPreference, error)
	Update(ctx context.Context, userID string, prefs domain.NotificationPreference) (domain.NotificationPreference, error)
	SaveContact(ctx context.Context, actor domain.Actor, contact domain.Contact) (domain.Contact, error)
}

// PreferencesHandler serves /api/me endpoints.
type PreferencesHandler struct {
	service PreferenceService
}

// NewPreferencesHandler constructs handler.
func NewPreferencesHandler(preferenceService PreferenceService) *PreferencesHandler {
	return &PreferencesHandler{service: preferenceService}
}

// GetPreferences GET /api/me/preferences.
func (h *PreferencesHandler) GetPreferences(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	prefs, err := h.service.Get(c.UserContext(), actor.ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": preferencesPayload(prefs)})
}

// UpdatePreferences PUT /api/me/preferences.
func (h *PreferencesHandler) UpdatePreferences(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var req dto.PreferencesPayload
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	prefs, err := h.service.Update(c.UserContext(), actor.ID, domain.NotificationPreference{
		Email:    req.Email,
		SMS:      req.SMS,
		WhatsApp: req.WhatsApp,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": preferencesPayload(prefs)})
}

// UpdateContact PUT /api/me/contact.
func (h *PreferencesHandler) UpdateContact(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var req dto.ContactRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	contact, err := h.service.SaveContact(c.UserContext(), actor, domain.Contact{
		Name:  req.Name,
		Email: req.Email,
		Phone: req.Phone,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.ContactResponse{
		Name:          contact.Name,
		Email:         contact.Email,
		Phone:         contact.Phone,
		PhoneVerified: contact.PhoneVerified,
	}})
}

func preferencesPayload(prefs domain.NotificationPreference) dto.PreferencesPayload {
	return dto.PreferencesPayload{Email: prefs.Email, SMS: prefs.SMS, WhatsApp: prefs.WhatsApp}
}
