package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/support-portal/internal/api/dto"
	"github.com/spec-kit/support-portal/internal/domain"
	"github.com/spec-kit/support-portal/internal/sla"
	apperrors "github.com/spec-kit/support-portal/pkg/util/errorutil"
)

// SettingsStore reads the live SLA policy and flips peak mode.
type SettingsStore interface {
	Get(ctx context.Context) (sla.Policy, error)
	SetPeakMode(ctx context.Context, active bool) error
}

// SettingsHandler exposes SLA settings to staff.
type SettingsHandler struct {
	store SettingsStore
}

// NewSettingsHandler constructs handler.
func NewSettingsHandler(store SettingsStore) *SettingsHandler {
	return &SettingsHandler{store: store}
}

// GetPolicy GET /api/settings/sla.
func (h *SettingsHandler) GetPolicy(c *fiber.Ctx) error {
	policy, err := h.store.Get(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": policyResponse(policy)})
}

// SetPeakMode PUT /api/settings/peak-mode. Tickets already stamped keep
// their deadlines.
func (h *SettingsHandler) SetPeakMode(c *fiber.Ctx) error {
	var req dto.PeakModeRequest
	if err := c.BodyParser(&req); err != nil || req.Active == nil {
		return apperrors.NewValidationError("active flag required", nil)
	}
	if err := h.store.SetPeakMode(c.UserContext(), *req.Active); err != nil {
		return err
	}
	return h.GetPolicy(c)
}

func policyResponse(policy sla.Policy) dto.PolicyResponse {
	windows := make(map[string]string, len(domain.Priorities))
	for _, priority := range domain.Priorities {
		windows[string(priority)] = policy.BaseWindow(priority).String()
	}
	return dto.PolicyResponse{
		PeakModeActive:     policy.PeakModeActive,
		PeakModeMultiplier: policy.PeakModeMultiplier,
		MaxOpenTickets:     policy.MaxOpenTickets,
		Windows:            windows,
	}
}
