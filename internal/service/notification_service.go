package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/support-portal/internal/domain"
	"github.com/spec-kit/support-portal/internal/events"
	"github.com/spec-kit/support-portal/internal/notification"
	"github.com/spec-kit/support-portal/internal/repository"
)

// NotificationService turns committed ticket changes into channel deliveries
// for the ticket owner.
type NotificationService struct {
	users    repository.UserRepository
	notifier *notification.Dispatcher
	logger   *zap.Logger
}

// NewNotificationService creates the service.
func NewNotificationService(users repository.UserRepository, notifier *notification.Dispatcher, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		users:    users,
		notifier: notifier,
		logger:   logger,
	}
}

// Handle delivers one ticket_transitioned event. Owners without a stored
// contact still produce SKIPPED attempts for each enabled channel.
func (n *NotificationService) Handle(ctx context.Context, event events.Event) ([]domain.DeliveryAttempt, error) {
	change, ok := notification.TransitionOf(event)
	if !ok || !change.Reportable() {
		return nil, nil
	}

	contact, err := n.users.GetContact(ctx, change.OwnerID)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		n.logger.Warn("no contact on file", zap.String("user_id", change.OwnerID))
		contact = &domain.Contact{UserID: change.OwnerID}
	case err != nil:
		return nil, fmt.Errorf("load contact: %w", err)
	}

	prefs, err := n.users.GetPreferences(ctx, change.OwnerID)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		defaults := domain.DefaultNotificationPreference()
		prefs = &defaults
	case err != nil:
		return nil, fmt.Errorf("load preferences: %w", err)
	}

	return n.notifier.Dispatch(ctx, event, notification.Recipient{
		Contact:     *contact,
		Preferences: *prefs,
	}), nil
}
