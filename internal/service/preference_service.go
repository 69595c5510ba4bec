package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/support-portal/internal/domain"
	"github.com/spec-kit/support-portal/internal/lifecycle"
	"github.com/spec-kit/support-portal/internal/repository"
)

// PreferenceService manages per-user notification switches and contact data.
type PreferenceService struct {
	users repository.UserRepository
}

// NewPreferenceService constructs the service.
func NewPreferenceService(users repository.UserRepository) *PreferenceService {
	return &PreferenceService{users: users}
}

// Get returns the stored preferences, or the defaults when none were saved.
func (s *PreferenceService) Get(ctx context.Context, userID string) (domain.NotificationPreference, error) {
	prefs, err := s.users.GetPreferences(ctx, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DefaultNotificationPreference(), nil
	}
	if err != nil {
		return domain.NotificationPreference{}, err
	}
	return *prefs, nil
}

// Update replaces the user's preferences.
func (s *PreferenceService) Update(ctx context.Context, userID string, prefs domain.NotificationPreference) (domain.NotificationPreference, error) {
	if err := s.users.SavePreferences(ctx, userID, prefs); err != nil {
		return domain.NotificationPreference{}, err
	}
	return prefs, nil
}

// SaveContact stores the caller's addressing details. Changing the phone
// number drops its verified flag.
func (s *PreferenceService) SaveContact(ctx context.Context, actor domain.Actor, contact domain.Contact) (domain.Contact, error) {
	contact.UserID = actor.ID
	contact.Name = strings.TrimSpace(contact.Name)
	contact.Email = strings.TrimSpace(contact.Email)
	if contact.Email == "" {
		return domain.Contact{}, lifecycle.ErrInvalidInput
	}
	if _, err := mail.ParseAddress(contact.Email); err != nil {
		return domain.Contact{}, lifecycle.ErrInvalidInput
	}
	if contact.Phone != nil && strings.TrimSpace(*contact.Phone) == "" {
		contact.Phone = nil
	}

	existing, err := s.users.GetContact(ctx, actor.ID)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		contact.PhoneVerified = false
	case err != nil:
		return domain.Contact{}, err
	default:
		contact.PhoneVerified = existing.PhoneVerified && samePhone(existing.Phone, contact.Phone)
	}

	if err := s.users.UpsertContact(ctx, contact, actor.Role); err != nil {
		return domain.Contact{}, err
	}
	return contact, nil
}

func samePhone(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
