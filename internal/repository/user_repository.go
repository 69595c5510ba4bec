package repository

import (
	"context"
	"fmt"

	"github.com/spec-kit/support-portal/internal/domain"
)

// UserRepository reads and writes contact data and channel preferences.
type UserRepository interface {
	GetContact(ctx context.Context, userID string) (*domain.Contact, error)
	UpsertContact(ctx context.Context, contact domain.Contact, role domain.Role) error
	// GetPreferences returns pgx.ErrNoRows when the user never saved any.
	GetPreferences(ctx context.Context, userID string) (*domain.NotificationPreference, error)
	SavePreferences(ctx context.Context, userID string, prefs domain.NotificationPreference) error
}

type userRepository struct {
	db DB
}

// NewUserRepository returns a Postgres-backed implementation.
func NewUserRepository(db DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) GetContact(ctx context.Context, userID string) (*domain.Contact, error) {
	const query = `SELECT id, name, email, phone, phone_verified FROM users WHERE id=$1`
	var contact domain.Contact
	if err := r.db.QueryRow(ctx, query, userID).Scan(
		&contact.UserID,
		&contact.Name,
		&contact.Email,
		&contact.Phone,
		&contact.PhoneVerified,
	); err != nil {
		return nil, err
	}
	return &contact, nil
}

func (r *userRepository) UpsertContact(ctx context.Context, contact domain.Contact, role domain.Role) error {
	const query = `
        INSERT INTO users (id, name, email, phone, phone_verified, role)
        VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (id) DO UPDATE SET
            name=EXCLUDED.name, email=EXCLUDED.email, phone=EXCLUDED.phone,
            phone_verified=EXCLUDED.phone_verified, role=EXCLUDED.role, updated_at=NOW()`
	if _, err := r.db.Exec(ctx, query,
		contact.UserID,
		contact.Name,
		contact.Email,
		contact.Phone,
		contact.PhoneVerified,
		role,
	); err != nil {
		return fmt.Errorf("upsert contact: %w", err)
	}
	return nil
}

func (r *userRepository) GetPreferences(ctx context.Context, userID string) (*domain.NotificationPreference, error) {
	const query = `SELECT email, sms, whatsapp FROM notification_preferences WHERE user_id=$1`
	var prefs domain.NotificationPreference
	if err := r.db.QueryRow(ctx, query, userID).Scan(&prefs.Email, &prefs.SMS, &prefs.WhatsApp); err != nil {
		return nil, err
	}
	return &prefs, nil
}

func (r *userRepository) SavePreferences(ctx context.Context, userID string, prefs domain.NotificationPreference) error {
	const query = `
        INSERT INTO notification_preferences (user_id, email, sms, whatsapp)
        VALUES ($1,$2,$3,$4)
        ON CONFLICT (user_id) DO UPDATE SET
            email=EXCLUDED.email, sms=EXCLUDED.sms, whatsapp=EXCLUDED.whatsapp, updated_at=NOW()`
	if _, err := r.db.Exec(ctx, query, userID, prefs.Email, prefs.SMS, prefs.WhatsApp); err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	return nil
}
