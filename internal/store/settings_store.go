package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/PortNumber53/saas-starter/internal/models"
)

// GetUserSettings returns the user's settings row or ErrNotFound.
func (s *Store) GetUserSettings(ctx context.Context, userID string) (*models.UserSettings, error) {
	var settings models.UserSettings
	err := s.db.QueryRowContext(ctx, `
SELECT user_id, email_notifications, notification_preferences, privacy_preferences, updated_at
FROM user_settings
WHERE user_id = $1
`, userID).Scan(
		&settings.UserID,
		&settings.EmailNotifications,
		&settings.NotificationPreferences,
		&settings.PrivacyPreferences,
		&settings.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get user settings: %w", err)
	}
	return &settings, nil
}

// UpsertNotificationSettings stores the notification channel preferences.
func (s *Store) UpsertNotificationSettings(ctx context.Context, userID string, email bool, prefs models.NotificationPreferences) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO user_settings (user_id, email_notifications, notification_preferences, created_at, updated_at)
VALUES ($1, $2, $3, NOW(), NOW())
ON CONFLICT (user_id) DO UPDATE SET
  email_notifications = EXCLUDED.email_notifications,
  notification_preferences = EXCLUDED.notification_preferences,
  updated_at = NOW()
`, userID, email, prefs)
	if err != nil {
		return fmt.Errorf("store: upsert notification settings: %w", err)
	}
	return nil
}

// UpsertPrivacySettings stores the privacy preferences.
func (s *Store) UpsertPrivacySettings(ctx context.Context, userID string, prefs models.PrivacyPreferences) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO user_settings (user_id, privacy_preferences, created_at, updated_at)
VALUES ($1, $2, NOW(), NOW())
ON CONFLICT (user_id) DO UPDATE SET
  privacy_preferences = EXCLUDED.privacy_preferences,
  updated_at = NOW()
`, userID, prefs)
	if err != nil {
		return fmt.Errorf("store: upsert privacy settings: %w", err)
	}
	return nil
}
