package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

const (
	FrequencyRealtime = "realtime"
	FrequencyDaily    = "daily"
	FrequencyWeekly   = "weekly"

	VisibilityPublic  = "public"
	VisibilityPrivate = "private"
	VisibilityFriends = "friends"
)

// NotificationPreferences is stored as JSONB in user_settings.notification_preferences.
type NotificationPreferences struct {
	Push      bool   `json:"push"`
	SMS       bool   `json:"sms"`
	InApp     bool   `json:"in_app"`
	Frequency string `json:"frequency"`
}

// PrivacyPreferences is stored as JSONB in user_settings.privacy_preferences.
type PrivacyPreferences struct {
	ProfileVisibility string `json:"profile_visibility"`
	ActivityTracking  bool   `json:"activity_tracking"`
	DataSharing       bool   `json:"data_sharing"`
}

// DefaultPrivacyPreferences is returned for users that never saved privacy settings.
func DefaultPrivacyPreferences() PrivacyPreferences {
	return PrivacyPreferences{
		ProfileVisibility: VisibilityPublic,
		ActivityTracking:  true,
		DataSharing:       false,
	}
}

// DefaultNotificationPreferences is returned for users that never saved notification settings.
func DefaultNotificationPreferences() NotificationPreferences {
	return NotificationPreferences{InApp: true, Frequency: FrequencyDaily}
}

// UserSettings is the per-user settings row.
type UserSettings struct {
	UserID                  string                  `json:"user_id"`
	EmailNotifications      bool                    `json:"email_notifications"`
	NotificationPreferences NotificationPreferences `json:"notification_preferences"`
	PrivacyPreferences      PrivacyPreferences      `json:"privacy_preferences"`
	UpdatedAt               time.Time               `json:"updated_at"`
}

func (p NotificationPreferences) Value() (driver.Value, error) {
	return json.Marshal(p)
}

func (p *NotificationPreferences) Scan(value interface{}) error {
	return scanJSON(value, p)
}

func (p PrivacyPreferences) Value() (driver.Value, error) {
	return json.Marshal(p)
}

func (p *PrivacyPreferences) Scan(value interface{}) error {
	return scanJSON(value, p)
}

func scanJSON(value interface{}, dst interface{}) error {
	var bytes []byte
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan type %T into %T", value, dst)
	}
	if len(bytes) == 0 {
		return nil
	}
	return json.Unmarshal(bytes, dst)
}
