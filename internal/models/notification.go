package models

import "time"

const (
	NotificationInfo    = "info"
	NotificationSuccess = "success"
	NotificationWarning = "warning"
	NotificationError   = "error"
)

// Notification is an in-app message addressed to a single user.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

// Feedback is a free-form message submitted by a user.
type Feedback struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	FeedbackType string    `json:"feedback_type"`
	Content      string    `json:"content"`
	CreatedAt    time.Time `json:"created_at"`
}
