package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/PortNumber53/saas-starter/internal/models"
)

// ListNotifications returns the user's notifications, newest first.
func (s *Store) ListNotifications(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > defaultPageSize {
		limit = defaultPageSize
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, title, message, type, is_read, created_at
FROM notifications
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2
`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list notifications: %w", err)
	}
	defer rows.Close()

	notifications := make([]models.Notification, 0)
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &n.Type, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate notifications: %w", err)
	}
	return notifications, nil
}

// CreateNotification inserts a notification and fills ID and CreatedAt.
func (s *Store) CreateNotification(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Type == "" {
		n.Type = models.NotificationInfo
	}
	err := s.db.QueryRowContext(ctx, `
INSERT INTO notifications (id, user_id, title, message, type, is_read, created_at)
VALUES ($1, $2, $3, $4, $5, FALSE, NOW())
RETURNING created_at
`, n.ID, n.UserID, n.Title, n.Message, n.Type).Scan(&n.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: create notification: %w", err)
	}
	return nil
}

// SetNotificationRead updates the read flag of one of the user's notifications.
func (s *Store) SetNotificationRead(ctx context.Context, userID, id string, read bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = $3 WHERE id = $1 AND user_id = $2`,
		id, userID, read,
	)
	if err != nil {
		return fmt.Errorf("store: update notification: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateFeedback stores a feedback submission.
func (s *Store) CreateFeedback(ctx context.Context, f *models.Feedback) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	err := s.db.QueryRowContext(ctx, `
INSERT INTO feedback (id, user_id, feedback_type, content, created_at)
VALUES ($1, $2, $3, $4, NOW())
RETURNING created_at
`, f.ID, f.UserID, f.FeedbackType, f.Content).Scan(&f.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: create feedback: %w", err)
	}
	return nil
}
