package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/classmeet-api/internal/models"
)

// NotificationRepository archives emitted notifications in PostgreSQL.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository creates the repository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Save upserts a notification. A stored read flag is never cleared, so a late
// re-delivery of the original unread copy cannot undo a mark-read.
func (r *NotificationRepository) Save(ctx context.Context, n *models.Notification) error {
	query := `INSERT INTO notifications (id, type, title, message, timestamp, read, session_id)
VALUES (:id, :type, :title, :message, :timestamp, :read, :session_id)
ON CONFLICT (id) DO UPDATE SET read = notifications.read OR EXCLUDED.read`
	if _, err := r.db.NamedExecContext(ctx, query, n); err != nil {
		return fmt.Errorf("save notification: %w", err)
	}
	return nil
}

// List returns archived notifications most recent first.
func (r *NotificationRepository) List(ctx context.Context, sessionID string, unreadOnly bool, limit int) ([]models.Notification, error) {
	var (
		where []string
		args  []interface{}
	)
	if sessionID != "" {
		args = append(args, sessionID)
		where = append(where, fmt.Sprintf("session_id = $%d", len(args)))
	}
	if unreadOnly {
		where = append(where, "read = FALSE")
	}
	query := `SELECT id, type, title, message, timestamp, read, session_id FROM notifications`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	var items []models.Notification
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return items, nil
}
