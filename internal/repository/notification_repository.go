package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lers-io/lers-ce/internal/database"
	"github.com/lers-io/lers-ce/internal/models"
)

// NotificationRepository defines the interface for notification persistence.
type NotificationRepository interface {
	Create(ctx context.Context, n *models.Notification) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*models.Notification, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, id string, readAt time.Time) (bool, error)
	MarkAllRead(ctx context.Context, userID string, readAt time.Time) (int, error)
	ListUndelivered(ctx context.Context, userID string) ([]*models.Notification, error)
	MarkDelivered(ctx context.Context, id string, deliveredAt time.Time) error
}

// NotificationSQLRepository persists notifications in the lers_notification
// table.
type NotificationSQLRepository struct {
	db *sql.DB
}

// NewNotificationRepository creates a new notification repository.
func NewNotificationRepository(db *sql.DB) *NotificationSQLRepository {
	return &NotificationSQLRepository{db: db}
}

const notificationColumns = `id, user_id, request_id, type, title, message, icon, link,
	priority, read_flag, read_at, delivered, delivered_at, created_at`

// Create inserts a new notification, filling in a missing ID and timestamp.
func (r *NotificationSQLRepository) Create(ctx context.Context, n *models.Notification) error {
	if n.UserID == "" {
		return errors.New("user ID is required")
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if n.Priority == "" {
		n.Priority = models.PriorityNormal
	}

	query := database.ConvertPlaceholders(`
		INSERT INTO lers_notification (id, user_id, request_id, type, title, message,
			icon, link, priority, read_flag, delivered, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, query,
		n.ID, n.UserID, n.RequestID, n.Type, n.Title, n.Body,
		n.Icon, n.Link, n.Priority, n.Read, n.Delivered, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

// ListByUser returns the most recent notifications for a user, newest first.
func (r *NotificationSQLRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*models.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	query := database.ConvertPlaceholders(`
		SELECT ` + notificationColumns + `
		FROM lers_notification
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?`)
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications for user %s: %w", userID, err)
	}
	defer rows.Close()
	return collectNotifications(rows)
}

// UnreadCount returns the number of unread notifications for a user.
func (r *NotificationSQLRepository) UnreadCount(ctx context.Context, userID string) (int, error) {
	query := database.ConvertPlaceholders(`
		SELECT COUNT(*) FROM lers_notification
		WHERE user_id = ? AND read_flag = ?`)
	var count int
	if err := r.db.QueryRowContext(ctx, query, userID, false).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return count, nil
}

// MarkRead marks one notification read. Returns false when it was already
// read or does not exist.
func (r *NotificationSQLRepository) MarkRead(ctx context.Context, id string, readAt time.Time) (bool, error) {
	query := database.ConvertPlaceholders(`
		UPDATE lers_notification
		SET read_flag = ?, read_at = ?
		WHERE id = ? AND read_flag = ?`)
	res, err := r.db.ExecContext(ctx, query, true, readAt, id, false)
	if err != nil {
		return false, fmt.Errorf("failed to mark notification %s read: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected > 0, nil
}

// MarkAllRead marks every unread notification for the user read and returns
// how many changed.
func (r *NotificationSQLRepository) MarkAllRead(ctx context.Context, userID string, readAt time.Time) (int, error) {
	query := database.ConvertPlaceholders(`
		UPDATE lers_notification
		SET read_flag = ?, read_at = ?
		WHERE user_id = ? AND read_flag = ?`)
	res, err := r.db.ExecContext(ctx, query, true, readAt, userID, false)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read for user %s: %w", userID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return int(affected), nil
}

// ListUndelivered returns notifications never delivered over the socket,
// oldest first so redelivery preserves creation order.
func (r *NotificationSQLRepository) ListUndelivered(ctx context.Context, userID string) ([]*models.Notification, error) {
	query := database.ConvertPlaceholders(`
		SELECT ` + notificationColumns + `
		FROM lers_notification
		WHERE user_id = ? AND delivered = ?
		ORDER BY created_at ASC`)
	rows, err := r.db.QueryContext(ctx, query, userID, false)
	if err != nil {
		return nil, fmt.Errorf("failed to list undelivered notifications: %w", err)
	}
	defer rows.Close()
	return collectNotifications(rows)
}

// MarkDelivered records socket delivery of a notification.
func (r *NotificationSQLRepository) MarkDelivered(ctx context.Context, id string, deliveredAt time.Time) error {
	query := database.ConvertPlaceholders(`
		UPDATE lers_notification
		SET delivered = ?, delivered_at = ?
		WHERE id = ?`)
	if _, err := r.db.ExecContext(ctx, query, true, deliveredAt, id); err != nil {
		return fmt.Errorf("failed to mark notification %s delivered: %w", id, err)
	}
	return nil
}

func collectNotifications(rows *sql.Rows) ([]*models.Notification, error) {
	var out []*models.Notification
	for rows.Next() {
		var (
			n           models.Notification
			requestID   sql.NullString
			readAt      sql.NullTime
			deliveredAt sql.NullTime
		)
		err := rows.Scan(&n.ID, &n.UserID, &requestID, &n.Type, &n.Title, &n.Body,
			&n.Icon, &n.Link, &n.Priority, &n.Read, &readAt, &n.Delivered, &deliveredAt, &n.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification row: %w", err)
		}
		if requestID.Valid {
			n.RequestID = &requestID.String
		}
		if readAt.Valid {
			t := readAt.Time
			n.ReadAt = &t
		}
		if deliveredAt.Valid {
			t := deliveredAt.Time
			n.DeliveredAt = &t
		}
		out = append(out, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notification row iteration failed: %w", err)
	}
	return out, nil
}
