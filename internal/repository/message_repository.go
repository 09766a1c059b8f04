package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lers-io/lers-ce/internal/database"
	"github.com/lers-io/lers-ce/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// MessageRepository defines the interface for chat message persistence.
type MessageRepository interface {
	Create(ctx context.Context, msg *models.Message) error
	GetByID(ctx context.Context, id string) (*models.Message, error)
	ListByRequest(ctx context.Context, requestID string) ([]*models.Message, error)
	MarkRead(ctx context.Context, id string, readAt time.Time) (bool, error)
}

// MessageSQLRepository persists chat messages in the lers_message table.
type MessageSQLRepository struct {
	db *sql.DB
}

// NewMessageRepository creates a new message repository.
func NewMessageRepository(db *sql.DB) *MessageSQLRepository {
	return &MessageSQLRepository{db: db}
}

const messageColumns = `id, request_id, sender_id, sender_name, sender_type, message_type,
	message_text, attachments, read_by_receiver, read_at, created_at`

// Create inserts a new message. A missing ID or CreatedAt is filled in; the
// stored record is the canonical one echoed back to the caller.
func (r *MessageSQLRepository) Create(ctx context.Context, msg *models.Message) error {
	if msg.RequestID == "" {
		return errors.New("request ID is required")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.MessageType == "" {
		msg.MessageType = models.MessageTypeText
	}

	attachments, err := json.Marshal(msg.Attachments)
	if err != nil {
		return fmt.Errorf("failed to marshal attachments: %w", err)
	}

	query := database.ConvertPlaceholders(`
		INSERT INTO lers_message (id, request_id, sender_id, sender_name, sender_type,
			message_type, message_text, attachments, read_by_receiver, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = r.db.ExecContext(ctx, query,
		msg.ID, msg.RequestID, msg.SenderID, msg.SenderName, msg.SenderType,
		msg.MessageType, msg.Text, string(attachments), msg.Read, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// GetByID loads a single message.
func (r *MessageSQLRepository) GetByID(ctx context.Context, id string) (*models.Message, error) {
	query := database.ConvertPlaceholders(`
		SELECT ` + messageColumns + `
		FROM lers_message
		WHERE id = ?`)
	msg, err := scanMessage(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load message %s: %w", id, err)
	}
	return msg, nil
}

// ListByRequest returns all messages for a request, oldest first.
func (r *MessageSQLRepository) ListByRequest(ctx context.Context, requestID string) ([]*models.Message, error) {
	query := database.ConvertPlaceholders(`
		SELECT ` + messageColumns + `
		FROM lers_message
		WHERE request_id = ?
		ORDER BY created_at ASC, id ASC`)
	rows, err := r.db.QueryContext(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages for request %s: %w", requestID, err)
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("message row iteration failed: %w", err)
	}
	return out, nil
}

// MarkRead flips read_by_receiver for a message. Returns false when the
// message was already read (or does not exist), so callers only broadcast the
// receipt on the actual false to true transition.
func (r *MessageSQLRepository) MarkRead(ctx context.Context, id string, readAt time.Time) (bool, error) {
	query := database.ConvertPlaceholders(`
		UPDATE lers_message
		SET read_by_receiver = ?, read_at = ?
		WHERE id = ? AND read_by_receiver = ?`)
	res, err := r.db.ExecContext(ctx, query, true, readAt, id, false)
	if err != nil {
		return false, fmt.Errorf("failed to mark message %s read: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var (
		msg         models.Message
		senderID    sql.NullString
		attachments sql.NullString
		readAt      sql.NullTime
	)
	err := row.Scan(&msg.ID, &msg.RequestID, &senderID, &msg.SenderName, &msg.SenderType,
		&msg.MessageType, &msg.Text, &attachments, &msg.Read, &readAt, &msg.CreatedAt)
	if err != nil {
		return nil, err
	}
	if senderID.Valid {
		msg.SenderID = &senderID.String
	}
	if readAt.Valid {
		t := readAt.Time
		msg.ReadAt = &t
	}
	if attachments.Valid && attachments.String != "" {
		if err := json.Unmarshal([]byte(attachments.String), &msg.Attachments); err != nil {
			return nil, fmt.Errorf("failed to unmarshal attachments: %w", err)
		}
	}
	return &msg, nil
}
