package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lers-io/lers-ce/internal/database"
	"github.com/lers-io/lers-ce/internal/models"
)

// PresenceRepository defines the interface for presence persistence. One row
// per user, updated in place.
type PresenceRepository interface {
	Get(ctx context.Context, userID string) (*models.PresenceRecord, error)
	SetStatus(ctx context.Context, userID, userName, status, socketID string) (*models.PresenceRecord, error)
	ListStale(ctx context.Context, olderThan time.Time) ([]*models.PresenceRecord, error)
}

// PresenceSQLRepository persists presence in the user_presence table.
type PresenceSQLRepository struct {
	db *sql.DB
}

// NewPresenceRepository creates a new presence repository.
func NewPresenceRepository(db *sql.DB) *PresenceSQLRepository {
	return &PresenceSQLRepository{db: db}
}

// Get loads the presence record for a user.
func (r *PresenceSQLRepository) Get(ctx context.Context, userID string) (*models.PresenceRecord, error) {
	query := database.ConvertPlaceholders(`
		SELECT user_id, user_name, status, last_seen, last_online, socket_id
		FROM user_presence
		WHERE user_id = ?`)
	var (
		rec        models.PresenceRecord
		lastOnline sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&rec.UserID, &rec.UserName, &rec.Status, &rec.LastSeen, &lastOnline, &rec.SocketID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("presence for user %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load presence for user %s: %w", userID, err)
	}
	if lastOnline.Valid {
		t := lastOnline.Time
		rec.LastOnline = &t
	}
	return &rec, nil
}

// SetStatus upserts the presence record. ONLINE updates last_online and the
// socket id; OFFLINE clears the socket id.
func (r *PresenceSQLRepository) SetStatus(ctx context.Context, userID, userName, status, socketID string) (*models.PresenceRecord, error) {
	if !models.ValidPresenceStatus(status) {
		return nil, fmt.Errorf("invalid presence status %q", status)
	}

	now := time.Now().UTC()
	rec := &models.PresenceRecord{
		UserID:   userID,
		UserName: userName,
		Status:   status,
		LastSeen: now,
		SocketID: socketID,
	}
	var lastOnline *time.Time
	switch status {
	case models.PresenceOnline:
		lastOnline = &now
		rec.LastOnline = &now
	case models.PresenceOffline:
		rec.SocketID = ""
	}

	var query string
	if database.IsPostgreSQL() {
		query = database.ConvertPlaceholders(`
			INSERT INTO user_presence (user_id, user_name, status, last_seen, last_online, socket_id)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (user_id) DO UPDATE SET
				user_name = EXCLUDED.user_name,
				status = EXCLUDED.status,
				last_seen = EXCLUDED.last_seen,
				last_online = COALESCE(EXCLUDED.last_online, user_presence.last_online),
				socket_id = EXCLUDED.socket_id`)
	} else {
		query = database.ConvertPlaceholders(`
			INSERT INTO user_presence (user_id, user_name, status, last_seen, last_online, socket_id)
			VALUES (?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
				user_name = VALUES(user_name),
				status = VALUES(status),
				last_seen = VALUES(last_seen),
				last_online = COALESCE(VALUES(last_online), last_online),
				socket_id = VALUES(socket_id)`)
	}
	if _, err := r.db.ExecContext(ctx, query, userID, userName, status, now, lastOnline, rec.SocketID); err != nil {
		return nil, fmt.Errorf("failed to upsert presence for user %s: %w", userID, err)
	}
	return rec, nil
}

// ListStale returns non-offline records whose last_seen is older than the
// given horizon; the housekeeping sweep flips these to OFFLINE.
func (r *PresenceSQLRepository) ListStale(ctx context.Context, olderThan time.Time) ([]*models.PresenceRecord, error) {
	query := database.ConvertPlaceholders(`
		SELECT user_id, user_name, status, last_seen, last_online, socket_id
		FROM user_presence
		WHERE status <> ? AND last_seen < ?`)
	rows, err := r.db.QueryContext(ctx, query, models.PresenceOffline, olderThan)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale presence rows: %w", err)
	}
	defer rows.Close()

	var out []*models.PresenceRecord
	for rows.Next() {
		var (
			rec        models.PresenceRecord
			lastOnline sql.NullTime
		)
		if err := rows.Scan(&rec.UserID, &rec.UserName, &rec.Status, &rec.LastSeen, &lastOnline, &rec.SocketID); err != nil {
			return nil, fmt.Errorf("failed to scan presence row: %w", err)
		}
		if lastOnline.Valid {
			t := lastOnline.Time
			rec.LastOnline = &t
		}
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("presence row iteration failed: %w", err)
	}
	return out, nil
}
