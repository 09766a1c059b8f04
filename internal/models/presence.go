package models

import (
	"errors"
	"time"
)

// ErrInvalidPresenceStatus rejects status values outside the known set.
var ErrInvalidPresenceStatus = errors.New("invalid presence status")

// Presence status values. The state is flat: transitions are explicit and
// last-write-wins per user.
const (
	PresenceOnline  = "ONLINE"
	PresenceAway    = "AWAY"
	PresenceOffline = "OFFLINE"
)

// ValidPresenceStatus reports whether s is one of the known status values.
func ValidPresenceStatus(s string) bool {
	switch s {
	case PresenceOnline, PresenceAway, PresenceOffline:
		return true
	}
	return false
}

// PresenceRecord tracks the availability of one user. One record per user,
// updated in place; no history is retained.
type PresenceRecord struct {
	UserID     string     `json:"user_id"`
	UserName   string     `json:"user_name"`
	Status     string     `json:"status"`
	LastSeen   time.Time  `json:"last_seen"`
	LastOnline *time.Time `json:"last_online,omitempty"`
	SocketID   string     `json:"-"`
}

// IsOnline reports whether the user is currently marked online.
func (p *PresenceRecord) IsOnline() bool {
	return p.Status == PresenceOnline
}
