package models

import "time"

// Sender role constants. System messages carry no sender user.
const (
	SenderIO       = "IO"
	SenderProvider = "PROVIDER"
	SenderSystem   = "SYSTEM"
)

// Message type constants.
const (
	MessageTypeText   = "TEXT"
	MessageTypeFile   = "FILE"
	MessageTypeSystem = "SYSTEM"
)

// Attachment describes one file attached to a chat message.
type Attachment struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	Mime     string `json:"type"`
}

// Message is a chat message exchanged between IO and provider on a request.
// The ID is server-issued and immutable; once Read flips to true it never
// reverts.
type Message struct {
	ID          string       `json:"id"`
	RequestID   string       `json:"request_id"`
	SenderID    *string      `json:"sender_id"`
	SenderName  string       `json:"sender_name"`
	SenderType  string       `json:"sender_type"`
	MessageType string       `json:"message_type"`
	Text        string       `json:"message_text"`
	Attachments []Attachment `json:"attachments"`
	Read        bool         `json:"read_by_receiver"`
	ReadAt      *time.Time   `json:"read_at,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// IsSystem reports whether the message was generated by the system rather
// than a user.
func (m *Message) IsSystem() bool {
	return m.SenderType == SenderSystem
}

// AuthoredBy reports whether the message was written by the given role.
func (m *Message) AuthoredBy(role string) bool {
	return m.SenderType == role
}
