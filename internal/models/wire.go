package models

import (
	"encoding/json"
	"time"
)

// Wire event names, client to server.
const (
	EventJoinChat        = "join_chat"
	EventLeaveChat       = "leave_chat"
	EventSendMessage     = "send_message"
	EventTyping          = "typing"
	EventUpdatePresence  = "update_presence"
	EventMarkMessageRead = "mark_message_read"
	EventGetUnreadCount  = "get_unread_count"
)

// Wire event names, server to client.
const (
	EventNewMessage      = "new_message"
	EventNewNotification = "new_notification"
	EventUserTyping      = "user_typing"
	EventPresenceUpdated = "presence_updated"
	EventUserOnline      = "user_online"
	EventUserOffline     = "user_offline"
	EventMessageRead     = "message_read"
	EventUserJoinedChat  = "user_joined_chat"
	EventUserLeftChat    = "user_left_chat"
	EventUnreadCount     = "unread_count"
	EventError           = "error"
)

// Envelope is the frame exchanged over the websocket: an event name plus its
// JSON payload.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into an Envelope. Marshal failures are
// programming errors (all payload types here are plain structs), so they are
// returned rather than swallowed.
func NewEnvelope(event string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Event: event}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Payload: raw}, nil
}

// DecodePayload unmarshals the envelope payload into out.
func (e Envelope) DecodePayload(out any) error {
	return json.Unmarshal(e.Payload, out)
}

// JoinChatPayload is sent for join_chat and leave_chat.
type JoinChatPayload struct {
	RequestID string `json:"request_id"`
}

// AnnouncePayload is sent for send_message. The body is already persisted via
// REST; the socket frame only announces the id for rebroadcast.
type AnnouncePayload struct {
	RequestID string `json:"request_id"`
	MessageID string `json:"message_id"`
}

// TypingPayload is sent for typing.
type TypingPayload struct {
	RequestID string `json:"request_id"`
	IsTyping  bool   `json:"is_typing"`
}

// UserTypingPayload is received for user_typing.
type UserTypingPayload struct {
	RequestID string `json:"request_id"`
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
	IsTyping  bool   `json:"is_typing"`
}

// PresencePayload is sent for update_presence.
type PresencePayload struct {
	Status string `json:"status"`
}

// MarkReadPayload is sent for mark_message_read.
type MarkReadPayload struct {
	MessageID string `json:"message_id"`
	RequestID string `json:"request_id"`
}

// MessageReadPayload is received for message_read.
type MessageReadPayload struct {
	MessageID string    `json:"message_id"`
	RequestID string    `json:"request_id"`
	ReadAt    time.Time `json:"read_at"`
}

// UnreadCountPayload is received for unread_count.
type UnreadCountPayload struct {
	Count int `json:"count"`
}

// ErrorPayload is received for error.
type ErrorPayload struct {
	Message string `json:"message"`
}

// ChatMemberPayload is received for user_joined_chat and user_left_chat.
type ChatMemberPayload struct {
	RequestID string `json:"request_id"`
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
}
