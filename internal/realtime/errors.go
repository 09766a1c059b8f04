package realtime

import "errors"

var (
	// ErrAuthRejected means the server refused the handshake credential.
	// Terminal: the session moves to CLOSED and does not retry.
	ErrAuthRejected = errors.New("authentication rejected")

	// ErrSessionClosed means the session is CLOSED and must be reconnected
	// explicitly before further use.
	ErrSessionClosed = errors.New("session closed")

	// ErrNotConnected means an emit was attempted while the transport is
	// not OPEN.
	ErrNotConnected = errors.New("session not connected")

	// ErrEmptyMessage means a send carried neither text nor attachments.
	ErrEmptyMessage = errors.New("message has no content")
)
