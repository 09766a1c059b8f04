package realtime

import (
	"context"
	"log"
	"time"

	"github.com/lers-io/lers-ce/internal/models"
)

// Core bundles the session and its coordinators into one client. Build one
// per authenticated user; a re-auth replaces the whole Core rather than
// mutating it.
type Core struct {
	Session       *Session
	Rooms         *RoomManager
	Typing        *TypingCoordinator
	Presence      *PresenceTracker
	Notifications *NotificationDispatcher
	Messages      *MessageStore
}

// CoreConfig carries the constructor inputs for a Core.
type CoreConfig struct {
	GatewayURL string
	APIBaseURL string
	Credential string
	SelfRole   string

	TypingDebounce    time.Duration
	ReconnectInitial  time.Duration
	ReconnectMax      time.Duration
	ReconnectAttempts int
	SeenCacheSize     int

	Clock   Clock
	Logger  *log.Logger
	Toast   ToastSink
	Desktop DesktopNotifier
	Audio   AudioCue
}

// NewCore wires a full client. Zero-valued tuning fields fall back to the
// component defaults.
func NewCore(cfg CoreConfig) *Core {
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	sessionOpts := []SessionOption{WithClock(cfg.Clock), WithLogger(cfg.Logger)}
	if cfg.ReconnectInitial > 0 && cfg.ReconnectMax > 0 && cfg.ReconnectAttempts > 0 {
		sessionOpts = append(sessionOpts, WithBackoff(cfg.ReconnectInitial, cfg.ReconnectMax, cfg.ReconnectAttempts))
	}
	session := NewSession(&WebsocketDialer{URL: cfg.GatewayURL}, cfg.Credential, sessionOpts...)

	rest := NewRESTClient(cfg.APIBaseURL, cfg.Credential)

	typingOpts := []TypingOption{WithTypingClock(cfg.Clock), WithTypingLogger(cfg.Logger)}
	if cfg.TypingDebounce > 0 {
		typingOpts = append(typingOpts, WithTypingDebounce(cfg.TypingDebounce))
	}

	dispatcherOpts := []DispatcherOption{WithDispatcherLogger(cfg.Logger)}
	if cfg.Toast != nil {
		dispatcherOpts = append(dispatcherOpts, WithToastSink(cfg.Toast))
	}
	if cfg.Desktop != nil {
		dispatcherOpts = append(dispatcherOpts, WithDesktopNotifier(cfg.Desktop))
	}
	if cfg.Audio != nil {
		dispatcherOpts = append(dispatcherOpts, WithAudioCue(cfg.Audio))
	}
	if cfg.SeenCacheSize > 0 {
		dispatcherOpts = append(dispatcherOpts, WithSeenCacheSize(cfg.SeenCacheSize))
	}

	return &Core{
		Session:       session,
		Rooms:         NewRoomManager(session, cfg.Logger),
		Typing:        NewTypingCoordinator(session, typingOpts...),
		Presence:      NewPresenceTracker(session, rest, cfg.Logger),
		Notifications: NewNotificationDispatcher(session, rest, dispatcherOpts...),
		Messages:      NewMessageStore(session, rest, cfg.SelfRole, cfg.Logger),
	}
}

// Connect opens the session.
func (c *Core) Connect(ctx context.Context) error {
	return c.Session.Connect(ctx)
}

// JoinRoom takes a reference on the request's chat room.
func (c *Core) JoinRoom(requestID string) {
	c.Rooms.JoinRoom(requestID)
}

// LeaveRoom drops a reference; when the last viewer leaves, pending typing
// state for the room is torn down with it.
func (c *Core) LeaveRoom(requestID string) {
	c.Rooms.LeaveRoom(requestID)
	if !c.Rooms.Joined(requestID) {
		c.Typing.CancelRoom(requestID)
	}
}

// HandleVisibility maps page visibility to presence: visible means ONLINE,
// hidden means AWAY.
func (c *Core) HandleVisibility(ctx context.Context, visible bool) error {
	status := models.PresenceAway
	if visible {
		status = models.PresenceOnline
	}
	return c.Presence.SetStatus(ctx, status)
}

// Close tears the client down: coordinators first, then the session.
func (c *Core) Close() {
	c.Messages.Close()
	c.Notifications.Close()
	c.Presence.Close()
	c.Typing.Close()
	c.Rooms.Close()
	c.Session.Disconnect()
}
