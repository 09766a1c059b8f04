// Package api exposes the REST collaborators of the realtime core: message
// history and creation, notification read state, and presence. Durable writes
// happen here first; the socket layer only announces what this API already
// persisted.
package api

import (
	"context"
	"log"

	"github.com/gin-gonic/gin"

	"github.com/lers-io/lers-ce/internal/auth"
	"github.com/lers-io/lers-ce/internal/middleware"
	"github.com/lers-io/lers-ce/internal/models"
	"github.com/lers-io/lers-ce/internal/repository"
)

// Announcer pushes a freshly created notification to its recipient if they
// are connected. The gateway implements it; a nil announcer means
// notifications wait for the next backfill fetch.
type Announcer interface {
	NotifyUser(ctx context.Context, userID string, n *models.Notification)
}

// Handler bundles the LERS REST handlers and their dependencies.
type Handler struct {
	messages      repository.MessageRepository
	notifications repository.NotificationRepository
	presence      repository.PresenceRepository
	announcer     Announcer
	logger        *log.Logger
}

// Option configures the handler.
type Option func(*Handler)

// WithLogger sets a custom logger.
func WithLogger(l *log.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// WithAnnouncer attaches the gateway used to push created notifications live.
func WithAnnouncer(a Announcer) Option {
	return func(h *Handler) { h.announcer = a }
}

// NewHandler creates the REST handler set.
func NewHandler(messages repository.MessageRepository, notifications repository.NotificationRepository, presence repository.PresenceRepository, opts ...Option) *Handler {
	h := &Handler{
		messages:      messages,
		notifications: notifications,
		presence:      presence,
		logger:        log.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes mounts the LERS REST endpoints under /api/v1/lers. All
// routes require a valid access token.
func (h *Handler) RegisterRoutes(r gin.IRouter, jwtManager *auth.JWTManager) {
	group := r.Group("/api/v1/lers")
	group.Use(middleware.JWTAuthMiddleware(jwtManager))
	group.Use(middleware.RateLimitMiddleware())

	group.GET("/requests/:id/messages", h.HandleListMessages)
	group.POST("/requests/:id/messages", h.HandleCreateMessage)

	group.GET("/notifications", h.HandleListNotifications)
	group.GET("/notifications/unread-count", h.HandleUnreadCount)
	group.POST("/notifications", h.HandleCreateNotification)
	group.POST("/notifications/:id/read", h.HandleMarkNotificationRead)
	group.POST("/notifications/read-all", h.HandleMarkAllNotificationsRead)

	group.GET("/presence/:user_id", h.HandleGetPresence)
	group.PUT("/presence", h.HandleUpdatePresence)
}

func callerIdentity(c *gin.Context) (userID, userName, role string) {
	if v, ok := c.Get(middleware.CtxUserID); ok {
		userID, _ = v.(string)
	}
	if v, ok := c.Get(middleware.CtxUserName); ok {
		userName, _ = v.(string)
	}
	if v, ok := c.Get(middleware.CtxUserRole); ok {
		role, _ = v.(string)
	}
	return
}
