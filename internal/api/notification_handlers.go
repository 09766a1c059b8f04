package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lers-io/lers-ce/internal/apierrors"
	"github.com/lers-io/lers-ce/internal/models"
)

// HandleListNotifications handles GET /api/v1/lers/notifications.
func (h *Handler) HandleListNotifications(c *gin.Context) {
	userID, _, _ := callerIdentity(c)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	notifications, err := h.notifications.ListByUser(c.Request.Context(), userID, limit)
	if err != nil {
		h.logger.Printf("api: list notifications for %s failed: %v", userID, err)
		apierrors.Error(c, apierrors.CodeInternalError)
		return
	}
	if notifications == nil {
		notifications = []*models.Notification{}
	}
	c.JSON(http.StatusOK, gin.H{"notifications": notifications})
}

// HandleUnreadCount handles GET /api/v1/lers/notifications/unread-count.
func (h *Handler) HandleUnreadCount(c *gin.Context) {
	userID, _, _ := callerIdentity(c)

	count, err := h.notifications.UnreadCount(c.Request.Context(), userID)
	if err != nil {
		h.logger.Printf("api: unread count for %s failed: %v", userID, err)
		apierrors.Error(c, apierrors.CodeInternalError)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

type createNotificationRequest struct {
	UserID    string  `json:"user_id" binding:"required"`
	RequestID *string `json:"request_id"`
	Type      string  `json:"type" binding:"required"`
	Title     string  `json:"title" binding:"required"`
	Body      string  `json:"message"`
	Icon      string  `json:"icon"`
	Link      string  `json:"link"`
	Priority  string  `json:"priority"`
}

// HandleCreateNotification handles POST /api/v1/lers/notifications.
// Used by workflow services; the created notification is pushed live when
// the recipient is connected.
func (h *Handler) HandleCreateNotification(c *gin.Context) {
	var req createNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.Error(c, apierrors.CodeInvalidRequest)
		return
	}

	n := &models.Notification{
		UserID:    req.UserID,
		RequestID: req.RequestID,
		Type:      req.Type,
		Title:     req.Title,
		Body:      req.Body,
		Icon:      req.Icon,
		Link:      req.Link,
		Priority:  req.Priority,
	}
	if err := h.notifications.Create(c.Request.Context(), n); err != nil {
		h.logger.Printf("api: create notification for %s failed: %v", req.UserID, err)
		apierrors.Error(c, apierrors.CodeInternalError)
		return
	}

	if h.announcer != nil {
		h.announcer.NotifyUser(c.Request.Context(), n.UserID, n)
	}
	c.JSON(http.StatusCreated, n)
}

// HandleMarkNotificationRead handles POST /api/v1/lers/notifications/:id/read.
func (h *Handler) HandleMarkNotificationRead(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		apierrors.Error(c, apierrors.CodeInvalidID)
		return
	}

	changed, err := h.notifications.MarkRead(c.Request.Context(), id, time.Now().UTC())
	if err != nil {
		h.logger.Printf("api: mark notification %s read failed: %v", id, err)
		apierrors.Error(c, apierrors.CodeInternalError)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "changed": changed})
}

// HandleMarkAllNotificationsRead handles POST /api/v1/lers/notifications/read-all.
func (h *Handler) HandleMarkAllNotificationsRead(c *gin.Context) {
	userID, _, _ := callerIdentity(c)

	count, err := h.notifications.MarkAllRead(c.Request.Context(), userID, time.Now().UTC())
	if err != nil {
		h.logger.Printf("api: mark all notifications read for %s failed: %v", userID, err)
		apierrors.Error(c, apierrors.CodeInternalError)
		return
	}
	c.JSON(http.StatusOK, gin.H{"marked": count})
}
