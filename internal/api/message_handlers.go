package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lers-io/lers-ce/internal/apierrors"
	"github.com/lers-io/lers-ce/internal/models"
)

// HandleListMessages handles GET /api/v1/lers/requests/:id/messages.
// Returns the full message history for a request, oldest first.
func (h *Handler) HandleListMessages(c *gin.Context) {
	requestID := c.Param("id")
	if requestID == "" {
		apierrors.Error(c, apierrors.CodeRequestRequired)
		return
	}

	msgs, err := h.messages.ListByRequest(c.Request.Context(), requestID)
	if err != nil {
		h.logger.Printf("api: list messages for %s failed: %v", requestID, err)
		apierrors.Error(c, apierrors.CodeInternalError)
		return
	}
	if msgs == nil {
		msgs = []*models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

type createMessageRequest struct {
	Text        string              `json:"message_text"`
	Attachments []models.Attachment `json:"attachments"`
}

// HandleCreateMessage handles POST /api/v1/lers/requests/:id/messages.
// This is phase one of the two-phase send: the record is persisted here and
// the canonical copy returned; the client then announces the id over the
// socket so room subscribers receive the live echo.
func (h *Handler) HandleCreateMessage(c *gin.Context) {
	requestID := c.Param("id")
	if requestID == "" {
		apierrors.Error(c, apierrors.CodeRequestRequired)
		return
	}

	var req createMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.Error(c, apierrors.CodeInvalidRequest)
		return
	}
	if strings.TrimSpace(req.Text) == "" && len(req.Attachments) == 0 {
		apierrors.Error(c, apierrors.CodeMessageEmpty)
		return
	}

	userID, userName, role := callerIdentity(c)
	msgType := models.MessageTypeText
	if len(req.Attachments) > 0 {
		msgType = models.MessageTypeFile
	}
	msg := &models.Message{
		RequestID:   requestID,
		SenderID:    &userID,
		SenderName:  userName,
		SenderType:  role,
		MessageType: msgType,
		Text:        req.Text,
		Attachments: req.Attachments,
	}

	if err := h.messages.Create(c.Request.Context(), msg); err != nil {
		h.logger.Printf("api: create message in %s failed: %v", requestID, err)
		apierrors.Error(c, apierrors.CodeInternalError)
		return
	}
	c.JSON(http.StatusCreated, msg)
}
