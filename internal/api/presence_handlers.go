package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lers-io/lers-ce/internal/apierrors"
	"github.com/lers-io/lers-ce/internal/models"
	"github.com/lers-io/lers-ce/internal/repository"
)

// HandleGetPresence handles GET /api/v1/lers/presence/:user_id. Unknown users
// report OFFLINE rather than 404 so the roster render never branches.
func (h *Handler) HandleGetPresence(c *gin.Context) {
	userID := c.Param("user_id")
	if userID == "" {
		apierrors.Error(c, apierrors.CodeInvalidID)
		return
	}

	rec, err := h.presence.Get(c.Request.Context(), userID)
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusOK, &models.PresenceRecord{
			UserID: userID,
			Status: models.PresenceOffline,
		})
		return
	}
	if err != nil {
		h.logger.Printf("api: get presence for %s failed: %v", userID, err)
		apierrors.Error(c, apierrors.CodeInternalError)
		return
	}
	c.JSON(http.StatusOK, rec)
}

type updatePresenceRequest struct {
	Status string `json:"status" binding:"required"`
}

// HandleUpdatePresence handles PUT /api/v1/lers/presence. This is the REST
// fallback used when the caller has no open socket; socket-connected clients
// update presence over the wire instead.
func (h *Handler) HandleUpdatePresence(c *gin.Context) {
	var req updatePresenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.Error(c, apierrors.CodeInvalidRequest)
		return
	}
	if !models.ValidPresenceStatus(req.Status) {
		apierrors.Error(c, apierrors.CodeInvalidStatus)
		return
	}

	userID, userName, _ := callerIdentity(c)
	rec, err := h.presence.SetStatus(c.Request.Context(), userID, userName, req.Status, "")
	if err != nil {
		h.logger.Printf("api: update presence for %s failed: %v", userID, err)
		apierrors.Error(c, apierrors.CodeInternalError)
		return
	}
	c.JSON(http.StatusOK, rec)
}
