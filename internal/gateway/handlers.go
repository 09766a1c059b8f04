package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lers-io/lers-ce/internal/middleware"
	"github.com/lers-io/lers-ce/internal/models"
	"github.com/lers-io/lers-ce/internal/repository"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Browser clients connect cross-origin from the SPA host.
	CheckOrigin: func(*http.Request) bool { return true },
}

// ServeWS upgrades an authenticated request to a websocket and runs the
// connection. Mount behind the JWT middleware; the token rides the query
// string on handshake.
func (h *Hub) ServeWS(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserID)
	if userID == "" {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	userName := c.GetString(middleware.CtxUserName)
	role := c.GetString(middleware.CtxUserRole)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Printf("gateway: upgrade for %s failed: %v", userID, err)
		return
	}

	client := newClient(h, conn, uuid.New().String(), userID, userName, role)
	h.register(client)
	h.handleConnect(client)

	go client.writePump()
	go client.readPump()
}

// handleConnect flips the user ONLINE and announces them to everyone else,
// then backfills notifications that were created while they were away.
func (h *Hub) handleConnect(c *Client) {
	ctx := context.Background()
	if _, err := h.presence.SetStatus(ctx, c.userID, c.userName, models.PresenceOnline, c.socketID); err != nil {
		h.logger.Printf("gateway: set %s online: %v", c.userID, err)
	}

	env, err := models.NewEnvelope(models.EventUserOnline, models.PresenceRecord{
		UserID:   c.userID,
		UserName: c.userName,
		Status:   models.PresenceOnline,
		LastSeen: h.now().UTC(),
	})
	if err == nil {
		h.broadcastAll(env, c)
	}

	h.backfillNotifications(ctx, c)
	h.logger.Printf("gateway: user %s connected (%s)", c.userID, c.socketID)
}

// handleDisconnect runs once per connection. Only the user's last connection
// flips them OFFLINE and announces it.
func (h *Hub) handleDisconnect(c *Client) {
	if !h.unregister(c) {
		return
	}
	ctx := context.Background()
	if _, err := h.presence.SetStatus(ctx, c.userID, c.userName, models.PresenceOffline, ""); err != nil {
		h.logger.Printf("gateway: set %s offline: %v", c.userID, err)
	}

	env, err := models.NewEnvelope(models.EventUserOffline, models.PresenceRecord{
		UserID:   c.userID,
		UserName: c.userName,
		Status:   models.PresenceOffline,
		LastSeen: h.now().UTC(),
	})
	if err == nil {
		h.broadcastAll(env, c)
	}
	h.logger.Printf("gateway: user %s disconnected (%s)", c.userID, c.socketID)
}

// dispatch routes one inbound frame to its event handler.
func (h *Hub) dispatch(c *Client, env models.Envelope) {
	h.metrics.recordEvent(env.Event)

	switch env.Event {
	case models.EventJoinChat:
		h.handleJoinChat(c, env.Payload)
	case models.EventLeaveChat:
		h.handleLeaveChat(c, env.Payload)
	case models.EventSendMessage:
		h.handleSendMessage(c, env.Payload)
	case models.EventTyping:
		h.handleTyping(c, env.Payload)
	case models.EventUpdatePresence:
		h.handleUpdatePresence(c, env.Payload)
	case models.EventMarkMessageRead:
		h.handleMarkMessageRead(c, env.Payload)
	case models.EventGetUnreadCount:
		h.handleGetUnreadCount(c)
	default:
		c.pushError("unknown event: " + env.Event)
	}
}

func (h *Hub) handleJoinChat(c *Client, raw json.RawMessage) {
	var p models.JoinChatPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.RequestID == "" {
		c.pushError("request_id required")
		return
	}

	h.joinRoom(c, p.RequestID)

	env, err := models.NewEnvelope(models.EventUserJoinedChat, models.ChatMemberPayload{
		RequestID: p.RequestID,
		UserID:    c.userID,
		UserName:  c.userName,
	})
	if err == nil {
		h.broadcastRoom(p.RequestID, env, c)
	}
	h.logger.Printf("gateway: user %s joined chat %s", c.userID, p.RequestID)
}

func (h *Hub) handleLeaveChat(c *Client, raw json.RawMessage) {
	var p models.JoinChatPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.RequestID == "" {
		return
	}

	h.leaveRoom(c, p.RequestID)

	env, err := models.NewEnvelope(models.EventUserLeftChat, models.ChatMemberPayload{
		RequestID: p.RequestID,
		UserID:    c.userID,
		UserName:  c.userName,
	})
	if err == nil {
		h.broadcastRoom(p.RequestID, env, c)
	}
}

// handleSendMessage is phase two of the two-phase send: the message was
// persisted over REST already, this frame only names the id. The canonical
// record is loaded back and echoed to the whole room, sender included.
func (h *Hub) handleSendMessage(c *Client, raw json.RawMessage) {
	var p models.AnnouncePayload
	if err := json.Unmarshal(raw, &p); err != nil || p.RequestID == "" || p.MessageID == "" {
		c.pushError("request_id and message_id required")
		return
	}

	msg, err := h.messages.GetByID(context.Background(), p.MessageID)
	if errors.Is(err, repository.ErrNotFound) {
		c.pushError("message not found")
		return
	}
	if err != nil {
		h.logger.Printf("gateway: load message %s: %v", p.MessageID, err)
		c.pushError("message lookup failed")
		return
	}

	env, err := models.NewEnvelope(models.EventNewMessage, msg)
	if err != nil {
		return
	}
	h.broadcastRoom(p.RequestID, env, nil)
}

func (h *Hub) handleTyping(c *Client, raw json.RawMessage) {
	var p models.TypingPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.RequestID == "" {
		return
	}

	env, err := models.NewEnvelope(models.EventUserTyping, models.UserTypingPayload{
		RequestID: p.RequestID,
		UserID:    c.userID,
		UserName:  c.userName,
		IsTyping:  p.IsTyping,
	})
	if err == nil {
		h.broadcastRoom(p.RequestID, env, c)
	}
}

func (h *Hub) handleUpdatePresence(c *Client, raw json.RawMessage) {
	var p models.PresencePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return
	}
	if p.Status == "" {
		p.Status = models.PresenceOnline
	}
	if !models.ValidPresenceStatus(p.Status) {
		c.pushError("invalid presence status")
		return
	}

	socketID := c.socketID
	if p.Status == models.PresenceOffline {
		socketID = ""
	}
	rec, err := h.presence.SetStatus(context.Background(), c.userID, c.userName, p.Status, socketID)
	if err != nil {
		h.logger.Printf("gateway: update presence for %s: %v", c.userID, err)
		return
	}

	env, err := models.NewEnvelope(models.EventPresenceUpdated, rec)
	if err == nil {
		h.broadcastAll(env, c)
	}
}

// handleMarkMessageRead flips the read flag and broadcasts the receipt to the
// room. The broadcast fires only on the first transition; repeats are silent.
func (h *Hub) handleMarkMessageRead(c *Client, raw json.RawMessage) {
	var p models.MarkReadPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.MessageID == "" || p.RequestID == "" {
		return
	}

	readAt := h.now().UTC()
	changed, err := h.messages.MarkRead(context.Background(), p.MessageID, readAt)
	if err != nil {
		h.logger.Printf("gateway: mark message %s read: %v", p.MessageID, err)
		return
	}
	if !changed {
		return
	}

	env, err := models.NewEnvelope(models.EventMessageRead, models.MessageReadPayload{
		MessageID: p.MessageID,
		RequestID: p.RequestID,
		ReadAt:    readAt,
	})
	if err == nil {
		h.broadcastRoom(p.RequestID, env, nil)
	}
}

func (h *Hub) handleGetUnreadCount(c *Client) {
	count, err := h.notifications.UnreadCount(context.Background(), c.userID)
	if err != nil {
		h.logger.Printf("gateway: unread count for %s: %v", c.userID, err)
		return
	}
	env, err := models.NewEnvelope(models.EventUnreadCount, models.UnreadCountPayload{Count: count})
	if err == nil {
		c.push(env)
	}
}
