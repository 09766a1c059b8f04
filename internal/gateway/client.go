package gateway

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lers-io/lers-ce/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 25 * time.Second
	maxFrameSize   = 1 << 20
	sendBufferSize = 64
)

// Client is one authenticated websocket connection.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan models.Envelope
	socketID string
	userID   string
	userName string
	role     string
	rooms    map[string]bool
	closed   atomic.Bool
}

func newClient(hub *Hub, conn *websocket.Conn, socketID, userID, userName, role string) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan models.Envelope, sendBufferSize),
		socketID: socketID,
		userID:   userID,
		userName: userName,
		role:     role,
		rooms:    make(map[string]bool),
	}
}

func (c *Client) readPump() {
	defer c.close()
	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var env models.Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			c.pushError("malformed frame")
			continue
		}
		c.hub.dispatch(c, env)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case env := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// push queues an envelope without blocking. When the buffer is full the
// oldest frame is dropped; a slow reader loses history, not the connection.
func (c *Client) push(env models.Envelope) {
	if c.closed.Load() {
		return
	}
	select {
	case c.send <- env:
	default:
		select {
		case <-c.send:
		default:
		}
		select {
		case c.send <- env:
		default:
		}
	}
}

func (c *Client) pushError(msg string) {
	env, err := models.NewEnvelope(models.EventError, models.ErrorPayload{Message: msg})
	if err != nil {
		return
	}
	c.push(env)
}

// close tears the connection down once. The send channel is left open so a
// concurrent push never hits a closed channel; the writer exits when the
// underlying conn dies.
func (c *Client) close() {
	if c.closed.Swap(true) {
		return
	}
	c.hub.handleDisconnect(c)
	_ = c.conn.Close()
}
