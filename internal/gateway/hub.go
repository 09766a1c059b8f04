// Package gateway is the websocket fan-out layer. It authenticates sockets,
// tracks request chat rooms and per-user connections, rebroadcasts persisted
// messages, and pushes notifications to connected recipients. Durable state
// lives in the repositories; the hub only holds connection bookkeeping.
package gateway

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/lers-io/lers-ce/internal/models"
	"github.com/lers-io/lers-ce/internal/repository"
)

// Hub tracks connected clients, their rooms, and the per-user index used for
// targeted notification delivery.
type Hub struct {
	messages      repository.MessageRepository
	notifications repository.NotificationRepository
	presence      repository.PresenceRepository

	mu      sync.RWMutex
	clients map[*Client]bool
	byUser  map[string]map[*Client]bool
	rooms   map[string]map[*Client]bool

	bridge  eventBridge
	logger  *log.Logger
	now     func() time.Time
	metrics *gatewayMetrics
}

// eventBridge fans envelopes out to the other gateway instances.
type eventBridge interface {
	bind(h *Hub)
	publishRoom(requestID string, env models.Envelope)
	publishUser(userID string, env models.Envelope)
	publishAll(env models.Envelope)
}

// HubOption configures the hub.
type HubOption func(*Hub)

// WithLogger sets a custom logger.
func WithLogger(l *log.Logger) HubOption {
	return func(h *Hub) { h.logger = l }
}

// WithClock sets a custom time source.
func WithClock(now func() time.Time) HubOption {
	return func(h *Hub) { h.now = now }
}

// WithBridge attaches a Redis bridge for multi-instance fan-out.
func WithBridge(b *RedisBridge) HubOption {
	return func(h *Hub) { h.bridge = b }
}

// NewHub creates the hub.
func NewHub(messages repository.MessageRepository, notifications repository.NotificationRepository, presence repository.PresenceRepository, opts ...HubOption) *Hub {
	h := &Hub{
		messages:      messages,
		notifications: notifications,
		presence:      presence,
		clients:       make(map[*Client]bool),
		byUser:        make(map[string]map[*Client]bool),
		rooms:         make(map[string]map[*Client]bool),
		logger:        log.Default(),
		now:           time.Now,
		metrics:       globalGatewayMetrics(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.bridge != nil {
		h.bridge.bind(h)
	}
	return h
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	conns := h.byUser[c.userID]
	if conns == nil {
		conns = make(map[*Client]bool)
		h.byUser[c.userID] = conns
	}
	conns[c] = true
	h.mu.Unlock()
	h.metrics.connections.Inc()
}

// unregister drops the client from every index. Returns true when this was
// the user's last connection, which is when the OFFLINE transition fires.
func (h *Hub) unregister(c *Client) bool {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return false
	}
	delete(h.clients, c)
	for requestID := range c.rooms {
		h.detachLocked(c, requestID)
	}
	last := false
	if conns := h.byUser[c.userID]; conns != nil {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.byUser, c.userID)
			last = true
		}
	}
	h.mu.Unlock()
	h.metrics.connections.Dec()
	return last
}

func (h *Hub) joinRoom(c *Client, requestID string) {
	h.mu.Lock()
	room := h.rooms[requestID]
	if room == nil {
		room = make(map[*Client]bool)
		h.rooms[requestID] = room
	}
	room[c] = true
	c.rooms[requestID] = true
	h.metrics.rooms.Set(float64(len(h.rooms)))
	h.mu.Unlock()
}

func (h *Hub) leaveRoom(c *Client, requestID string) {
	h.mu.Lock()
	h.detachLocked(c, requestID)
	h.metrics.rooms.Set(float64(len(h.rooms)))
	h.mu.Unlock()
}

func (h *Hub) detachLocked(c *Client, requestID string) {
	delete(c.rooms, requestID)
	room := h.rooms[requestID]
	if room == nil {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, requestID)
	}
}

// broadcastRoom sends the envelope to every member of the request room,
// optionally skipping the originating client.
func (h *Hub) broadcastRoom(requestID string, env models.Envelope, skip *Client) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[requestID]))
	for c := range h.rooms[requestID] {
		if c != skip {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range targets {
		c.push(env)
	}
	h.metrics.broadcasts.Inc()
	if h.bridge != nil && skip != remoteOrigin {
		h.bridge.publishRoom(requestID, env)
	}
}

// broadcastAll sends the envelope to every connected client, optionally
// skipping the originating client. Used for presence transitions.
func (h *Hub) broadcastAll(env models.Envelope, skip *Client) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		if c != skip {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range targets {
		c.push(env)
	}
	h.metrics.broadcasts.Inc()
	if h.bridge != nil && skip != remoteOrigin {
		h.bridge.publishAll(env)
	}
}

// sendToUser delivers the envelope to every connection of the user on this
// instance. Returns true when at least one connection received it.
func (h *Hub) sendToUser(userID string, env models.Envelope) bool {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.byUser[userID]))
	for c := range h.byUser[userID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	for _, c := range targets {
		c.push(env)
	}
	return len(targets) > 0
}

// userConnected reports whether the user has at least one open socket here.
func (h *Hub) userConnected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID]) > 0
}

// NotifyUser pushes a freshly created notification to the recipient and
// records delivery. The envelope always goes to the bridge as well, since
// the recipient may hold sockets on other instances; their dispatchers
// absorb the duplicate by id. Offline recipients keep the record
// undelivered; the backfill on their next connect picks it up. Implements
// api.Announcer.
func (h *Hub) NotifyUser(ctx context.Context, userID string, n *models.Notification) {
	env, err := models.NewEnvelope(models.EventNewNotification, n)
	if err != nil {
		h.logger.Printf("gateway: encode notification %s: %v", n.ID, err)
		return
	}

	delivered := h.sendToUser(userID, env)
	if h.bridge != nil {
		h.bridge.publishUser(userID, env)
	}
	h.metrics.recordNotification(delivered)
	if !delivered {
		return
	}
	if err := h.notifications.MarkDelivered(ctx, n.ID, h.now().UTC()); err != nil {
		h.logger.Printf("gateway: mark notification %s delivered: %v", n.ID, err)
	}
}

// backfillNotifications sends every undelivered notification to a freshly
// connected client and marks them delivered.
func (h *Hub) backfillNotifications(ctx context.Context, c *Client) {
	pending, err := h.notifications.ListUndelivered(ctx, c.userID)
	if err != nil {
		h.logger.Printf("gateway: backfill for %s: %v", c.userID, err)
		return
	}
	for _, n := range pending {
		env, err := models.NewEnvelope(models.EventNewNotification, n)
		if err != nil {
			continue
		}
		c.push(env)
		if err := h.notifications.MarkDelivered(ctx, n.ID, h.now().UTC()); err != nil {
			h.logger.Printf("gateway: mark notification %s delivered: %v", n.ID, err)
		}
	}
}
