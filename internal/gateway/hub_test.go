package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lers-io/lers-ce/internal/middleware"
	"github.com/lers-io/lers-ce/internal/models"
	"github.com/lers-io/lers-ce/internal/repository"
)

type memMessageRepo struct {
	mu       sync.Mutex
	messages map[string]*models.Message
}

func newMemMessageRepo() *memMessageRepo {
	return &memMessageRepo{messages: make(map[string]*models.Message)}
}

func (r *memMessageRepo) Create(_ context.Context, msg *models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if msg.ID == "" {
		msg.ID = fmt.Sprintf("msg-%d", len(r.messages)+1)
	}
	msg.CreatedAt = time.Now().UTC()
	r.messages[msg.ID] = msg
	return nil
}

func (r *memMessageRepo) GetByID(_ context.Context, id string) (*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.messages[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return msg, nil
}

func (r *memMessageRepo) ListByRequest(_ context.Context, requestID string) ([]*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Message
	for _, m := range r.messages {
		if m.RequestID == requestID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *memMessageRepo) MarkRead(_ context.Context, id string, readAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.messages[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if msg.Read {
		return false, nil
	}
	msg.Read = true
	msg.ReadAt = &readAt
	return true, nil
}

type memNotificationRepo struct {
	mu            sync.Mutex
	notifications []*models.Notification
}

func (r *memNotificationRepo) Create(_ context.Context, n *models.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n.ID == "" {
		n.ID = fmt.Sprintf("ntf-%d", len(r.notifications)+1)
	}
	n.CreatedAt = time.Now().UTC()
	r.notifications = append(r.notifications, n)
	return nil
}

func (r *memNotificationRepo) ListByUser(_ context.Context, userID string, limit int) ([]*models.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Notification
	for _, n := range r.notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (r *memNotificationRepo) UnreadCount(_ context.Context, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, n := range r.notifications {
		if n.UserID == userID && !n.Read {
			count++
		}
	}
	return count, nil
}

func (r *memNotificationRepo) MarkRead(_ context.Context, id string, readAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.notifications {
		if n.ID == id {
			if n.Read {
				return false, nil
			}
			n.Read = true
			n.ReadAt = &readAt
			return true, nil
		}
	}
	return false, repository.ErrNotFound
}

func (r *memNotificationRepo) MarkAllRead(_ context.Context, userID string, readAt time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, n := range r.notifications {
		if n.UserID == userID && !n.Read {
			n.Read = true
			n.ReadAt = &readAt
			count++
		}
	}
	return count, nil
}

func (r *memNotificationRepo) ListUndelivered(_ context.Context, userID string) ([]*models.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Notification
	for _, n := range r.notifications {
		if n.UserID == userID && !n.Delivered {
			out = append(out, n)
		}
	}
	return out, nil
}

func (r *memNotificationRepo) MarkDelivered(_ context.Context, id string, deliveredAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.notifications {
		if n.ID == id {
			n.Delivered = true
			n.DeliveredAt = &deliveredAt
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r *memNotificationRepo) deliveredCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, n := range r.notifications {
		if n.Delivered {
			count++
		}
	}
	return count
}

type memPresenceRepo struct {
	mu      sync.Mutex
	records map[string]*models.PresenceRecord
}

func newMemPresenceRepo() *memPresenceRepo {
	return &memPresenceRepo{records: make(map[string]*models.PresenceRecord)}
}

func (r *memPresenceRepo) Get(_ context.Context, userID string) (*models.PresenceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return rec, nil
}

func (r *memPresenceRepo) SetStatus(_ context.Context, userID, userName, status, socketID string) (*models.PresenceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	rec := &models.PresenceRecord{
		UserID:   userID,
		UserName: userName,
		Status:   status,
		LastSeen: now,
		SocketID: socketID,
	}
	if status == models.PresenceOnline {
		rec.LastOnline = &now
	}
	r.records[userID] = rec
	return rec, nil
}

func (r *memPresenceRepo) ListStale(_ context.Context, olderThan time.Time) ([]*models.PresenceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.PresenceRecord
	for _, rec := range r.records {
		if rec.Status != models.PresenceOffline && rec.LastSeen.Before(olderThan) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *memPresenceRepo) status(userID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[userID]
	if !ok {
		return ""
	}
	return rec.Status
}

type testGateway struct {
	hub      *Hub
	server   *httptest.Server
	messages *memMessageRepo
	ntfs     *memNotificationRepo
	presence *memPresenceRepo
}

// newTestGateway starts an httptest server whose /ws route trusts the user
// named in the X-Test-User header instead of running JWT validation.
func newTestGateway(t *testing.T) *testGateway {
	t.Helper()
	gin.SetMode(gin.TestMode)

	messages := newMemMessageRepo()
	ntfs := &memNotificationRepo{}
	presence := newMemPresenceRepo()
	hub := NewHub(messages, ntfs, presence)

	router := gin.New()
	router.GET("/ws", func(c *gin.Context) {
		c.Set(middleware.CtxUserID, c.GetHeader("X-Test-User"))
		c.Set(middleware.CtxUserName, c.GetHeader("X-Test-Name"))
		c.Set(middleware.CtxUserRole, c.GetHeader("X-Test-Role"))
	}, hub.ServeWS)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testGateway{hub: hub, server: server, messages: messages, ntfs: ntfs, presence: presence}
}

func (g *testGateway) dial(t *testing.T, userID, userName, role string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(g.server.URL, "http") + "/ws"
	header := http.Header{}
	header.Set("X-Test-User", userID)
	header.Set("X-Test-Name", userName)
	header.Set("X-Test-Role", role)

	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	env, err := models.NewEnvelope(event, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(env))
}

// readEvent reads frames until one matches the wanted event name, failing if
// nothing arrives within the deadline.
func readEvent(t *testing.T, conn *websocket.Conn, event string) models.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var env models.Envelope
		err := conn.ReadJSON(&env)
		require.NoError(t, err, "waiting for %s", event)
		if env.Event == event {
			return env
		}
	}
}

// expectNoEvent drains frames for a short window and fails if the named
// event shows up.
func expectNoEvent(t *testing.T, conn *websocket.Conn, event string) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	for {
		var env models.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		require.NotEqual(t, event, env.Event)
	}
}

func TestConnectBroadcastsOnline(t *testing.T) {
	g := newTestGateway(t)

	watcher := g.dial(t, "provider-7", "Vera Provider", models.SenderProvider)
	_ = g.dial(t, "io-1", "Dana Officer", models.SenderIO)

	env := readEvent(t, watcher, models.EventUserOnline)
	var rec models.PresenceRecord
	require.NoError(t, json.Unmarshal(env.Payload, &rec))
	assert.Equal(t, "io-1", rec.UserID)
	assert.Equal(t, models.PresenceOnline, rec.Status)

	assert.Eventually(t, func() bool {
		return g.presence.status("io-1") == models.PresenceOnline
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDisconnectFlipsOffline(t *testing.T) {
	g := newTestGateway(t)

	watcher := g.dial(t, "provider-7", "Vera Provider", models.SenderProvider)
	conn := g.dial(t, "io-1", "Dana Officer", models.SenderIO)
	readEvent(t, watcher, models.EventUserOnline)

	conn.Close()

	env := readEvent(t, watcher, models.EventUserOffline)
	var rec models.PresenceRecord
	require.NoError(t, json.Unmarshal(env.Payload, &rec))
	assert.Equal(t, "io-1", rec.UserID)

	assert.Eventually(t, func() bool {
		return g.presence.status("io-1") == models.PresenceOffline
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTypingSkipsSender(t *testing.T) {
	g := newTestGateway(t)

	io := g.dial(t, "io-1", "Dana Officer", models.SenderIO)
	provider := g.dial(t, "provider-7", "Vera Provider", models.SenderProvider)

	sendEvent(t, io, models.EventJoinChat, models.JoinChatPayload{RequestID: "req-42"})
	sendEvent(t, provider, models.EventJoinChat, models.JoinChatPayload{RequestID: "req-42"})
	readEvent(t, io, models.EventUserJoinedChat)

	sendEvent(t, io, models.EventTyping, models.TypingPayload{RequestID: "req-42", IsTyping: true})

	env := readEvent(t, provider, models.EventUserTyping)
	var p models.UserTypingPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, "io-1", p.UserID)
	assert.True(t, p.IsTyping)

	expectNoEvent(t, io, models.EventUserTyping)
}

func TestSendMessageEchoesCanonicalRecord(t *testing.T) {
	g := newTestGateway(t)

	senderID := "io-1"
	msg := &models.Message{
		RequestID:  "req-42",
		SenderID:   &senderID,
		SenderName: "Dana Officer",
		SenderType: models.SenderIO,
		Text:       "Records attached.",
	}
	require.NoError(t, g.messages.Create(context.Background(), msg))

	io := g.dial(t, "io-1", "Dana Officer", models.SenderIO)
	provider := g.dial(t, "provider-7", "Vera Provider", models.SenderProvider)
	sendEvent(t, io, models.EventJoinChat, models.JoinChatPayload{RequestID: "req-42"})
	sendEvent(t, provider, models.EventJoinChat, models.JoinChatPayload{RequestID: "req-42"})
	readEvent(t, io, models.EventUserJoinedChat)

	sendEvent(t, io, models.EventSendMessage, models.AnnouncePayload{RequestID: "req-42", MessageID: msg.ID})

	for _, conn := range []*websocket.Conn{io, provider} {
		env := readEvent(t, conn, models.EventNewMessage)
		var got models.Message
		require.NoError(t, json.Unmarshal(env.Payload, &got))
		assert.Equal(t, msg.ID, got.ID)
		assert.Equal(t, "Records attached.", got.Text)
	}
}

func TestSendMessageUnknownID(t *testing.T) {
	g := newTestGateway(t)

	io := g.dial(t, "io-1", "Dana Officer", models.SenderIO)
	sendEvent(t, io, models.EventJoinChat, models.JoinChatPayload{RequestID: "req-42"})
	sendEvent(t, io, models.EventSendMessage, models.AnnouncePayload{RequestID: "req-42", MessageID: "nope"})

	env := readEvent(t, io, models.EventError)
	var p models.ErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, "message not found", p.Message)
}

func TestMarkMessageReadBroadcastsOnce(t *testing.T) {
	g := newTestGateway(t)

	senderID := "io-1"
	msg := &models.Message{RequestID: "req-42", SenderID: &senderID, SenderType: models.SenderIO, Text: "hi"}
	require.NoError(t, g.messages.Create(context.Background(), msg))

	io := g.dial(t, "io-1", "Dana Officer", models.SenderIO)
	provider := g.dial(t, "provider-7", "Vera Provider", models.SenderProvider)
	sendEvent(t, io, models.EventJoinChat, models.JoinChatPayload{RequestID: "req-42"})
	sendEvent(t, provider, models.EventJoinChat, models.JoinChatPayload{RequestID: "req-42"})
	readEvent(t, io, models.EventUserJoinedChat)

	sendEvent(t, provider, models.EventMarkMessageRead, models.MarkReadPayload{MessageID: msg.ID, RequestID: "req-42"})

	env := readEvent(t, io, models.EventMessageRead)
	var p models.MessageReadPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, msg.ID, p.MessageID)
	assert.False(t, p.ReadAt.IsZero())

	// Second mark is a no-op: the flag already flipped.
	sendEvent(t, provider, models.EventMarkMessageRead, models.MarkReadPayload{MessageID: msg.ID, RequestID: "req-42"})
	expectNoEvent(t, io, models.EventMessageRead)
}

func TestGetUnreadCount(t *testing.T) {
	g := newTestGateway(t)
	require.NoError(t, g.ntfs.Create(context.Background(), &models.Notification{UserID: "io-1", Type: models.NotifyNewMessage, Title: "a", Delivered: true}))
	require.NoError(t, g.ntfs.Create(context.Background(), &models.Notification{UserID: "io-1", Type: models.NotifyNewMessage, Title: "b", Delivered: true}))

	io := g.dial(t, "io-1", "Dana Officer", models.SenderIO)
	sendEvent(t, io, models.EventGetUnreadCount, nil)

	env := readEvent(t, io, models.EventUnreadCount)
	var p models.UnreadCountPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, 2, p.Count)
}

func TestBackfillUndeliveredOnConnect(t *testing.T) {
	g := newTestGateway(t)
	require.NoError(t, g.ntfs.Create(context.Background(), &models.Notification{
		UserID: "io-1", Type: models.NotifyApprovalNeeded, Title: "Approval needed", Priority: models.PriorityHigh,
	}))

	io := g.dial(t, "io-1", "Dana Officer", models.SenderIO)

	env := readEvent(t, io, models.EventNewNotification)
	var n models.Notification
	require.NoError(t, json.Unmarshal(env.Payload, &n))
	assert.Equal(t, "Approval needed", n.Title)

	assert.Eventually(t, func() bool { return g.ntfs.deliveredCount() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestNotifyUserOfflineStaysQueued(t *testing.T) {
	g := newTestGateway(t)
	n := &models.Notification{UserID: "ghost", Type: models.NotifyNewMessage, Title: "hello"}
	require.NoError(t, g.ntfs.Create(context.Background(), n))

	g.hub.NotifyUser(context.Background(), "ghost", n)

	assert.Zero(t, g.ntfs.deliveredCount())
}

func TestLeaveChatStopsRoomTraffic(t *testing.T) {
	g := newTestGateway(t)

	io := g.dial(t, "io-1", "Dana Officer", models.SenderIO)
	provider := g.dial(t, "provider-7", "Vera Provider", models.SenderProvider)
	sendEvent(t, io, models.EventJoinChat, models.JoinChatPayload{RequestID: "req-42"})
	sendEvent(t, provider, models.EventJoinChat, models.JoinChatPayload{RequestID: "req-42"})
	readEvent(t, io, models.EventUserJoinedChat)

	sendEvent(t, provider, models.EventLeaveChat, models.JoinChatPayload{RequestID: "req-42"})
	readEvent(t, io, models.EventUserLeftChat)

	sendEvent(t, io, models.EventTyping, models.TypingPayload{RequestID: "req-42", IsTyping: true})
	expectNoEvent(t, provider, models.EventUserTyping)
}

type recordingBridge struct {
	mu    sync.Mutex
	users []string
}

func (b *recordingBridge) bind(*Hub)                           {}
func (b *recordingBridge) publishRoom(string, models.Envelope) {}
func (b *recordingBridge) publishAll(models.Envelope)          {}

func (b *recordingBridge) publishUser(userID string, _ models.Envelope) {
	b.mu.Lock()
	b.users = append(b.users, userID)
	b.mu.Unlock()
}

func (b *recordingBridge) userPublishes(userID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, u := range b.users {
		if u == userID {
			n++
		}
	}
	return n
}

func TestNotifyUserAlwaysReachesBridge(t *testing.T) {
	g := newTestGateway(t)
	bridge := &recordingBridge{}
	g.hub.bridge = bridge

	conn := g.dial(t, "io-1", "Dana Officer", models.SenderIO)
	require.Eventually(t, func() bool { return g.hub.userConnected("io-1") }, 2*time.Second, 10*time.Millisecond)

	n := &models.Notification{UserID: "io-1", Type: models.NotifyNewMessage, Title: "hello"}
	require.NoError(t, g.ntfs.Create(context.Background(), n))
	g.hub.NotifyUser(context.Background(), "io-1", n)

	// The local socket gets the push and the bridge still carries a copy
	// for the same user's sockets on other instances.
	readEvent(t, conn, models.EventNewNotification)
	assert.Equal(t, 1, bridge.userPublishes("io-1"))

	// Offline recipients ride the bridge too.
	m := &models.Notification{UserID: "ghost", Type: models.NotifyNewMessage, Title: "ping"}
	require.NoError(t, g.ntfs.Create(context.Background(), m))
	g.hub.NotifyUser(context.Background(), "ghost", m)
	assert.Equal(t, 1, bridge.userPublishes("ghost"))
}
