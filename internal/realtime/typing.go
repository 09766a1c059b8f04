package realtime

import (
	"encoding/json"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/lers-io/lers-ce/internal/models"
)

// DefaultTypingDebounce is the inactivity window after which a started
// typing indicator auto-expires with a false broadcast.
const DefaultTypingDebounce = 3 * time.Second

// remoteExpiryFactor scales the debounce window for the receiver-side
// safety expiry. It must comfortably exceed the sender's own window so a
// healthy sender's refresh always lands first.
const remoteExpiryFactor = 3

// TypingCoordinator debounces the local typing indicator and aggregates
// remote ones into per-room "who is typing" sets.
type TypingCoordinator struct {
	session  *Session
	clock    Clock
	logger   *log.Logger
	debounce time.Duration

	mu      sync.Mutex
	local   map[string]*localTyping          // room id -> pending expiry
	remote  map[string]map[string]*remoteTyping // room id -> user id -> entry
	changes registry[models.UserTypingPayload]

	unsubTyping func()
}

type localTyping struct {
	timer Timer
}

type remoteTyping struct {
	userName string
	timer    Timer
}

// TypingOption configures the coordinator.
type TypingOption func(*TypingCoordinator)

// WithTypingClock sets a custom time source.
func WithTypingClock(c Clock) TypingOption {
	return func(t *TypingCoordinator) { t.clock = c }
}

// WithTypingDebounce sets the inactivity window.
func WithTypingDebounce(d time.Duration) TypingOption {
	return func(t *TypingCoordinator) { t.debounce = d }
}

// WithTypingLogger sets a custom logger.
func WithTypingLogger(l *log.Logger) TypingOption {
	return func(t *TypingCoordinator) { t.logger = l }
}

// NewTypingCoordinator creates the coordinator and subscribes to inbound
// typing events.
func NewTypingCoordinator(session *Session, opts ...TypingOption) *TypingCoordinator {
	t := &TypingCoordinator{
		session:  session,
		clock:    SystemClock(),
		logger:   log.Default(),
		debounce: DefaultTypingDebounce,
		local:    make(map[string]*localTyping),
		remote:   make(map[string]map[string]*remoteTyping),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.unsubTyping = session.Subscribe(models.EventUserTyping, t.handleRemote)
	return t
}

// NotifyTyping broadcasts the local typing state for a room. A true starts
// or refreshes the expiry timer; letting it lapse broadcasts false
// automatically. An explicit false (message sent, input cleared) cancels the
// timer and broadcasts at once.
func (t *TypingCoordinator) NotifyTyping(requestID string, isTyping bool) {
	t.mu.Lock()
	if st := t.local[requestID]; st != nil {
		st.timer.Stop()
		delete(t.local, requestID)
	}
	if isTyping {
		t.local[requestID] = &localTyping{
			timer: t.clock.AfterFunc(t.debounce, func() { t.expireLocal(requestID) }),
		}
	}
	t.mu.Unlock()

	t.broadcast(requestID, isTyping)
}

// CancelRoom drops any pending expiry for a room without broadcasting.
// Called when the room is left; the server clears the indicator with the
// membership.
func (t *TypingCoordinator) CancelRoom(requestID string) {
	t.mu.Lock()
	if st := t.local[requestID]; st != nil {
		st.timer.Stop()
		delete(t.local, requestID)
	}
	for _, entry := range t.remote[requestID] {
		entry.timer.Stop()
	}
	delete(t.remote, requestID)
	t.mu.Unlock()
}

func (t *TypingCoordinator) expireLocal(requestID string) {
	t.mu.Lock()
	st := t.local[requestID]
	if st == nil {
		t.mu.Unlock()
		return
	}
	delete(t.local, requestID)
	t.mu.Unlock()

	t.broadcast(requestID, false)
}

func (t *TypingCoordinator) broadcast(requestID string, isTyping bool) {
	err := t.session.Emit(models.EventTyping, models.TypingPayload{
		RequestID: requestID,
		IsTyping:  isTyping,
	})
	if err != nil {
		t.logger.Printf("realtime: typing broadcast for %s failed: %v", requestID, err)
	}
}

// handleRemote folds an inbound user_typing event into the per-room set.
// Entries normally clear on the sender's explicit or auto-expired false; a
// receiver-side timer at a multiple of the window backstops a false lost in
// transit.
func (t *TypingCoordinator) handleRemote(raw json.RawMessage) {
	var p models.UserTypingPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.RequestID == "" || p.UserID == "" {
		return
	}

	t.mu.Lock()
	room := t.remote[p.RequestID]
	if existing := room[p.UserID]; existing != nil {
		existing.timer.Stop()
		delete(room, p.UserID)
	}
	if p.IsTyping {
		if room == nil {
			room = make(map[string]*remoteTyping)
			t.remote[p.RequestID] = room
		}
		room[p.UserID] = &remoteTyping{
			userName: p.UserName,
			timer: t.clock.AfterFunc(remoteExpiryFactor*t.debounce, func() {
				t.expireRemote(p.RequestID, p.UserID, p.UserName)
			}),
		}
	} else if room != nil && len(room) == 0 {
		delete(t.remote, p.RequestID)
	}
	t.mu.Unlock()

	t.changes.emit(p)
}

func (t *TypingCoordinator) expireRemote(requestID, userID, userName string) {
	t.mu.Lock()
	room := t.remote[requestID]
	if room == nil || room[userID] == nil {
		t.mu.Unlock()
		return
	}
	delete(room, userID)
	if len(room) == 0 {
		delete(t.remote, requestID)
	}
	t.mu.Unlock()

	t.changes.emit(models.UserTypingPayload{
		RequestID: requestID,
		UserID:    userID,
		UserName:  userName,
		IsTyping:  false,
	})
}

// OnRemoteTyping subscribes to remote typing transitions, including
// receiver-side expiries.
func (t *TypingCoordinator) OnRemoteTyping(fn func(models.UserTypingPayload)) func() {
	return t.changes.subscribe(fn)
}

// TypingUsers returns the ids of users currently typing in a room, sorted
// for stable rendering.
func (t *TypingCoordinator) TypingUsers(requestID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	room := t.remote[requestID]
	ids := make([]string, 0, len(room))
	for id := range room {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close cancels every pending timer and the session subscription.
func (t *TypingCoordinator) Close() {
	if t.unsubTyping != nil {
		t.unsubTyping()
	}
	t.mu.Lock()
	for id, st := range t.local {
		st.timer.Stop()
		delete(t.local, id)
	}
	for id, room := range t.remote {
		for _, entry := range room {
			entry.timer.Stop()
		}
		delete(t.remote, id)
	}
	t.mu.Unlock()
}
