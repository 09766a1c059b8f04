package realtime

import (
	"log"
	"sync"

	"github.com/lers-io/lers-ce/internal/models"
)

// RoomManager multiplexes the one transport connection across request chat
// rooms. Joins are reference-counted: several UI consumers can hold the same
// room, and the wire join/leave fire only on the 0-to-1 and 1-to-0 edges.
type RoomManager struct {
	session *Session
	logger  *log.Logger

	mu    sync.Mutex
	rooms map[string]*roomState

	unsubOpen func()
}

type roomState struct {
	refs   int
	joined bool
}

// NewRoomManager creates the manager and hooks the session open signal so
// queued and held rooms are (re)joined whenever the connection comes up.
func NewRoomManager(session *Session, logger *log.Logger) *RoomManager {
	if logger == nil {
		logger = log.Default()
	}
	m := &RoomManager{
		session: session,
		logger:  logger,
		rooms:   make(map[string]*roomState),
	}
	m.unsubOpen = session.OnOpen(m.flush)
	return m
}

// JoinRoom adds one subscriber to the room. The wire join is sent on the
// first subscriber; while the session is down the intent is queued and
// flushed on open.
func (m *RoomManager) JoinRoom(requestID string) {
	m.mu.Lock()
	st := m.rooms[requestID]
	if st == nil {
		st = &roomState{}
		m.rooms[requestID] = st
	}
	st.refs++
	send := st.refs == 1 && !st.joined
	m.mu.Unlock()

	if !send {
		return
	}
	if err := m.session.Emit(models.EventJoinChat, models.JoinChatPayload{RequestID: requestID}); err != nil {
		// Stays queued; flush retries on the next open.
		return
	}
	m.mu.Lock()
	if st := m.rooms[requestID]; st != nil {
		st.joined = true
	}
	m.mu.Unlock()
}

// LeaveRoom drops one subscriber. The wire leave fires only when the last
// subscriber goes; leaving a room never joined is a no-op.
func (m *RoomManager) LeaveRoom(requestID string) {
	m.mu.Lock()
	st := m.rooms[requestID]
	if st == nil || st.refs == 0 {
		m.mu.Unlock()
		return
	}
	st.refs--
	if st.refs > 0 {
		m.mu.Unlock()
		return
	}
	wasJoined := st.joined
	delete(m.rooms, requestID)
	m.mu.Unlock()

	if !wasJoined {
		return
	}
	if err := m.session.Emit(models.EventLeaveChat, models.JoinChatPayload{RequestID: requestID}); err != nil {
		m.logger.Printf("realtime: leave %s not sent: %v", requestID, err)
	}
}

// Joined reports whether the room currently has at least one subscriber.
func (m *RoomManager) Joined(requestID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.rooms[requestID]
	return st != nil && st.refs > 0
}

// flush (re)sends join for every held room. Runs on each session open, so a
// reconnect restores room membership the server side lost with the old
// socket. Join delivery is at-least-once; the server treats repeats as
// no-ops.
func (m *RoomManager) flush() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.rooms))
	for id, st := range m.rooms {
		if st.refs > 0 {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.session.Emit(models.EventJoinChat, models.JoinChatPayload{RequestID: id}); err != nil {
			m.logger.Printf("realtime: rejoin %s failed: %v", id, err)
			continue
		}
		m.mu.Lock()
		if st := m.rooms[id]; st != nil {
			st.joined = true
		}
		m.mu.Unlock()
	}
}

// Close releases the session hook. Held rooms are abandoned; the server
// cleans its side up when the socket dies.
func (m *RoomManager) Close() {
	if m.unsubOpen != nil {
		m.unsubOpen()
	}
}
