package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lers-io/lers-ce/internal/models"
)

func TestJoinRoomSendsWireJoinOnce(t *testing.T) {
	s, _, conn, _ := openSession()
	defer s.Disconnect()
	m := NewRoomManager(s, nil)
	defer m.Close()

	m.JoinRoom("req-1")
	m.JoinRoom("req-1")
	m.JoinRoom("req-1")

	assert.Equal(t, 1, conn.countSent(models.EventJoinChat))
	assert.True(t, m.Joined("req-1"))
}

func TestLeaveRoomReferenceCounted(t *testing.T) {
	s, _, conn, _ := openSession()
	defer s.Disconnect()
	m := NewRoomManager(s, nil)
	defer m.Close()

	m.JoinRoom("req-1")
	m.JoinRoom("req-1")

	m.LeaveRoom("req-1")
	assert.Equal(t, 0, conn.countSent(models.EventLeaveChat), "first leave must not hit the wire")
	assert.True(t, m.Joined("req-1"))

	m.LeaveRoom("req-1")
	assert.Equal(t, 1, conn.countSent(models.EventLeaveChat))
	assert.False(t, m.Joined("req-1"))
}

func TestLeaveRoomNeverJoinedIsNoop(t *testing.T) {
	s, _, conn, _ := openSession()
	defer s.Disconnect()
	m := NewRoomManager(s, nil)
	defer m.Close()

	m.LeaveRoom("req-404")
	assert.Equal(t, 0, conn.countSent(models.EventLeaveChat))
}

func TestJoinQueuedWhileDisconnected(t *testing.T) {
	clock := newFakeClock()
	dialer := &fakeDialer{}
	s := NewSession(dialer, "token-1", WithClock(clock))
	m := NewRoomManager(s, nil)
	defer m.Close()

	// Session not yet connected: intent queues.
	m.JoinRoom("req-1")
	assert.True(t, m.Joined("req-1"))

	require.NoError(t, s.Connect(context.Background()))
	defer s.Disconnect()

	conn := dialer.lastConn()
	require.Eventually(t, func() bool {
		return conn.countSent(models.EventJoinChat) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRoomsRejoinedAfterReconnect(t *testing.T) {
	s, dialer, conn, clock := openSession()
	defer s.Disconnect()
	m := NewRoomManager(s, nil)
	defer m.Close()

	m.JoinRoom("req-1")
	m.JoinRoom("req-2")
	require.Equal(t, 2, conn.countSent(models.EventJoinChat))

	conn.Close()
	require.Eventually(t, func() bool { return clock.pending() > 0 }, 2*time.Second, 5*time.Millisecond)
	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return s.State() == StateOpen }, 2*time.Second, 5*time.Millisecond)

	fresh := dialer.lastConn()
	require.NotSame(t, conn, fresh)
	require.Eventually(t, func() bool {
		return fresh.countSent(models.EventJoinChat) == 2
	}, 2*time.Second, 5*time.Millisecond)
}
