package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lers-io/lers-ce/internal/models"
)

func typingFrames(conn *fakeConn) []models.TypingPayload {
	var out []models.TypingPayload
	for _, env := range conn.sentEnvelopes() {
		if env.Event != models.EventTyping {
			continue
		}
		var p models.TypingPayload
		if err := env.DecodePayload(&p); err == nil {
			out = append(out, p)
		}
	}
	return out
}

func TestTypingAutoExpiry(t *testing.T) {
	s, _, conn, clock := openSession()
	defer s.Disconnect()
	tc := NewTypingCoordinator(s, WithTypingClock(clock))
	defer tc.Close()

	tc.NotifyTyping("req-1", true)

	frames := typingFrames(conn)
	require.Len(t, frames, 1)
	assert.True(t, frames[0].IsTyping)

	clock.Advance(DefaultTypingDebounce)

	frames = typingFrames(conn)
	require.Len(t, frames, 2)
	assert.False(t, frames[1].IsTyping)

	// Nothing further fires no matter how long we wait.
	clock.Advance(time.Minute)
	assert.Len(t, typingFrames(conn), 2)
}

func TestTypingRefreshResetsTimer(t *testing.T) {
	s, _, conn, clock := openSession()
	defer s.Disconnect()
	tc := NewTypingCoordinator(s, WithTypingClock(clock))
	defer tc.Close()

	tc.NotifyTyping("req-1", true)
	clock.Advance(2 * time.Second)
	tc.NotifyTyping("req-1", true)
	clock.Advance(2 * time.Second)

	// 4s elapsed but each true reset the 3s window: no auto-false yet.
	frames := typingFrames(conn)
	require.Len(t, frames, 2)
	assert.True(t, frames[0].IsTyping)
	assert.True(t, frames[1].IsTyping)

	clock.Advance(time.Second)
	frames = typingFrames(conn)
	require.Len(t, frames, 3)
	assert.False(t, frames[2].IsTyping)
}

func TestExplicitFalseSuppressesExpiry(t *testing.T) {
	s, _, conn, clock := openSession()
	defer s.Disconnect()
	tc := NewTypingCoordinator(s, WithTypingClock(clock))
	defer tc.Close()

	tc.NotifyTyping("req-1", true)
	tc.NotifyTyping("req-1", false)

	frames := typingFrames(conn)
	require.Len(t, frames, 2)
	assert.False(t, frames[1].IsTyping)

	// The cancelled timer must not add a duplicate false.
	clock.Advance(time.Minute)
	assert.Len(t, typingFrames(conn), 2)
}

func TestRemoteTypingAggregation(t *testing.T) {
	s, _, conn, clock := openSession()
	defer s.Disconnect()
	tc := NewTypingCoordinator(s, WithTypingClock(clock))
	defer tc.Close()

	events := make(chan models.UserTypingPayload, 8)
	tc.OnRemoteTyping(func(p models.UserTypingPayload) { events <- p })

	conn.deliver(models.EventUserTyping, models.UserTypingPayload{RequestID: "req-1", UserID: "u2", UserName: "Vera", IsTyping: true})
	conn.deliver(models.EventUserTyping, models.UserTypingPayload{RequestID: "req-1", UserID: "u3", UserName: "Omar", IsTyping: true})

	<-events
	<-events
	assert.Equal(t, []string{"u2", "u3"}, tc.TypingUsers("req-1"))

	conn.deliver(models.EventUserTyping, models.UserTypingPayload{RequestID: "req-1", UserID: "u2", IsTyping: false})
	<-events
	assert.Equal(t, []string{"u3"}, tc.TypingUsers("req-1"))
}

func TestRemoteTypingSafetyExpiry(t *testing.T) {
	s, _, conn, clock := openSession()
	defer s.Disconnect()
	tc := NewTypingCoordinator(s, WithTypingClock(clock))
	defer tc.Close()

	events := make(chan models.UserTypingPayload, 8)
	tc.OnRemoteTyping(func(p models.UserTypingPayload) { events <- p })

	conn.deliver(models.EventUserTyping, models.UserTypingPayload{RequestID: "req-1", UserID: "u2", UserName: "Vera", IsTyping: true})
	<-events
	require.Equal(t, []string{"u2"}, tc.TypingUsers("req-1"))

	// The sender's false got lost; the receiver-side backstop clears it.
	clock.Advance(remoteExpiryFactor * DefaultTypingDebounce)

	p := <-events
	assert.False(t, p.IsTyping)
	assert.Equal(t, "u2", p.UserID)
	assert.Empty(t, tc.TypingUsers("req-1"))
}

func TestCancelRoomDropsTimers(t *testing.T) {
	s, _, conn, clock := openSession()
	defer s.Disconnect()
	tc := NewTypingCoordinator(s, WithTypingClock(clock))
	defer tc.Close()

	tc.NotifyTyping("req-1", true)
	require.Len(t, typingFrames(conn), 1)

	tc.CancelRoom("req-1")
	clock.Advance(time.Minute)

	// No auto-false after the room was left.
	assert.Len(t, typingFrames(conn), 1)
}
