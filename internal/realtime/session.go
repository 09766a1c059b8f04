// Package realtime is the client-side session core: it owns the gateway
// connection and fans inbound events out to the room, typing, presence,
// notification and message coordinators. Durable writes go through the REST
// collaborators; the session only carries live announcements.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/lers-io/lers-ce/internal/models"
)

// State is the session connection state.
type State string

const (
	StateConnecting   State = "CONNECTING"
	StateOpen         State = "OPEN"
	StateReconnecting State = "RECONNECTING"
	StateClosed       State = "CLOSED"
)

// Session owns the single transport connection for one authenticated user.
// The credential is fixed at construction; re-authenticating means building
// a new Session, not mutating this one.
type Session struct {
	dialer     Dialer
	credential string
	clock      Clock
	logger     *log.Logger
	metrics    *coreMetrics

	backoffInitial time.Duration
	backoffMax     time.Duration
	maxAttempts    int
	ackWindow      time.Duration

	mu         sync.Mutex
	state      State
	conn       Conn
	lastErr    error
	gen        int
	retryTimer Timer
	lastAck    time.Time

	events     map[string]*registry[json.RawMessage]
	eventsMu   sync.Mutex
	opened     registry[struct{}]
	connected  registry[struct{}]
	dropped    registry[error]
}

// SessionOption configures the session.
type SessionOption func(*Session)

// WithClock sets a custom time source.
func WithClock(c Clock) SessionOption {
	return func(s *Session) { s.clock = c }
}

// WithLogger sets a custom logger.
func WithLogger(l *log.Logger) SessionOption {
	return func(s *Session) { s.logger = l }
}

// WithBackoff sets the reconnect schedule: initial delay, delay cap and
// attempt cap.
func WithBackoff(initial, max time.Duration, attempts int) SessionOption {
	return func(s *Session) {
		s.backoffInitial = initial
		s.backoffMax = max
		s.maxAttempts = attempts
	}
}

// WithAckWindow sets the window inside which repeated connect
// acknowledgements are coalesced.
func WithAckWindow(d time.Duration) SessionOption {
	return func(s *Session) { s.ackWindow = d }
}

// NewSession creates a session. It starts CLOSED; call Connect.
func NewSession(dialer Dialer, credential string, opts ...SessionOption) *Session {
	s := &Session{
		dialer:         dialer,
		credential:     credential,
		clock:          SystemClock(),
		logger:         log.Default(),
		metrics:        globalCoreMetrics(),
		backoffInitial: time.Second,
		backoffMax:     30 * time.Second,
		maxAttempts:    5,
		ackWindow:      5 * time.Second,
		state:          StateClosed,
		events:         make(map[string]*registry[json.RawMessage]),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect establishes the transport. An auth rejection is terminal: the
// session stays CLOSED and the error is returned. Transient dial failures
// also return, leaving manual retry to the caller; automatic backoff only
// covers drops of a previously established connection.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateConnecting || s.state == StateOpen {
		s.mu.Unlock()
		return nil
	}
	s.state = StateConnecting
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	conn, err := s.dialer.Dial(ctx, s.credential)
	if err != nil {
		s.mu.Lock()
		s.state = StateClosed
		s.lastErr = err
		s.mu.Unlock()
		if errors.Is(err, ErrAuthRejected) {
			s.dropped.emit(err)
		}
		return err
	}

	s.adopt(conn, gen)
	return nil
}

// adopt installs a fresh connection, starts its read loop and fires the open
// and (coalesced) connected signals.
func (s *Session) adopt(conn Conn, gen int) {
	s.mu.Lock()
	if gen != s.gen {
		// A deliberate disconnect or a newer connect won the race.
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.conn = conn
	s.state = StateOpen
	s.lastErr = nil
	ack := s.clock.Now().Sub(s.lastAck) >= s.ackWindow
	if ack {
		s.lastAck = s.clock.Now()
	}
	s.mu.Unlock()

	go s.readLoop(conn, gen)

	s.opened.emit(struct{}{})
	if ack {
		s.connected.emit(struct{}{})
	}
}

// Disconnect tears the session down deliberately: no reconnect follows and
// any pending backoff attempt is cancelled.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.gen++
	s.state = StateClosed
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

func (s *Session) readLoop(conn Conn, gen int) {
	for {
		env, err := conn.ReadEnvelope()
		if err != nil {
			s.handleDrop(gen, err)
			return
		}
		s.dispatch(env)
	}
}

func (s *Session) dispatch(env models.Envelope) {
	s.eventsMu.Lock()
	reg := s.events[env.Event]
	s.eventsMu.Unlock()
	if reg != nil {
		reg.emit(env.Payload)
	}
}

// handleDrop runs when an established connection dies underneath us. A
// deliberate Disconnect bumps the generation first, which makes this a
// no-op.
func (s *Session) handleDrop(gen int, cause error) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.state = StateReconnecting
	s.lastErr = cause
	s.conn = nil
	s.mu.Unlock()

	s.logger.Printf("realtime: connection dropped: %v", cause)
	s.scheduleReconnect(gen, 1)
}

func (s *Session) scheduleReconnect(gen, attempt int) {
	if attempt > s.maxAttempts {
		s.mu.Lock()
		terminal := gen == s.gen
		if terminal {
			s.state = StateClosed
		}
		err := s.lastErr
		s.mu.Unlock()
		if terminal {
			s.logger.Printf("realtime: reconnect attempts exhausted")
			s.dropped.emit(err)
		}
		return
	}

	delay := s.backoffDelay(attempt)
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.retryTimer = s.clock.AfterFunc(delay, func() {
		s.attemptReconnect(gen, attempt)
	})
	s.mu.Unlock()
}

func (s *Session) attemptReconnect(gen, attempt int) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.retryTimer = nil
	s.mu.Unlock()

	s.metrics.recordReconnect()
	conn, err := s.dialer.Dial(context.Background(), s.credential)
	if err != nil {
		if errors.Is(err, ErrAuthRejected) {
			s.mu.Lock()
			if gen == s.gen {
				s.state = StateClosed
				s.lastErr = err
			}
			s.mu.Unlock()
			s.dropped.emit(err)
			return
		}
		s.mu.Lock()
		if gen == s.gen {
			s.lastErr = err
		}
		s.mu.Unlock()
		s.logger.Printf("realtime: reconnect attempt %d failed: %v", attempt, err)
		s.scheduleReconnect(gen, attempt+1)
		return
	}

	s.adopt(conn, gen)
}

func (s *Session) backoffDelay(attempt int) time.Duration {
	delay := s.backoffInitial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= s.backoffMax {
			return s.backoffMax
		}
	}
	if delay > s.backoffMax {
		delay = s.backoffMax
	}
	return delay
}

// Emit sends an event over the transport. Fails with ErrNotConnected while
// the session is not OPEN; callers queue or fall back to REST as suits them.
func (s *Session) Emit(event string, payload any) error {
	s.mu.Lock()
	conn := s.conn
	open := s.state == StateOpen
	s.mu.Unlock()
	if !open || conn == nil {
		return ErrNotConnected
	}

	env, err := models.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	return conn.WriteEnvelope(env)
}

// Subscribe registers a handler for one inbound event name. The returned
// disposer is idempotent.
func (s *Session) Subscribe(event string, fn func(json.RawMessage)) func() {
	s.eventsMu.Lock()
	reg := s.events[event]
	if reg == nil {
		reg = &registry[json.RawMessage]{}
		s.events[event] = reg
	}
	s.eventsMu.Unlock()
	return reg.subscribe(fn)
}

// OnOpen fires on every transition to OPEN, including each successful
// reconnect. Coordinators use it to replay joins and refresh state.
func (s *Session) OnOpen(fn func()) func() {
	return s.opened.subscribe(func(struct{}) { fn() })
}

// OnConnected is the user-facing acknowledgement: repeats inside the ack
// window (reconnect storms) are coalesced into one firing.
func (s *Session) OnConnected(fn func()) func() {
	return s.connected.subscribe(func(struct{}) { fn() })
}

// OnDisconnected fires when the session gives up: auth rejection or an
// exhausted reconnect schedule. Manual reconnect is required afterwards.
func (s *Session) OnDisconnected(fn func(error)) func() {
	return s.dropped.subscribe(fn)
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connected reports whether the transport is OPEN.
func (s *Session) Connected() bool {
	return s.State() == StateOpen
}

// LastError returns the most recent transport error, or nil.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}
