package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lers-io/lers-ce/internal/models"
)

// fakeClock is a manually advanced clock. Advance fires due timers on the
// calling goroutine.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	when    time.Time
	fn      func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, when: c.now.Add(d), fn: fn}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.when.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.fn()
	}
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			count++
		}
	}
	return count
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// fakeConn is an in-memory transport connection. Tests feed inbound frames
// with deliver and inspect outbound ones with sentEvents.
type fakeConn struct {
	inbound   chan models.Envelope
	closed    chan struct{}
	closeOnce sync.Once

	mu   sync.Mutex
	sent []models.Envelope
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan models.Envelope, 16),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadEnvelope() (models.Envelope, error) {
	select {
	case env := <-c.inbound:
		return env, nil
	case <-c.closed:
		return models.Envelope{}, errors.New("connection closed")
	}
}

func (c *fakeConn) WriteEnvelope(env models.Envelope) error {
	select {
	case <-c.closed:
		return errors.New("connection closed")
	default:
	}
	c.mu.Lock()
	c.sent = append(c.sent, env)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) deliver(event string, payload any) {
	env, err := models.NewEnvelope(event, payload)
	if err != nil {
		panic(err)
	}
	c.inbound <- env
}

func (c *fakeConn) sentEnvelopes() []models.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Envelope, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *fakeConn) countSent(event string) int {
	count := 0
	for _, env := range c.sentEnvelopes() {
		if env.Event == event {
			count++
		}
	}
	return count
}

// fakeDialer scripts dial outcomes. With an empty script every dial yields
// a fresh fakeConn.
type fakeDialer struct {
	mu     sync.Mutex
	script []func() (Conn, error)
	dials  int
	conns  []*fakeConn
}

func (d *fakeDialer) Dial(_ context.Context, _ string) (Conn, error) {
	d.mu.Lock()
	idx := d.dials
	d.dials++
	var step func() (Conn, error)
	if len(d.script) > 0 {
		if idx >= len(d.script) {
			idx = len(d.script) - 1
		}
		step = d.script[idx]
	}
	d.mu.Unlock()

	if step != nil {
		conn, err := step()
		if fc, ok := conn.(*fakeConn); ok && fc != nil {
			d.mu.Lock()
			d.conns = append(d.conns, fc)
			d.mu.Unlock()
		}
		return conn, err
	}

	conn := newFakeConn()
	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) lastConn() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func dialFail() func() (Conn, error) {
	return func() (Conn, error) { return nil, errors.New("dial refused") }
}

func dialConn(c *fakeConn) func() (Conn, error) {
	return func() (Conn, error) { return c, nil }
}

// openSession connects a session over a fresh fakeConn.
func openSession(opts ...SessionOption) (*Session, *fakeDialer, *fakeConn, *fakeClock) {
	clock := newFakeClock()
	dialer := &fakeDialer{}
	opts = append([]SessionOption{WithClock(clock), WithBackoff(time.Second, 8*time.Second, 3)}, opts...)
	s := NewSession(dialer, "token-1", opts...)
	if err := s.Connect(context.Background()); err != nil {
		panic(err)
	}
	return s, dialer, dialer.lastConn(), clock
}
