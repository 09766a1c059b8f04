package realtime

import "time"

// Clock abstracts wall time and timer creation so debounce and backoff are
// testable without real waits.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is a cancelable pending callback. Stop reports whether the callback
// was prevented from running.
type Timer interface {
	Stop() bool
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// SystemClock returns the real-time clock.
func SystemClock() Clock { return systemClock{} }
