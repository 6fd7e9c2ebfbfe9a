package clock

import (
	"sync"
	"time"
)

// Timer runs a fixed function after a quiet window. Every Reset cancels the
// pending run and starts a new window: the last trigger wins.
type Timer struct {
	clock  Clock
	window time.Duration
	fn     func()

	mu   sync.Mutex
	gen  uint64
	stop func() bool
}

// NewTimer returns an idle Timer. Nothing is scheduled until Reset.
func NewTimer(c Clock, window time.Duration, fn func()) *Timer {
	if c == nil {
		c = Real{}
	}
	return &Timer{clock: c, window: window, fn: fn}
}

// Reset (re)starts the window.
func (t *Timer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop != nil {
		t.stop()
	}
	t.gen++
	gen := t.gen
	t.stop = t.clock.AfterFunc(t.window, func() { t.fire(gen) })
}

// Stop cancels a pending run. It reports whether one was pending.
func (t *Timer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gen++
	if t.stop == nil {
		return false
	}
	stopped := t.stop()
	t.stop = nil
	return stopped
}

// Pending reports whether a run is scheduled.
func (t *Timer) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stop != nil
}

// fire drops runs superseded by a later Reset or Stop whose cancellation
// raced with the clock.
func (t *Timer) fire(gen uint64) {
	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return
	}
	t.stop = nil
	t.mu.Unlock()
	t.fn()
}
