// Package clock provides the time source and the cancellable timer used to
// debounce re-scans. Fake is a virtual clock for tests: nothing fires until
// Advance moves time past a deadline.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock schedules callbacks.
type Clock interface {
	Now() time.Time
	// AfterFunc runs f once d has elapsed, on a goroutine of the clock's
	// choosing. The returned stop function reports whether it prevented f.
	AfterFunc(d time.Duration, f func()) (stop func() bool)
}

// Real is the wall clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) AfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// Fake is a manually advanced clock. Callbacks run synchronously inside
// Advance, on the caller's goroutine, in deadline order.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	seq     int
	pending []*fakeTimer
}

type fakeTimer struct {
	at  time.Time
	seq int
	f   func()
}

// NewFake returns a Fake starting at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (c *Fake) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Fake) AfterFunc(d time.Duration, f func()) func() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &fakeTimer{at: c.now.Add(d), seq: c.seq, f: f}
	c.pending = append(c.pending, t)
	return func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, p := range c.pending {
			if p == t {
				c.pending = append(c.pending[:i], c.pending[i+1:]...)
				return true
			}
		}
		return false
	}
}

// Advance moves time forward by d, firing every callback whose deadline is
// reached. Callbacks scheduled while advancing fire too if they fall inside
// the window.
func (c *Fake) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		sort.SliceStable(c.pending, func(i, j int) bool {
			if c.pending[i].at.Equal(c.pending[j].at) {
				return c.pending[i].seq < c.pending[j].seq
			}
			return c.pending[i].at.Before(c.pending[j].at)
		})
		if len(c.pending) == 0 || c.pending[0].at.After(target) {
			c.now = target
			c.mu.Unlock()
			return
		}
		next := c.pending[0]
		c.pending = c.pending[1:]
		c.now = next.at
		c.mu.Unlock()

		next.f()
	}
}

// Pending reports how many callbacks are scheduled.
func (c *Fake) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
