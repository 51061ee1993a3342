package util

import (
	"sync"
	"time"
)

// Clock drives block production. Tests swap in a ManualClock.
type Clock interface {
	After(d time.Duration) <-chan time.Time
	Now() time.Time
}

type RealClock struct{}

func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (RealClock) Now() time.Time                         { return time.Now() }

// ManualClock only moves when told to. After ignores the duration and
// returns a channel that fires on Tick.
type ManualClock struct {
	mu   sync.Mutex
	now  time.Time
	tick chan time.Time
}

func NewManualClock(now time.Time) *ManualClock {
	return &ManualClock{now: now, tick: make(chan time.Time)}
}

func (c *ManualClock) After(time.Duration) <-chan time.Time { return c.tick }

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t, backwards included.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Tick releases one pending After. It blocks until a receiver is waiting.
func (c *ManualClock) Tick() {
	c.tick <- c.Now()
}
