package ledmesh

import (
	"sync"
	"time"
)

// Clock is a monotonic clock. Values are durations since an arbitrary
// origin.
type Clock interface {
	Now() time.Duration
}

type MonotonicClock struct {
	start time.Time
}

func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{start: time.Now()}
}

func (c *MonotonicClock) Now() time.Duration {
	return time.Since(c.start)
}

// ManualClock only moves when told to; it is used to drive nodes in tests
// and simulations.
type ManualClock struct {
	now time.Duration
	mu  sync.Mutex
}

func (c *ManualClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *ManualClock) Set(now time.Duration) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

func (c *ManualClock) Advance(d time.Duration) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now += d
	return c.now
}
