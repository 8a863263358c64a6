package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"
)

// vclock is a virtual clock for driving loops deterministically: loops
// block in sleep until the test advances virtual time past their wake-up
// point.
type vclock struct {
	mu      sync.Mutex
	now     time.Duration
	waiters []vwaiter
}

type vwaiter struct {
	at time.Duration
	ch chan struct{}
}

func (c *vclock) sleep(ctx context.Context, d time.Duration) error {
	ch := make(chan struct{})
	c.mu.Lock()
	c.waiters = append(c.waiters, vwaiter{at: c.now + d, ch: ch})
	c.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// advanceTo moves virtual time forward and wakes every sleeper whose
// deadline has passed.
func (c *vclock) advanceTo(t time.Duration) {
	c.mu.Lock()
	if t > c.now {
		c.now = t
	}
	keep := c.waiters[:0]
	var wake []chan struct{}
	for _, w := range c.waiters {
		if w.at <= c.now {
			wake = append(wake, w.ch)
		} else {
			keep = append(keep, w)
		}
	}
	c.waiters = keep
	c.mu.Unlock()
	for _, ch := range wake {
		close(ch)
	}
}

func (c *vclock) sleepers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// waitSleepers blocks until exactly n loops are parked in sleep, i.e. they
// finished their current cycle.
func (c *vclock) waitSleepers(t *testing.T, n int) {
	t.Helper()
	waitFor(t, func() bool { return c.sleepers() == n })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
