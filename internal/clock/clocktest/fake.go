// Package clocktest provides a manually advanced clock.Clock.
package clocktest

import (
	"sort"
	"sync"
	"time"

	"ingestd/internal/clock"
)

// Clock is a fake clock. Time only moves when Advance or Set is called;
// callbacks whose deadline is reached are run synchronously, in deadline
// order, on the goroutine calling Advance.
type Clock struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers map[uint64]*timer
	// changed is closed and replaced whenever the timer set changes.
	changed chan struct{}
}

// Compile-time interface check.
var _ clock.Clock = (*Clock)(nil)

type timer struct {
	c   *Clock
	id  uint64
	at  time.Time
	f   func()
	seq uint64
}

// New returns a fake clock starting at start.
func New(start time.Time) *Clock {
	return &Clock{now: start, timers: map[uint64]*timer{}, changed: make(chan struct{})}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) AfterFunc(d time.Duration, f func()) clock.Timer {
	if d < 0 {
		d = 0
	}
	c.mu.Lock()
	c.seq++
	t := &timer{c: c, id: c.seq, at: c.now.Add(d), f: f, seq: c.seq}
	c.timers[t.id] = t
	c.notifyLocked()
	c.mu.Unlock()
	return t
}

func (t *timer) Stop() bool {
	c := t.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.timers[t.id]; !ok {
		return false
	}
	delete(c.timers, t.id)
	c.notifyLocked()
	return true
}

func (c *Clock) notifyLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}

// Advance moves time forward by d, firing every timer that comes due.
// Timers armed by fired callbacks are honored if they fall inside the window.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	end := c.now.Add(d)
	c.mu.Unlock()
	c.runUntil(end)
}

// Set moves time to t (never backwards).
func (c *Clock) Set(t time.Time) {
	c.runUntil(t)
}

func (c *Clock) runUntil(end time.Time) {
	for {
		c.mu.Lock()
		next := c.nextDueLocked(end)
		if next == nil {
			if end.After(c.now) {
				c.now = end
			}
			c.mu.Unlock()
			return
		}
		delete(c.timers, next.id)
		if next.at.After(c.now) {
			c.now = next.at
		}
		c.notifyLocked()
		c.mu.Unlock()
		next.f()
	}
}

func (c *Clock) nextDueLocked(end time.Time) *timer {
	var best *timer
	for _, t := range c.timers {
		if t.at.After(end) {
			continue
		}
		if best == nil || t.at.Before(best.at) || (t.at.Equal(best.at) && t.seq < best.seq) {
			best = t
		}
	}
	return best
}

// Pending returns the deadlines of armed timers in ascending order.
func (c *Clock) Pending() []time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Time, 0, len(c.timers))
	for _, t := range c.timers {
		out = append(out, t.at)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// WaitForTimers blocks until at least n timers are armed or timeout elapses
// (in real time). It reports whether the condition was met.
func (c *Clock) WaitForTimers(n int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		c.mu.Lock()
		count := len(c.timers)
		ch := c.changed
		c.mu.Unlock()
		if count >= n {
			return true
		}
		select {
		case <-ch:
		case <-deadline.C:
			return false
		}
	}
}
