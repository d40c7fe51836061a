package clock

import (
	"sync"
	"time"
)

// FakeClock is a manually driven Clock for tests. By default its timers fire
// immediately and record the requested duration, so retry loops run without
// sleeping while their waits stay observable. A clock from NewManualClock
// instead holds timers until Advance reaches their deadline.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
	manual bool
	armed  []*fakeTimer
}

// NewFakeClock returns a FakeClock frozen at t
func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{now: t.UTC()}
}

// NewManualClock returns a FakeClock frozen at t whose timers fire only when
// Advance moves the clock past their deadline
func NewManualClock(t time.Time) *FakeClock {
	return &FakeClock{now: t.UTC(), manual: true}
}

// Now returns the frozen time
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and fires the held timers now due
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)

	pending := c.armed[:0]
	for _, t := range c.armed {
		if t.deadline.After(c.now) {
			pending = append(pending, t)
			continue
		}
		t.fire(c.now)
	}
	c.armed = pending
}

// Waiters returns how many held timers are started and not yet fired
func (c *FakeClock) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.armed)
}

// NewTimer returns a timer that, once started, fires at once and advances
// the clock by the requested duration, or on a manual clock waits for Advance
func (c *FakeClock) NewTimer() Timer {
	return &fakeTimer{clock: c, ch: make(chan time.Time, 1)}
}

// Sleeps returns every duration a timer was started with, in order
func (c *FakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}

type fakeTimer struct {
	clock    *FakeClock
	ch       chan time.Time
	deadline time.Time
}

func (t *fakeTimer) Start(d time.Duration) {
	c := t.clock
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)

	if c.manual {
		c.disarm(t)
		t.deadline = c.now.Add(d)
		if d <= 0 {
			t.fire(c.now)
			return
		}
		c.armed = append(c.armed, t)
		return
	}

	c.now = c.now.Add(d)
	t.fire(c.now)
}

func (t *fakeTimer) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.clock.disarm(t)
}

func (t *fakeTimer) C() <-chan time.Time {
	return t.ch
}

func (t *fakeTimer) fire(now time.Time) {
	select {
	case t.ch <- now:
	default:
	}
}

// disarm drops t from the held timers; callers hold c.mu
func (c *FakeClock) disarm(t *fakeTimer) {
	for i, a := range c.armed {
		if a == t {
			c.armed = append(c.armed[:i], c.armed[i+1:]...)
			return
		}
	}
}
