package clock

import "time"

// Clock provides time-related functions that can be mocked for testing
type Clock interface {
	Now() time.Time
	// NewTimer returns an unstarted timer
	NewTimer() Timer
}

// Timer is the subset of time.Timer the retry loop and queue poller rely on.
// It matches the timer contract of github.com/cenkalti/backoff/v4.
type Timer interface {
	Start(d time.Duration)
	Stop()
	C() <-chan time.Time
}

// RealClock implements Clock using actual system time
type RealClock struct{}

// Now returns the current system time
func (RealClock) Now() time.Time {
	return time.Now()
}

// NewTimer returns an unstarted wall-clock timer
func (RealClock) NewTimer() Timer {
	return &realTimer{}
}

type realTimer struct {
	timer *time.Timer
}

func (t *realTimer) Start(d time.Duration) {
	if t.timer == nil {
		t.timer = time.NewTimer(d)
		return
	}
	t.timer.Reset(d)
}

func (t *realTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *realTimer) C() <-chan time.Time {
	return t.timer.C
}
