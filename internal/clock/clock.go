// Package clock abstracts wall time and delayed callbacks so schedulers can be
// driven deterministically in tests.
package clock

import "time"

// Clock supplies the current time and arms delayed callbacks.
type Clock interface {
	Now() time.Time
	// AfterFunc calls f once d has elapsed. Callers must not assume which
	// goroutine runs f, and f must not block.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable pending callback.
type Timer interface {
	// Stop prevents the callback from firing. It reports false if the
	// callback already fired or the timer was already stopped.
	Stop() bool
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	if d < 0 {
		d = 0
	}
	return time.AfterFunc(d, f)
}
