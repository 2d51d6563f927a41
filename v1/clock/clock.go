package clock

import "time"

// Timer is a handle to a scheduled callback.
type Timer interface {
	// Cancel prevents the callback from running. It reports whether the
	// call stopped the timer; false means it already fired or was canceled.
	Cancel() bool
}

// Clock tells time and schedules callbacks.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Real is a Clock backed by the runtime timers.
type Real struct{}

// New returns the wall clock.
func New() Clock { return Real{} }

// Now implements Clock.Now.
func (Real) Now() time.Time { return time.Now() }

// AfterFunc implements Clock.AfterFunc.
func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return realTimer{t: time.AfterFunc(d, f)}
}

type realTimer struct {
	t *time.Timer
}

func (r realTimer) Cancel() bool { return r.t.Stop() }
