// Package clock abstracts wall time and one-shot timers so timing-driven
// components can be driven deterministically in tests.
package clock

import "time"

// Timer is a cancellable one-shot timer.
type Timer interface {
	// Stop prevents the timer from firing. Returns false if it already fired
	// or was already stopped.
	Stop() bool
}

// Clock provides the current time and schedules one-shot callbacks.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Real is the Clock backed by package time.
type Real struct{}

// New returns the wall clock.
func New() Clock { return Real{} }

func (Real) Now() time.Time { return time.Now() }

func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
