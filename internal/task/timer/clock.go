// Package timer is the clock abstraction the scheduler arms one-shot timers on.
//
// Real() delegates to time.AfterFunc. Fake is a manual clock for tests: time
// only moves on Advance/Set, and due callbacks run in (fireAt, arm order).
package timer

import "time"

// Handle cancels a pending one-shot timer.
type Handle interface {
	// Stop prevents the callback from running. It returns false if the
	// callback already started (or the timer was already stopped).
	Stop() bool
}

// Clock provides the current instant and delayed one-shot execution.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Handle
}

type realClock struct{}

// Real returns the wall clock.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Handle {
	return time.AfterFunc(d, f)
}
