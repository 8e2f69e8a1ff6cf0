// Package clock abstracts wall-clock time so queue timestamps, backoff
// gates and conflict detection can be driven deterministically in tests.
package clock

import "time"

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// System is the real wall clock. Times are UTC and truncated to
// milliseconds, the resolution the store persists.
type System struct{}

// Now returns the current UTC time at millisecond resolution.
func (System) Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// Func adapts a plain function to the Clock interface.
type Func func() time.Time

// Now calls f.
func (f Func) Now() time.Time {
	return f()
}
