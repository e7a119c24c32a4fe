// Package system provides the wall clock used outside tests.
package system

import "time"

// Clock implements clone.Clock in UTC.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time without a monotonic reading, so values
// compare with == after they round-trip through JSON or the run store.
func (Clock) Now() time.Time {
	return time.Now().UTC().Round(0)
}
