// Package system provides the wall clock used outside tests.
package system

import "time"

// Precision is the resolution of timestamps handed to stores. It matches
// Postgres timestamptz so values read back compare equal to what was written.
const Precision = time.Microsecond

// Clock implements crawler.Clock.
type Clock struct{}

// New creates a Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time truncated to Precision.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(Precision)
}
