// Package system is the wall-clock implementation of watch.Clock.
package system

import "time"

// Clock reads the operating system clock. Timestamps are normalized to
// UTC so stored records compare cleanly regardless of host timezone.
type Clock struct{}

// New returns a Clock.
func New() *Clock {
	return &Clock{}
}

// Now reports the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
