// Package clock abstracts the current time so that code minting
// time-derived identifiers or backup names can be tested deterministically.
package clock

import "time"

// Clock returns the current time. Production code injects Real();
// tests inject Fake().
type Clock interface {
	Now() time.Time
}

// Real returns a Clock backed by the system time.
func Real() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }
