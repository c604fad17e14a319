// Package clock abstracts time for components that schedule work against
// session expiry and heartbeat intervals, so tests can drive them
// deterministically.
package clock

import "time"

// Clock provides the current time and timer channels.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// System returns a Clock backed by the real time package.
func System() Clock { return systemClock{} }
