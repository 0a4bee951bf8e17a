package security

import (
	"time"

	"github.com/arklim/identity-link-service/internal/core/port"
)

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

// Now implements port.Clock.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// ClockFunc adapts a function to port.Clock.
type ClockFunc func() time.Time

// Now implements port.Clock.
func (f ClockFunc) Now() time.Time {
	return f()
}

// FixedClock returns a clock frozen at t.
func FixedClock(t time.Time) ClockFunc {
	return func() time.Time { return t }
}

var (
	_ port.Clock = SystemClock{}
	_ port.Clock = ClockFunc(nil)
)
