// Package ktime provides the kernel's monotonic clock, a deadline-ordered
// timer wheel, and the deadline future the executor's re-entrant timer
// trap drives forward.
//
// Grounded on gvisor's pkg/sentry/kernel/time Timer/Listener pattern: a
// Timer has listeners that are notified when it fires, and the clock
// itself is an interface so host tests can inject a fake one. The
// original's ktime-core crate fixes the monotonic epoch at boot; this
// package does the same by never reading wall-clock time directly,
// only a Clock.Now() that the real target wires to the SBI/CSR cycle
// counter and the host-test build wires to time.Since(clock creation).
package ktime

import (
	"time"
)

// Instant is a monotonic point in time since boot. It is never
// wall-clock and never comparable across reboots.
type Instant struct {
	d time.Duration
}

// Add returns the Instant d further in the future (or past, if d < 0).
func (i Instant) Add(d time.Duration) Instant { return Instant{i.d + d} }

// Sub returns the duration between two instants (i - other).
func (i Instant) Sub(other Instant) time.Duration { return i.d - other.d }

// Before reports whether i happens before other.
func (i Instant) Before(other Instant) bool { return i.d < other.d }

// After reports whether i happens after other.
func (i Instant) After(other Instant) bool { return i.d > other.d }

// Clock produces monotonic Instants.
type Clock interface {
	Now() Instant
}

// SystemClock is the host-test Clock, anchored to the time it was
// created by NewSystemClock (standing in for "the kernel" booting).
type SystemClock struct {
	boot time.Time
}

// NewSystemClock returns a Clock anchored to the current wall-clock time,
// standing in for "boot".
func NewSystemClock() *SystemClock {
	return &SystemClock{boot: time.Now()}
}

// Now implements Clock.
func (c *SystemClock) Now() Instant {
	return Instant{d: time.Since(c.boot)}
}
