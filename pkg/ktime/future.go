package ktime

import (
	"sync/atomic"
	"time"

	"github.com/mizu-os/mizu/pkg/exec"
)

// Deadline is an exec.Future that resolves once its wheel passes the
// requested Instant, the "future that resolves at a deadline" of §4
// time.
type Deadline struct {
	wheel *Wheel
	at    Instant
	clock Clock
	armed atomic.Bool
	fired atomic.Bool
	timer *Timer
}

// NewDeadline creates a Future that completes once clock.Now() >= at, to
// be driven forward by wheel.Tick calls from the re-entrant timer trap.
func NewDeadline(wheel *Wheel, clock Clock, at Instant) *Deadline {
	return &Deadline{wheel: wheel, at: at, clock: clock}
}

// Poll implements exec.Future.
func (d *Deadline) Poll(cx *exec.Cx) exec.State {
	if !d.clock.Now().Before(d.at) {
		return exec.Done
	}
	if d.fired.Load() {
		return exec.Done
	}
	if !d.armed.CompareAndSwap(false, true) {
		return exec.Pending
	}
	waker := cx.Waker()
	d.timer = d.wheel.Arm(d.at, notifyFunc(func(uint64) {
		d.fired.Store(true)
		// The timer trap is an interrupt-style wake path: route to a
		// preempt slot for scheduling priority (§4.1). The wheel does not
		// know which hart is ticking it, so this is always hart 0's slot.
		waker.WakeFromInterrupt(0)
	}), 0)
	return exec.Pending
}

// Sleep returns a Future that resolves after d has elapsed, relative to
// clock.Now() at the time Sleep is called.
func Sleep(wheel *Wheel, clock Clock, d time.Duration) *Deadline {
	return NewDeadline(wheel, clock, clock.Now().Add(d))
}

type notifyFunc func(exp uint64)

func (f notifyFunc) NotifyTimer(exp uint64) { f(exp) }
