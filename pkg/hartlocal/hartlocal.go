// Package hartlocal provides the per-hart critical section primitive that
// every spin-lock in this kernel is built on, and hart-local storage for
// the handful of pieces of state the trap architecture requires to live
// outside any lock (the loaded address space, the UA_FAULT resume
// address, the preempt slot).
//
// On the real RISC-V target a critical section clears sstatus.SIE for its
// duration; this package instead models "the current hart" as an integer
// supplied by the caller (pkg/exec assigns one per executor worker), since
// Go has no notion of "the current CPU" and no way to disable interrupts
// from user code. The re-entrancy and hart-local-storage semantics are
// otherwise exactly as specified.
package hartlocal

import "sync/atomic"

// MaxHarts bounds the number of harts this kernel will ever model. It is a
// compile-time constant rather than a slice-growth problem because the
// spec ties per-hart storage to a fixed SoC/virt-machine hart count known
// at boot.
const MaxHarts = 64

var depth [MaxHarts]atomic.Int32

// Guard represents an active critical section; dropping it (calling
// Release) must happen exactly once, symmetric with the acquiring call.
type Guard struct {
	hart int
}

// Enter begins a (possibly nested) critical section on the given hart. On
// the real target this clears sstatus.SIE on first entry and leaves it
// clear for nested entries, restoring it only when the outermost Guard is
// released.
func Enter(hart int) Guard {
	depth[hart].Add(1)
	return Guard{hart: hart}
}

// Release ends the critical section. It is safe to call at most once.
func (g Guard) Release() {
	depth[g.hart].Add(-1)
}

// InCriticalSection reports whether the given hart currently holds a
// critical section, for spin-lock assertions that must never be taken
// from re-entrant trap context recursively without the guard.
func InCriticalSection(hart int) bool {
	return depth[hart].Load() > 0
}

// Local is hart-local storage for a single value of type T, one slot per
// hart, with no synchronization: callers must only access Local[T] from
// code that is pinned to (or already executing on) the hart whose index
// they pass in.
type Local[T any] struct {
	slots [MaxHarts]T
}

// Get returns the value stored for hart.
func (l *Local[T]) Get(hart int) T { return l.slots[hart] }

// Set stores value for hart.
func (l *Local[T]) Set(hart int, value T) { l.slots[hart] = value }
