package hartlocal

import (
	"runtime"
	"sync/atomic"
)

// SpinLock is the kernel's baseline mutual-exclusion primitive: every
// spin-lock reachable from a kernel trap handler must be one of these,
// never a sync.Mutex, because blocking the hart inside a trap handler
// (as sync.Mutex can, via the Go scheduler parking the goroutine) would
// stall the re-entrant trap path the spec requires to stay synchronous.
//
// Acquiring a SpinLock does not itself enter a critical section; callers
// that need the deadlock-via-recursive-interrupt-entry guarantee from §5
// must wrap the acquisition with Enter/Release themselves, exactly as the
// spec describes ("required around any spin-lock acquisition reachable
// from a kernel-trap handler").
type SpinLock struct {
	state atomic.Bool
}

// Lock spins until the lock is acquired.
func (s *SpinLock) Lock() {
	for !s.state.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
}

// TryLock attempts to acquire the lock without spinning.
func (s *SpinLock) TryLock() bool {
	return s.state.CompareAndSwap(false, true)
}

// Unlock releases the lock.
func (s *SpinLock) Unlock() {
	s.state.Store(false)
}
