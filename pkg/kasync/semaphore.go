package kasync

import (
	"container/list"
	"sync/atomic"

	"github.com/mizu-os/mizu/pkg/exec"
)

// Semaphore is a counting async semaphore: Acquire parks the task until
// a permit is available, Release returns one and wakes the oldest
// waiter.
type Semaphore struct {
	permits atomic.Int64
	wl      waiterList
}

// NewSemaphore creates a Semaphore initialized with n permits.
func NewSemaphore(n int64) *Semaphore {
	s := &Semaphore{}
	s.permits.Store(n)
	return s
}

// TryAcquire attempts to take one permit without blocking.
func (s *Semaphore) TryAcquire() bool {
	for {
		cur := s.permits.Load()
		if cur <= 0 {
			return false
		}
		if s.permits.CompareAndSwap(cur, cur-1) {
			return true
		}
	}
}

// Release returns one permit, waking the oldest waiter if any.
func (s *Semaphore) Release() {
	s.permits.Add(1)
	s.wl.wakeOne()
}

// Acquire returns a Future resolving once a permit has been taken.
func (s *Semaphore) Acquire() *AcquireFuture { return &AcquireFuture{s: s} }

// AcquireFuture implements exec.Future for Semaphore.Acquire.
type AcquireFuture struct {
	s       *Semaphore
	waiting *list.Element
}

func (f *AcquireFuture) Poll(cx *exec.Cx) exec.State {
	if f.s.TryAcquire() {
		if f.waiting != nil {
			f.s.wl.remove(f.waiting)
			f.waiting = nil
		}
		return exec.Done
	}
	// Always re-register on a failed attempt: a prior registration may
	// already have been consumed by a Release that lost the immediate
	// re-acquire race to a third contender, leaving no waker parked
	// anywhere for this task if the push here were skipped.
	f.waiting = f.s.wl.push(cx.Waker())
	return exec.Pending
}
