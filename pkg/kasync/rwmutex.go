package kasync

import (
	"container/list"
	"sync/atomic"

	"github.com/mizu-os/mizu/pkg/exec"
)

// RWMutex.state packs the lock state into one word: rwWriteLocked (-1)
// means write-locked, 0 means unlocked, a positive count is the number
// of active readers.
const rwWriteLocked = -1

// RWMutex is an async reader/writer lock over a T.
type RWMutex[T any] struct {
	state atomic.Int64 // rwWriteLocked, 0, or reader count
	data  T
	wl    waiterList
}

// NewRWMutex creates an unlocked RWMutex wrapping data.
func NewRWMutex[T any](data T) *RWMutex[T] {
	return &RWMutex[T]{data: data}
}

// ReadGuard is a held read lock.
type ReadGuard[T any] struct {
	m *RWMutex[T]
}

// Get returns the protected value for reading.
func (g ReadGuard[T]) Get() *T { return &g.m.data }

// Unlock releases the read lock.
func (g ReadGuard[T]) Unlock() {
	if g.m.state.Add(-1) == 0 {
		g.m.wl.wakeOne()
	}
}

// WriteGuard is a held write lock.
type WriteGuard[T any] struct {
	m *RWMutex[T]
}

// Get returns the protected value for writing.
func (g WriteGuard[T]) Get() *T { return &g.m.data }

// Unlock releases the write lock.
func (g WriteGuard[T]) Unlock() {
	g.m.state.Store(0)
	g.m.wl.wakeAll()
}

func (m *RWMutex[T]) tryRead() bool {
	for {
		cur := m.state.Load()
		if cur == rwWriteLocked {
			return false
		}
		if m.state.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

func (m *RWMutex[T]) tryWrite() bool {
	return m.state.CompareAndSwap(0, rwWriteLocked)
}

// RLock returns a Future resolving to a ReadGuard.
func (m *RWMutex[T]) RLock() *RLockFuture[T] { return &RLockFuture[T]{m: m} }

// Lock returns a Future resolving to a WriteGuard.
func (m *RWMutex[T]) Lock() *WLockFuture[T] { return &WLockFuture[T]{m: m} }

// RLockFuture implements exec.Future for RWMutex.RLock.
type RLockFuture[T any] struct {
	m       *RWMutex[T]
	waiting *list.Element
	result  ReadGuard[T]
}

func (f *RLockFuture[T]) Poll(cx *exec.Cx) exec.State {
	if f.m.tryRead() {
		if f.waiting != nil {
			f.m.wl.remove(f.waiting)
			f.waiting = nil
		}
		f.result = ReadGuard[T]{m: f.m}
		return exec.Done
	}
	// Always re-register on a failed attempt: a prior registration may
	// already have been consumed by an Unlock that lost the immediate
	// re-acquire race to a third contender, leaving no waker parked
	// anywhere for this task if the push here were skipped.
	f.waiting = f.m.wl.push(cx.Waker())
	return exec.Pending
}

// Result returns the acquired read guard once Poll has returned exec.Done.
func (f *RLockFuture[T]) Result() ReadGuard[T] { return f.result }

// WLockFuture implements exec.Future for RWMutex.Lock.
type WLockFuture[T any] struct {
	m       *RWMutex[T]
	waiting *list.Element
	result  WriteGuard[T]
}

func (f *WLockFuture[T]) Poll(cx *exec.Cx) exec.State {
	if f.m.tryWrite() {
		if f.waiting != nil {
			f.m.wl.remove(f.waiting)
			f.waiting = nil
		}
		f.result = WriteGuard[T]{m: f.m}
		return exec.Done
	}
	// Always re-register on a failed attempt: a prior registration may
	// already have been consumed by an Unlock that lost the immediate
	// re-acquire race to a third contender, leaving no waker parked
	// anywhere for this task if the push here were skipped.
	f.waiting = f.m.wl.push(cx.Waker())
	return exec.Pending
}

// Result returns the acquired write guard once Poll has returned exec.Done.
func (f *WLockFuture[T]) Result() WriteGuard[T] { return f.result }
