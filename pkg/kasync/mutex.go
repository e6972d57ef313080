// Package kasync provides the async synchronization primitives every
// blocking kernel operation is built on: a mutex and reader/writer lock
// that suspend the polling task instead of spinning, a counting
// semaphore, an exit-style broadcast, and a bounded mpsc channel.
//
// Every primitive here is itself an exec.Future-returning type rather
// than a goroutine-blocking one, since tasks in this kernel are
// Futures, not goroutines (see pkg/exec). Grounded on the teacher's
// async-mutex idiom (_examples/original_source/mizu/lib/ksync/src/mutex.rs,
// itself a port of smol-rs/async-lock) and on gvisor's waiter wake-queue
// (_examples/google-gvisor/pkg/sentry/kernel/task.go's interruptChan / exit broadcast).
package kasync

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/mizu-os/mizu/pkg/exec"
)

// waiterList is a plain mutex-guarded FIFO of parked wakers, the common
// substrate every primitive below queues onto instead of busy-polling.
type waiterList struct {
	mu      sync.Mutex
	waiters list.List // of exec.Waker
}

func (l *waiterList) push(w exec.Waker) *list.Element {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.waiters.PushBack(w)
}

func (l *waiterList) remove(e *list.Element) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.waiters.Remove(e)
}

// wakeOne wakes and removes the oldest parked waiter, if any, returning
// whether one was found.
func (l *waiterList) wakeOne() bool {
	l.mu.Lock()
	e := l.waiters.Front()
	if e == nil {
		l.mu.Unlock()
		return false
	}
	l.waiters.Remove(e)
	l.mu.Unlock()
	e.Value.(exec.Waker).Wake()
	return true
}

// wakeAll wakes and removes every parked waiter.
func (l *waiterList) wakeAll() {
	l.mu.Lock()
	var woken []exec.Waker
	for e := l.waiters.Front(); e != nil; e = e.Next() {
		woken = append(woken, e.Value.(exec.Waker))
	}
	l.waiters.Init()
	l.mu.Unlock()
	for _, w := range woken {
		w.Wake()
	}
}

// Mutex is an async mutual-exclusion lock: Lock returns a Future that
// resolves to a Guard once acquired, parking the caller's task (not a
// goroutine) while the mutex is held by someone else.
type Mutex[T any] struct {
	locked atomic.Bool
	data   T
	wl     waiterList
}

// NewMutex creates an unlocked Mutex wrapping data.
func NewMutex[T any](data T) *Mutex[T] {
	return &Mutex[T]{data: data}
}

// Guard is a held Mutex lock; Unlock releases it and wakes the oldest
// waiter, if any.
type Guard[T any] struct {
	m *Mutex[T]
}

// Get returns the protected value. Callers must hold the Guard for the
// duration of any access, matching the teacher's MutexGuard deref.
func (g Guard[T]) Get() *T { return &g.m.data }

// Unlock releases the lock.
func (g Guard[T]) Unlock() {
	g.m.locked.Store(false)
	g.m.wl.wakeOne()
}

// TryLock attempts to acquire the lock without blocking.
func (m *Mutex[T]) TryLock() (Guard[T], bool) {
	if m.locked.CompareAndSwap(false, true) {
		return Guard[T]{m: m}, true
	}
	return Guard[T]{}, false
}

// Lock returns a Future resolving to a held Guard.
func (m *Mutex[T]) Lock() *LockFuture[T] {
	return &LockFuture[T]{m: m}
}

// LockFuture implements exec.Future for Mutex.Lock, following the same
// fast-path-then-register-slow shape as the teacher's Lock future.
type LockFuture[T any] struct {
	m       *Mutex[T]
	waiting *list.Element
	result  Guard[T]
}

// Poll implements exec.Future.
func (f *LockFuture[T]) Poll(cx *exec.Cx) exec.State {
	if f.m.locked.CompareAndSwap(false, true) {
		if f.waiting != nil {
			f.m.wl.remove(f.waiting)
			f.waiting = nil
		}
		f.result = Guard[T]{m: f.m}
		return exec.Done
	}
	// Always re-register on a failed attempt: a prior registration may
	// already have been consumed (popped and woken by an Unlock) if this
	// poll lost the immediate re-acquire race to a third contender.
	// Leaving the stale f.waiting in place would skip re-pushing and
	// strand this task with no waker anywhere in the list. A task that
	// was already queued goes back to the head, so it stays the oldest
	// waiter and the next Unlock wakes it first.
	if f.waiting != nil {
		f.m.wl.remove(f.waiting)
		f.m.wl.mu.Lock()
		f.waiting = f.m.wl.waiters.PushFront(cx.Waker())
		f.m.wl.mu.Unlock()
		return exec.Pending
	}
	f.waiting = f.m.wl.push(cx.Waker())
	return exec.Pending
}

// Result returns the acquired guard once Poll has returned exec.Done.
func (f *LockFuture[T]) Result() Guard[T] { return f.result }
