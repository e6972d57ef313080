package kasync

import (
	"container/list"
	"sync"

	"github.com/mizu-os/mizu/pkg/exec"
)

// Chan is a bounded multi-producer single-consumer-style async queue:
// Send parks the sending task while full, Recv parks the receiving task
// while empty. Grounded on the teacher's bounded/unbounded channel pair
// (_examples/original_source/mizu/lib/ksync/src/channel.rs's
// with_flavor(ArrayQueue::new(capacity))), translated from a lock-free
// ring buffer to a plain mutex-guarded ring since this kernel's async
// channels are not on any hot interrupt path.
type Chan[T any] struct {
	mu       sync.Mutex
	buf      []T
	head     int
	len      int
	closed   bool
	sendWait waiterList
	recvWait waiterList
}

// NewChan creates a Chan with the given capacity (must be >= 1).
func NewChan[T any](capacity int) *Chan[T] {
	return &Chan[T]{buf: make([]T, capacity)}
}

// Close marks the channel closed: pending and future Recvs drain
// whatever remains buffered, then resolve with ok=false; pending and
// future Sends resolve immediately with Result() == false.
func (c *Chan[T]) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.sendWait.wakeAll()
	c.recvWait.wakeAll()
}

// TrySend attempts a non-blocking send, returning false if the channel
// is full or closed. A successful send wakes one parked receiver.
func (c *Chan[T]) TrySend(v T) bool {
	c.mu.Lock()
	if c.closed || c.len == len(c.buf) {
		c.mu.Unlock()
		return false
	}
	c.buf[(c.head+c.len)%len(c.buf)] = v
	c.len++
	c.mu.Unlock()
	c.recvWait.wakeOne()
	return true
}

// TryRecv attempts a non-blocking receive, returning ok=false if the
// channel is empty and open; if the channel is empty and closed it
// returns ok=false as well (it does not tell the two cases apart).
func (c *Chan[T]) TryRecv() (v T, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.len == 0 {
		return v, false
	}
	v = c.buf[c.head]
	c.head = (c.head + 1) % len(c.buf)
	c.len--
	return v, true
}

// Send returns a Future resolving once v has been enqueued, or the
// channel has closed (Result's ok is false in the latter case).
func (c *Chan[T]) Send(v T) *SendFuture[T] { return &SendFuture[T]{c: c, v: v} }

// SendFuture implements exec.Future for Chan.Send.
type SendFuture[T any] struct {
	c       *Chan[T]
	v       T
	waiting *list.Element
	ok      bool
}

func (f *SendFuture[T]) Poll(cx *exec.Cx) exec.State {
	f.c.mu.Lock()
	if f.c.closed {
		f.c.mu.Unlock()
		if f.waiting != nil {
			f.c.sendWait.remove(f.waiting)
		}
		f.ok = false
		return exec.Done
	}
	if f.c.len < len(f.c.buf) {
		f.c.buf[(f.c.head+f.c.len)%len(f.c.buf)] = f.v
		f.c.len++
		f.c.mu.Unlock()
		if f.waiting != nil {
			f.c.sendWait.remove(f.waiting)
		}
		f.ok = true
		f.c.recvWait.wakeOne()
		return exec.Done
	}
	f.c.mu.Unlock()
	// Always re-register on a failed attempt: a prior registration may
	// already have been consumed by a wake that another sender beat.
	f.waiting = f.c.sendWait.push(cx.Waker())
	return exec.Pending
}

// Result reports whether the value was enqueued (false if the channel
// closed first).
func (f *SendFuture[T]) Result() bool { return f.ok }

// Recv returns a Future resolving to the next value, or ok=false once
// the channel is closed and drained.
func (c *Chan[T]) Recv() *RecvFuture[T] { return &RecvFuture[T]{c: c} }

// RecvFuture implements exec.Future for Chan.Recv.
type RecvFuture[T any] struct {
	c       *Chan[T]
	waiting *list.Element
	v       T
	ok      bool
}

func (f *RecvFuture[T]) Poll(cx *exec.Cx) exec.State {
	f.c.mu.Lock()
	if f.c.len > 0 {
		f.v = f.c.buf[f.c.head]
		f.c.head = (f.c.head + 1) % len(f.c.buf)
		f.c.len--
		f.c.mu.Unlock()
		if f.waiting != nil {
			f.c.recvWait.remove(f.waiting)
		}
		f.ok = true
		f.c.sendWait.wakeOne()
		return exec.Done
	}
	closed := f.c.closed
	if !closed {
		// Always re-register on a failed attempt: a prior registration may
		// already have been consumed by a wake that another receiver beat.
		// Registering before c.mu is released means a TrySend that lands
		// right after the emptiness check still finds this waker.
		if f.waiting != nil {
			f.c.recvWait.remove(f.waiting)
		}
		f.waiting = f.c.recvWait.push(cx.Waker())
	}
	f.c.mu.Unlock()
	if closed {
		if f.waiting != nil {
			f.c.recvWait.remove(f.waiting)
		}
		f.ok = false
		return exec.Done
	}
	return exec.Pending
}

// Result returns the received value and whether one was available.
func (f *RecvFuture[T]) Result() (T, bool) { return f.v, f.ok }
