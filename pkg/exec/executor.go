package exec

import (
	"math/rand"
	"sync/atomic"
)

// taskHandle is the reference-counted-by-the-executor handle wrapping a
// user Future with the scheduling metadata header described in §4.1:
// "reference-counted handles carrying a state machine and a metadata
// header (scheduled/running/cancelled flags)".
type taskHandle struct {
	id       uint64
	future   Future
	lastHart atomic.Int32

	scheduled atomic.Bool
	running   atomic.Bool
	cancelled atomic.Bool
	done      atomic.Bool
}

// Canceler is implemented by Futures that need to release resources
// explicitly when the executor drops them due to cancellation, standing
// in for Rust's automatic Drop glue (§4.1: "futures MUST be drop-safe").
type Canceler interface {
	Cancel()
}

// Hart is one scheduling worker: one bounded local run queue, one
// preempt slot, and a pointer back to the Executor for global-queue and
// peer access.
type Hart struct {
	id      int
	ex      *Executor
	local   localQueue
	preempt atomic.Pointer[taskHandle]
	rng     *rand.Rand

	// shouldYield is set by the re-entrant timer trap handler (via
	// RequestSoftPreempt) to ask the currently running task's next
	// await point to yield back to the scheduler. It is advisory only:
	// §4.1 "yielding is never enforced — tasks must .await to give
	// control up".
	shouldYield atomic.Bool

	idle atomic.Bool
}

// ShouldYield reports whether this hart's re-entrant timer trap has
// requested the running task yield at its next await point, and clears
// the request (edge-triggered, like a single tick's worth of pressure).
func (h *Hart) ShouldYield() bool {
	return h.shouldYield.CompareAndSwap(true, false)
}

// RequestSoftPreempt is called from the re-entrant timer trap handler to
// mark this hart's running task as due for a cooperative yield.
func (h *Hart) RequestSoftPreempt() {
	h.shouldYield.Store(true)
}

// ID returns the hart's index, used by callers (e.g. pkg/virt's
// per-hart loaded-address-space slot) that key hart-local storage off it.
func (h *Hart) ID() int { return h.id }

func (h *Hart) pushLocal(t *taskHandle) {
	t.lastHart.Store(int32(h.id))
	if !h.local.push(t) {
		h.ex.global.push(t)
	}
}

func (h *Hart) pushPreempt(t *taskHandle) {
	t.lastHart.Store(int32(h.id))
	if old := h.preempt.Swap(t); old != nil {
		// Slot was occupied: the occupant loses priority but is not
		// dropped, it falls back to this hart's local queue.
		h.pushLocal(old)
	}
}

// pick implements the four-step policy of §4.1.
func (h *Hart) pick() *taskHandle {
	if t := h.preempt.Swap(nil); t != nil {
		return t
	}
	if t := h.local.pop(); t != nil {
		return t
	}
	if t := h.ex.global.pop(); t != nil {
		return t
	}
	n := len(h.ex.harts)
	if n <= 1 {
		return nil
	}
	victim := &h.ex.harts[randPeer(h.id, n, h.rng)]
	h.local.stealHalf(&victim.local, &h.ex.global)
	return h.local.pop()
}

// RunOnce picks and polls exactly one task, returning false if no task
// was runnable (caller should back off / block on new work arriving).
func (h *Hart) RunOnce() bool {
	t := h.pick()
	if t == nil {
		return false
	}
	if t.done.Load() {
		// Re-queued by a Wake after completion: drop it unpolled and
		// leave it marked scheduled so further wakes are no-ops.
		return true
	}
	if t.cancelled.Load() {
		if c, ok := t.future.(Canceler); ok {
			c.Cancel()
		}
		t.scheduled.Store(false)
		return true
	}
	t.running.Store(true)
	t.scheduled.Store(false)
	cx := &Cx{waker: Waker{ex: h.ex, task: t}, hart: h.id}
	state := t.future.Poll(cx)
	t.running.Store(false)
	if state == Done {
		t.done.Store(true)
		return true
	}
	// Pending: the future is responsible for having arranged its own
	// wake (stashed cx.Waker() somewhere); if it didn't, it leaks — same
	// contract as any Future-based runtime.
	return true
}

// Executor owns the set of harts and the shared global overflow queue.
// It does not fail: spawning after Shutdown silently discards the task,
// per §4.1 "executor operations do not fail".
type Executor struct {
	harts    []Hart
	global   globalQueue
	nextID   atomic.Uint64
	shutdown atomic.Bool
}

// New creates an Executor with the given number of harts (scheduling
// workers).
func New(numHarts int) *Executor {
	ex := &Executor{harts: make([]Hart, numHarts)}
	for i := range ex.harts {
		ex.harts[i] = Hart{id: i, ex: ex, rng: rand.New(rand.NewSource(int64(i) + 1))}
	}
	return ex
}

// Hart returns the i'th hart's scheduling worker.
func (ex *Executor) Hart(i int) *Hart { return &ex.harts[i] }

// NumHarts returns the number of harts this executor schedules across.
func (ex *Executor) NumHarts() int { return len(ex.harts) }

// Spawn creates a task wrapping future and schedules it on the given
// hart's local queue (falling back to the global queue if full, or
// discarding it entirely if the executor has been shut down).
func (ex *Executor) Spawn(future Future, hart int) {
	if ex.shutdown.Load() {
		return
	}
	t := &taskHandle{id: ex.nextID.Add(1), future: future}
	t.scheduled.Store(true)
	if hart < 0 || hart >= len(ex.harts) {
		hart = 0
	}
	ex.harts[hart].pushLocal(t)
}

// Shutdown marks the executor as shut down; subsequent Spawn calls are
// discarded. In-flight tasks already queued continue to run to
// completion or cancellation.
func (ex *Executor) Shutdown() {
	ex.shutdown.Store(true)
}

// GlobalLen reports the current length of the shared overflow queue,
// used by tests and load-balancing introspection.
func (ex *Executor) GlobalLen() int { return ex.global.len() }

// LocalLen reports hart i's local queue depth.
func (ex *Executor) LocalLen(i int) int { return ex.harts[i].local.len() }
