// Package exec is the kernel's stackless-coroutine runtime: a
// multi-hart, work-stealing, cooperative task executor with a
// soft-preemption slot, modeled after Go's own M:N scheduler (local
// per-P run queue, global overflow queue, steal-half-on-idle) made
// explicit and user-level instead of delegated to runtime.GOMAXPROCS,
// because the spec's testable properties (work stealing, preempt-slot
// wake priority) need to be inspectable from tests.
//
// A task in this kernel is not a goroutine: it is a Future, a single
// object whose Poll method is re-entered by a hart loop every time the
// task is runnable, with all of its suspended state held as the
// Future's own fields (the Go-idiomatic stand-in for "local variables
// compiled into the stackless coroutine" — see SPEC_FULL.md pkg/exec).
package exec

// State is the result of polling a Future.
type State int

const (
	// Pending means the future is not done; it has arranged (via the
	// Waker from Cx.Waker, stashed somewhere) for itself to be polled again later and
	// must not be polled again until woken.
	Pending State = iota
	// Done means the future has completed and will never be polled again.
	Done
)

// Cx is the context passed to every Poll call. It exposes a Waker bound
// to this task and the id of the polling hart. Whether a wake goes to a
// preempt slot is chosen by the waker's caller (Wake vs
// WakeFromInterrupt), not by Cx.
type Cx struct {
	waker Waker
	hart  int
}

// Waker returns a Waker that, when called, reschedules this task.
func (c *Cx) Waker() Waker { return c.waker }

// Hart returns the id of the hart currently polling this future, the
// Go-level stand-in for "which CPU am I running on" that hart-local
// adapters like virt.LoadOnPoll need.
func (c *Cx) Hart() int { return c.hart }

// HartHandle returns the scheduling worker currently polling this
// future, for callers (pkg/task's main loop) that need to observe
// hart-level state like the soft-preempt flag rather than just its id.
func (c *Cx) HartHandle() *Hart { return c.waker.ex.Hart(c.hart) }

// Future is a stackless, cooperatively-scheduled task. Implementations
// must be drop-safe: a Future may be discarded (never polled again)
// at any point between polls without leaking kernel invariants, since
// cancellation is just "the executor stops polling it".
type Future interface {
	Poll(cx *Cx) State
}

// FutureFunc adapts a poll function into a Future, useful for small
// internal tasks (flusher loops, device wakers) that do not need their
// own named type.
type FutureFunc func(cx *Cx) State

// Poll implements Future.
func (f FutureFunc) Poll(cx *Cx) State { return f(cx) }
