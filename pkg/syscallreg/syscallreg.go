// Package syscallreg is the typed syscall handler registry of §4.6: a
// dispatch table keyed by syscall number, where every entry stores a
// uniform boxed closure but each handler still gets to declare its own
// typed return value via trap.UserCx (arguments are read raw from a0..a5).
//
// Grounded on gvisor's kernel.SyscallTable/kernel.Syscall dispatch shape
// (_examples/google-gvisor/pkg/sentry/kernel/table_test.go: map[uintptr]Syscall, Lookup by
// number), generalized with a type parameter over the per-task state the
// original's ksc/ksc-macros crates inject via macro-generated per-arity
// wrappers — Register's own type parameters are this kernel's stand-in
// for that macro, and additionally let this package have zero dependency
// on pkg/task (which instantiates Table[task.State] and registers into
// it, rather than this package importing task and risking a cycle).
package syscallreg

import (
	"errors"
	"sync"

	"github.com/mizu-os/mizu/pkg/errno"
	"github.com/mizu-os/mizu/pkg/exec"
	"github.com/mizu-os/mizu/pkg/trap"
)

// RetValue bounds the types a syscall handler may return as its raw
// success value: whatever can be losslessly placed into the a0 register.
type RetValue interface {
	~int | ~int32 | ~int64 | ~uint | ~uint32 | ~uint64 | ~uintptr
}

// ControlFlow is a syscall handler's outcome, the Go rendering of the
// spec's ControlFlow<(exit_code, Option<Sig>), Option<SigInfo>>: Continue
// means the task resumes in user mode (optionally with a signal queued
// for delivery first); a non-nil Exit means the task's main loop should
// tear it down instead; a non-nil Wait means the task's main loop should
// suspend the task on the given Future (e.g. a ktime.Deadline for a
// nanosleep-style handler, or a condition broadcast for waitpid) before
// returning to user mode.
type ControlFlow struct {
	Exit    *ExitRequest
	Wait    exec.Future
	Pending int32 // 0 means no signal queued on the continue path
}

// ExitRequest carries the exit code and, if the task was killed by a
// fatal signal rather than calling exit() itself, that signal's number.
type ExitRequest struct {
	Code int32
	Sig  int32 // 0 if the task exited voluntarily
}

// Continue resumes the task normally.
var Continue = ControlFlow{}

// ContinueWithSignal resumes the task but queues sig for delivery before
// the next return to user mode.
func ContinueWithSignal(sig int32) ControlFlow {
	return ControlFlow{Pending: sig}
}

// ExitNow asks the task's main loop to tear the task down with code.
func ExitNow(code int32) ControlFlow {
	return ControlFlow{Exit: &ExitRequest{Code: code}}
}

// ExitBySignal is ExitNow, annotated with the fatal signal that caused it.
func ExitBySignal(code int32, sig int32) ControlFlow {
	return ControlFlow{Exit: &ExitRequest{Code: code, Sig: sig}}
}

// WaitOn suspends the task on f: the main loop parks it until f resolves,
// then resumes the syscall's caller in user mode with whatever return
// value the handler already staged via UserCx.SetRet.
func WaitOn(f exec.Future) ControlFlow {
	return ControlFlow{Wait: f}
}

// boxedHandler is the uniform shape every registered handler is wrapped
// down to, regardless of its own Ret type parameter.
type boxedHandler[S any] func(state *S, tf *trap.TrapFrame) (ControlFlow, error)

// Table is a syscall dispatch table for task state type S. The zero
// value is not usable; construct with NewTable.
type Table[S any] struct {
	mu       sync.RWMutex
	handlers map[uintptr]boxedHandler[S]
}

// NewTable creates an empty Table.
func NewTable[S any]() *Table[S] {
	return &Table[S]{handlers: make(map[uintptr]boxedHandler[S])}
}

// Register installs fn as the handler for syscall number nr. fn declares
// its own return type via trap.UserCx's Ret type parameter; its
// arguments are untyped (Args() on the UserCx gives the raw a0..a5
// tuple; handlers that want a narrower typed view build it themselves
// from Args()). fn returns its raw
// success value, a ControlFlow, and an error — a non-nil error's errno is
// negated into a0 the way every Linux syscall ABI reports failure,
// exactly as §6 specifies.
//
// Register is a free function rather than a Table method so its own type
// parameter Ret can be inferred from fn without the caller repeating the
// state type S at every call site.
func Register[S any, Ret RetValue](t *Table[S], nr uintptr, fn func(*S, trap.UserCx[Ret]) (Ret, ControlFlow, error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[nr] = func(state *S, tf *trap.TrapFrame) (ControlFlow, error) {
		cx := trap.NewUserCx[Ret](tf)
		ret, flow, err := fn(state, cx)
		if err != nil {
			var e *errno.Errno
			if errors.As(err, &e) {
				cx.SetRet(Ret(-int64(e.No())), retToA0[Ret])
			}
			return flow, err
		}
		cx.SetRet(ret, retToA0[Ret])
		return flow, nil
	}
}

func retToA0[Ret RetValue](v Ret) uint64 { return uint64(v) }

// Dispatch looks up the handler for tf's syscall number (a7) and invokes
// it, returning errno.ENOSYS if no handler is registered — the registry
// never panics on an unknown syscall number, matching gvisor's
// Lookup-returns-nil-then-ENOSYS convention.
func (t *Table[S]) Dispatch(state *S, tf *trap.TrapFrame) (ControlFlow, error) {
	t.mu.RLock()
	h, ok := t.handlers[uintptr(tf.SyscallNo())]
	t.mu.RUnlock()
	if !ok {
		tf.SetReturn(uint64(-int64(errno.ENOSYS.No())))
		return Continue, errno.ENOSYS
	}
	return h(state, tf)
}

// Lookup reports whether nr has a registered handler, for introspection
// (e.g. a syscall-filter prologue that rejects unimplemented numbers
// before even building a UserCx).
func (t *Table[S]) Lookup(nr uintptr) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.handlers[nr]
	return ok
}
