package trap

// FastFunc is the synchronous fast-path hook (§4.2 "_fast_func") that
// runs inside the trap vector before any full context switch completes.
// Returning true means "complete the switch, let the async task resume";
// returning false means "handled entirely in the fast path, return
// straight to user mode" (e.g. to re-arm a timer tick without waking the
// task). A nil FastFunc always completes the switch.
type FastFunc func(tf *TrapFrame) bool

// Switcher performs the symmetric stackful user<->kernel switch of
// §4.2. SwitchToUser must not return until either fast returns true for
// some trap, or the implementation has no more user execution to
// simulate; on return, tf holds the trapped state (user registers,
// sepc, sstatus, stval, scause) exactly as the real yield_to_user/
// _user_entry dual would leave it, and the call is symmetric with a
// normal function return: no stack was consumed transferring control.
//
// Grounded on gvisor's platform.Context.Switch (_examples/google-gvisor/pkg/sentry/platform/platform.go),
// which is the same "block until the sandboxed program traps, then
// return with the cause populated" shape, implemented there via
// ptrace/KVM instead of sret.
type Switcher interface {
	SwitchToUser(tf *TrapFrame, fast FastFunc)
}

// KernelHandler is a re-entrant kernel-mode trap handler: an ordinary
// call/return function, never a task switch. Per §4.2 it must run only
// in synchronous context — update the timer queue, signal a device
// waker, and return.
type KernelHandler func(tf *TrapFrame)

// KernelTrapTable dispatches re-entrant kernel-mode traps (as opposed to
// the full task-switching trap handled by pkg/task's main loop) by cause
// code: timer ticks and external-interrupt delivery that must be
// serviced without ever switching tasks.
type KernelTrapTable struct {
	handlers map[uint64]KernelHandler
}

// NewKernelTrapTable creates an empty table.
func NewKernelTrapTable() *KernelTrapTable {
	return &KernelTrapTable{handlers: make(map[uint64]KernelHandler)}
}

// Register installs handler for the given (already interrupt-bit-masked)
// cause code.
func (t *KernelTrapTable) Register(cause uint64, handler KernelHandler) {
	t.handlers[cause] = handler
}

// Dispatch looks up and invokes the handler for tf's cause, if any,
// returning whether one was found and run.
func (t *KernelTrapTable) Dispatch(tf *TrapFrame) bool {
	h, ok := t.handlers[tf.Scause().Code()]
	if !ok {
		return false
	}
	h(tf)
	return true
}
