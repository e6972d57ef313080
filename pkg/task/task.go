// Package task implements the task lifecycle of §4.5: the State/Info
// split, the per-task main loop as a pkg/exec.Future, and clone/fork/
// exec/exit.
//
// Grounded on gvisor's kernel.Task/ThreadGroup split
// (_examples/google-gvisor/pkg/sentry/kernel/task.go, task_run.go, task_exec.go, signal.go),
// generalized from gvisor's one-goroutine-per-task model — where the
// split between per-task and per-thread-group state is enforced only by
// convention and doc comments — to this module's task-future-over-
// pkg/exec model, where State is a plain value threaded through Poll by
// exclusive reference and never crosses a goroutine boundary, so the
// split is enforced by the type system instead: nothing outside this
// one Future's Poll call ever holds a *State.
package task

import (
	"github.com/mizu-os/mizu/pkg/exec"
	"github.com/mizu-os/mizu/pkg/paging"
	"github.com/mizu-os/mizu/pkg/syscallreg"
	"github.com/mizu-os/mizu/pkg/trap"
	"github.com/mizu-os/mizu/pkg/vfs"
	"github.com/mizu-os/mizu/pkg/virt"
)

// State is the per-task-future-local half of §3's split: every field
// here is touched only by the goroutine currently polling this Task,
// while it is running — the Go analogue of "owned, local", needing no
// locking of its own.
type State struct {
	Info *Info

	SigMask      uint64
	localPending uint64

	Brk uint64

	TimerTicks int64

	// CurrentHart is the id of the hart last polling this task, kept up
	// to date by Poll so a syscall handler — which only ever sees a
	// *State, not the polling exec.Cx — can still address hart-scoped
	// Virt operations like AccessUser's CommitGuard.
	CurrentHart int

	Virt  *virt.Virt
	Sig   *SigActions
	Files *vfs.FileTable

	HasTidClear  bool
	TidClearAddr uint64

	ExitSignal Sig
}

// Table is the syscall dispatch table a Task's main loop consults on
// every user ecall, instantiated for this package's own State type —
// the concrete wiring SPEC_FULL.md's pkg/syscallreg section describes.
type Table = syscallreg.Table[State]

// DeviceWaker is invoked on an external-interrupt trap with the
// faulting stval (device-specific), standing in for "wake device
// waker" until a concrete device-interrupt registry exists.
type DeviceWaker func(stval uint64)

// Task is the main-loop Future of §4.5: it owns a TrapFrame and a
// State, and drives yield_to_user/handle in a loop exactly as the
// pseudocode of §4.5 describes, suspending (returning exec.Pending)
// only at the loop's genuine await points — a soft-preempt yield after
// a timer interrupt, or an explicit wait a syscall handler hands back
// (e.g. waitpid blocking on a child's exit broadcast).
type Task struct {
	info  *Info
	state State
	tf    trap.TrapFrame

	sw       trap.Switcher
	fast     trap.FastFunc
	syscalls *Table
	waker    DeviceWaker

	waiting exec.Future
}

// New creates a Task ready to run as an exec.Future. tf is the initial
// user-entry register state (pc in Sepc, sp in SP, etc).
func New(info *Info, state State, tf trap.TrapFrame, sw trap.Switcher, syscalls *Table, fast trap.FastFunc) *Task {
	state.Info = info
	return &Task{info: info, state: state, tf: tf, sw: sw, syscalls: syscalls, fast: fast}
}

// SetDeviceWaker installs the external-interrupt hook.
func (tk *Task) SetDeviceWaker(w DeviceWaker) { tk.waker = w }

// Info returns this task's shared record.
func (tk *Task) Info() *Info { return tk.info }

// TrapFrame exposes the live register state, for tests and for a loader
// that needs to set up an initial user stack/entry before first Poll.
func (tk *Task) TrapFrame() *trap.TrapFrame { return &tk.tf }

// Poll implements exec.Future: it runs §4.5's main loop, synchronously
// driving as many yield_to_user/handle rounds as it can before hitting
// a genuine suspension point.
func (tk *Task) Poll(cx *exec.Cx) exec.State {
	// Loads the current Virt on every poll rather than once via
	// virt.LoadOnPoll, since Exec can swap tk.state.Virt out from under a
	// task already spawned on the executor.
	tk.state.CurrentHart = cx.Hart()
	if tk.state.Virt != nil {
		tk.state.Virt.Load(cx.Hart())
	}

	if tk.waiting != nil {
		if tk.waiting.Poll(cx) == exec.Pending {
			return exec.Pending
		}
		tk.waiting = nil
	}

	for {
		if fatal, sig := tk.maybeDeliverSignal(); fatal {
			tk.finish(-1, sig)
			return exec.Done
		}

		tk.sw.SwitchToUser(&tk.tf, tk.fast)
		scause := tk.tf.Scause()

		out := tk.handleTrap(cx, scause)

		if out.pendingSig != 0 {
			tk.enqueueSelf(out.pendingSig)
		}
		if out.exited {
			tk.finish(out.code, out.sig)
			return exec.Done
		}
		if out.suspend != nil {
			tk.waiting = out.suspend
			if tk.waiting.Poll(cx) == exec.Pending {
				return exec.Pending
			}
			tk.waiting = nil
			continue
		}
		if out.softYield {
			cx.Waker().Wake()
			return exec.Pending
		}
	}
}

// outcome is handleTrap's result: at most one of exited/suspend/
// softYield/pendingSig is meaningful per call.
type outcome struct {
	exited     bool
	code       int32
	sig        Sig
	suspend    exec.Future
	softYield  bool
	pendingSig Sig
}

// handleTrap implements §4.5's "Trap dispatch": timer interrupts bump
// the tick counter and yield only if the current hart's soft-preempt
// flag is set (the re-entrant timer handler in trap.KernelTrapTable
// sets it; handleTrap only ever observes it directly when no FastFunc
// swallowed the tick first); external interrupts wake the registered
// device waker; a user ecall goes to the syscall registry; a page
// fault re-enters through Virt.Commit, or raises SIGSEGV if the access
// is truly invalid.
func (tk *Task) handleTrap(cx *exec.Cx, scause trap.Scause) outcome {
	if scause.IsInterrupt() {
		switch scause.Code() {
		case trap.InterruptSupervisorTimer:
			tk.state.TimerTicks++
			if cx.HartHandle().ShouldYield() {
				return outcome{softYield: true}
			}
			return outcome{}
		case trap.InterruptSupervisorExternal:
			if tk.waker != nil {
				tk.waker(tk.tf.Stval())
			}
			return outcome{}
		default:
			return outcome{}
		}
	}

	switch scause.Code() {
	case trap.ExceptionUserEcall:
		flow, _ := tk.syscalls.Dispatch(&tk.state, &tk.tf)
		if flow.Exit != nil {
			return outcome{exited: true, code: flow.Exit.Code, sig: Sig(flow.Exit.Sig)}
		}
		if flow.Wait != nil {
			return outcome{suspend: flow.Wait}
		}
		if flow.Pending != 0 {
			return outcome{pendingSig: Sig(flow.Pending)}
		}
		return outcome{}

	case trap.ExceptionLoadPageFault, trap.ExceptionStorePageFault, trap.ExceptionInstrPageFault:
		access := paging.Readable
		switch scause.Code() {
		case trap.ExceptionStorePageFault:
			access = paging.Writable
		case trap.ExceptionInstrPageFault:
			access = paging.Executable
		}
		va := tk.tf.Stval() &^ (paging.PageSize - 1)

		var err error
		if access == paging.Writable && tk.state.Virt.IsCOWFault(va) {
			// The page is already resident but still shared: this is
			// the privatising write fault, not a first-touch miss.
			err = tk.state.Virt.CommitWrite(cx.Hart(), va)
		} else {
			r := virt.Range{Start: va, End: va + paging.PageSize}
			err = tk.state.Virt.Commit(cx.Hart(), r, access)
		}
		if err != nil {
			return outcome{exited: true, code: -1, sig: SigSegv}
		}
		return outcome{}

	default:
		return outcome{exited: true, code: -1, sig: SigIll}
	}
}

func (tk *Task) enqueueSelf(sig Sig) {
	tk.state.localPending |= uint64(1) << uint(sig-1)
}

// finish implements §4.5's Exit: clears the tid-clear user pointer (the
// clear_child_tid word a vfork/clone(CLONE_CHILD_CLEARTID) caller asked
// to be zeroed on this task's exit, mirroring Linux's futex(2) wake-on-
// exit contract) if one is registered, broadcasts Exited on the shared
// Info, and raises the configured exit-signal on the parent, if any.
func (tk *Task) finish(code int32, sig Sig) {
	if tk.state.HasTidClear && tk.state.Virt != nil {
		if acc, release, err := tk.state.AccessUser(tk.state.TidClearAddr, 8, true); err == nil {
			trap.CheckedZero(tk.state.CurrentHart, acc, tk.state.TidClearAddr&(paging.PageSize-1), 8)
			release()
		}
	}

	tk.info.Events.Send(Event{Kind: EventExited, Code: code, Sig: sig})
	if tk.info.Parent != nil && tk.state.ExitSignal != 0 {
		tk.info.Parent.RaisePending(tk.state.ExitSignal)
	}
}
