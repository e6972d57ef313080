package task

import (
	"math/bits"
	"sync"
)

// Sig is a signal number, 1-64, the width this kernel's pending/mask
// bitsets assume.
type Sig int32

// The subset of standard Linux signal numbers this kernel's syscall
// surface and default-disposition table actually reason about.
const (
	SigHup  Sig = 1
	SigInt  Sig = 2
	SigQuit Sig = 3
	SigIll  Sig = 4
	SigAbrt Sig = 6
	SigFpe  Sig = 8
	SigKill Sig = 9
	SigSegv Sig = 11
	SigPipe Sig = 13
	SigAlrm Sig = 14
	SigTerm Sig = 15
	SigChld Sig = 17
	SigCont Sig = 18
	SigStop Sig = 19
)

// defaultIsFatal reports whether sig's default disposition (no handler
// installed, not explicitly ignored) terminates the task. Only SIGCHLD
// and SIGCONT are ignored by default; every other signal, SIGSTOP
// included, terminates the task, since this kernel has no job-control
// stop/continue state machine, only run/exited.
func defaultIsFatal(sig Sig) bool {
	switch sig {
	case SigChld, SigCont:
		return false
	default:
		return true
	}
}

// Disposition is what a task does when a signal arrives and isn't
// blocked.
type Disposition int

const (
	DispositionDefault Disposition = iota
	DispositionIgnore
	DispositionHandler
)

// SigAction is one signal's disposition table entry: the Rust
// original's Option<SigHandler> made explicit as a three-way enum plus
// the handler's user-space entry point and the mask to install while
// the handler runs.
type SigAction struct {
	Disposition Disposition
	Handler     uint64
	Mask        uint64
}

// SigActions is the shared signal-action table referenced from a
// task's State (§3: "signal-action table (shared)"): shared across
// CLONE_SIGHAND peers, deep-copied on a plain fork, and reset to all-
// default on exec (POSIX's "exec resets caught signals to default,
// leaves ignored signals ignored").
type SigActions struct {
	mu    sync.Mutex
	table [65]SigAction // index 0 unused, signals are 1-64
}

// NewSigActions creates a table with every signal at its default
// disposition.
func NewSigActions() *SigActions {
	return &SigActions{}
}

// Get returns sig's current action.
func (s *SigActions) Get(sig Sig) SigAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table[sig]
}

// Set installs act as sig's action.
func (s *SigActions) Set(sig Sig, act SigAction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.table[sig] = act
}

// Clone returns a deep copy, used by a plain fork() (no CLONE_SIGHAND).
func (s *SigActions) Clone() *SigActions {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := &SigActions{}
	n.table = s.table
	return n
}

// ResetForExec clears every caught-signal handler back to default,
// leaving explicitly ignored signals (e.g. a shell's ignored SIGINT)
// ignored, per execve(2)'s contract.
func (s *SigActions) ResetForExec() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.table {
		if s.table[i].Disposition == DispositionHandler {
			s.table[i] = SigAction{}
		}
	}
}

// maybeDeliverSignal implements §4.5's "maybe_deliver_signal": it pops
// the lowest-numbered deliverable signal (checking this task's own
// locally-enqueued set before the shared Info's pending set) and acts
// on its disposition. A default-disposition fatal signal is reported to
// the caller instead of acted on here, so Poll can broadcast Exited and
// tear the task down exactly like a Break(code,sig) from the main loop.
func (tk *Task) maybeDeliverSignal() (fatal bool, sig Sig) {
	s, ok := tk.takeDeliverable()
	if !ok {
		return false, 0
	}
	act := tk.state.Sig.Get(s)
	switch act.Disposition {
	case DispositionIgnore:
		return false, 0
	case DispositionHandler:
		tk.deliverToHandler(s, act)
		return false, 0
	default:
		if defaultIsFatal(s) {
			return true, s
		}
		return false, 0
	}
}

func (tk *Task) takeDeliverable() (Sig, bool) {
	deliverable := tk.state.localPending &^ tk.state.SigMask
	if deliverable != 0 {
		sig := Sig(bits.TrailingZeros64(deliverable) + 1)
		tk.state.localPending &^= uint64(1) << uint(sig-1)
		return sig, true
	}
	return tk.info.TakePending(tk.state.SigMask)
}

// deliverToHandler redirects the TrapFrame into the handler: sepc jumps
// to the registered entry point with the signal number in a0, and the
// handler's mask is installed for its duration. This kernel does not
// implement a sigreturn trampoline (restoring the pre-signal sepc/
// registers once the handler returns) — a scaled-down simplification
// recorded in DESIGN.md; handlers here are expected to call exit or
// never return, the same restriction SPEC_FULL.md's Open Question
// decisions note for this subsystem.
func (tk *Task) deliverToHandler(sig Sig, act SigAction) {
	tk.tf.SetSepc(act.Handler)
	tk.tf.SetA(0, uint64(sig))
	tk.state.SigMask |= act.Mask
}
