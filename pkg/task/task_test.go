package task

import (
	"encoding/binary"
	"testing"

	"github.com/mizu-os/mizu/pkg/exec"
	"github.com/mizu-os/mizu/pkg/kalloc"
	"github.com/mizu-os/mizu/pkg/paging"
	"github.com/mizu-os/mizu/pkg/phys"
	"github.com/mizu-os/mizu/pkg/sbi"
	"github.com/mizu-os/mizu/pkg/syscallreg"
	"github.com/mizu-os/mizu/pkg/trap"
	"github.com/mizu-os/mizu/pkg/vfs"
	"github.com/mizu-os/mizu/pkg/virt"
)

type testArena struct {
	tables map[kalloc.FrameNo]*paging.Table
}

func newTestArena() *testArena { return &testArena{tables: make(map[kalloc.FrameNo]*paging.Table)} }

func (a *testArena) translate(f kalloc.FrameNo) *paging.Table {
	t, ok := a.tables[f]
	if !ok {
		t = &paging.Table{}
		a.tables[f] = t
	}
	return t
}

func newTestVirt(t *testing.T) (*virt.Virt, *kalloc.Allocator, *phys.Arena) {
	t.Helper()
	frames := kalloc.NewAllocator(256, 1)
	ta := newTestArena()
	root, err := frames.Alloc(0)
	if err != nil {
		t.Fatalf("alloc root: %v", err)
	}
	ta.translate(root)
	walker := paging.NewWalker(frames, 0, ta.translate)
	prov := sbi.NewFake()
	return virt.New(root, frames, walker, prov, 1), frames, phys.NewArena(256)
}

const nrExit = 93
const nrGetpid = 172

func newTestTable() *Table {
	tbl := syscallreg.NewTable[State]()
	syscallreg.Register(tbl, nrExit, func(s *State, cx trap.UserCx[int64]) (int64, syscallreg.ControlFlow, error) {
		return 0, syscallreg.ExitNow(int32(cx.Arg(0))), nil
	})
	syscallreg.Register(tbl, nrGetpid, func(s *State, cx trap.UserCx[int64]) (int64, syscallreg.ControlFlow, error) {
		return int64(s.Info.ID), syscallreg.Continue, nil
	})
	return tbl
}

func newTestTask(t *testing.T, traps []trap.SimulatedTrap) (*Task, *trap.FakeSwitcher) {
	t.Helper()
	v, _, _ := newTestVirt(t)
	sw := &trap.FakeSwitcher{Traps: traps}
	info := NewInfo(1, nil)
	st := State{Virt: v, Sig: NewSigActions(), Files: vfs.NewFileTable()}
	tk := New(info, st, trap.TrapFrame{}, sw, newTestTable(), nil)
	return tk, sw
}

func TestMainLoopExitsOnExitSyscall(t *testing.T) {
	tk, sw := newTestTask(t, []trap.SimulatedTrap{
		{Scause: trap.Scause(trap.ExceptionUserEcall), A: [8]uint64{0, 0, 0, 0, 0, 0, 0, nrExit}},
	})

	ex := exec.New(1)
	done := make(chan struct{})
	ex.Spawn(exec.FutureFunc(func(cx *exec.Cx) exec.State {
		st := tk.Poll(cx)
		if st == exec.Done {
			close(done)
		}
		return st
	}), 0)

	for i := 0; i < 10; i++ {
		ex.Hart(0).RunOnce()
		select {
		case <-done:
			if !sw.Exhausted() {
				t.Fatalf("expected the single scripted trap to be consumed")
			}
			return
		default:
		}
	}
	t.Fatalf("task never exited")
}

func TestMainLoopDeliversGetpidReturnValue(t *testing.T) {
	tbl := syscallreg.NewTable[State]()
	syscallreg.Register(tbl, nrGetpid, func(s *State, cx trap.UserCx[int64]) (int64, syscallreg.ControlFlow, error) {
		return int64(s.Info.ID), syscallreg.ExitNow(int32(s.Info.ID)), nil
	})

	v, _, _ := newTestVirt(t)
	sw := &trap.FakeSwitcher{Traps: []trap.SimulatedTrap{
		{Scause: trap.Scause(trap.ExceptionUserEcall), A: [8]uint64{0, 0, 0, 0, 0, 0, 0, nrGetpid}},
	}}
	info := NewInfo(42, nil)
	st := State{Virt: v, Sig: NewSigActions(), Files: vfs.NewFileTable()}
	tk := New(info, st, trap.TrapFrame{}, sw, tbl, nil)

	ch, _ := tk.info.Events.Subscribe(1)
	ex := exec.New(1)
	ex.Spawn(exec.FutureFunc(func(cx *exec.Cx) exec.State { return tk.Poll(cx) }), 0)
	ex.Hart(0).RunOnce()

	ev, ok := ch.TryRecv()
	if !ok || ev.Kind != EventExited || ev.Code != 42 {
		t.Fatalf("expected an Exited event with code 42 (the task id the handler exits with), got %+v ok=%v", ev, ok)
	}
	if got := tk.tf.A(0); got != 42 {
		t.Fatalf("expected getpid's return value (42) in a0, got %d", got)
	}
}

func TestTimerInterruptYieldsHartToOtherTasksWhenSoftPreemptRequested(t *testing.T) {
	tk, _ := newTestTask(t, []trap.SimulatedTrap{
		{Scause: trap.Scause(trap.InterruptSupervisorTimer) | (1 << 63)},
		{Scause: trap.Scause(trap.ExceptionUserEcall), A: [8]uint64{0, 0, 0, 0, 0, 0, 0, nrExit}},
	})

	ex := exec.New(1)
	// Stand in for the re-entrant timer trap handler (trap.KernelTrapTable
	// in the real boot path) that would have already flagged this hart as
	// due for a cooperative yield before the task-switching trap below is
	// even dispatched.
	ex.Hart(0).RequestSoftPreempt()

	var otherRan bool
	ex.Spawn(exec.FutureFunc(func(cx *exec.Cx) exec.State { return tk.Poll(cx) }), 0)
	ex.Spawn(exec.FutureFunc(func(cx *exec.Cx) exec.State {
		otherRan = true
		return exec.Done
	}), 0)

	for i := 0; i < 10; i++ {
		ex.Hart(0).RunOnce()
	}
	if !otherRan {
		t.Fatalf("expected the other spawned task to get a turn after the timer-driven yield")
	}
	if tk.state.TimerTicks != 1 {
		t.Fatalf("expected exactly one timer tick recorded, got %d", tk.state.TimerTicks)
	}
}

// TestTimerInterruptWithoutSoftPreemptRequestDoesNotYield guards the
// fix for handleTrap's timer case unconditionally yielding on every
// single timer trap regardless of whether the hart-level soft-preempt
// flag was ever set: with nothing having called RequestSoftPreempt,
// the loop must keep running this task straight through to its exit
// ecall rather than handing the hart to another task first.
func TestTimerInterruptWithoutSoftPreemptRequestDoesNotYield(t *testing.T) {
	tk, sw := newTestTask(t, []trap.SimulatedTrap{
		{Scause: trap.Scause(trap.InterruptSupervisorTimer) | (1 << 63)},
		{Scause: trap.Scause(trap.ExceptionUserEcall), A: [8]uint64{0, 0, 0, 0, 0, 0, 0, nrExit}},
	})

	ex := exec.New(1)
	ex.Spawn(exec.FutureFunc(func(cx *exec.Cx) exec.State { return tk.Poll(cx) }), 0)
	ex.Hart(0).RunOnce()

	if !sw.Exhausted() {
		t.Fatalf("expected the task to run straight through both scripted traps in one poll, with no yield in between")
	}
	if tk.state.TimerTicks != 1 {
		t.Fatalf("expected exactly one timer tick recorded, got %d", tk.state.TimerTicks)
	}
}

func TestPageFaultCommitsThenResumes(t *testing.T) {
	v, frames, arena := newTestVirt(t)
	p := phys.NewAnon(frames, arena)
	r, err := v.Map(virt.UserRegion, paging.PageSize, p, 0, paging.UserRW, false)
	if err != nil {
		t.Fatalf("map: %v", err)
	}

	sw := &trap.FakeSwitcher{Traps: []trap.SimulatedTrap{
		{Scause: trap.Scause(trap.ExceptionStorePageFault), Stval: r.Start},
		{Scause: trap.Scause(trap.ExceptionUserEcall), A: [8]uint64{0, 0, 0, 0, 0, 0, 0, nrExit}},
	}}
	info := NewInfo(1, nil)
	st := State{Virt: v, Sig: NewSigActions(), Files: vfs.NewFileTable()}
	tk := New(info, st, trap.TrapFrame{}, sw, newTestTable(), nil)

	ex := exec.New(1)
	ex.Spawn(exec.FutureFunc(func(cx *exec.Cx) exec.State { return tk.Poll(cx) }), 0)
	for i := 0; i < 10 && !sw.Exhausted(); i++ {
		ex.Hart(0).RunOnce()
	}
	if !sw.Exhausted() {
		t.Fatalf("expected page fault to be resolved and the loop to reach the exit ecall")
	}
	if err := v.Commit(0, r, paging.Readable); err != nil {
		t.Fatalf("expected the page to be resident after the fault handler ran: %v", err)
	}
}

func TestStorePageFaultOnCOWMappingPrivatisesRatherThanRetryingForever(t *testing.T) {
	v, frames, arena := newTestVirt(t)
	p := phys.NewAnon(frames, arena)
	r, err := v.Map(virt.UserRegion, paging.PageSize, p, 0, paging.UserRW, true)
	if err != nil {
		t.Fatalf("map: %v", err)
	}

	// The first store fault only faults the shared page in read-only
	// (Commit always installs a CoW-marked PTE for a COW mapping
	// regardless of the access requested); the second is the
	// privatising fault that must go through CommitWrite instead of
	// looping on the same read-only PTE forever.
	sw := &trap.FakeSwitcher{Traps: []trap.SimulatedTrap{
		{Scause: trap.Scause(trap.ExceptionStorePageFault), Stval: r.Start},
		{Scause: trap.Scause(trap.ExceptionStorePageFault), Stval: r.Start},
		{Scause: trap.Scause(trap.ExceptionUserEcall), A: [8]uint64{0, 0, 0, 0, 0, 0, 0, nrExit}},
	}}
	info := NewInfo(1, nil)
	st := State{Virt: v, Sig: NewSigActions(), Files: vfs.NewFileTable()}
	tk := New(info, st, trap.TrapFrame{}, sw, newTestTable(), nil)

	ex := exec.New(1)
	ex.Spawn(exec.FutureFunc(func(cx *exec.Cx) exec.State { return tk.Poll(cx) }), 0)
	for i := 0; i < 10 && !sw.Exhausted(); i++ {
		ex.Hart(0).RunOnce()
	}
	if !sw.Exhausted() {
		t.Fatalf("expected both page faults to resolve and the loop to reach the exit ecall")
	}
	if v.IsCOWFault(r.Start) {
		t.Fatalf("expected the second store fault to privatise the page, leaving no CoW-marked PTE")
	}
	if err := v.CommitWrite(0, r.Start); err != nil {
		t.Fatalf("expected the page to already be writable after the fault handler ran: %v", err)
	}
}

func TestFatalSignalBroadcastsExitedWithoutRunningSyscall(t *testing.T) {
	tk, sw := newTestTask(t, []trap.SimulatedTrap{
		{Scause: trap.Scause(trap.ExceptionUserEcall), A: [8]uint64{0, 0, 0, 0, 0, 0, 0, nrGetpid}},
	})
	tk.info.RaisePending(SigKill)

	ch, _ := tk.info.Events.Subscribe(1)
	ex := exec.New(1)
	ex.Spawn(exec.FutureFunc(func(cx *exec.Cx) exec.State { return tk.Poll(cx) }), 0)
	ex.Hart(0).RunOnce()

	ev, ok := ch.TryRecv()
	if !ok || ev.Kind != EventExited || ev.Sig != SigKill {
		t.Fatalf("expected an Exited event carrying SIGKILL, got %+v ok=%v", ev, ok)
	}
	if !sw.Exhausted() {
		t.Fatalf("expected no scripted trap consumed: the task should die before yield_to_user")
	}
}

// TestFinishClearsTidAddressOnExit exercises §4.5's "clears the tid-clear
// user pointer if any": a task with HasTidClear set must have that word
// zeroed in its address space by the time its Exited event fires.
func TestFinishClearsTidAddressOnExit(t *testing.T) {
	v, frames, arena := newTestVirt(t)
	anon := phys.NewAnon(frames, arena)
	r, err := v.Map(virt.UserRegion, paging.PageSize, anon, 0, paging.UserRW, true)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	guard, err := v.CommitGuard(0, r, paging.Writable)
	if err != nil {
		t.Fatalf("CommitGuard: %v", err)
	}
	binary.LittleEndian.PutUint64(guard.Buffers()[0].Bytes, 0xdeadbeef)
	guard.Release()

	sw := &trap.FakeSwitcher{Traps: []trap.SimulatedTrap{
		{Scause: trap.Scause(trap.ExceptionUserEcall), A: [8]uint64{0, 0, 0, 0, 0, 0, 0, nrExit}},
	}}
	info := NewInfo(1, nil)
	st := State{
		Virt: v, Sig: NewSigActions(), Files: vfs.NewFileTable(),
		HasTidClear: true, TidClearAddr: r.Start,
	}
	tk := New(info, st, trap.TrapFrame{}, sw, newTestTable(), nil)

	ex := exec.New(1)
	ex.Spawn(exec.FutureFunc(func(cx *exec.Cx) exec.State { return tk.Poll(cx) }), 0)
	for i := 0; i < 10 && !sw.Exhausted(); i++ {
		ex.Hart(0).RunOnce()
	}

	guard2, err := v.CommitGuard(0, r, paging.Readable)
	if err != nil {
		t.Fatalf("CommitGuard: %v", err)
	}
	defer guard2.Release()
	if got := binary.LittleEndian.Uint64(guard2.Buffers()[0].Bytes); got != 0 {
		t.Fatalf("expected tid-clear word zeroed on exit, got %#x", got)
	}
}

func TestCloneSharesVirtWhenCloneVMSet(t *testing.T) {
	tk, _ := newTestTask(t, nil)

	child, err := Clone(tk, CloneVM|CloneFiles|CloneSighand, 0, 2, 0, nil, 2, SigChld)
	if err != nil {
		t.Fatalf("clone: %v", err)
	}
	if child.state.Virt != tk.state.Virt {
		t.Fatalf("expected CLONE_VM to share the parent's Virt")
	}
	if child.state.Files != tk.state.Files {
		t.Fatalf("expected CLONE_FILES to share the parent's file table")
	}
	if child.state.Sig != tk.state.Sig {
		t.Fatalf("expected CLONE_SIGHAND to share the parent's signal actions")
	}
	kids := tk.info.Children()
	if len(kids) != 1 || kids[0] != child.info {
		t.Fatalf("expected the parent's children list to record the new task")
	}
}

func TestForkCopiesVirtFilesAndSigActions(t *testing.T) {
	tk, _ := newTestTask(t, nil)

	ta := newTestArena()
	frames := kalloc.NewAllocator(1, 1)
	newRoot, err := frames.Alloc(0)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	ta.translate(newRoot)
	childWalker := paging.NewWalker(frames, 0, ta.translate)

	child, err := Clone(tk, 0, 0, 2, newRoot, childWalker, 99, SigChld)
	if err != nil {
		t.Fatalf("fork: %v", err)
	}
	if child.state.Virt == tk.state.Virt {
		t.Fatalf("expected a plain fork to copy the Virt, not share it")
	}
	if child.state.Files == tk.state.Files {
		t.Fatalf("expected a plain fork to copy the file table")
	}
	if child.state.Sig == tk.state.Sig {
		t.Fatalf("expected a plain fork to copy the signal actions")
	}
}
