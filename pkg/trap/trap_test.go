package trap

import (
	"errors"
	"testing"

	"github.com/mizu-os/mizu/pkg/errno"
)

// sliceAccessor is a minimal Accessor backed by a plain byte slice, used
// in place of pkg/virt's commit-guard-backed accessor.
type sliceAccessor struct {
	mem   []byte
	valid func(off uint64, n int) bool
}

func (a *sliceAccessor) ReadAt(dst []byte, off uint64) (int, uint64, bool) {
	if !a.valid(off, len(dst)) {
		return 0, off, false
	}
	n := copy(dst, a.mem[off:])
	return n, 0, true
}

func (a *sliceAccessor) WriteAt(src []byte, off uint64) (int, uint64, bool) {
	if !a.valid(off, len(src)) {
		return 0, off, false
	}
	n := copy(a.mem[off:], src)
	return n, 0, true
}

func (a *sliceAccessor) ZeroAt(off uint64, n int) (uint64, bool) {
	if !a.valid(off, n) {
		return off, false
	}
	for i := 0; i < n; i++ {
		a.mem[off+uint64(i)] = 0
	}
	return 0, true
}

func (a *sliceAccessor) LoadU32At(off uint64) (uint32, uint64, bool) {
	if !a.valid(off, 4) {
		return 0, off, false
	}
	var v uint32
	for i := 0; i < 4; i++ {
		v |= uint32(a.mem[off+uint64(i)]) << (8 * i)
	}
	return v, 0, true
}

func TestCheckedCopySuccess(t *testing.T) {
	acc := &sliceAccessor{
		mem:   []byte("hello world"),
		valid: func(off uint64, n int) bool { return off+uint64(n) <= 11 },
	}
	dst := make([]byte, 5)
	n, err := CheckedCopy(0, acc, dst, 0)
	if err != nil || n != 5 || string(dst) != "hello" {
		t.Fatalf("got n=%d err=%v dst=%q", n, err, dst)
	}
}

func TestCheckedCopyFaultSetsUAFault(t *testing.T) {
	const hart = 1
	acc := &sliceAccessor{
		mem:   make([]byte, 4),
		valid: func(off uint64, n int) bool { return off+uint64(n) <= 4 },
	}
	dst := make([]byte, 8)
	_, err := CheckedCopy(hart, acc, dst, 0)
	if !errors.Is(err, errno.EFAULT) {
		t.Fatalf("expected EFAULT, got %v", err)
	}
	if got := UAFault.Get(hart); got != 0 {
		t.Fatalf("expected fault offset 0, got %d", got)
	}
}

func TestCheckedZeroAndLoadU32(t *testing.T) {
	acc := &sliceAccessor{
		mem:   []byte{1, 2, 3, 4, 5, 6, 7, 8},
		valid: func(off uint64, n int) bool { return off+uint64(n) <= 8 },
	}
	if err := CheckedZero(0, acc, 0, 4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, err := CheckedLoadU32(0, acc, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := uint32(5) | uint32(6)<<8 | uint32(7)<<16 | uint32(8)<<24
	if v != want {
		t.Fatalf("got %x want %x", v, want)
	}
}

func TestFakeSwitcherPlaysBackTrapsUntilFastCompletes(t *testing.T) {
	sw := &FakeSwitcher{Traps: []SimulatedTrap{
		{Scause: InterruptSupervisorTimer | (1 << 63), A: [8]uint64{}},
		{Scause: ExceptionUserEcall, A: [8]uint64{1, 2, 3}},
	}}
	var tf TrapFrame
	calls := 0
	sw.SwitchToUser(&tf, func(tf *TrapFrame) bool {
		calls++
		return tf.Scause().Code() == ExceptionUserEcall
	})
	if calls != 2 {
		t.Fatalf("expected fast called twice (timer tick swallowed, ecall completes), got %d", calls)
	}
	if tf.Scause().Code() != ExceptionUserEcall {
		t.Fatalf("expected frame left at the ecall trap, got %v", tf.Scause())
	}
	if tf.A(0) != 1 || tf.A(1) != 2 || tf.A(2) != 3 {
		t.Fatalf("expected ecall args copied into frame, got %v", tf.Regs[regA0:regA0+3])
	}
}

func TestUserCxArgsAndSetRet(t *testing.T) {
	var tf TrapFrame
	tf.SetA(0, 10)
	tf.SetA(1, 20)
	tf.Regs[regScause] = ExceptionUserEcall

	cx := NewUserCx[int](&tf)
	args := cx.Args()
	if args[0] != 10 || args[1] != 20 {
		t.Fatalf("unexpected args: %v", args)
	}
	cx.SetRet(-errno.EBADF.No(), func(v int) uint64 { return uint64(int64(v)) })
	if got := int64(tf.A(0)); got != -int64(errno.EBADF.No()) {
		t.Fatalf("expected a0 to hold -EBADF, got %d", got)
	}
}

func TestKernelTrapTableDispatch(t *testing.T) {
	table := NewKernelTrapTable()
	var ticked bool
	table.Register(InterruptSupervisorTimer, func(tf *TrapFrame) { ticked = true })

	var tf TrapFrame
	tf.Regs[regScause] = uint64(InterruptSupervisorTimer) | uint64(1<<63)
	if !table.Dispatch(&tf) {
		t.Fatalf("expected a registered handler to be dispatched")
	}
	if !ticked {
		t.Fatalf("expected timer handler to run")
	}

	var other TrapFrame
	other.Regs[regScause] = ExceptionStorePageFault
	if table.Dispatch(&other) {
		t.Fatalf("expected no handler for an unregistered cause")
	}
}
