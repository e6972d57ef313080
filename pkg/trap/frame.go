// Package trap implements the dual-mode trap architecture: the 35-word
// TrapFrame, the symmetric stackful user<->kernel switch, re-entrant
// kernel trap handlers, the typed UserCx syscall-argument view, and the
// checked user-memory-access contract.
//
// Grounded on gvisor's pkg/sentry/arch register-state types and
// platform.Context.Switch (_examples/google-gvisor/pkg/sentry/arch, _examples/google-gvisor/pkg/sentry/platform) —
// gvisor's Context.Switch already is "the symmetric stackful user<->
// kernel switch that returns with scause/stval populated", just
// implemented via ptrace/KVM. This package keeps the same call shape and
// the original's co-trap crate for the exact register set.
package trap

// Register-slot indices into TrapFrame.Regs. The spec's narrative count
// (12 s-registers, the t/a/ra/sp/gp/tp group, scratch, sepc, sstatus,
// stval, scause) totals 36 named registers if gp is counted separately;
// this layout omits GP (the linker-relaxation "global pointer", which
// this kernel never lets user code observe change across a trap) to land
// on the spec's stated 35-word frame.
const (
	regS0 = iota
	regS1
	regS2
	regS3
	regS4
	regS5
	regS6
	regS7
	regS8
	regS9
	regS10
	regS11

	regT0
	regT1
	regT2
	regT3
	regT4
	regT5
	regT6

	regA0
	regA1
	regA2
	regA3
	regA4
	regA5
	regA6
	regA7

	regRA
	regSP
	regTP

	regScratch
	regSepc
	regSstatus
	regStval
	regScause

	NumRegs
)

// Scause is a trap cause value (interrupt bit + exception/interrupt
// code), read out of a TrapFrame after a trap return.
type Scause uint64

const (
	scauseInterruptBit Scause = 1 << 63
)

// IsInterrupt reports whether this cause is an interrupt (timer,
// external) as opposed to a synchronous exception (ecall, page fault).
func (s Scause) IsInterrupt() bool { return s&scauseInterruptBit != 0 }

// Code is the cause code with the interrupt bit masked off.
func (s Scause) Code() uint64 { return uint64(s &^ scauseInterruptBit) }

// Well-known synchronous exception codes this kernel dispatches on.
const (
	ExceptionUserEcall     = 8
	ExceptionInstrPageFault = 12
	ExceptionLoadPageFault  = 13
	ExceptionStorePageFault = 15
)

// Well-known interrupt codes.
const (
	InterruptSupervisorTimer    = 5
	InterruptSupervisorExternal = 9
)

// TrapFrame is the full user-register save area, exactly as described in
// §3: it lives as a stack-local of the owning task future and is never
// heap-allocated or shared. In this Go translation that invariant is
// upheld by convention (pkg/task always holds a TrapFrame as a plain
// struct field of its Task future, beside the task's local State, never
// behind a pointer handed to another goroutine) rather than by the type system,
// since Go has no borrow checker; SPEC_FULL.md's pkg/task docs this.
type TrapFrame struct {
	Regs [NumRegs]uint64
}

func (tf *TrapFrame) S(i int) uint64       { return tf.Regs[regS0+i] }
func (tf *TrapFrame) SetS(i int, v uint64) { tf.Regs[regS0+i] = v }
func (tf *TrapFrame) T(i int) uint64       { return tf.Regs[regT0+i] }
func (tf *TrapFrame) A(i int) uint64       { return tf.Regs[regA0+i] }
func (tf *TrapFrame) SetA(i int, v uint64) { tf.Regs[regA0+i] = v }
func (tf *TrapFrame) RA() uint64           { return tf.Regs[regRA] }
func (tf *TrapFrame) SP() uint64           { return tf.Regs[regSP] }
func (tf *TrapFrame) SetSP(v uint64)       { tf.Regs[regSP] = v }
func (tf *TrapFrame) TP() uint64           { return tf.Regs[regTP] }
func (tf *TrapFrame) Sepc() uint64         { return tf.Regs[regSepc] }
func (tf *TrapFrame) SetSepc(v uint64)     { tf.Regs[regSepc] = v }
func (tf *TrapFrame) Sstatus() uint64      { return tf.Regs[regSstatus] }
func (tf *TrapFrame) Stval() uint64        { return tf.Regs[regStval] }
func (tf *TrapFrame) Scause() Scause       { return Scause(tf.Regs[regScause]) }

// SyscallNo returns a7, the RISC-V ELF syscall ABI's syscall number
// register (§6).
func (tf *TrapFrame) SyscallNo() uint64 { return tf.A(7) }

// SetReturn places v into a0, the syscall/function return-value
// register.
func (tf *TrapFrame) SetReturn(v uint64) { tf.SetA(0, v) }
