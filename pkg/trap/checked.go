package trap

import (
	"github.com/mizu-os/mizu/pkg/errno"
	"github.com/mizu-os/mizu/pkg/hartlocal"
)

// UAFault is the per-hart UA_FAULT slot: the address the checked stubs
// record when a user-memory access faults, per §4.2's "a per-hart
// thread-local UA_FAULT holds a resume address". On the real target the
// kernel trap handler rewrites sepc to this resume address when it sees
// a fault on an instruction inside a checked stub; this Go translation
// has no instruction-pointer rewriting to do (there is no asm stub to
// fault inside), so UAFault instead simply records the faulting address
// for the caller to inspect, preserving the externally observable half
// of the contract (§8: "on any user fault within them, control resumes
// at UA_FAULT with the faulting address in the first return slot").
var UAFault hartlocal.Local[uint64]

// Accessor is the narrow view over committed user memory the checked
// stubs operate against — backed, in the real kernel, by the commit
// guard's kernel-identity-mapped slices (pkg/virt), and in tests by a
// plain byte slice. Each method reports the faulting user-visible offset
// and ok=false on a bounds violation, standing in for "the stub's caller
// thus gets a Result-like outcome without longjmp and without
// allocating."
type Accessor interface {
	ReadAt(dst []byte, off uint64) (n int, faultOff uint64, ok bool)
	WriteAt(src []byte, off uint64) (n int, faultOff uint64, ok bool)
	ZeroAt(off uint64, n int) (faultOff uint64, ok bool)
	LoadU32At(off uint64) (v uint32, faultOff uint64, ok bool)
}

// CheckedCopy is the Go analogue of the _checked_copy asm stub: copies
// from the user accessor into dst, converting any fault into EFAULT and
// recording the faulting offset in UAFault.
func CheckedCopy(hart int, acc Accessor, dst []byte, off uint64) (int, error) {
	n, faultOff, ok := acc.ReadAt(dst, off)
	if !ok {
		UAFault.Set(hart, faultOff)
		return n, errno.EFAULT
	}
	return n, nil
}

// CheckedWrite is the dual of CheckedCopy for writes into user memory.
func CheckedWrite(hart int, acc Accessor, src []byte, off uint64) (int, error) {
	n, faultOff, ok := acc.WriteAt(src, off)
	if !ok {
		UAFault.Set(hart, faultOff)
		return n, errno.EFAULT
	}
	return n, nil
}

// CheckedZero is the Go analogue of _checked_zero.
func CheckedZero(hart int, acc Accessor, off uint64, n int) error {
	faultOff, ok := acc.ZeroAt(off, n)
	if !ok {
		UAFault.Set(hart, faultOff)
		return errno.EFAULT
	}
	return nil
}

// CheckedLoadU32 is the Go analogue of _checked_load_u32.
func CheckedLoadU32(hart int, acc Accessor, off uint64) (uint32, error) {
	v, faultOff, ok := acc.LoadU32At(off)
	if !ok {
		UAFault.Set(hart, faultOff)
		return 0, errno.EFAULT
	}
	return v, nil
}
