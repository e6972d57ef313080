package task

import (
	"encoding/binary"

	"github.com/mizu-os/mizu/pkg/errno"
	"github.com/mizu-os/mizu/pkg/paging"
	"github.com/mizu-os/mizu/pkg/trap"
	"github.com/mizu-os/mizu/pkg/virt"
)

// virtAccessor adapts a virt.CommitGuard's resident page Buffers into
// pkg/trap's Accessor, letting a syscall handler use trap.CheckedCopy/
// CheckedWrite against a user buffer without ever dereferencing a raw
// user pointer itself. Segments are assumed page-aligned and contiguous
// in ascending virtual-address order, true of every CommitGuard built
// from a page-aligned Range — the only shape AccessUser constructs.
type virtAccessor struct {
	segs []virt.Buffer
}

func (a *virtAccessor) segmentAt(off uint64) ([]byte, int, bool) {
	page := int(off / paging.PageSize)
	if page < 0 || page >= len(a.segs) {
		return nil, 0, false
	}
	return a.segs[page].Bytes, int(off % paging.PageSize), true
}

func (a *virtAccessor) ReadAt(dst []byte, off uint64) (int, uint64, bool) {
	copied := 0
	for copied < len(dst) {
		seg, segOff, ok := a.segmentAt(off + uint64(copied))
		if !ok {
			return copied, off + uint64(copied), false
		}
		n := copy(dst[copied:], seg[segOff:])
		copied += n
	}
	return copied, 0, true
}

func (a *virtAccessor) WriteAt(src []byte, off uint64) (int, uint64, bool) {
	copied := 0
	for copied < len(src) {
		seg, segOff, ok := a.segmentAt(off + uint64(copied))
		if !ok {
			return copied, off + uint64(copied), false
		}
		n := copy(seg[segOff:], src[copied:])
		copied += n
	}
	return copied, 0, true
}

func (a *virtAccessor) ZeroAt(off uint64, n int) (uint64, bool) {
	zeroed := 0
	for zeroed < n {
		seg, segOff, ok := a.segmentAt(off + uint64(zeroed))
		if !ok {
			return off + uint64(zeroed), false
		}
		l := len(seg) - segOff
		if l > n-zeroed {
			l = n - zeroed
		}
		for i := 0; i < l; i++ {
			seg[segOff+i] = 0
		}
		zeroed += l
	}
	return 0, true
}

func (a *virtAccessor) LoadU32At(off uint64) (uint32, uint64, bool) {
	var buf [4]byte
	n, faultOff, ok := a.ReadAt(buf[:], off)
	if !ok || n != 4 {
		return 0, faultOff, false
	}
	return binary.LittleEndian.Uint32(buf[:]), 0, true
}

var _ trap.Accessor = (*virtAccessor)(nil)

// AccessUser commits [va, va+n) into the task's address space (read-only
// unless write is set, which privatises any CoW page it touches) and
// returns a trap.Accessor plus a release func the caller must invoke
// once done — the Go rendering of §4.2's checked-stub contract wired to
// this kernel's actual CoW address-space manager instead of a raw
// pointer dereference. A syscall handler only ever sees a *State (not
// the polling exec.Cx), so this reads the hart off s.CurrentHart, which
// Task.Poll keeps current.
func (s *State) AccessUser(va uint64, n int, write bool) (trap.Accessor, func(), error) {
	if n <= 0 {
		return nil, nil, errno.EINVAL
	}
	start := va &^ uint64(paging.PageSize-1)
	end := (va + uint64(n) + paging.PageSize - 1) &^ uint64(paging.PageSize-1)
	access := paging.Readable
	if write {
		access = paging.Writable
	}
	guard, err := s.Virt.CommitGuard(s.CurrentHart, virt.Range{Start: start, End: end}, access)
	if err != nil {
		return nil, nil, err
	}
	acc := &virtAccessor{segs: guard.Buffers()}
	return acc, guard.Release, nil
}
