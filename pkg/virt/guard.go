package virt

import (
	"github.com/mizu-os/mizu/pkg/errno"
	"github.com/mizu-os/mizu/pkg/paging"
)

// Buffer is one contiguous piece of a CommitGuard's view into user
// memory: Bytes aliases the underlying frame directly (pkg/phys's
// identity-map stand-in), so writes through it are writes to the
// committed page.
type Buffer struct {
	VA    uint64
	Bytes []byte
}

// CommitGuard is §4.4's "user-buffer safety" guard: while one is held,
// Map/Unmap/Protect/Fork on the owning Virt block, because they all take
// v.mu for writing and a CommitGuard holds it for reading — the same
// sync.RWMutex that already serialises every layout change against
// Commit/CommitWrite gives the guard its "no unmap out from under me"
// guarantee for free. This is simpler than a literal read-to-write
// upgradable lock, and sufficient: nothing in this kernel needs a guard
// to itself change the Virt's layout while held.
type CommitGuard struct {
	bufs    []Buffer
	release func()
}

// CommitGuard takes the range r (which must lie within mappings already
// present) and returns a guard populating Buffers over every resident
// page: access determines whether pages are pulled in writable (forcing
// CoW privatisation) or read-only. The caller must call Release exactly
// once. For the duration, v.Map/Unmap/Protect/Fork block until Release.
func (v *Virt) CommitGuard(hart int, r Range, access paging.Attr) (*CommitGuard, error) {
	v.mu.RLock()

	var bufs []Buffer
	var fail error
	v.rm.overlapping(r, func(m *Mapping) bool {
		lo := r.Start
		if m.Range.Start > lo {
			lo = m.Range.Start
		}
		hi := r.End
		if m.Range.End < hi {
			hi = m.Range.End
		}
		for va := lo; va < hi; va += paging.PageSize {
			idx := m.indexFor(va)
			writable := access&paging.Writable != 0
			if writable && !m.Attr.SupersetOf(paging.Writable) {
				fail = errno.EACCES
				return false
			}
			frame, b, err := m.Phys.FrameBytes(hart, idx, writable)
			if err != nil {
				fail = err
				return false
			}
			attr := m.Attr & (access | paging.Valid)
			if m.COW && !writable {
				attr = attr.MarkCOW()
			}
			if err := v.walker.Map(v.root, va, frame, attr); err != nil {
				fail = err
				return false
			}
			bufs = append(bufs, Buffer{VA: va, Bytes: b})
		}
		return true
	})

	if fail != nil {
		v.mu.RUnlock()
		return nil, fail
	}
	if len(bufs) == 0 {
		v.mu.RUnlock()
		return nil, errno.EINVAL
	}

	g := &CommitGuard{bufs: bufs, release: v.mu.RUnlock}
	return g, nil
}

// Buffers returns the guard's resident slices, in ascending VA order.
func (g *CommitGuard) Buffers() []Buffer { return g.bufs }

// Release drops the guard, unblocking any Map/Unmap/Protect/Fork that
// was waiting on this Virt. Safe to call at most once.
func (g *CommitGuard) Release() {
	g.release()
}
