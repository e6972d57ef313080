package virt

import (
	"sync"
	"sync/atomic"

	"github.com/mizu-os/mizu/pkg/errno"
	"github.com/mizu-os/mizu/pkg/kalloc"
	"github.com/mizu-os/mizu/pkg/paging"
	"github.com/mizu-os/mizu/pkg/phys"
	"github.com/mizu-os/mizu/pkg/sbi"
)

// MaxHarts bounds cpu_mask's width, matching pkg/hartlocal.MaxHarts.
const MaxHarts = 64

// Virt is one address space: a root page table frame, the range-keyed
// mapping table, and the set of harts that currently have it loaded.
// Grounded on gvisor's mm.MemoryManager (_examples/google-gvisor/pkg/sentry/mm/pma.go),
// generalized from gvisor's host-mmap-backed vma set to this kernel's
// own Sv39 page-table walker and Phys tree.
type Virt struct {
	mu sync.RWMutex

	root    kalloc.FrameNo
	walker  *paging.Walker
	frames  *kalloc.Allocator
	sbiProv sbi.Provider

	rm   *rangeMap
	aslr *aslrAllocator

	cpuMask atomic.Uint64
}

// New creates an empty Virt with the given root page-table frame
// (already allocated and zeroed by the caller), a Walker for PTE
// manipulation, and the SBI provider used for remote TLB shootdown.
func New(root kalloc.FrameNo, frames *kalloc.Allocator, walker *paging.Walker, prov sbi.Provider, aslrSeed int64) *Virt {
	return &Virt{
		root:    root,
		walker:  walker,
		frames:  frames,
		sbiProv: prov,
		rm:      newRangeMap(),
		aslr:    newASLRAllocator(aslrSeed),
	}
}

// Root returns the physical frame holding this address space's root
// page table, the value loaded into satp.
func (v *Virt) Root() kalloc.FrameNo { return v.root }

// Map installs a new Mapping covering an ASLR-chosen range of length
// bytes within region, backed by p starting at startIndex, with the
// maximum attr any PTE in the range may carry. It returns the chosen
// range.
func (v *Virt) Map(region Region, length uint64, p *phys.Phys, startIndex phys.Index, attr paging.Attr, cow bool) (Range, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	start, err := v.aslr.pick(v.rm, region, length)
	if err != nil {
		return Range{}, err
	}
	r := Range{Start: start, End: start + length}
	v.rm.insert(&Mapping{Range: r, Phys: p, StartIndex: startIndex, Attr: attr, COW: cow})
	return r, nil
}

// MapFixed installs a Mapping at an exact, caller-chosen range (used by
// exec to place a binary's segments at their linked addresses), failing
// with EINVAL if it would overlap an existing mapping.
func (v *Virt) MapFixed(r Range, p *phys.Phys, startIndex phys.Index, attr paging.Attr, cow bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.rm.anyOverlap(r) {
		return errno.EINVAL
	}
	v.rm.insert(&Mapping{Range: r, Phys: p, StartIndex: startIndex, Attr: attr, COW: cow})
	return nil
}

// Unmap removes the mapping exactly covering r (which must match a
// prior Map/MapFixed's returned range) and tears down its PTEs,
// shooting down the TLB for the affected range on every hart that has
// this Virt loaded.
func (v *Virt) Unmap(hart int, r Range) error {
	v.mu.Lock()
	m := v.rm.find(r.Start)
	if m == nil || m.Range != r {
		v.mu.Unlock()
		return errno.EINVAL
	}
	v.rm.remove(r.Start)
	for va := r.Start; va < r.End; va += paging.PageSize {
		v.walker.Unmap(v.root, va)
	}
	v.mu.Unlock()

	v.shootdown(hart, &r)
	return nil
}

// Protect updates the attribute ceiling for every mapping overlapping r
// to the intersection of its current attr and newAttr, downgrading any
// already-present PTEs to match and shooting down affected ranges.
func (v *Virt) Protect(hart int, r Range, newAttr paging.Attr) error {
	v.mu.Lock()
	var touched []Range
	v.rm.overlapping(r, func(m *Mapping) bool {
		m.Attr &= newAttr | paging.Valid
		touched = append(touched, m.Range)
		return true
	})
	for va := r.Start; va < r.End; va += paging.PageSize {
		m := v.rm.find(va)
		if m == nil {
			continue
		}
		e, ok := v.walker.Lookup(v.root, va)
		if !ok {
			continue
		}
		attr := e.Attr() & (m.Attr | paging.Valid)
		if e.Attr().IsCOW() {
			attr = attr.MarkCOW()
		}
		v.walker.Protect(v.root, va, attr)
	}
	v.mu.Unlock()

	v.shootdown(hart, &r)
	return nil
}

// Commit implements §4.4's commit: split the request by Mapping, pull
// each covered page into residence via phys.Commit, and install a PTE
// with attr intersected with access. It lazily materialises PTEs — a
// page fault re-enters through Commit for just the faulting page.
func (v *Virt) Commit(hart int, r Range, access paging.Attr) error {
	v.mu.RLock()
	type piece struct {
		m  *Mapping
		va uint64
	}
	var pieces []piece
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
			pieces = append(pieces, piece{m: m, va: va})
		}
		return true
	})
	v.mu.RUnlock()

	if len(pieces) == 0 {
		return errno.EINVAL
	}

	for _, pc := range pieces {
		idx := pc.m.indexFor(pc.va)
		frame, err := pc.m.Phys.Commit(hart, idx)
		if err != nil {
			return err
		}
		attr := pc.m.Attr & (access | paging.Valid)
		if pc.m.COW {
			// Commit only ever installs a read-only, CoW-marked PTE;
			// write access is granted lazily by CommitWrite once the
			// page has actually been privatised.
			attr = attr.MarkCOW()
		}
		if err := v.walker.Map(v.root, pc.va, frame, attr); err != nil {
			return err
		}
	}
	return nil
}

// IsCOWFault reports whether va already has a copy-on-write-marked PTE
// installed, the signal a store-page-fault handler uses to tell "first
// fault-in, install the shared read-only page" apart from "the page is
// already resident but still shared, privatise it" — the two situations
// Commit and CommitWrite each handle, respectively.
func (v *Virt) IsCOWFault(va uint64) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	e, ok := v.walker.Lookup(v.root, va)
	return ok && e.Attr().IsCOW()
}

// CommitWrite is the CoW write-fault path: it calls phys.Write (forcing
// a private copy if the page is still shared) and installs a writable
// PTE, then shoots down stale translations of the old shared frame on
// every hart with this Virt loaded.
func (v *Virt) CommitWrite(hart int, va uint64) error {
	v.mu.RLock()
	m := v.rm.find(va)
	v.mu.RUnlock()
	if m == nil {
		return errno.EINVAL
	}
	if m.Attr&paging.Writable == 0 {
		return errno.EACCES
	}

	idx := m.indexFor(va)
	frame, err := m.Phys.Write(hart, idx)
	if err != nil {
		return err
	}
	if err := v.walker.Map(v.root, va, frame, m.Attr.ClearCOW()|paging.Writable); err != nil {
		return err
	}
	r := Range{Start: va, End: va + paging.PageSize}
	v.shootdown(hart, &r)
	return nil
}

// noHart is passed to shootdown by callers (like Fork) that have no
// "currently running on this address space" hart to treat specially —
// every hart in cpu_mask is then shot down remotely.
const noHart = -1

// shootdown issues a local sfence.vma (if this hart has the address
// space loaded) and an SBI remote_sfence_vma (falling back to
// round-robin local fences per pkg/sbi) for every OTHER hart in
// cpu_mask, covering rng. A nil rng means "the whole address space".
func (v *Virt) shootdown(hart int, rng *Range) {
	mask := v.cpuMask.Load()
	var others []int
	for h := 0; h < MaxHarts; h++ {
		if mask&(1<<uint(h)) == 0 || h == hart {
			continue
		}
		others = append(others, h)
	}

	var sbiRange *sbi.AddrRange
	if rng != nil {
		sbiRange = &sbi.AddrRange{Start: rng.Start, End: rng.End}
	}

	if mask&(1<<uint(hart)) != 0 {
		localSfence(hart, sbiRange)
	}
	if len(others) > 0 {
		sbi.RemoteFenceVMAOrFallback(v.sbiProv, others, sbiRange, localSfence)
	}
}

// localSfence is overridable by tests; the real target wires this to
// the sfence.vma instruction.
var localSfence sbi.LocalFence = func(hart int, rng *sbi.AddrRange) {}
