package virt

import (
	"github.com/mizu-os/mizu/pkg/kalloc"
	"github.com/mizu-os/mizu/pkg/paging"
)

// Fork creates a new Virt with the same mapping layout as v, sharing
// every mapping's underlying pages copy-on-write: each Mapping's Phys
// is split via phys.Phys.Clone into v's continued view and the child's
// new view, both marked COW so neither Commit installs a writable PTE
// until CommitWrite privatises a page. Any of v's own PTEs already
// materialised writable are downgraded to read-only+CoW-marked and
// the TLB shot down, so a write through the parent's existing mapping
// also re-enters through CommitWrite.
//
// Grounded on gvisor's address space fork path in
// _examples/google-gvisor/pkg/sentry/kernel/task_exec.go (CopyForExec / fork duplicates the
// MemoryManager's vma set with a cow bit, not the physical pages).
func (v *Virt) Fork(hart int, newRoot kalloc.FrameNo, childWalker *paging.Walker, aslrSeed int64) (*Virt, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	child := New(newRoot, v.frames, childWalker, v.sbiProv, aslrSeed)

	var mappings []*Mapping
	v.rm.tree.Ascend(func(m *Mapping) bool {
		mappings = append(mappings, m)
		return true
	})

	for _, m := range mappings {
		clonedPhys := m.Phys.Clone()
		m.COW = true
		child.rm.insert(&Mapping{
			Range:      m.Range,
			Phys:       clonedPhys,
			StartIndex: m.StartIndex,
			Attr:       m.Attr,
			COW:        true,
		})
		v.downgradeRangeToCOW(m.Range)
	}

	return child, nil
}

// downgradeRangeToCOW rewrites any already-present, writable leaf PTE
// in r to read-only+CoW-marked, without changing the owning Mapping's
// declared Attr ceiling. Caller holds v.mu.
func (v *Virt) downgradeRangeToCOW(r Range) {
	any := false
	for va := r.Start; va < r.End; va += paging.PageSize {
		e, ok := v.walker.Lookup(v.root, va)
		if !ok || e.Attr()&paging.Writable == 0 {
			continue
		}
		v.walker.Protect(v.root, va, e.Attr().MarkCOW())
		any = true
	}
	if any {
		v.shootdown(noHart, &r)
	}
}
