// Package virt implements the per-address-space manager of §4.4: the
// range-keyed mapping table, ASLR range allocation, PTE commit, TLB
// shootdown, the user-buffer commit guard, and per-hart address-space
// load.
//
// Grounded on gvisor's usermem.AddrRange arithmetic
// (_examples/google-gvisor/pkg/sentry/usermem) and mm.MemoryManager's vma set
// (_examples/google-gvisor/pkg/sentry/mm/pma.go), with the original's range-map crate's
// interval-tree shape (_examples/original_source/mizu/lib/range-map)
// reimplemented over github.com/google/btree's generic B-tree instead
// of a hand-rolled tree, per DESIGN.md.
package virt

import (
	"github.com/google/btree"

	"github.com/mizu-os/mizu/pkg/paging"
	"github.com/mizu-os/mizu/pkg/phys"
)

// Range is a virtual address range, end-exclusive, in bytes.
type Range struct {
	Start, End uint64
}

// Len returns the range's length in bytes.
func (r Range) Len() uint64 { return r.End - r.Start }

// Overlaps reports whether r and other share any address.
func (r Range) Overlaps(other Range) bool {
	return r.Start < other.End && other.Start < r.End
}

// Mapping is one entry in a Virt's range map: range [Start,End) maps to
// phys starting at StartIndex, with attr the maximum permissions any
// PTE in this range may carry.
type Mapping struct {
	Range      Range
	Phys       *phys.Phys
	StartIndex phys.Index
	Attr       paging.Attr
	// COW marks a mapping whose pages are potentially shared with
	// another Virt (installed by Virt.Fork on both parent and child):
	// Commit always installs a read-only PTE for it regardless of the
	// mapping's declared Attr, and only CommitWrite's privatising fault
	// path may grant Writable.
	COW bool
}

func (m *Mapping) indexFor(va uint64) phys.Index {
	return m.StartIndex + phys.Index((va-m.Range.Start)/paging.PageSize)
}

func mappingLess(a, b *Mapping) bool {
	return a.Range.Start < b.Range.Start
}

// rangeMap is the ordered-by-low-address mapping table, §4.4's "range-
// keyed structure from virtual-address range -> Mapping, ranges
// non-overlapping".
type rangeMap struct {
	tree *btree.BTreeG[*Mapping]
}

func newRangeMap() *rangeMap {
	return &rangeMap{tree: btree.NewG(32, mappingLess)}
}

// insert adds m, which the caller has already verified does not
// overlap any existing mapping.
func (rm *rangeMap) insert(m *Mapping) {
	rm.tree.ReplaceOrInsert(m)
}

// remove deletes the mapping starting exactly at start, if any.
func (rm *rangeMap) remove(start uint64) {
	rm.tree.Delete(&Mapping{Range: Range{Start: start}})
}

// find returns the mapping containing va, if any.
func (rm *rangeMap) find(va uint64) *Mapping {
	var found *Mapping
	rm.tree.DescendLessOrEqual(&Mapping{Range: Range{Start: va}}, func(m *Mapping) bool {
		if va < m.Range.End {
			found = m
		}
		return false
	})
	return found
}

// overlapping calls fn for every mapping that overlaps r, in ascending
// start-address order, stopping early if fn returns false.
func (rm *rangeMap) overlapping(r Range, fn func(*Mapping) bool) {
	rm.tree.AscendRange(
		&Mapping{Range: Range{Start: 0}},
		&Mapping{Range: Range{Start: r.End}},
		func(m *Mapping) bool {
			if m.Range.Overlaps(r) {
				return fn(m)
			}
			return true
		},
	)
}

// anyOverlap reports whether any existing mapping overlaps r.
func (rm *rangeMap) anyOverlap(r Range) bool {
	overlap := false
	rm.overlapping(r, func(*Mapping) bool {
		overlap = true
		return false
	})
	return overlap
}
