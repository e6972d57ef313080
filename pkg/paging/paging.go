// Package paging implements the Sv39 three-level page table format: PTE
// bit layout, encode/decode, and table walk/map/unmap/protect. TLB
// shootdown after a PTE change is not done here: pkg/virt issues it
// through pkg/sbi.
//
// Grounded on the original's paging crate (entry.rs/consts.rs) for the
// exact bit layout — the distilled spec is silent on it — generalized
// from gvisor's amd64 4-level PTE-walking style
// (_examples/google-gvisor/pkg/sentry/mm/pma.go) to RISC-V's 3-level Sv39 format.
package paging

import (
	"github.com/mizu-os/mizu/pkg/errno"
	"github.com/mizu-os/mizu/pkg/kalloc"
)

// Sv39 geometry.
const (
	PageShift     = 12
	PageSize      = 1 << PageShift
	EntriesPerTbl = 512 // 4096 / 8
	Levels        = 3
)

// Attr is the PTE permission/flag bitset, bit-compatible with the RISC-V
// Sv39 PTE layout (V/R/W/X/U/G/A/D in the low 8 bits).
type Attr uint16

const (
	Valid Attr = 1 << iota
	Readable
	Writable
	Executable
	UserAccess
	Global
	Accessed
	Dirty

	// cowMarker reuses a reserved software bit (bit 8, RSW) to mark a
	// PTE as copy-on-write-pending: present as read-only to the
	// hardware, but semantically writable once privately copied. It is
	// never visible to hardware checks, only to pkg/virt's fault path.
	cowMarker Attr = 1 << 8

	KernelR  = Valid | Readable | Global
	KernelRW = KernelR | Writable
	KernelRX = KernelR | Executable
	UserRW   = Valid | Readable | Writable | UserAccess
	UserRX   = Valid | Readable | Executable | UserAccess
)

// SupersetOf reports whether a contains every bit set in other — used to
// check "PTE.attr <= Mapping.attr" style invariants (§3, §8).
func (a Attr) SupersetOf(other Attr) bool {
	return other&^a == 0
}

// MarkCOW returns attr with the copy-on-write marker set and Writable
// cleared, the "present read-only, privately-writable-on-fault" PTE
// shape fork() installs on both parent and child.
func (a Attr) MarkCOW() Attr {
	return (a &^ Writable) | cowMarker
}

// IsCOW reports whether the copy-on-write marker is set.
func (a Attr) IsCOW() bool { return a&cowMarker != 0 }

// ClearCOW returns attr with the marker removed and Writable restored,
// the PTE installed once a CoW fault has privately copied the page.
func (a Attr) ClearCOW() Attr {
	return (a &^ cowMarker) | Writable
}

// Entry is one raw Sv39 page table entry.
type Entry uint64

const (
	ppnShift = 10
	flagMask = 0x3FF // bits [9:0]: V R W X U G A D + 2 reserved-for-software
)

// NewEntry encodes a leaf or table-pointer PTE from a frame number and
// attributes.
func NewEntry(frame kalloc.FrameNo, attr Attr) Entry {
	return Entry(uint64(frame)<<ppnShift | uint64(attr&flagMask))
}

// Frame extracts the physical frame number from a PTE.
func (e Entry) Frame() kalloc.FrameNo { return kalloc.FrameNo(uint64(e) >> ppnShift) }

// Attr extracts the attribute bits from a PTE.
func (e Entry) Attr() Attr { return Attr(uint64(e) & flagMask) }

// IsLeaf reports whether the PTE maps a page directly (R, W, or X set)
// as opposed to pointing at a next-level table.
func (e Entry) IsLeaf() bool {
	return e.Attr()&(Readable|Writable|Executable) != 0
}

// Table is one level of the Sv39 page table, exactly one physical page
// (512 8-byte entries).
type Table struct {
	Entries [EntriesPerTbl]Entry
}

// VPN extracts the level-th virtual page number (0 = innermost/Sv39
// level-0, 2 = root) from a virtual address.
func VPN(va uint64, level int) uint64 {
	return (va >> (PageShift + 9*level)) & 0x1FF
}

// Walker walks/maps Sv39 page tables, allocating intermediate tables
// from a frame allocator and translating frame numbers to kernel-visible
// *Table pointers via a caller-supplied identity map function (on real
// hardware, physical memory is identity-mapped into the kernel's high
// half; in the host-test build, a Walker is handed a plain translator
// over a simulated physical memory arena).
type Walker struct {
	frames    *kalloc.Allocator
	hart      int
	translate func(kalloc.FrameNo) *Table
}

// NewWalker creates a Walker that allocates page-table frames from
// frames (attributing the allocation to hart) and resolves frame numbers
// to Table pointers via translate.
func NewWalker(frames *kalloc.Allocator, hart int, translate func(kalloc.FrameNo) *Table) *Walker {
	return &Walker{frames: frames, hart: hart, translate: translate}
}

// Map installs a leaf PTE for va in the tree rooted at root, allocating
// intermediate tables as needed. It returns errno.ENOMEM if a table
// frame could not be allocated.
func (w *Walker) Map(root kalloc.FrameNo, va uint64, frame kalloc.FrameNo, attr Attr) error {
	table := w.translate(root)
	for level := Levels - 1; level > 0; level-- {
		idx := VPN(va, level)
		e := table.Entries[idx]
		if e.Attr()&Valid == 0 {
			next, err := w.frames.Alloc(w.hart)
			if err != nil {
				return err
			}
			table.Entries[idx] = NewEntry(next, Valid)
			table = w.translate(next)
			continue
		}
		if e.IsLeaf() {
			// A huge-page mapping already occupies this range at a
			// higher level; Sv39 superpages are out of scope for this
			// kernel's mapping granularity (always 4 KiB leaves).
			return errno.EINVAL
		}
		table = w.translate(e.Frame())
	}
	idx := VPN(va, 0)
	table.Entries[idx] = NewEntry(frame, attr|Valid)
	return nil
}

// Unmap clears the leaf PTE for va, if present. It does not free
// intermediate tables that become empty (left for a future compaction
// pass, matching the original's lazy approach to intermediate-table
// reclamation).
func (w *Walker) Unmap(root kalloc.FrameNo, va uint64) {
	table := w.translate(root)
	for level := Levels - 1; level > 0; level-- {
		idx := VPN(va, level)
		e := table.Entries[idx]
		if e.Attr()&Valid == 0 {
			return
		}
		table = w.translate(e.Frame())
	}
	table.Entries[VPN(va, 0)] = 0
}

// Lookup returns the leaf PTE for va, if mapped.
func (w *Walker) Lookup(root kalloc.FrameNo, va uint64) (Entry, bool) {
	table := w.translate(root)
	for level := Levels - 1; level > 0; level-- {
		idx := VPN(va, level)
		e := table.Entries[idx]
		if e.Attr()&Valid == 0 {
			return 0, false
		}
		table = w.translate(e.Frame())
	}
	e := table.Entries[VPN(va, 0)]
	if e.Attr()&Valid == 0 {
		return 0, false
	}
	return e, true
}

// Protect replaces the attributes of an already-present leaf PTE for va
// with newAttr (plus Valid), preserving the frame mapping; the result
// may carry bits the old PTE lacked. Returns false if no leaf was
// present.
func (w *Walker) Protect(root kalloc.FrameNo, va uint64, newAttr Attr) bool {
	e, ok := w.Lookup(root, va)
	if !ok {
		return false
	}
	table := w.translate(root)
	for level := Levels - 1; level > 0; level-- {
		idx := VPN(va, level)
		te := table.Entries[idx]
		table = w.translate(te.Frame())
	}
	table.Entries[VPN(va, 0)] = NewEntry(e.Frame(), newAttr|Valid)
	return true
}
