// Package phys implements the tree-structured copy-on-write page cache
// described in §3/§4.3: a Phys is a cached view of a logical byte range
// whose pages are materialised on demand from either a parent Phys or a
// backend byte stream, with writes either passed through or privately
// copied depending on the cow flag inherited down the tree.
//
// Grounded on gvisor's pgalloc.MemoryFile frame bookkeeping (pin count,
// dirty flag, LRU position — _examples/other_examples/yaumn-gvisor__pgalloc.go) combined
// with mm.MemoryManager's private/shared distinction
// (_examples/google-gvisor/pkg/sentry/mm/pma.go), translated from gvisor's single global
// frame file + per-vma private/shared bit into the spec's per-Phys tree
// of parent links, since this kernel has no single MemoryManager: every
// address space's mappings point at their own Phys tree.
package phys

import (
	"sync"

	"github.com/mizu-os/mizu/pkg/exec"
	"github.com/mizu-os/mizu/pkg/kalloc"
)

// Index is a page offset into a Phys's logical byte range, in units of
// kalloc.PageSize.
type Index int64

// entry is one resident page in a Phys's frame table.
type entry struct {
	frame kalloc.FrameNo
	pin   int
	dirty bool
	lru   uint64
}

// link is what a Phys escalates a miss to: either another Phys (the
// common case — a clone's branch parent, or a plain private Phys's
// backing Phys) or a raw backend byte stream (the root of a tree).
type link struct {
	parent  *Phys
	backend Io
}

// Phys is a cached view of a logical byte range. The zero value is not
// usable; construct with NewRoot or Clone.
type Phys struct {
	mu sync.Mutex

	alloc *kalloc.Allocator
	arena *Arena

	up   link
	cow  bool
	// branch is true for the synthetic merge nodes Clone creates: a
	// branch starts with exactly two children (the original and the new
	// clone) and holds the pages the original had resident at the time
	// of the Clone, plus whatever either child commits through it. See
	// compactParentChain in clone.go for why chains of these need pruning.
	branch   bool
	children []*Phys

	table    map[Index]*entry
	lruClock uint64

	dirty   map[Index]struct{}
	flusher *flusher
}

// NewRoot creates a Phys backed directly by an Io byte stream, the root
// of a tree (e.g. a mapped file's Phys, or an anonymous Phys backed by
// an always-zero/never-read-through Io).
func NewRoot(alloc *kalloc.Allocator, arena *Arena, backend Io, cow bool) *Phys {
	return &Phys{
		alloc: alloc,
		arena: arena,
		up:    link{backend: backend},
		cow:   cow,
		table: make(map[Index]*entry),
		dirty: make(map[Index]struct{}),
	}
}

// NewAnon creates a cow Phys with no backend: misses are satisfied by a
// freshly zeroed frame rather than a read, the shape every private
// anonymous mapping (stacks, heap, MAP_ANONYMOUS) uses.
func NewAnon(alloc *kalloc.Allocator, arena *Arena) *Phys {
	return &Phys{
		alloc: alloc,
		arena: arena,
		up:    link{backend: zeroIO{}},
		cow:   true,
		table: make(map[Index]*entry),
		dirty: make(map[Index]struct{}),
	}
}

func newChild(parent *Phys, cow bool) *Phys {
	return &Phys{
		alloc: parent.alloc,
		arena: parent.arena,
		up:    link{parent: parent},
		cow:   cow,
		table: make(map[Index]*entry),
		dirty: make(map[Index]struct{}),
	}
}

// Commit materialises the frame backing idx, consulting this Phys's own
// table first, then escalating to its parent or backend on a miss, per
// §4.3. Escalation never eagerly copies the whole chain; only the
// requested index is pulled down, and the entry is marked copy-on-write
// (pin shared, dirty=false) when it was inherited from a shared
// ancestor rather than freshly allocated.
func (p *Phys) Commit(hart int, idx Index) (kalloc.FrameNo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.commitLocked(hart, idx)
}

func (p *Phys) commitLocked(hart int, idx Index) (kalloc.FrameNo, error) {
	p.compactParentChain()
	if e, ok := p.table[idx]; ok {
		p.lruClock++
		e.lru = p.lruClock
		return e.frame, nil
	}

	frame, inherited, err := p.resolveMiss(hart, idx)
	if err != nil {
		return 0, err
	}
	p.lruClock++
	p.table[idx] = &entry{frame: frame, dirty: !inherited && p.up.backend == nil, lru: p.lruClock}
	return frame, nil
}

// resolveMiss finds the frame for idx from this Phys's parent/backend,
// without taking p.mu (the caller already holds it) but acquiring
// whatever lock the parent needs of its own. inherited reports whether
// the frame came from a shared ancestor (and should be left clean,
// marked cow) as opposed to being freshly allocated and zeroed for an
// anonymous miss.
func (p *Phys) resolveMiss(hart int, idx Index) (frame kalloc.FrameNo, inherited bool, err error) {
	if p.up.parent != nil {
		f, err := p.up.parent.Commit(hart, idx)
		if err != nil {
			return 0, false, err
		}
		return f, true, nil
	}

	f, err := p.alloc.Alloc(hart)
	if err != nil {
		return 0, false, err
	}
	if err := p.up.backend.ReadAt(p.arena.Bytes(f), int64(idx)*kalloc.PageSize); err != nil {
		p.alloc.Free(hart, f)
		return 0, false, err
	}
	return f, false, nil
}

// Write obtains a privately-owned, writable frame backing idx: if the
// resident entry is shared (cow, not yet privately copied), a fresh
// frame is allocated and the contents duplicated before the copy is
// installed, exactly as RISC-V Sv39's CoW fault handler would; the
// caller (pkg/virt's fault path) then rewrites the PTE to point at the
// returned frame with write permission.
func (p *Phys) Write(hart int, idx Index) (kalloc.FrameNo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.table[idx]; !ok {
		if _, err := p.commitLocked(hart, idx); err != nil {
			return 0, err
		}
	}
	e := p.table[idx]

	// A page is already privately owned either because this Phys isn't
	// cow at all (writes always pass through) or because it was already
	// privatised by an earlier Write (dirty=true). Either way reuse it.
	if !p.cow || e.dirty {
		e.dirty = true
		p.markDirty(idx)
		return e.frame, nil
	}

	newFrame, err := p.alloc.Alloc(hart)
	if err != nil {
		return 0, err
	}
	copy(p.arena.Bytes(newFrame), p.arena.Bytes(e.frame))
	p.table[idx] = &entry{frame: newFrame, dirty: true, lru: p.lruClock}
	p.markDirty(idx)
	return newFrame, nil
}

func (p *Phys) markDirty(idx Index) {
	p.dirty[idx] = struct{}{}
}

// ReadPage commits idx and copies its current contents into dst, the
// path pkg/virt's commit guard and pkg/vfs's Phys-backed Io use instead
// of reaching into the Arena directly.
func (p *Phys) ReadPage(hart int, idx Index, dst []byte) error {
	f, err := p.Commit(hart, idx)
	if err != nil {
		return err
	}
	copy(dst, p.arena.Bytes(f))
	return nil
}

// WritePage obtains a private frame for idx via Write and copies src
// into it.
func (p *Phys) WritePage(hart int, idx Index, src []byte) error {
	f, err := p.Write(hart, idx)
	if err != nil {
		return err
	}
	copy(p.arena.Bytes(f), src)
	return nil
}

// FrameBytes commits idx and returns a slice aliasing its frame's bytes
// directly, standing in for the kernel identity map a commit guard hands
// out real pointers through on the target: the slice observes and is
// observed by every subsequent Read/WritePage on the same frame until the
// next Write privatises it. Callers that need a stable, non-aliasing
// snapshot must use ReadPage instead.
func (p *Phys) FrameBytes(hart int, idx Index, writable bool) (kalloc.FrameNo, []byte, error) {
	if writable {
		f, err := p.Write(hart, idx)
		if err != nil {
			return 0, nil, err
		}
		return f, p.arena.Bytes(f), nil
	}
	f, err := p.Commit(hart, idx)
	if err != nil {
		return 0, nil, err
	}
	return f, p.arena.Bytes(f), nil
}

// Stats reports resident/dirty page counts and the sum of pin counts,
// mirroring gvisor's MemoryFile.TotalUsage debug introspection.
type Stats struct {
	Resident int
	Dirty    int
	Pinned   int
}

// Stats returns a snapshot of this Phys's frame table.
func (p *Phys) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	var s Stats
	s.Resident = len(p.table)
	s.Dirty = len(p.dirty)
	for _, e := range p.table {
		s.Pinned += e.pin
	}
	return s
}

// EnableFlusher attaches a background flusher to this Phys (which must
// be a backend-backed root) and returns its run loop as an exec.Future
// for the caller to spawn once at boot.
func (p *Phys) EnableFlusher(queueDepth int) exec.Future {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flusher = newFlusher(p.up.backend, queueDepth)
	return p.flusher.Task()
}

// Pin increments idx's pin count, keeping its frame resident and
// immune to eviction until a matching Unpin, the contract pkg/virt's
// commit guard relies on while it holds slices into committed frames.
func (p *Phys) Pin(hart int, idx Index) (kalloc.FrameNo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, err := p.commitLocked(hart, idx)
	if err != nil {
		return 0, err
	}
	p.table[idx].pin++
	return f, nil
}

// Unpin decrements idx's pin count.
func (p *Phys) Unpin(idx Index) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.table[idx]; ok && e.pin > 0 {
		e.pin--
	}
}
