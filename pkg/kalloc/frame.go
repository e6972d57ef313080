// Package kalloc is the kernel's physical frame allocator and internal
// heap. Grounded on gvisor's pgalloc.MemoryFile free/used/waste page
// bookkeeping (_examples/other_examples/yaumn-gvisor__pgalloc.go) and the original's
// kalloc crate.
//
// The allocator is lock-free on the hot path: each hart owns a small
// Treiber-stack free-list cache (CAS push/pop); only a cache-miss or a
// cache that has grown beyond its target size touches the shared global
// free list, which is itself a CAS Treiber stack rather than a
// mutex-guarded structure.
package kalloc

import (
	"sync/atomic"

	"github.com/mizu-os/mizu/pkg/errno"
)

// PageSize is the RISC-V Sv39 base page size.
const PageSize = 4096

// FrameNo identifies a physical frame by index (physical address /
// PageSize). Frame 0 is never allocatable (it is used as a sentinel).
type FrameNo uint64

// node is a free-list entry; when a frame is free, its backing memory's
// first machine word (here: a Go field, since we have no raw physical
// memory to borrow) holds the next free frame, exactly the classic
// intrusive free-list trick gvisor's free-range tracking generalizes
// with an interval structure instead. This allocator is simpler: one
// frame, one node.
type node struct {
	next atomic.Pointer[node]
	no   FrameNo
}

// hartCacheDepth bounds how many frames a hart's local cache holds before
// it starts returning surplus frames to the global free stack.
const hartCacheDepth = 64

// hartCache is a lock-free (Treiber stack) per-hart free-list cache.
type hartCache struct {
	top   atomic.Pointer[node]
	depth atomic.Int32
}

func (c *hartCache) push(n *node) bool {
	if c.depth.Load() >= hartCacheDepth {
		return false
	}
	for {
		old := c.top.Load()
		n.next.Store(old)
		if c.top.CompareAndSwap(old, n) {
			c.depth.Add(1)
			return true
		}
	}
}

func (c *hartCache) pop() *node {
	for {
		old := c.top.Load()
		if old == nil {
			return nil
		}
		next := old.next.Load()
		if c.top.CompareAndSwap(old, next) {
			c.depth.Add(-1)
			return old
		}
	}
}

// Allocator is the kernel's lock-free physical frame allocator: a global
// Treiber-stack free pool refilling/draining per-hart caches.
type Allocator struct {
	global atomic.Pointer[node]
	caches []hartCache

	total     FrameNo
	allocated atomic.Int64
}

// NewAllocator creates an Allocator managing `total` frames (frame 0
// through total-1 are all initially free, except frame 0 which is
// reserved), with one lock-free cache per hart.
func NewAllocator(total FrameNo, numHarts int) *Allocator {
	a := &Allocator{total: total, caches: make([]hartCache, numHarts)}
	for i := FrameNo(1); i < total; i++ {
		a.pushGlobal(&node{no: i})
	}
	return a
}

func (a *Allocator) pushGlobal(n *node) {
	for {
		old := a.global.Load()
		n.next.Store(old)
		if a.global.CompareAndSwap(old, n) {
			return
		}
	}
}

func (a *Allocator) popGlobal() *node {
	for {
		old := a.global.Load()
		if old == nil {
			return nil
		}
		next := old.next.Load()
		if a.global.CompareAndSwap(old, next) {
			return old
		}
	}
}

// Alloc returns a free frame, preferring hart's local cache, for the
// lowest-latency common case, and falling back to the shared global pool
// on a cache miss.
func (a *Allocator) Alloc(hart int) (FrameNo, error) {
	if n := a.caches[hart].pop(); n != nil {
		a.allocated.Add(1)
		return n.no, nil
	}
	if n := a.popGlobal(); n != nil {
		a.allocated.Add(1)
		return n.no, nil
	}
	return 0, errno.ENOMEM
}

// Free returns a frame to hart's local cache, spilling to the global pool
// once the cache is at capacity.
func (a *Allocator) Free(hart int, f FrameNo) {
	n := &node{no: f}
	if !a.caches[hart].push(n) {
		a.pushGlobal(n)
	}
	a.allocated.Add(-1)
}

// Allocated reports the number of frames currently allocated (not in any
// free list or cache), for introspection/testing.
func (a *Allocator) Allocated() int64 { return a.allocated.Load() }

// Total reports the total number of frames this Allocator manages.
func (a *Allocator) Total() FrameNo { return a.total }
