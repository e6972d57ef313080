package kalloc

import (
	"sync/atomic"

	"github.com/mizu-os/mizu/pkg/errno"
)

// objNode is a free slab entry in the lock-free kernel heap, sized for
// one size class.
type objNode struct {
	next atomic.Pointer[objNode]
}

// sizeClass is a lock-free Treiber-stack free list for objects of a fixed
// size, the kernel-heap analogue of kalloc.hartCache, generalized from
// "one frame" to "one allocation of class size bytes".
type sizeClass struct {
	size int
	top  atomic.Pointer[objNode]
	live atomic.Int64
}

func (c *sizeClass) get() *objNode {
	for {
		old := c.top.Load()
		if old == nil {
			return nil
		}
		if c.top.CompareAndSwap(old, old.next.Load()) {
			return old
		}
	}
}

func (c *sizeClass) put(n *objNode) {
	for {
		old := c.top.Load()
		n.next.Store(old)
		if c.top.CompareAndSwap(old, n) {
			return
		}
	}
}

// Heap is the kernel's lock-free internal allocator for fixed-size
// objects (Task/Phys/queue-node style allocations), layered over a set of
// per-size-class free stacks under a fixed byte budget; it does not draw
// frames from an Allocator. It does
// not implement arbitrary-size malloc/free: the spec's kernel-internal
// allocations (Task, Phys nodes, channel buffers) are all small, bounded,
// and known-size at the call site, so a slab-per-size-class design (the
// same shape gvisor's own short-lived-object pools use, just without
// sync.Pool's GC-driven eviction, since this kernel cannot tolerate a GC
// pause) covers the real need without a general allocator's complexity.
type Heap struct {
	classes map[int]*sizeClass

	capBytes  int64
	liveBytes atomic.Int64
}

// NewHeap creates a Heap whose total live allocation is capped at
// capacityFrames worth of backing memory, the heap-level analogue of the
// frame allocator's fixed frame count: a kernel heap that never grows
// past what the machine actually has.
func NewHeap(capacityFrames FrameNo) *Heap {
	return &Heap{classes: make(map[int]*sizeClass), capBytes: int64(capacityFrames) * PageSize}
}

func (h *Heap) classFor(size int) *sizeClass {
	c, ok := h.classes[size]
	if !ok {
		c = &sizeClass{size: size}
		h.classes[size] = c
	}
	return c
}

// Alloc returns a zero-valued object slot of the requested size class,
// reusing a freed one if available, or reports errno.ENOMEM once the
// heap's capacity is exhausted — the spec's "out-of-memory during kernel
// allocation is fatal for the current task" surfaces as this error,
// which callers in pkg/task convert into task-fatal handling.
func (h *Heap) Alloc(size int) (*objNode, error) {
	c := h.classFor(size)
	if n := c.get(); n != nil {
		c.live.Add(1)
		return n, nil
	}
	if h.liveBytes.Add(int64(size)) > h.capBytes {
		h.liveBytes.Add(int64(-size))
		return nil, errno.ENOMEM
	}
	c.live.Add(1)
	return &objNode{}, nil
}

// Free returns obj to its size class's free list for reuse.
func (h *Heap) Free(size int, obj *objNode) {
	c := h.classFor(size)
	c.live.Add(-1)
	c.put(obj)
}

// Live reports the number of live (allocated, not yet freed) objects in
// the given size class, for leak-detection tests.
func (h *Heap) Live(size int) int64 {
	c, ok := h.classes[size]
	if !ok {
		return 0
	}
	return c.live.Load()
}
