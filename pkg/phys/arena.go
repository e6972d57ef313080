package phys

import "github.com/mizu-os/mizu/pkg/kalloc"

// Arena is the host-test stand-in for "physical memory you can address
// by frame number": on the real target a FrameNo is already a physical
// address divided by kalloc.PageSize and content lives at that address;
// this Go translation has no physical address space to index into, so
// Arena holds one PageSize-sized byte slice per frame instead. Every
// Phys sharing a kalloc.Allocator must share the same Arena.
type Arena struct {
	pages [][kalloc.PageSize]byte
}

// NewArena creates an Arena with storage for `total` frames, matching
// the total passed to kalloc.NewAllocator.
func NewArena(total kalloc.FrameNo) *Arena {
	return &Arena{pages: make([][kalloc.PageSize]byte, total)}
}

// Bytes returns the PageSize-byte slice backing frame f.
func (a *Arena) Bytes(f kalloc.FrameNo) []byte {
	return a.pages[f][:]
}
