package kalloc

import (
	"errors"
	"sync"
	"testing"

	"github.com/mizu-os/mizu/pkg/errno"
)

func TestAllocatorExhaustionReturnsENOMEM(t *testing.T) {
	a := NewAllocator(4, 1) // frame 0 reserved, 3 allocatable
	for i := 0; i < 3; i++ {
		if _, err := a.Alloc(0); err != nil {
			t.Fatalf("alloc %d: unexpected error %v", i, err)
		}
	}
	if _, err := a.Alloc(0); !errors.Is(err, errno.ENOMEM) {
		t.Fatalf("expected ENOMEM once exhausted, got %v", err)
	}
}

func TestAllocatorFreeThenRealloc(t *testing.T) {
	a := NewAllocator(4, 1)
	f, err := a.Alloc(0)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	a.Free(0, f)
	if _, err := a.Alloc(0); err != nil {
		t.Fatalf("realloc after free: %v", err)
	}
}

func TestAllocatorConcurrentAllocFreeNoDoubleAllocation(t *testing.T) {
	const total = 1000
	a := NewAllocator(total+1, 4)
	seen := make(chan FrameNo, total)
	var wg sync.WaitGroup
	for h := 0; h < 4; h++ {
		h := h
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				f, err := a.Alloc(h)
				if err != nil {
					return
				}
				seen <- f
			}
		}()
	}
	wg.Wait()
	close(seen)

	counts := make(map[FrameNo]int)
	for f := range seen {
		counts[f]++
	}
	for f, c := range counts {
		if c != 1 {
			t.Fatalf("frame %d allocated %d times, want 1", f, c)
		}
	}
	if len(counts) != total {
		t.Fatalf("allocated %d distinct frames, want %d", len(counts), total)
	}
}

func TestHeapAllocFreeReuse(t *testing.T) {
	h := NewHeap(1)
	obj, err := h.Alloc(64)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if got := h.Live(64); got != 1 {
		t.Fatalf("live = %d, want 1", got)
	}
	h.Free(64, obj)
	if got := h.Live(64); got != 0 {
		t.Fatalf("live after free = %d, want 0", got)
	}
	if _, err := h.Alloc(64); err != nil {
		t.Fatalf("realloc: %v", err)
	}
}

func TestHeapCapacityEnforced(t *testing.T) {
	h := NewHeap(1) // 4096 bytes total
	for i := 0; i < 4; i++ {
		if _, err := h.Alloc(1024); err != nil {
			t.Fatalf("alloc %d: %v", i, err)
		}
	}
	if _, err := h.Alloc(1024); !errors.Is(err, errno.ENOMEM) {
		t.Fatalf("expected ENOMEM past capacity, got %v", err)
	}
}
