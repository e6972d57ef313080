package vfs

import (
	"bytes"
	"testing"

	"github.com/mizu-os/mizu/pkg/exec"
	"github.com/mizu-os/mizu/pkg/kalloc"
	"github.com/mizu-os/mizu/pkg/phys"
)

// TestPhysIoSyncFlushesThroughToBackend exercises the real write-back
// path a Phys-backed vfs file uses: PhysIo.Sync must reach
// phys.Phys.Flush, not be a no-op, or a file's dirty pages never make
// it to its backend.
func TestPhysIoSyncFlushesThroughToBackend(t *testing.T) {
	data := make([]byte, kalloc.PageSize)
	alloc := kalloc.NewAllocator(64, 1)
	arena := phys.NewArena(64)
	backend := phys.NewMemIOFromBytes(data)
	p := phys.NewRoot(alloc, arena, backend, false)
	fut := p.EnableFlusher(8)

	ex := exec.New(1)
	ex.Spawn(fut, 0)

	io := NewPhysIo(0, p)
	page := make([]byte, kalloc.PageSize)
	copy(page, []byte("synced-via-vfs"))
	if err := io.WriteAt(page, 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if p.Stats().Dirty == 0 {
		t.Fatalf("expected the write to have dirtied a page")
	}

	done := make(chan struct{})
	go func() {
		if err := io.Sync(); err != nil {
			t.Errorf("Sync: %v", err)
		}
		close(done)
	}()

loop:
	for i := 0; i < 10000; i++ {
		select {
		case <-done:
			break loop
		default:
			ex.Hart(0).RunOnce()
		}
	}
	<-done

	if p.Stats().Dirty != 0 {
		t.Fatalf("expected Sync to clear the dirty set")
	}
	snap := backend.Snapshot()
	if !bytes.HasPrefix(snap, []byte("synced-via-vfs")) {
		t.Fatalf("expected backend to observe the synced write, got %q", snap[:14])
	}
}
