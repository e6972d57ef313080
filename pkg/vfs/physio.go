package vfs

import (
	"github.com/mizu-os/mizu/pkg/kalloc"
	"github.com/mizu-os/mizu/pkg/phys"
)

// PhysIo adapts a *phys.Phys into a byte-offset-addressed vfs.Io,
// splitting each ReadAt/WriteAt across page boundaries via Phys's
// page-indexed Commit/Write path. This is the seam that lets a mapped
// file's Virt mapping and its FileTable OpenFile read/write through the
// same cached pages rather than keeping two independent copies, the way
// gvisor's fsutil.CachingInodeOperations ties a file's page cache to its
// read/write path.
type PhysIo struct {
	hart int
	p    *phys.Phys
}

// NewPhysIo wraps p for byte-addressed access performed on behalf of
// hart (the allocator's per-hart fast-path cache key).
func NewPhysIo(hart int, p *phys.Phys) *PhysIo {
	return &PhysIo{hart: hart, p: p}
}

const physIoPageSize = kalloc.PageSize

func (io *PhysIo) ReadAt(buf []byte, off int64) error {
	for len(buf) > 0 {
		idx, pageOff, n := splitOffset(off, len(buf))
		if pageOff == 0 && n == physIoPageSize {
			if err := io.p.ReadPage(io.hart, idx, buf[:n]); err != nil {
				return err
			}
		} else {
			var page [physIoPageSize]byte
			if err := io.p.ReadPage(io.hart, idx, page[:]); err != nil {
				return err
			}
			copy(buf[:n], page[pageOff:pageOff+n])
		}
		buf = buf[n:]
		off += int64(n)
	}
	return nil
}

func (io *PhysIo) WriteAt(buf []byte, off int64) error {
	for len(buf) > 0 {
		idx, pageOff, n := splitOffset(off, len(buf))
		if pageOff == 0 && n == physIoPageSize {
			if err := io.p.WritePage(io.hart, idx, buf[:n]); err != nil {
				return err
			}
		} else {
			var page [physIoPageSize]byte
			if err := io.p.ReadPage(io.hart, idx, page[:]); err != nil {
				return err
			}
			copy(page[pageOff:pageOff+n], buf[:n])
			if err := io.p.WritePage(io.hart, idx, page[:]); err != nil {
				return err
			}
		}
		buf = buf[n:]
		off += int64(n)
	}
	return nil
}

// Sync flushes every dirty page through to the backing Phys tree's
// root flusher (a no-op if the root has none attached via
// phys.Phys.EnableFlusher).
func (io *PhysIo) Sync() error {
	io.p.Flush(io.hart)
	return nil
}

// splitOffset returns the page index containing off, the byte offset
// within that page, and how many of remaining bytes fall within it.
func splitOffset(off int64, remaining int) (phys.Index, int, int) {
	idx := phys.Index(off / physIoPageSize)
	pageOff := int(off % physIoPageSize)
	n := physIoPageSize - pageOff
	if n > remaining {
		n = remaining
	}
	return idx, pageOff, n
}
