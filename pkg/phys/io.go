package phys

import (
	"sync"

	"golang.org/x/sys/unix"
)

// Io is a backend byte stream a root Phys reads misses from and the
// flusher writes dirty pages back to — the contract shared with
// pkg/vfs's file interface (§4.3: "an Io backend (readable/writable
// byte stream at offset)").
type Io interface {
	ReadAt(buf []byte, off int64) error
	WriteAt(buf []byte, off int64) error
	Sync() error
}

// zeroIO is the backend for anonymous Phys trees: every read returns
// zeros (the frame arena already starts zeroed, so ReadAt is a no-op),
// and writes are accepted and discarded since an anonymous Phys is
// never flushed to anything.
type zeroIO struct{}

func (zeroIO) ReadAt(buf []byte, off int64) error  { return nil }
func (zeroIO) WriteAt(buf []byte, off int64) error { return nil }
func (zeroIO) Sync() error                         { return nil }

// MemIO is an in-memory Io backend for tests, modeling a growable file.
type MemIO struct {
	mu     sync.Mutex
	bytes  []byte
	synced int
}

// NewMemIO creates an empty MemIO.
func NewMemIO() *MemIO { return &MemIO{} }

// NewMemIOFromBytes creates a MemIO whose initial content is a copy of
// data.
func NewMemIOFromBytes(data []byte) *MemIO {
	b := make([]byte, len(data))
	copy(b, data)
	return &MemIO{bytes: b}
}

func (m *MemIO) ReadAt(buf []byte, off int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if off >= int64(len(m.bytes)) {
		for i := range buf {
			buf[i] = 0
		}
		return nil
	}
	n := copy(buf, m.bytes[off:])
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	return nil
}

func (m *MemIO) WriteAt(buf []byte, off int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	need := off + int64(len(buf))
	if need > int64(len(m.bytes)) {
		grown := make([]byte, need)
		copy(grown, m.bytes)
		m.bytes = grown
	}
	copy(m.bytes[off:], buf)
	return nil
}

func (m *MemIO) Sync() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.synced++
	return nil
}

// Snapshot returns a copy of the backend's current content, for test
// assertions.
func (m *MemIO) Snapshot() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, len(m.bytes))
	copy(out, m.bytes)
	return out
}

// FileIO is a host-file-backed Io that backs a root Phys with a real
// file via pread/pwrite rather than an in-memory buffer. Nothing in
// this module constructs one.
type FileIO struct {
	fd int
}

// NewFileIO wraps an already-open file descriptor.
func NewFileIO(fd int) *FileIO { return &FileIO{fd: fd} }

func (f *FileIO) ReadAt(buf []byte, off int64) error {
	_, err := unix.Pread(f.fd, buf, off)
	return err
}

func (f *FileIO) WriteAt(buf []byte, off int64) error {
	_, err := unix.Pwrite(f.fd, buf, off)
	return err
}

func (f *FileIO) Sync() error {
	return unix.Fsync(f.fd)
}
