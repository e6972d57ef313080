// Package vfs implements the minimal virtual file system surface this
// kernel needs: path resolution over an in-memory node tree, an Io
// backend contract shared with pkg/phys so a Phys-backed file and a raw
// device satisfy the same interface, and the per-task FileTable that
// pkg/task's State holds.
//
// Grounded on gvisor's pkg/sentry/vfs layering (mount points,
// FileDescription, reference-counted open files —
// _examples/google-gvisor/pkg/sentry/kernel/task.go's fdTable usage) scaled down to this
// module's smaller scope, and the original's umifs/umio crates for the
// trait shape. A FAT32 or other on-disk format adapter is out of scope;
// this package only specifies the seam (Io) such an adapter would
// implement.
package vfs

// Io is a byte-addressable backend a file's content is read from and
// written to, structurally identical to pkg/phys.Io so a Phys-backed
// file and a raw block device satisfy the same interface without this
// package importing pkg/phys's concrete type.
type Io interface {
	ReadAt(buf []byte, off int64) error
	WriteAt(buf []byte, off int64) error
	Sync() error
}

// OpenFlags mirror the handful of Linux open(2) flags this kernel's
// syscall surface actually interprets.
type OpenFlags uint32

const (
	OReadOnly OpenFlags = 0
	OWriteOnly OpenFlags = 1 << (iota - 1)
	OReadWrite
	OCreate
	OTruncate
	OAppend
	OCloseOnExec
	ODirectory
)

func (f OpenFlags) readable() bool { return f&OWriteOnly == 0 || f&OReadWrite != 0 }
func (f OpenFlags) writable() bool { return f&OWriteOnly != 0 || f&OReadWrite != 0 }

// Whence values for OpenFile.Seek, matching lseek(2).
const (
	SeekSet = iota
	SeekCur
	SeekEnd
)
