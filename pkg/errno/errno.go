// Package errno holds the kernel's standardized Linux errno values.
//
// Kernel-internal functions return these as sentinel errors so that
// callers can compare by identity (==) rather than string-matching, the
// same discipline gvisor's pkg/errors/linuxerr uses.
package errno

import "fmt"

// Errno is a Linux error number paired with a human-readable message.
type Errno struct {
	no      int
	message string
}

// New creates an Errno. Only this package should call it; callers use the
// predeclared sentinels below.
func New(no int, message string) *Errno {
	return &Errno{no: no, message: message}
}

// Error implements error.
func (e *Errno) Error() string { return e.message }

// No returns the raw Linux error number (e.g. 22 for EINVAL), suitable for
// negating into a syscall's a0 return slot.
func (e *Errno) No() int { return e.no }

// Linux errno sentinels actually used by this kernel's syscall surface.
var (
	EPERM   = New(1, "operation not permitted")
	ENOENT  = New(2, "no such file or directory")
	ESRCH   = New(3, "no such process")
	EINTR   = New(4, "interrupted system call")
	EIO     = New(5, "I/O error")
	E2BIG   = New(7, "argument list too long")
	ENOEXEC = New(8, "exec format error")
	EBADF   = New(9, "bad file descriptor")
	ECHILD  = New(10, "no child processes")
	EAGAIN  = New(11, "resource temporarily unavailable")
	ENOMEM  = New(12, "out of memory")
	EACCES  = New(13, "permission denied")
	EFAULT  = New(14, "bad address")
	ENOTDIR = New(20, "not a directory")
	EISDIR  = New(21, "is a directory")
	EINVAL  = New(22, "invalid argument")
	ENFILE  = New(23, "file table overflow")
	EMFILE  = New(24, "too many open files")
	ENOSPC  = New(28, "no space left on device")
	ESPIPE  = New(29, "illegal seek")
	EPIPE   = New(32, "broken pipe")
	ENOSYS  = New(38, "function not implemented")
	ENOTSUP = New(95, "operation not supported")
	ETIMEDOUT = New(110, "connection timed out")
)

// Wrap decorates an Errno sentinel with call-site context while keeping it
// comparable via errors.Is, mirroring gvisor's pattern of wrapping linuxerr
// sentinels instead of constructing fresh ones per call site.
func Wrap(e *Errno, context string) error {
	return fmt.Errorf("%s: %w", context, e)
}

// Is reports whether err is, or wraps, target.
func (e *Errno) Is(target error) bool {
	other, ok := target.(*Errno)
	return ok && other.no == e.no
}
