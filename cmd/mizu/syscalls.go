package main

import (
	"encoding/binary"
	"time"

	"github.com/mizu-os/mizu/pkg/ktime"
	"github.com/mizu-os/mizu/pkg/syscallreg"
	"github.com/mizu-os/mizu/pkg/task"
	"github.com/mizu-os/mizu/pkg/trap"
	"github.com/mizu-os/mizu/pkg/vfs"
)

// Linux-compatible syscall numbers this kernel's table actually
// implements, per §6's "Linux-compatible numbers" ABI requirement.
const (
	nrRead      = 63
	nrWrite     = 64
	nrNanosleep = 101
	nrExit      = 93
	nrGetpid    = 172
)

// newSyscallTable builds the registry every spawned Task shares,
// wiring read/write through pkg/task's checked user-memory accessor and
// pkg/vfs's FileTable, exactly as a real syscall ABI would: the kernel
// never trusts a raw user pointer, only ever touching it through
// AccessUser's CommitGuard-backed Accessor. wheel/clock back the
// nanosleep handler's ktime.Sleep await; the caller is expected to also
// be driving wheel.Tick from the timer trap path (see bootFastFunc) so
// the armed Deadline actually fires.
func newSyscallTable(wheel *ktime.Wheel, clock ktime.Clock) *task.Table {
	tbl := syscallreg.NewTable[task.State]()

	syscallreg.Register(tbl, nrWrite, func(s *task.State, cx trap.UserCx[int64]) (int64, syscallreg.ControlFlow, error) {
		fd, bufVA, count := cx.Arg(0), cx.Arg(1), cx.Arg(2)
		f, err := s.Files.Get(int(fd))
		if err != nil {
			return 0, syscallreg.Continue, err
		}
		n, err := copyOutAndWrite(s, f, bufVA, int(count))
		if err != nil {
			return 0, syscallreg.Continue, err
		}
		return int64(n), syscallreg.Continue, nil
	})

	syscallreg.Register(tbl, nrRead, func(s *task.State, cx trap.UserCx[int64]) (int64, syscallreg.ControlFlow, error) {
		fd, bufVA, count := cx.Arg(0), cx.Arg(1), cx.Arg(2)
		f, err := s.Files.Get(int(fd))
		if err != nil {
			return 0, syscallreg.Continue, err
		}
		n, err := readAndCopyIn(s, f, bufVA, int(count))
		if err != nil {
			return 0, syscallreg.Continue, err
		}
		return int64(n), syscallreg.Continue, nil
	})

	syscallreg.Register(tbl, nrNanosleep, func(s *task.State, cx trap.UserCx[int64]) (int64, syscallreg.ControlFlow, error) {
		reqVA := cx.Arg(0)
		d, err := readTimespec(s, reqVA)
		if err != nil {
			return 0, syscallreg.Continue, err
		}
		return 0, syscallreg.WaitOn(ktime.Sleep(wheel, clock, d)), nil
	})

	syscallreg.Register(tbl, nrExit, func(s *task.State, cx trap.UserCx[int64]) (int64, syscallreg.ControlFlow, error) {
		return 0, syscallreg.ExitNow(int32(cx.Arg(0))), nil
	})

	syscallreg.Register(tbl, nrGetpid, func(s *task.State, cx trap.UserCx[int64]) (int64, syscallreg.ControlFlow, error) {
		return int64(s.Info.ID), syscallreg.Continue, nil
	})

	return tbl
}

// copyOutAndWrite reads count bytes out of the task's user buffer at
// bufVA and writes them to f. It stages through a kernel-side buffer
// rather than handing f.Write a slice aliasing user memory directly, so
// a misbehaving Io backend can never observe (or corrupt) live user
// pages.
func copyOutAndWrite(s *task.State, f *vfs.OpenFile, bufVA uint64, count int) (int, error) {
	if count == 0 {
		return 0, nil
	}
	acc, release, err := s.AccessUser(bufVA, count, false)
	if err != nil {
		return 0, err
	}
	defer release()

	staged := make([]byte, count)
	n, err := trap.CheckedCopy(s.CurrentHart, acc, staged, 0)
	if err != nil {
		return n, err
	}
	return f.Write(staged[:n])
}

// readTimespec reads a Linux struct timespec (two little-endian int64
// fields, tv_sec then tv_nsec) out of user memory at va through the same
// checked-accessor path every other user-memory touch in this table
// uses.
func readTimespec(s *task.State, va uint64) (time.Duration, error) {
	acc, release, err := s.AccessUser(va, 16, false)
	if err != nil {
		return 0, err
	}
	defer release()

	var buf [16]byte
	if _, err := trap.CheckedCopy(s.CurrentHart, acc, buf[:], 0); err != nil {
		return 0, err
	}
	sec := int64(binary.LittleEndian.Uint64(buf[0:8]))
	nsec := int64(binary.LittleEndian.Uint64(buf[8:16]))
	return time.Duration(sec)*time.Second + time.Duration(nsec)*time.Nanosecond, nil
}

func readAndCopyIn(s *task.State, f *vfs.OpenFile, bufVA uint64, count int) (int, error) {
	if count == 0 {
		return 0, nil
	}
	acc, release, err := s.AccessUser(bufVA, count, true)
	if err != nil {
		return 0, err
	}
	defer release()

	staged := make([]byte, count)
	n, err := f.Read(staged)
	if err != nil {
		return n, err
	}
	if _, err := trap.CheckedWrite(s.CurrentHart, acc, staged[:n], 0); err != nil {
		return 0, err
	}
	return n, nil
}
