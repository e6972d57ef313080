package task

import (
	"github.com/mizu-os/mizu/pkg/kalloc"
	"github.com/mizu-os/mizu/pkg/paging"
)

// CloneFlags selects what a new task shares with its parent versus
// copies, the Go rendering of Linux's CLONE_VM/CLONE_FILES/
// CLONE_SIGHAND bits: a plain fork() clears all three (copy
// everything); a pthread-style clone() sets all three (share
// everything but the TrapFrame/stack).
type CloneFlags uint32

const (
	CloneVM CloneFlags = 1 << iota
	CloneFiles
	CloneSighand
)

// Clone implements §4.5's clone/fork: it duplicates parent's Task
// record into a new, not-yet-scheduled Task, sharing or copying the
// Virt, file table, and signal actions according to flags, and records
// the parent/child edge on the shared Info. The caller is responsible
// for allocating newID and (when flags excludes CloneVM) the child's
// fresh root page-table frame and Walker, and for spawning the
// returned Task on the executor.
//
// Grounded on gvisor's Task.Clone (_examples/google-gvisor/pkg/sentry/kernel/task_exec.go),
// generalized from gvisor's syscall-flags-driven MM/FDTable/SignalHandlers
// sharing decisions to this kernel's three-bit CloneFlags.
func Clone(parent *Task, flags CloneFlags, hart int, newID uint64, newRoot kalloc.FrameNo, childWalker *paging.Walker, aslrSeed int64, exitSignal Sig) (*Task, error) {
	childInfo := NewInfo(newID, parent.info)
	if flags&CloneVM != 0 {
		if parent.info.MainThread != nil {
			childInfo.MainThread = parent.info.MainThread
		} else {
			childInfo.MainThread = parent.info
		}
	}

	childVirt := parent.state.Virt
	if flags&CloneVM == 0 {
		v, err := parent.state.Virt.Fork(hart, newRoot, childWalker, aslrSeed)
		if err != nil {
			return nil, err
		}
		childVirt = v
	}

	childFiles := parent.state.Files
	if flags&CloneFiles == 0 {
		childFiles = parent.state.Files.Fork()
	}

	childSig := parent.state.Sig
	if flags&CloneSighand == 0 {
		childSig = parent.state.Sig.Clone()
	}

	child := &Task{
		info: childInfo,
		state: State{
			Info:       childInfo,
			SigMask:    parent.state.SigMask,
			Brk:        parent.state.Brk,
			Virt:       childVirt,
			Sig:        childSig,
			Files:      childFiles,
			ExitSignal: exitSignal,
		},
		tf:       parent.tf,
		sw:       parent.sw,
		fast:     parent.fast,
		syscalls: parent.syscalls,
		waker:    parent.waker,
	}
	// The child's clone()/fork() syscall returns 0; the parent's own
	// return value (the child's pid) is set by the syscall handler that
	// called Clone, on the parent's own TrapFrame.
	child.tf.SetReturn(0)

	parent.info.AddChild(childInfo)
	return child, nil
}
