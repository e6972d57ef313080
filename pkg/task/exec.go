package task

import (
	"github.com/mizu-os/mizu/pkg/kalloc"
	"github.com/mizu-os/mizu/pkg/paging"
	"github.com/mizu-os/mizu/pkg/sbi"
	"github.com/mizu-os/mizu/pkg/trap"
	"github.com/mizu-os/mizu/pkg/virt"
)

// Exec implements §4.5's exec: it keeps the task id and parent edges
// (Info is untouched) but replaces the Virt with a fresh, empty address
// space and resets the signal-action table and TrapFrame to an entry
// state. It closes every close-on-exec fd in the file table, per
// execve(2). The caller maps the new program's segments into the
// returned fresh Virt via Virt.MapFixed (loading the ELF image itself
// is outside this package's scope — see pkg/vfs for reading the binary)
// before the Task is next polled.
func (tk *Task) Exec(newRoot kalloc.FrameNo, newWalker *paging.Walker, prov sbi.Provider, frames *kalloc.Allocator, aslrSeed int64, entry, sp uint64) *virt.Virt {
	tk.state.Virt = virt.New(newRoot, frames, newWalker, prov, aslrSeed)
	tk.state.Sig.ResetForExec()
	tk.state.Files.CloseOnExec()
	tk.state.Brk = 0
	tk.state.localPending = 0

	tk.tf = trap.TrapFrame{}
	tk.tf.SetSepc(entry)
	tk.tf.SetSP(sp)

	return tk.state.Virt
}
