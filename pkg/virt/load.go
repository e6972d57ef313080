package virt

import (
	"sync/atomic"

	"github.com/mizu-os/mizu/pkg/exec"
	"github.com/mizu-os/mizu/pkg/hartlocal"
)

func setMaskBit(m *atomic.Uint64, bit int) {
	for {
		old := m.Load()
		if m.CompareAndSwap(old, old|(uint64(1)<<uint(bit))) {
			return
		}
	}
}

func clearMaskBit(m *atomic.Uint64, bit int) {
	for {
		old := m.Load()
		if m.CompareAndSwap(old, old&^(uint64(1)<<uint(bit))) {
			return
		}
	}
}

// loaded holds, per hart, the Virt currently installed in that hart's
// satp, per §4.4's "each hart has a thread-local holding the currently
// loaded Virt".
var loaded hartlocal.Local[*Virt]

// satpWriter is overridable by tests; the real target wires this to the
// csrw satp instruction plus sfence.vma.
var satpWriter func(hart int, root uint64) = func(hart int, root uint64) {}

// Load installs v as hart's current address space: it writes satp, sets
// hart's bit in v.cpu_mask, clears it in the previously loaded Virt's
// mask (if any), and returns the Virt that was loaded before the call
// (nil if none).
func (v *Virt) Load(hart int) *Virt {
	prev := loaded.Get(hart)
	if prev == v {
		return prev
	}
	if prev != nil {
		clearMaskBit(&prev.cpuMask, hart)
	}
	setMaskBit(&v.cpuMask, hart)
	satpWriter(hart, uint64(v.root))
	loaded.Set(hart, v)
	return prev
}

// LoadOnPoll wraps inner so that, per §4.4's last paragraph, "the
// executor does NOT call load between tasks; instead each task future is
// wrapped in an adapter whose own polling step performs load then polls
// the inner future". Every poll of the returned future re-asserts v as
// hart's loaded address space (cheap when already loaded) before
// delegating to inner.
func LoadOnPoll(inner exec.Future, v *Virt) exec.Future {
	return exec.FutureFunc(func(cx *exec.Cx) exec.State {
		v.Load(cx.Hart())
		return inner.Poll(cx)
	})
}
