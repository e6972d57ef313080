package exec

import "runtime"

// Run drives hart's scheduling loop until stop is closed, implementing
// the boot-hart/secondary-hart control flow of §2: "loop { pick_task;
// poll_task; service_kernel_trap_side_effects }". TrapSideEffects, if
// non-nil, is invoked once per iteration regardless of whether a task was
// runnable, so timer/device interrupt bookkeeping keeps happening even
// while this hart is otherwise idle.
func (h *Hart) Run(stop <-chan struct{}, trapSideEffects func()) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		ran := h.RunOnce()
		if trapSideEffects != nil {
			trapSideEffects()
		}
		if !ran {
			runtime.Gosched()
		}
	}
}
