package exec

// Waker reschedules the task it is bound to. It is safe to call from any
// goroutine, any number of times, including after the task has already
// completed (in which case Wake is a no-op).
type Waker struct {
	ex   *Executor
	task *taskHandle
}

// Wake reschedules the bound task onto its last-run hart's local queue,
// the default (non-interrupt) wake path of §4.1.
func (w Waker) Wake() {
	w.wake(false, -1)
}

// WakeFromInterrupt reschedules the bound task via the preempt slot of
// the given hart, giving it scheduling priority on that hart's next pick
// — used for I/O-completion-style wakes per §4.1.
func (w Waker) WakeFromInterrupt(hart int) {
	w.wake(true, hart)
}

func (w Waker) wake(fromInterrupt bool, hart int) {
	if w.ex == nil || w.task == nil {
		return
	}
	if !w.task.scheduled.CompareAndSwap(false, true) {
		// Already queued; avoid double enqueue, mirroring gvisor's
		// single-flight wake bookkeeping. (RunOnce clears scheduled
		// before polling, so a wake that arrives during a poll does
		// re-queue the task.)
		return
	}
	if w.task.cancelled.Load() {
		w.task.scheduled.Store(false)
		return
	}
	if fromInterrupt {
		w.ex.harts[hart].pushPreempt(w.task)
		return
	}
	last := int(w.task.lastHart.Load())
	if last < 0 || last >= len(w.ex.harts) {
		last = 0
	}
	w.ex.harts[last].pushLocal(w.task)
}
