package task

import (
	"math/bits"
	"sync"
	"sync/atomic"

	"github.com/mizu-os/mizu/pkg/kasync"
)

// EventKind distinguishes the events broadcast on a task's shared Info.
type EventKind int

const (
	EventExited EventKind = iota
)

// Event is one entry on a task's exit-notification broadcast, the
// "broadcast channel of task events" of §3.
type Event struct {
	Kind EventKind
	Code int32
	Sig  Sig
}

// Info is the shared, refcounted half of §3's split: the task id,
// parent/main-thread linkage, the children list, and the broadcast/
// pending-signal machinery every peer (parent, children, the signal
// subsystem) needs a handle to. Go's garbage collector makes the
// spec's "weak references to parent and main-thread" unnecessary for
// memory safety (there is no retain-cycle leak to avoid), so Parent and
// MainThread here are plain pointers; nothing in this package relies on
// them keeping their target alive past its own natural lifetime.
//
// Grounded on gvisor's ThreadGroup/Task split
// (_examples/google-gvisor/pkg/sentry/kernel/task.go, threads.go): Info plays ThreadGroup's
// role of "the parts shared by every thread in a process", scaled down
// to what this kernel's task model actually needs.
type Info struct {
	ID uint64

	Parent     *Info
	MainThread *Info

	Events *kasync.Broadcast[Event]

	mu       sync.Mutex
	children []*Info

	pending atomic.Uint64
}

// NewInfo creates a fresh Info with no children and an empty pending
// set.
func NewInfo(id uint64, parent *Info) *Info {
	return &Info{ID: id, Parent: parent, Events: kasync.NewBroadcast[Event]()}
}

// AddChild records child as one of this task's children.
func (in *Info) AddChild(child *Info) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.children = append(in.children, child)
}

// RemoveChild drops child from this task's children list (e.g. once a
// parent has reaped its exit status).
func (in *Info) RemoveChild(child *Info) {
	in.mu.Lock()
	defer in.mu.Unlock()
	for i, c := range in.children {
		if c == child {
			in.children = append(in.children[:i], in.children[i+1:]...)
			return
		}
	}
}

// Children returns a snapshot of this task's current children.
func (in *Info) Children() []*Info {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make([]*Info, len(in.children))
	copy(out, in.children)
	return out
}

// RaisePending adds sig to this task's pending-signal set.
func (in *Info) RaisePending(sig Sig) {
	bit := uint64(1) << uint(sig-1)
	for {
		old := in.pending.Load()
		if old&bit != 0 {
			return
		}
		if in.pending.CompareAndSwap(old, old|bit) {
			return
		}
	}
}

// TakePending removes and returns the lowest-numbered pending signal not
// blocked by mask, if any.
func (in *Info) TakePending(mask uint64) (Sig, bool) {
	for {
		old := in.pending.Load()
		deliverable := old &^ mask
		if deliverable == 0 {
			return 0, false
		}
		sig := Sig(bits.TrailingZeros64(deliverable) + 1)
		bit := uint64(1) << uint(sig-1)
		if in.pending.CompareAndSwap(old, old&^bit) {
			return sig, true
		}
	}
}
