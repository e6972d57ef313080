// Package devmgr is the device-tree probing registry of §6: a table
// mapping a device node's `compatible` string to an init handler, and a
// multi-pass probe loop that re-walks the unattached nodes until a pass
// initialises nothing new — which is how driver ordering (e.g. an
// interrupt controller must attach before the devices wired to it) gets
// resolved without an explicit dependency graph.
//
// Real flattened-device-tree parsing is out of this package's scope
// (the spec carves it out explicitly); Node is a small in-memory stand-in
// a host-test harness builds by hand or loads from a YAML fixture, so
// the probing algorithm itself is fully exercisable without real
// hardware or a real FDT blob.
//
// Grounded on gvisor's vfs.FilesystemType registry
// (_examples/google-gvisor/pkg/sentry/vfs/filesystem_type.go: a name ->
// constructor map consulted by mount), generalized from a single-pass
// lookup to the spec's multi-pass fixed-point walk.
package devmgr

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mizu-os/mizu/pkg/klog"
)

// Node is one device-tree node: its compatible string, an opaque
// property bag (register windows, interrupt parent phandle, etc, left
// as strings since this package never parses a real FDT), and the
// phandle of the interrupt controller it depends on, if any.
type Node struct {
	Name       string
	Compatible string
	Props      map[string]string
	// InterruptParent names another Node by Name, or "" if this node has
	// no interrupt dependency. A pass over this node is deferred until
	// its InterruptParent (if any) has already been successfully probed.
	InterruptParent string
}

// InitFunc initialises a device once its node and interrupt parent (if
// any) are both available, returning the driver handle to register or
// an error if the hardware didn't respond as expected.
type InitFunc func(n *Node) (driver any, err error)

// Registry maps a compatible string to the handler that knows how to
// bring that device up.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]InitFunc
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]InitFunc)}
}

// Register installs fn as the init handler for every node whose
// Compatible string equals compatible. Registering the same string
// twice replaces the previous handler, mirroring gvisor's
// MustRegisterFilesystemType-vs-RegisterFilesystemType distinction
// being left to the caller rather than enforced here.
func (r *Registry) Register(compatible string, fn InitFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[compatible] = fn
}

func (r *Registry) lookup(compatible string) (InitFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[compatible]
	return fn, ok
}

// Result records one node's outcome from ProbeAll.
type Result struct {
	Node   *Node
	Driver any
	Err    error
}

// ProbeAll implements §6's multi-pass device probe: it repeatedly walks
// the nodes whose compatible string has a registered handler and whose
// InterruptParent (if any) has already succeeded, running each such
// node's handler exactly once, until a full pass initialises nothing
// new. Nodes with no registered handler, or whose InterruptParent never
// succeeds, are reported as skipped/failed once the walk converges.
//
// Nodes are probed within a pass in stable Name order so results are
// deterministic across runs, a property the original's informal
// "re-probe until fixed point" description leaves unstated but which
// this package's tests rely on.
func ProbeAll(reg *Registry, nodes []*Node) []Result {
	sorted := make([]*Node, len(nodes))
	copy(sorted, nodes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	done := make(map[string]Result, len(sorted))
	pending := sorted

	for {
		var next []*Node
		progressed := false

		for _, n := range pending {
			if n.InterruptParent != "" {
				if parent, ok := done[n.InterruptParent]; !ok {
					next = append(next, n)
					continue
				} else if parent.Err != nil {
					done[n.Name] = Result{Node: n, Err: fmt.Errorf("devmgr: interrupt parent %q failed to probe", n.InterruptParent)}
					progressed = true
					continue
				}
			}

			fn, ok := reg.lookup(n.Compatible)
			if !ok {
				next = append(next, n)
				continue
			}

			driver, err := fn(n)
			if err != nil {
				klog.Warningf("devmgr: probing %q (%s) failed: %v", n.Name, n.Compatible, err)
			}
			done[n.Name] = Result{Node: n, Driver: driver, Err: err}
			progressed = true
		}

		pending = next
		if !progressed || len(pending) == 0 {
			break
		}
	}

	// Anything still pending after a pass that made no progress has no
	// handler registered for its compatible string, or waits on an
	// interrupt parent that was itself never probed.
	for _, n := range pending {
		done[n.Name] = Result{Node: n, Err: fmt.Errorf("devmgr: %q (%s) has no registered handler or an unresolved interrupt parent", n.Name, n.Compatible)}
	}

	out := make([]Result, len(sorted))
	for i, n := range sorted {
		out[i] = done[n.Name]
	}
	return out
}
