package phys

import (
	"runtime"
	"sync"

	"golang.org/x/time/rate"

	"github.com/mizu-os/mizu/pkg/exec"
	"github.com/mizu-os/mizu/pkg/kasync"
)

// flushReq is one dirty page handed to a root Phys's flusher.
type flushReq struct {
	idx   Index
	frame func() []byte // snapshot taken at enqueue time
	done  *sync.WaitGroup
}

// flusher is the background writer task of §4.3: it drains a bounded
// channel of flushReqs and calls Io.WriteAt on the ultimate backend.
// When a write fails, it spins until the rate limiter grants a token
// and retries once; if the retry fails too, the error is dropped: it is
// not logged, not retried again, and not reported to Flush, which
// still clears the page from the dirty set. Grounded on gvisor's
// MemoryFile reclaimer goroutine shape (_examples/other_examples/yaumn-gvisor__pgalloc.go)
// with the retry policy generalized from its exponential host-mmap
// backoff to a token-bucket limiter, matching DESIGN.md's choice of
// golang.org/x/time/rate for this concern.
type flusher struct {
	backend Io
	reqs    *kasync.Chan[flushReq]
	limiter *rate.Limiter

	mu      sync.Mutex
	pending int
	wait    sync.WaitGroup
}

func newFlusher(backend Io, queueDepth int) *flusher {
	return &flusher{
		backend: backend,
		reqs:    kasync.NewChan[flushReq](queueDepth),
		limiter: rate.NewLimiter(rate.Limit(50), 10),
	}
}

// Task returns the flusher's run loop as an exec.Future, meant to be
// spawned once per backend-backed Phys root at boot.
func (f *flusher) Task() exec.Future {
	return exec.FutureFunc(f.poll)
}

func (f *flusher) poll(cx *exec.Cx) exec.State {
	for {
		rf := f.reqs.Recv()
		st := rf.Poll(cx)
		if st == exec.Pending {
			return exec.Pending
		}
		req, ok := rf.Result()
		if !ok {
			return exec.Done // channel closed: root Phys torn down
		}
		f.write(req)
	}
}

func (f *flusher) write(req flushReq) {
	defer req.done.Done()
	data := req.frame()
	off := int64(req.idx) * 4096
	if err := f.backend.WriteAt(data, off); err != nil {
		// Retry once, after the rate limiter grants a token (this loop
		// spins until it does); a second failure is not retried.
		for !f.limiter.Allow() {
		}
		f.backend.WriteAt(data, off)
	}
}

// Flush walks p's dirty set and hands each page to the root's flusher,
// per §4.3. It returns once every handed-off page's backend write has
// actually completed (req.done is only marked once flusher.write
// returns), not merely once each page has been enqueued.
func (p *Phys) Flush(hart int) {
	p.mu.Lock()
	root, prefix := p.rootLocked()
	if root.flusher == nil {
		p.mu.Unlock()
		return
	}
	idxs := make([]Index, 0, len(p.dirty))
	for idx := range p.dirty {
		idxs = append(idxs, idx)
	}
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, idx := range idxs {
		frame, err := p.Commit(hart, idx)
		if err != nil {
			continue
		}
		wg.Add(1)
		absIdx := idx + prefix
		root.flusher.enqueue(flushReq{
			idx:   absIdx,
			frame: func() []byte { return p.arena.Bytes(frame) },
			done:  &wg,
		})
	}
	wg.Wait()

	p.mu.Lock()
	for _, idx := range idxs {
		delete(p.dirty, idx)
	}
	p.mu.Unlock()
}

// enqueue blocks until req is accepted rather than dropping it when the
// bounded channel is full: a dropped req's done.Done() would never run,
// stranding Flush's wg.Wait() forever. The flusher's own poll loop is
// the only consumer, so backoff here is bounded by how fast it drains,
// not by any caller-side deadlock.
func (f *flusher) enqueue(req flushReq) {
	for !f.reqs.TrySend(req) {
		runtime.Gosched()
	}
}

// rootLocked walks up through parent links (not branch-aware: a branch
// counts as a hop, not a root) to the backend-backed Phys at the top of
// the tree, returning it along with the page-index offset accumulated
// walking up (always 0 in this kernel's model, since §4.3's Phys has no
// notion of a byte-range slice offset distinct from its parent's own
// indexing — kept explicit for a future Virt-level range-slicing
// extension).
func (p *Phys) rootLocked() (*Phys, Index) {
	cur := p
	var prefix Index
	for cur.up.parent != nil {
		cur = cur.up.parent
	}
	return cur, prefix
}
