package exec

import (
	"math/rand"

	"github.com/mizu-os/mizu/pkg/hartlocal"
)

// localQueueSize is the bound on a hart's local run queue, matching the
// "bounded local FIFO" of §4.1. A task that does not fit overflows to the
// shared global queue, exactly as gvisor's/Go-runtime's runqput does when
// its local P runq is full.
const localQueueSize = 256

// localQueue is a bounded single-hart-owned FIFO that other harts may
// steal from. It is guarded by a spin lock rather than being fully
// lock-free (as the real Go runtime's runq is): this kernel's lock-free
// budget is spent on pkg/kalloc's allocator and heap, where contention is
// far hotter than a per-hart scheduling queue with at most MaxHarts-1
// concurrent stealers.
type localQueue struct {
	mu   hartlocal.SpinLock
	buf  [localQueueSize]*taskHandle
	head int
	tail int
	n    int
}

func (q *localQueue) push(t *taskHandle) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.n == localQueueSize {
		return false
	}
	q.buf[q.tail] = t
	q.tail = (q.tail + 1) % localQueueSize
	q.n++
	return true
}

func (q *localQueue) pop() *taskHandle {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.n == 0 {
		return nil
	}
	t := q.buf[q.head]
	q.buf[q.head] = nil
	q.head = (q.head + 1) % localQueueSize
	q.n--
	return t
}

func (q *localQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

// stealHalf moves up to half of victim's ready tasks into q, returning
// how many were moved. Mirrors runqsteal/runqgrab's "steal half, rounding
// up" policy (§8 scenario 6). Any stolen tasks that don't fit in q
// overflow to global rather than being dropped.
func (q *localQueue) stealHalf(victim *localQueue, global *globalQueue) int {
	victim.mu.Lock()
	n := (victim.n + 1) / 2
	stolen := make([]*taskHandle, 0, n)
	for i := 0; i < n; i++ {
		idx := (victim.head + i) % localQueueSize
		stolen = append(stolen, victim.buf[idx])
		victim.buf[idx] = nil
	}
	victim.head = (victim.head + n) % localQueueSize
	victim.n -= n
	victim.mu.Unlock()

	q.mu.Lock()
	moved := 0
	for moved < len(stolen) {
		if q.n == localQueueSize {
			break
		}
		q.buf[q.tail] = stolen[moved]
		q.tail = (q.tail + 1) % localQueueSize
		q.n++
		moved++
	}
	q.mu.Unlock()

	for _, t := range stolen[moved:] {
		global.push(t)
	}
	return moved
}

// globalQueue is the shared overflow queue every hart can push to or pop
// a single victim from.
type globalQueue struct {
	mu  hartlocal.SpinLock
	buf []*taskHandle
}

func (g *globalQueue) push(t *taskHandle) {
	g.mu.Lock()
	g.buf = append(g.buf, t)
	g.mu.Unlock()
}

func (g *globalQueue) pop() *taskHandle {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.buf) == 0 {
		return nil
	}
	t := g.buf[0]
	g.buf = g.buf[1:]
	return t
}

func (g *globalQueue) len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.buf)
}

// randPeer returns a random hart index other than self, used for the
// "steal from a random peer's local queue" step of §4.1's policy.
func randPeer(self, n int, rng *rand.Rand) int {
	if n <= 1 {
		return self
	}
	for {
		p := rng.Intn(n)
		if p != self {
			return p
		}
	}
}
