package kasync

import (
	"testing"

	"github.com/mizu-os/mizu/pkg/exec"
)

// pollToDone drives a Future to completion using a single-hart executor,
// returning the number of poll rounds taken.
func pollToDone(t *testing.T, ex *exec.Executor, f exec.Future) int {
	t.Helper()
	done := make(chan struct{})
	var rounds int
	ex.Spawn(exec.FutureFunc(func(cx *exec.Cx) exec.State {
		rounds++
		st := f.Poll(cx)
		if st == exec.Done {
			close(done)
		}
		return st
	}), 0)
	for i := 0; i < 1000; i++ {
		ex.Hart(0).RunOnce()
		select {
		case <-done:
			return rounds
		default:
		}
	}
	t.Fatalf("future never completed")
	return 0
}

func TestMutexMutualExclusion(t *testing.T) {
	m := NewMutex(0)
	g, ok := m.TryLock()
	if !ok {
		t.Fatalf("expected initial TryLock to succeed")
	}
	if _, ok := m.TryLock(); ok {
		t.Fatalf("expected second TryLock to fail while held")
	}
	g.Unlock()
	g2, ok := m.TryLock()
	if !ok {
		t.Fatalf("expected TryLock to succeed after unlock")
	}
	*g2.Get() = 42
	g2.Unlock()
	g3, _ := m.TryLock()
	if *g3.Get() != 42 {
		t.Fatalf("expected mutated value to persist, got %d", *g3.Get())
	}
}

func TestLockFutureResolvesAfterUnlock(t *testing.T) {
	ex := exec.New(1)
	m := NewMutex("x")
	held, _ := m.TryLock()

	lf := m.Lock()
	// First poll must register as pending: the mutex is already held.
	ex.Spawn(exec.FutureFunc(func(cx *exec.Cx) exec.State {
		return lf.Poll(cx)
	}), 0)
	ex.Hart(0).RunOnce()
	if lf.waiting == nil {
		t.Fatalf("expected LockFuture to have registered a waiter")
	}
	held.Unlock()
	// The waker fired by Unlock should have rescheduled the spawned task.
	ex.Hart(0).RunOnce()
	if lf.result.m == nil {
		t.Fatalf("expected LockFuture to resolve once released")
	}
}

// TestLockFutureThirdContenderNotStrandedAfterLosingRace reproduces the
// lost-wakeup scenario from three tasks contending on one Mutex: a task
// woken by an Unlock but that then loses the immediate re-acquire race to
// a third contender must still end up re-registered as a waiter, not
// left stranded with no waker parked anywhere.
func TestLockFutureThirdContenderNotStrandedAfterLosingRace(t *testing.T) {
	ex := exec.New(1)
	m := NewMutex(0)
	held, _ := m.TryLock()

	lfA := m.Lock()
	doneA := make(chan struct{})
	ex.Spawn(exec.FutureFunc(func(cx *exec.Cx) exec.State {
		st := lfA.Poll(cx)
		if st == exec.Done {
			close(doneA)
		}
		return st
	}), 0)
	ex.Hart(0).RunOnce()
	if lfA.waiting == nil {
		t.Fatalf("expected A to park on its first poll")
	}

	lfB := m.Lock()
	ex.Spawn(exec.FutureFunc(func(cx *exec.Cx) exec.State { return lfB.Poll(cx) }), 0)
	ex.Hart(0).RunOnce()
	if lfB.waiting == nil {
		t.Fatalf("expected B to park on its first poll")
	}

	// Unlock wakes A (the oldest waiter), but before A's task gets to
	// re-poll, a third contender C steals the lock out from under it.
	held.Unlock()
	gC, ok := m.TryLock()
	if !ok {
		t.Fatalf("expected C's TryLock to win the race against A's pending wakeup")
	}

	ex.Hart(0).RunOnce()
	select {
	case <-doneA:
		t.Fatalf("A should not have acquired the lock: C holds it")
	default:
	}
	if lfA.waiting == nil {
		t.Fatalf("expected A to have re-registered as a waiter after losing the race to C")
	}

	gC.Unlock()
	ex.Hart(0).RunOnce()
	select {
	case <-doneA:
	default:
		t.Fatalf("expected A to acquire the lock once C released it, not stay stranded")
	}
}

func TestSemaphoreAcquireRelease(t *testing.T) {
	s := NewSemaphore(1)
	if !s.TryAcquire() {
		t.Fatalf("expected first acquire to succeed")
	}
	if s.TryAcquire() {
		t.Fatalf("expected second acquire to fail with no permits left")
	}
	s.Release()
	if !s.TryAcquire() {
		t.Fatalf("expected acquire to succeed after release")
	}
}

func TestChanSendRecvFIFO(t *testing.T) {
	ex := exec.New(1)
	c := NewChan[int](2)

	sf := c.Send(1)
	pollToDone(t, ex, sf)
	if !sf.Result() {
		t.Fatalf("expected send to succeed")
	}
	sf2 := c.Send(2)
	pollToDone(t, ex, sf2)

	rf := c.Recv()
	pollToDone(t, ex, rf)
	v, ok := rf.Result()
	if !ok || v != 1 {
		t.Fatalf("expected FIFO recv of 1, got %d ok=%v", v, ok)
	}
}

func TestChanCloseUnblocksRecv(t *testing.T) {
	ex := exec.New(1)
	c := NewChan[int](1)
	rf := c.Recv()
	ex.Spawn(exec.FutureFunc(func(cx *exec.Cx) exec.State { return rf.Poll(cx) }), 0)
	ex.Hart(0).RunOnce()
	if rf.waiting == nil {
		t.Fatalf("expected Recv to have parked on an empty channel")
	}
	c.Close()
	ex.Hart(0).RunOnce()
	_, ok := rf.Result()
	if ok {
		t.Fatalf("expected Recv on a closed empty channel to report ok=false")
	}
}

func TestBroadcastFansOutToAllSubscribers(t *testing.T) {
	b := NewBroadcast[string]()
	ch1, id1 := b.Subscribe(4)
	ch2, _ := b.Subscribe(4)

	b.Send("hello")

	v1, ok1 := ch1.TryRecv()
	v2, ok2 := ch2.TryRecv()
	if !ok1 || v1 != "hello" || !ok2 || v2 != "hello" {
		t.Fatalf("expected both subscribers to receive the broadcast")
	}

	b.Unsubscribe(id1)
	b.Send("world")
	if _, ok := ch2.TryRecv(); !ok {
		t.Fatalf("expected remaining subscriber to still receive")
	}
}

func TestRWMutexAllowsConcurrentReadersExcludesWriter(t *testing.T) {
	rw := NewRWMutex(7)
	if !rw.tryRead() {
		t.Fatalf("expected first read lock to succeed")
	}
	if !rw.tryRead() {
		t.Fatalf("expected concurrent read lock to succeed")
	}
	if rw.tryWrite() {
		t.Fatalf("expected write lock to fail while readers held")
	}
	rw.state.Add(-2)
	if !rw.tryWrite() {
		t.Fatalf("expected write lock to succeed once readers release")
	}
}
