package kasync

import "sync"

// Broadcast is a fan-out exit-style event: Send delivers data to every
// receiver created (by Subscribe) at the time of the call, the same
// shape pkg/task uses to wake every waiter on a task's exit event.
// Grounded on _examples/original_source/mizu/lib/ksync/src/channel/broadcast.rs
// (a per-subscriber unbounded queue keyed by an incrementing id) and
// gvisor's task exit notification (_examples/google-gvisor/pkg/sentry/kernel/task.go).
type Broadcast[T any] struct {
	mu        sync.Mutex
	nextID    int
	receivers map[int]*Chan[T]
}

// NewBroadcast creates an empty Broadcast.
func NewBroadcast[T any]() *Broadcast[T] {
	return &Broadcast[T]{receivers: make(map[int]*Chan[T])}
}

// Subscribe registers a new receiver and returns a Chan that will
// receive every future Send. The returned Chan must be closed via
// Unsubscribe when no longer needed, or it leaks a slot in the fan-out
// set.
func (b *Broadcast[T]) Subscribe(capacity int) (ch *Chan[T], id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id = b.nextID
	b.nextID++
	ch = NewChan[T](capacity)
	b.receivers[id] = ch
	return ch, id
}

// Unsubscribe removes a receiver previously returned by Subscribe.
func (b *Broadcast[T]) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.receivers, id)
}

// Send delivers data to every currently subscribed receiver, dropping
// it for any receiver whose queue is full rather than blocking the
// sender (the broadcast is advisory, matching the exit-notification use
// case: a receiver that isn't listening yet missed nothing that
// mattered to it).
func (b *Broadcast[T]) Send(data T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.receivers {
		ch.TrySend(data)
	}
}
