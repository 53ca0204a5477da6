// Package workqueue implements the typed, blocking-pop FIFO described in
// §4.3: one queue instance per worker role (fill workers get one, evict
// workers get another), each carrying whichever Item kind that role
// consumes.
package workqueue

import (
	"container/list"
	"sync"

	"github.com/google/uuid"
)

// Kind identifies a work item's role. Only the kinds named in §4.3 exist;
// a WorkQueue is untyped at the Go level (interface{} payload) but every
// producer in this module only ever pushes one Kind onto a given queue.
type Kind int

const (
	// Fill asks a fill worker to read a page in from the backing store.
	Fill Kind = iota
	// Evict asks an evict worker to write back (if dirty) and free a page.
	Evict
	// DrainToLowWater is the spec's BUFFER_EVICT_NEEDED token: a request
	// for the eviction manager to keep draining until low_water_reached.
	DrainToLowWater
)

// Item is one unit of work. RequestID exists purely for log correlation
// across the goroutines that produce and consume items — it has no
// bearing on ordering or the state machine.
type Item struct {
	Kind      Kind
	RequestID uuid.UUID
	Payload   any
}

// WorkQueue is a FIFO of Items with a blocking Pop and cooperative
// shutdown: once Close is called, every blocked and future Pop returns
// ok=false instead of blocking forever.
type WorkQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  *list.List
	closed bool
}

// New returns an empty, open WorkQueue.
func New() *WorkQueue {
	q := &WorkQueue{items: list.New()}
	q.cond = sync.NewCond(&q.mu)

	return q
}

// Push appends item and wakes one blocked Pop, if any. Push after Close is
// a no-op: there is no reader left to consume it.
func (q *WorkQueue) Push(kind Kind, payload any) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.items.PushBack(Item{Kind: kind, RequestID: uuid.New(), Payload: payload})
	q.cond.Signal()
}

// Pop blocks until an item is available or the queue is closed, returning
// ok=false in the latter case so worker loops can treat shutdown as a
// plain loop exit rather than an error.
func (q *WorkQueue) Pop() (item Item, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.items.Len() == 0 && !q.closed {
		q.cond.Wait()
	}

	if q.items.Len() == 0 {
		return Item{}, false
	}

	front := q.items.Front()
	q.items.Remove(front)

	return front.Value.(Item), true
}

// Len reports the current queue depth, for observability only.
func (q *WorkQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.items.Len()
}

// Close marks the queue shut down and wakes every blocked Pop.
func (q *WorkQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	q.cond.Broadcast()
}
