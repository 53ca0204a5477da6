// Package pagebuf implements the Buffer: a bounded pool of page
// descriptors that tracks which virtual pages are resident, coordinates
// fill and evict activity between fault handlers and background workers,
// and enforces the per-page lifecycle in package pagedesc.
//
// All exported methods except Lock/Unlock/HighWaterReached/
// LowWaterReached/Close/Stats/Render acquire no lock of their own: the caller is
// expected to bracket a sequence of calls (typically Lookup followed by
// AcquireForFill, or AcquireOldestPresent followed by Release) with
// Lock/Unlock, exactly as a fault handler or evict worker would hold a
// single critical section across a decision and its consequence.
package pagebuf

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/riftfs/pagebuffer/pkg/pagedesc"
)

// Buffer is the bounded, blocking page pool described in §4.2.
type Buffer struct {
	mu            sync.Mutex
	cvFree        *sync.Cond
	cvOldestReady *sync.Cond

	capacity  int
	lowWater  int
	highWater int

	slots []pagedesc.Descriptor

	// freeList is unordered: the spec places no requirement on which free
	// descriptor is handed out next.
	freeList []*pagedesc.Descriptor

	// busyQueue is the FIFO of every non-Free descriptor, oldest-admitted
	// first. busyElems lets release/rollback remove an arbitrary element
	// in O(1) without walking the list.
	busyQueue *list.List
	busyElems map[int]*list.Element

	presentIndex map[uint64]*pagedesc.Descriptor

	fillWaitingCount int
	lastPDWaiting    *pagedesc.Descriptor

	admitCounter uint64

	// slab holds every resident page's actual bytes, one PageSize-sized
	// region per slot. It is a plain heap allocation rather than a real
	// anonymous mmap: registering it with the kernel's userfault
	// mechanism is exactly the excluded trap layer's job (§1), so the
	// Buffer only needs *some* contiguous per-slot storage, not the real
	// mapped memory.
	slab []byte

	// highWaterCh is a best-effort, non-blocking notification that the
	// busy queue has just crossed the high-water mark, so the eviction
	// manager can react immediately instead of only on its poll tick.
	highWaterCh chan struct{}

	closed bool
}

// New constructs a Buffer with the given capacity and watermark
// percentages. Both percentages must be in [0, 100] and low <= high;
// capacity must be positive. All three are construction-time programming
// errors per §7 and are reported as an error rather than a panic so the
// caller can log and exit on its own terms.
func New(capacity int, lowWaterPercentage, highWaterPercentage int) (*Buffer, error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity{Capacity: capacity}
	}

	if lowWaterPercentage < 0 || lowWaterPercentage > 100 ||
		highWaterPercentage < 0 || highWaterPercentage > 100 ||
		lowWaterPercentage > highWaterPercentage {
		return nil, ErrInvalidWatermarks{LowPercentage: lowWaterPercentage, HighPercentage: highWaterPercentage}
	}

	b := &Buffer{
		capacity:     capacity,
		lowWater:     computeWatermark(capacity, lowWaterPercentage),
		highWater:    computeWatermark(capacity, highWaterPercentage),
		slots:        make([]pagedesc.Descriptor, capacity),
		freeList:     make([]*pagedesc.Descriptor, 0, capacity),
		busyQueue:    list.New(),
		busyElems:    make(map[int]*list.Element, capacity),
		presentIndex: make(map[uint64]*pagedesc.Descriptor, capacity),
		slab:         make([]byte, capacity*int(pagedesc.PageSize)),
		highWaterCh:  make(chan struct{}, 1),
	}
	b.cvFree = sync.NewCond(&b.mu)
	b.cvOldestReady = sync.NewCond(&b.mu)

	for i := range b.slots {
		b.slots[i].Slot = i
		b.freeList = append(b.freeList, &b.slots[i])
	}

	return b, nil
}

// Lock acquires the Buffer's single coarse-grained mutex.
func (b *Buffer) Lock() { b.mu.Lock() }

// Unlock releases the Buffer's mutex.
func (b *Buffer) Unlock() { b.mu.Unlock() }

// Capacity returns the fixed maximum resident page count.
func (b *Buffer) Capacity() int { return b.capacity }

// PageBytes returns the slab region backing d's resident page contents.
// Safe to call without holding the lock: the Buffer mutex does not guard
// the slab. Exclusivity comes from the descriptor's state machine
// (exactly one worker owns a descriptor while it is Filling/Updating/
// Leaving); the Buffer does not coordinate writes to a Present page's
// bytes.
func (b *Buffer) PageBytes(d *pagedesc.Descriptor) []byte {
	start := d.Slot * int(pagedesc.PageSize)

	return b.slab[start : start+int(pagedesc.PageSize)]
}

// HighWaterNotify returns a channel that receives a best-effort
// notification whenever the busy queue crosses the high-water mark. It is
// a supplement to, not a replacement for, polling HighWaterReached: a
// notification can be coalesced (the channel is buffered to 1) and is not
// guaranteed if the eviction manager isn't currently receiving.
func (b *Buffer) HighWaterNotify() <-chan struct{} {
	return b.highWaterCh
}

// Lookup returns the descriptor currently representing pageAddr, if any.
// Caller must hold the lock. Pure read: never blocks, never mutates.
func (b *Buffer) Lookup(pageAddr uint64) (*pagedesc.Descriptor, bool) {
	d, ok := b.presentIndex[pageAddr]

	return d, ok
}

// AcquireForFill allocates a Free descriptor for pageAddr, blocking until
// one is available. Caller must hold the lock and must have already
// confirmed, via Lookup, that pageAddr is not present. The returned
// descriptor is pushed onto the busy queue and still in state Free: the
// caller performs the Free->Filling transition (matching the spec's
// division of labor between the Buffer and whichever fault handler drives
// the fill).
func (b *Buffer) AcquireForFill(pageAddr uint64) *pagedesc.Descriptor {
	b.fillWaitingCount++

	for len(b.freeList) == 0 && !b.closed {
		b.cvFree.Wait()
	}

	b.fillWaitingCount--

	if b.closed {
		return nil
	}

	last := len(b.freeList) - 1
	d := b.freeList[last]
	b.freeList[last] = nil
	b.freeList = b.freeList[:last]

	d.PageAddr = pageAddr
	d.Dirty = false

	b.admitCounter++
	d.SetAdmitted(b.admitCounter)

	elem := b.busyQueue.PushBack(d)
	b.busyElems[d.Slot] = elem

	if b.busyQueue.Len() >= b.highWater {
		select {
		case b.highWaterCh <- struct{}{}:
		default:
		}
	}

	return d
}

// AcquireForFillCtx is AcquireForFill with a cancellation escape hatch: if
// ctx is done before a free descriptor becomes available, it returns
// ctx.Err() instead of blocking forever. The non-context AcquireForFill
// remains the one tests asserting pure backpressure (§9: "no per-operation
// timeout by design") should use; this variant exists for callers —
// the fault handler shim, worker pools — that must be shut down cleanly.
// Caller must hold the lock.
func (b *Buffer) AcquireForFillCtx(ctx context.Context, pageAddr uint64) (*pagedesc.Descriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		b.cvFree.Broadcast()
		b.mu.Unlock()
	})
	defer stop()

	b.fillWaitingCount++

	for len(b.freeList) == 0 && !b.closed && ctx.Err() == nil {
		b.cvFree.Wait()
	}

	b.fillWaitingCount--

	if b.closed {
		return nil, ErrBufferClosing
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	last := len(b.freeList) - 1
	d := b.freeList[last]
	b.freeList[last] = nil
	b.freeList = b.freeList[:last]

	d.PageAddr = pageAddr
	d.Dirty = false

	b.admitCounter++
	d.SetAdmitted(b.admitCounter)

	elem := b.busyQueue.PushBack(d)
	b.busyElems[d.Slot] = elem

	if b.busyQueue.Len() >= b.highWater {
		select {
		case b.highWaterCh <- struct{}{}:
		default:
		}
	}

	return d, nil
}

// AdmitFilling performs the Free->Filling transition on a descriptor
// returned by AcquireForFill. It is split out from AcquireForFill so a
// caller can inspect the descriptor (e.g. to log its slot) before
// committing the transition; both must happen while still holding the
// lock acquired before AcquireForFill.
func (b *Buffer) AdmitFilling(d *pagedesc.Descriptor) error {
	return d.Transition(pagedesc.Filling)
}

// MarkPresent transitions d (which must be Filling or Updating) to
// Present, inserts it into the present index, and — if d is the
// descriptor an evictor is currently blocked on — wakes exactly that
// evictor. Caller must hold the lock.
func (b *Buffer) MarkPresent(d *pagedesc.Descriptor) error {
	if d.State() != pagedesc.Filling && d.State() != pagedesc.Updating {
		return pagedesc.ErrInvalidTransition{From: d.State(), To: pagedesc.Present}
	}

	if err := d.Transition(pagedesc.Present); err != nil {
		return err
	}

	b.presentIndex[d.PageAddr] = d

	if b.lastPDWaiting == d {
		b.lastPDWaiting = nil
		b.cvOldestReady.Signal()
	}

	return nil
}

// AcquireOldestPresent returns the oldest-admitted descriptor still in the
// busy queue, blocking until it has reached Present if it has not yet.
// This is what makes eviction order exactly admission order: an evictor
// never skips ahead to a page that became Present sooner than the FIFO
// head. Returns nil if the busy queue is empty. Caller must hold the lock;
// the caller performs the Present->Leaving transition.
func (b *Buffer) AcquireOldestPresent() *pagedesc.Descriptor {
	for {
		front := b.busyQueue.Front()
		if front == nil {
			return nil
		}

		head := front.Value.(*pagedesc.Descriptor)

		if head.State() == pagedesc.Present {
			b.busyQueue.Remove(front)
			delete(b.busyElems, head.Slot)
			b.lastPDWaiting = nil

			return head
		}

		b.lastPDWaiting = head

		b.cvOldestReady.Wait()

		if b.closed {
			return nil
		}
	}
}

// AcquireOldestPresentCtx is AcquireOldestPresent with the same
// cancellation escape hatch as AcquireForFillCtx: if ctx is done before the
// FIFO head reaches Present, it returns ctx.Err() instead of blocking
// forever. Caller must hold the lock.
func (b *Buffer) AcquireOldestPresentCtx(ctx context.Context) (*pagedesc.Descriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		b.cvOldestReady.Broadcast()
		b.mu.Unlock()
	})
	defer stop()

	for {
		front := b.busyQueue.Front()
		if front == nil {
			return nil, nil
		}

		head := front.Value.(*pagedesc.Descriptor)

		if head.State() == pagedesc.Present {
			b.busyQueue.Remove(front)
			delete(b.busyElems, head.Slot)
			b.lastPDWaiting = nil

			return head, nil
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		b.lastPDWaiting = head

		b.cvOldestReady.Wait()

		if b.closed {
			return nil, ErrBufferClosing
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

// Release returns a Leaving descriptor to the free list, removing it from
// the present index if still present there. Caller must hold the lock.
// After signaling a waiting filler, Release briefly yields the lock per
// §9's "conditional unlock/relock on release" note, giving the waiter a
// fair shot at the critical section before Release's caller re-takes it.
func (b *Buffer) Release(d *pagedesc.Descriptor) error {
	if d.State() != pagedesc.Leaving {
		return pagedesc.ErrInvalidTransition{From: d.State(), To: pagedesc.Free}
	}

	if cur, ok := b.presentIndex[d.PageAddr]; ok && cur == d {
		delete(b.presentIndex, d.PageAddr)
	}

	if elem, ok := b.busyElems[d.Slot]; ok {
		b.busyQueue.Remove(elem)
		delete(b.busyElems, d.Slot)
	}

	if err := d.Transition(pagedesc.Free); err != nil {
		return err
	}

	d.PageAddr = 0
	d.Dirty = false

	b.freeList = append(b.freeList, d)

	if b.fillWaitingCount > 0 {
		b.cvFree.Signal()
		b.mu.Unlock()
		b.mu.Lock()
	}

	return nil
}

// RollbackFilling removes a descriptor that failed its fill before ever
// reaching Present, per §4.5's recovery path: it bypasses Present and
// returns straight to Free. Caller must hold the lock and must be the fill
// worker that owns d (i.e. d.State() == Filling).
func (b *Buffer) RollbackFilling(d *pagedesc.Descriptor) error {
	if d.State() != pagedesc.Filling {
		return pagedesc.ErrInvalidTransition{From: d.State(), To: pagedesc.Free}
	}

	if elem, ok := b.busyElems[d.Slot]; ok {
		b.busyQueue.Remove(elem)
		delete(b.busyElems, d.Slot)
	}

	// Filling never reached Present, so there is no present-index entry.
	// If d was the queue head an evictor may be parked on it; a different
	// descriptor is now the head, so every waiting evictor must re-check.
	if b.lastPDWaiting == d {
		b.lastPDWaiting = nil
	}
	b.cvOldestReady.Broadcast()

	d.SetAdmitted(0)
	// Force the state machine to Free without going through the
	// table-checked Transition: FILLING->FREE is not a listed edge, it is
	// the special recovery path §4.5 calls out explicitly.
	forceFree(d)

	d.PageAddr = 0
	d.Dirty = false

	b.freeList = append(b.freeList, d)

	if b.fillWaitingCount > 0 {
		b.cvFree.Signal()
		b.mu.Unlock()
		b.mu.Lock()
	}

	return nil
}

// HighWaterReached reports whether the busy queue has crossed the
// high-water mark. Self-locking: intended for the eviction manager to
// poll outside of any other critical section.
func (b *Buffer) HighWaterReached() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.busyQueue.Len() >= b.highWater
}

// LowWaterReached reports whether the busy queue has drained to the
// low-water mark. Self-locking, same rationale as HighWaterReached.
func (b *Buffer) LowWaterReached() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.busyQueue.Len() <= b.lowWater
}

// Close tears the Buffer down. Per §5, the caller must have already
// quiesced the mapped region: every resident page must have been evicted
// and released. A non-empty present index at Close time is a programming
// error (§7 class 1) and, matching the "destructing a Buffer with any
// Present page aborts the process" requirement in §8, Close panics rather
// than returning an error.
func (b *Buffer) Close() {
	b.mu.Lock()

	if n := len(b.presentIndex); n > 0 {
		b.mu.Unlock()
		panic(ErrResidentOnDestroy{Resident: n})
	}

	b.closed = true
	b.cvFree.Broadcast()
	b.cvOldestReady.Broadcast()
	b.mu.Unlock()
}

// Stats is the structured form of the observability hook in §6.
type Stats struct {
	Capacity         int
	FreeCount        int
	BusyCount        int
	PresentCount     int
	FillWaitingCount int
	LowWater         int
	HighWater        int
}

// Stats snapshots the Buffer's bookkeeping for structured logging.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Stats{
		Capacity:         b.capacity,
		FreeCount:        len(b.freeList),
		BusyCount:        b.busyQueue.Len(),
		PresentCount:     len(b.presentIndex),
		FillWaitingCount: b.fillWaitingCount,
		LowWater:         b.lowWater,
		HighWater:        b.highWater,
	}
}

// Render is the human-readable form of Stats (§6's observability hook):
// the resident and capacity sizes are in bytes, the present, free and
// watermark figures are page counts.
func (b *Buffer) Render() string {
	s := b.Stats()

	residentBytes := uint64(s.BusyCount) * uint64(pagedesc.PageSize)
	capacityBytes := uint64(s.Capacity) * uint64(pagedesc.PageSize)

	return fmt.Sprintf(
		"pagebuf: %s/%s resident (%s present, %s free), low=%s high=%s, %d filler(s) waiting",
		humanize.Bytes(residentBytes),
		humanize.Bytes(capacityBytes),
		humanize.Comma(int64(s.PresentCount)),
		humanize.Comma(int64(s.FreeCount)),
		humanize.Comma(int64(s.LowWater)),
		humanize.Comma(int64(s.HighWater)),
		s.FillWaitingCount,
	)
}

func forceFree(d *pagedesc.Descriptor) {
	// Filling is the only state RollbackFilling is ever called from, and
	// Filling->Free is deliberately absent from the transition table so
	// that an ordinary Transition(Free) call (e.g. from a caller that
	// isn't the recovery path) is rejected. Drain the state via the one
	// listed edge that reaches Free un-ambiguously is not possible here,
	// so this helper sets the field directly — the single, documented
	// exception to "transitions are the only mutator of state".
	d.ForceState(pagedesc.Free)
}
