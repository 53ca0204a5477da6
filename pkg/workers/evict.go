package workers

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/riftfs/pagebuffer/pkg/backingstore"
	"github.com/riftfs/pagebuffer/pkg/pagebuf"
	"github.com/riftfs/pagebuffer/pkg/pagedesc"
	"github.com/riftfs/pagebuffer/pkg/workqueue"
)

// Invalidate is called, outside the Buffer lock, once a page's write-back
// (if any) has completed and before its descriptor is released — the
// eviction path's "invalidates it in the mapped address space" step from
// §4.4. Wiring this to a real mapped region is the excluded trap layer's
// job; the default used when none is supplied is a no-op.
type Invalidate func(pageAddr uint64)

// EvictPool is the evict-worker pool from §4.4. Each worker acquires the
// oldest Present descriptor itself (matching §4.4's "each evict worker
// calls acquire_oldest_present under the lock"); the items this pool pops
// off its queue are plain triggers pushed by a Manager, not pre-selected
// descriptors.
type EvictPool struct {
	buf        *pagebuf.Buffer
	store      backingstore.Store
	queue      *workqueue.WorkQueue
	invalidate Invalidate
	log        *zap.Logger
	workers    int
}

// NewEvictPool builds a pool of workers evict workers writing back to
// store on behalf of buf. invalidate may be nil.
func NewEvictPool(buf *pagebuf.Buffer, store backingstore.Store, queue *workqueue.WorkQueue, invalidate Invalidate, log *zap.Logger, workers int) *EvictPool {
	if invalidate == nil {
		invalidate = func(uint64) {}
	}

	return &EvictPool{
		buf:        buf,
		store:      store,
		queue:      queue,
		invalidate: invalidate,
		log:        log.With(zap.String("pool", "evict")),
		workers:    workers,
	}
}

// Run starts the pool's workers and blocks until every worker has
// returned, which happens once the queue is closed. Cancelling ctx alone
// does not stop the workers: ctx is passed to the acquire and the
// write-back, not to the queue's Pop.
func (p *EvictPool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			return p.loop(ctx)
		})
	}

	return g.Wait()
}

func (p *EvictPool) loop(ctx context.Context) error {
	for {
		_, ok := p.queue.Pop()
		if !ok {
			return nil
		}

		p.evictOne(ctx)
	}
}

// evictOne evicts at most one page: the oldest Present descriptor at the
// time it is called. If the busy queue was empty it is a no-op — a
// Manager that over-pushed triggers relative to how much there was to
// drain is harmless. Uses the cancellable acquire so a parked evictor
// (waiting on a FIFO head that hasn't reached Present yet) unblocks on
// shutdown instead of hanging the pool's errgroup forever.
func (p *EvictPool) evictOne(ctx context.Context) {
	p.buf.Lock()
	d, err := p.buf.AcquireOldestPresentCtx(ctx)

	if err != nil || d == nil {
		p.buf.Unlock()

		return
	}

	if err := d.Transition(pagedesc.Leaving); err != nil {
		p.buf.Unlock()
		p.log.Fatal("fatal: invalid descriptor state transition evicting page", zap.Error(err))

		return
	}
	p.buf.Unlock()

	log := p.log.With(zap.Uint64("page_addr", d.PageAddr), zap.Bool("dirty", d.Dirty))

	if d.Dirty {
		if err := p.store.WritePage(ctx, d.PageAddr, p.buf.PageBytes(d)); err != nil {
			if backingstore.IsPermanent(err) {
				log.Fatal("fatal: permanent backing-store write failure, dirty page cannot be dropped", zap.Error(err))
			}

			log.Error("transient write-back error, retrier should have absorbed this", zap.Error(err))
		} else {
			d.Dirty = false
		}
	}

	p.invalidate(d.PageAddr)

	p.buf.Lock()
	releaseErr := p.buf.Release(d)
	p.buf.Unlock()

	if releaseErr != nil {
		log.Fatal("fatal: invalid descriptor state transition releasing page", zap.Error(releaseErr))
	}

	log.Debug("evict complete")
}
