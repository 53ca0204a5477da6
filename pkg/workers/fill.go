// Package workers implements the small worker pools described in §4.4:
// fill workers that read pages in from a backing store and evict workers
// (plus one eviction-manager loop) that write dirty pages back out and
// free their slots. Both pools consume typed items from a workqueue.WorkQueue
// and drive the Buffer through exactly the synchronization points §4.2
// exposes for them.
package workers

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/riftfs/pagebuffer/pkg/backingstore"
	"github.com/riftfs/pagebuffer/pkg/pagebuf"
	"github.com/riftfs/pagebuffer/pkg/pagedesc"
	"github.com/riftfs/pagebuffer/pkg/workqueue"
)

// FillRequest is the payload of a workqueue.Fill item.
type FillRequest struct {
	Descriptor *pagedesc.Descriptor
	// SourceOffset is the backing-store offset to read from — normally
	// just Descriptor.PageAddr, but kept distinct since a region's virtual
	// address space and its backing store's byte offsets need not be
	// identical.
	SourceOffset int64
	// Done receives exactly one error (nil on success) once the fill
	// completes, so the fault handler that enqueued the request can wake
	// up. Buffered with capacity 1.
	Done chan error
}

// FillPool is the fill-worker pool from §4.4.
type FillPool struct {
	buf     *pagebuf.Buffer
	store   backingstore.Store
	queue   *workqueue.WorkQueue
	log     *zap.Logger
	workers int
	sem     *semaphore.Weighted
}

// NewFillPool builds a pool of workers fill workers reading from store on
// behalf of buf, consuming items pushed onto queue. concurrentFetches
// bounds how many backing-store reads run at once across the whole pool,
// the same role golang.org/x/sync/semaphore plays in this module's
// teacher package's chunk fetcher.
func NewFillPool(buf *pagebuf.Buffer, store backingstore.Store, queue *workqueue.WorkQueue, log *zap.Logger, workers, concurrentFetches int) *FillPool {
	return &FillPool{
		buf:     buf,
		store:   store,
		queue:   queue,
		log:     log.With(zap.String("pool", "fill")),
		workers: workers,
		sem:     semaphore.NewWeighted(int64(concurrentFetches)),
	}
}

// Run starts the pool's workers and blocks until every worker has
// returned, which happens once the queue is closed. Cancelling ctx alone
// does not stop the workers: ctx is passed to the semaphore and to the
// backing-store reads, not to the queue's Pop.
func (p *FillPool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			return p.loop(ctx)
		})
	}

	return g.Wait()
}

func (p *FillPool) loop(ctx context.Context) error {
	for {
		item, ok := p.queue.Pop()
		if !ok {
			return nil
		}

		req, ok := item.Payload.(*FillRequest)
		if !ok {
			p.log.Error("dropping fill item with unexpected payload", zap.Any("kind", item.Kind))

			continue
		}

		if err := p.sem.Acquire(ctx, 1); err != nil {
			req.Done <- fmt.Errorf("failed to acquire fill semaphore: %w", err)

			continue
		}

		p.fill(ctx, item.RequestID.String(), req)
		p.sem.Release(1)
	}
}

func (p *FillPool) fill(ctx context.Context, requestID string, req *FillRequest) {
	log := p.log.With(zap.String("request_id", requestID), zap.Uint64("page_addr", req.Descriptor.PageAddr))

	dst := p.buf.PageBytes(req.Descriptor)

	err := p.store.ReadPage(ctx, req.SourceOffset, dst)
	if err != nil {
		log.Warn("fill failed, rolling back descriptor", zap.Error(err))

		p.buf.Lock()
		rbErr := p.buf.RollbackFilling(req.Descriptor)
		p.buf.Unlock()

		if rbErr != nil {
			log.Fatal("fatal: could not roll back descriptor after failed fill", zap.Error(rbErr))
		}

		req.Done <- fmt.Errorf("failed to fill page at %d: %w", req.SourceOffset, err)

		return
	}

	p.buf.Lock()
	presentErr := p.buf.MarkPresent(req.Descriptor)
	p.buf.Unlock()

	if presentErr != nil {
		log.Fatal("fatal: invalid descriptor state transition marking page present", zap.Error(presentErr))
	}

	log.Debug("fill complete")
	req.Done <- nil
}
