// Package region provides the minimal runnable wiring described in §4.8:
// one Buffer, one backing store, one fault handler, and the fill/evict
// worker pools, started and stopped together. It is not the excluded
// per-region registry — there is exactly one Region here, not a map of
// many keyed by address range — it exists purely so cmd/pagebufd and the
// integration tests have something end-to-end to drive.
package region

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/riftfs/pagebuffer/internal/config"
	"github.com/riftfs/pagebuffer/pkg/backingstore"
	"github.com/riftfs/pagebuffer/pkg/faulthandler"
	"github.com/riftfs/pagebuffer/pkg/pagebuf"
	"github.com/riftfs/pagebuffer/pkg/pagedesc"
	"github.com/riftfs/pagebuffer/pkg/workers"
	"github.com/riftfs/pagebuffer/pkg/workqueue"
)

// Region owns every collaborator needed to service faults against one
// backing store through one Buffer.
type Region struct {
	buf     *pagebuf.Buffer
	store   backingstore.Store
	handler *faulthandler.Handler

	fillQueue  *workqueue.WorkQueue
	evictQueue *workqueue.WorkQueue

	fillPool  *workers.FillPool
	evictPool *workers.EvictPool
	manager   *workers.Manager

	log *zap.Logger
}

// Open constructs the Buffer, backing store, worker pools, and fault
// handler from cfg, but does not start the worker pools — call Run for
// that.
func Open(cfg config.Config, log *zap.Logger) (*Region, error) {
	buf, err := pagebuf.New(cfg.Capacity, cfg.LowWaterPercentage, cfg.HighWaterPercentage)
	if err != nil {
		return nil, fmt.Errorf("failed to construct buffer: %w", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open backing store: %w", err)
	}

	retried := backingstore.NewRetrier(store, cfg.ReadRetries, cfg.WriteRetries, 0)

	fillQueue := workqueue.New()
	evictQueue := workqueue.New()

	handler := faulthandler.New(buf, retried, fillQueue, log)

	fillPool := workers.NewFillPool(buf, retried, fillQueue, log, cfg.FillWorkers, cfg.FillWorkers)
	evictPool := workers.NewEvictPool(buf, retried, evictQueue, nil, log, cfg.EvictWorkers)
	manager := workers.NewManager(buf, evictQueue, log)

	return &Region{
		buf:        buf,
		store:      retried,
		handler:    handler,
		fillQueue:  fillQueue,
		evictQueue: evictQueue,
		fillPool:   fillPool,
		evictPool:  evictPool,
		manager:    manager,
		log:        log.With(zap.String("component", "region")),
	}, nil
}

func openStore(cfg config.Config) (backingstore.Store, error) {
	switch cfg.BackingStoreKind {
	case "file":
		return backingstore.NewFileStore(cfg.BackingFilePath, cfg.BackingFileSize)
	case "gcs":
		return nil, fmt.Errorf("gcs backing store requires an already-constructed *storage.Client; use backingstore.NewObjectStore directly")
	default:
		return nil, fmt.Errorf("unknown backing store kind %q", cfg.BackingStoreKind)
	}
}

// Run starts the fill pool, evict pool, and eviction manager, blocking
// until ctx is cancelled or one of them fails. Since WorkQueue.Pop has no
// context parameter (it only unblocks on an item or Close), ctx
// cancellation is translated into closing both queues so the fill/evict
// loops can actually return instead of leaking past Run.
func (r *Region) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return r.fillPool.Run(gctx) })
	g.Go(func() error { return r.evictPool.Run(gctx) })
	g.Go(func() error { return r.manager.Run(gctx) })

	go func() {
		<-gctx.Done()
		r.fillQueue.Close()
		r.evictQueue.Close()
	}()

	err := g.Wait()
	if err != nil && ctx.Err() != nil {
		return nil
	}

	return err
}

// Fault services one fault against addr, blocking until the page is
// resident or ctx is cancelled.
func (r *Region) Fault(ctx context.Context, addr uint64, write bool) (*pagedesc.Descriptor, error) {
	return r.handler.Fault(ctx, addr, write)
}

// MarkDirty marks the resident page at addr dirty without servicing a
// fault, for callers that already hold a descriptor from a prior Fault
// and are about to write through it directly.
func (r *Region) MarkDirty(addr uint64) error {
	r.buf.Lock()
	defer r.buf.Unlock()

	d, ok := r.buf.Lookup(addr)
	if !ok {
		return pagebuf.ErrNotPresent
	}

	d.Dirty = true

	return nil
}

// Stats snapshots the Buffer's current occupancy.
func (r *Region) Stats() pagebuf.Stats {
	return r.buf.Stats()
}

// Render is the human-readable form of Stats.
func (r *Region) Render() string {
	return r.buf.Render()
}

// Close shuts the fill/evict queues down and tears the Buffer and backing
// store down. Callers must ensure every resident page has already been
// evicted (e.g. by draining to low_water_percentage=0 first); otherwise
// Buffer.Close panics, per §8.
func (r *Region) Close() error {
	r.fillQueue.Close()
	r.evictQueue.Close()
	r.buf.Close()

	return r.store.Close()
}
