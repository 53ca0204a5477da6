// Package faulthandler implements the thin shim described in §4.7: it
// translates a fault for a virtual address into exactly the Buffer calls
// named in §2's data-flow paragraph, and nothing else. It does not touch
// /dev/userfaultfd, mmap(2), or signals — wiring this shim to the real
// kernel trap mechanism belongs to the excluded component this module
// names only as a contract.
package faulthandler

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/riftfs/pagebuffer/pkg/backingstore"
	"github.com/riftfs/pagebuffer/pkg/pagebuf"
	"github.com/riftfs/pagebuffer/pkg/pagedesc"
	"github.com/riftfs/pagebuffer/pkg/workers"
	"github.com/riftfs/pagebuffer/pkg/workqueue"
)

// Handler is deliberately thin: a *pagebuf.Buffer, a backing store, and the
// fill queue those fill workers drain. Its one method is exactly the
// lock/lookup/allocate-or-block/enqueue/unlock/wait sequence from §2.
type Handler struct {
	buf       *pagebuf.Buffer
	store     backingstore.Store
	fillQueue *workqueue.WorkQueue
	log       *zap.Logger
}

// New builds a Handler serving faults against buf, sourcing fill reads
// from store via items pushed onto fillQueue.
func New(buf *pagebuf.Buffer, store backingstore.Store, fillQueue *workqueue.WorkQueue, log *zap.Logger) *Handler {
	return &Handler{
		buf:       buf,
		store:     store,
		fillQueue: fillQueue,
		log:       log.With(zap.String("component", "fault-handler")),
	}
}

// Fault services one fault against addr. If the page is already resident
// it returns immediately. Otherwise it blocks (cancellable via ctx) until
// either a fill completes successfully, producing a Present descriptor, or
// the fill fails or ctx is cancelled, in which case it returns the error.
// A failed fill leaves the page absent; cancelling ctx after the fill was
// queued does not withdraw it, so the page can still become Present. write
// marks the page dirty, under the lock, once the fill has completed,
// modeling a write fault that both maps the page in and
// is about to modify it — a separate fault would otherwise be needed
// immediately afterward to transition Present->Updating->Present.
func (h *Handler) Fault(ctx context.Context, addr uint64, write bool) (*pagedesc.Descriptor, error) {
	h.buf.Lock()

	if d, ok := h.buf.Lookup(addr); ok {
		if write {
			d.Dirty = true
		}

		h.buf.Unlock()

		return d, nil
	}

	d, err := h.buf.AcquireForFillCtx(ctx, addr)
	if err != nil {
		h.buf.Unlock()

		return nil, fmt.Errorf("failed to acquire descriptor for fault at %d: %w", addr, err)
	}

	if err := h.buf.AdmitFilling(d); err != nil {
		h.buf.Unlock()

		return nil, fmt.Errorf("failed to admit descriptor to filling for fault at %d: %w", addr, err)
	}

	done := make(chan error, 1)
	h.fillQueue.Push(workqueue.Fill, &workers.FillRequest{Descriptor: d, SourceOffset: int64(addr), Done: done})

	h.buf.Unlock()

	select {
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("fault at %d failed: %w", addr, err)
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	h.buf.Lock()
	if write {
		d.Dirty = true
	}
	h.buf.Unlock()

	return d, nil
}
