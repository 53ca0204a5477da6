package backingstore

import (
	"context"
	"fmt"
	"time"
)

// Retrier wraps a Store and bounds how many times a read or write is
// attempted before giving up, per §4.5: transient backing-store errors
// are retried a bounded number of times; a write failure that exhausts
// its budget is escalated to a PermanentError ("dirty pages cannot be
// silently dropped"), a read failure that exhausts its budget is returned
// as-is for the caller (the originating fault) to surface.
//
// Adapted from this module's teacher package's source.Retrier, generalized
// from read-only to both read and write and given separate budgets for
// each, since write failures have a stricter (fatal) escalation than read
// failures.
type Retrier struct {
	store Store

	readRetries  int
	writeRetries int
	delay        time.Duration
}

// NewRetrier wraps store, retrying each operation up to readRetries /
// writeRetries times (in addition to the first attempt) with delay
// between attempts.
func NewRetrier(store Store, readRetries, writeRetries int, delay time.Duration) *Retrier {
	return &Retrier{
		store:        store,
		readRetries:  readRetries,
		writeRetries: writeRetries,
		delay:        delay,
	}
}

func (r *Retrier) ReadPage(ctx context.Context, offset int64, dst []byte) error {
	var lastErr error

	for attempt := 0; attempt <= r.readRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := r.store.ReadPage(ctx, offset, dst)
		if err == nil {
			return nil
		}

		if IsPermanent(err) {
			return err
		}

		lastErr = err

		if attempt < r.readRetries {
			sleep(ctx, r.delay)
		}
	}

	return fmt.Errorf("failed to read page at %d after %d attempts: %w", offset, r.readRetries+1, lastErr)
}

func (r *Retrier) WritePage(ctx context.Context, offset int64, src []byte) error {
	var lastErr error

	for attempt := 0; attempt <= r.writeRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := r.store.WritePage(ctx, offset, src)
		if err == nil {
			return nil
		}

		if IsPermanent(err) {
			return err
		}

		lastErr = err

		if attempt < r.writeRetries {
			sleep(ctx, r.delay)
		}
	}

	return &PermanentError{
		Op:  "write",
		Err: fmt.Errorf("failed to write page at %d after %d attempts: %w", offset, r.writeRetries+1, lastErr),
	}
}

func (r *Retrier) Close() error {
	return r.store.Close()
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
