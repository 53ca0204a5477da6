// Package backingstore implements the external collaborator named, but not
// specified, by §6 of the core Buffer spec: "Backing store (consumed, not
// implemented here). read_page(offset, dst) and write_page(offset, src),
// each blocking, each returning success or a retryable/fatal error
// classification."
//
// This package supplies that classification plus two concrete stores — a
// local mmap'd file and a remote object — because a Buffer with nothing to
// fault against cannot be exercised end-to-end.
package backingstore

import (
	"context"
	"errors"
	"fmt"
)

// Store is the backing-store contract a Buffer's fill and evict workers
// drive. Implementations must classify their own failures: ReadPage and
// WritePage return a *PermanentError for failures §4.5 says should abort
// the process after bounded retries, and a plain (wrapped) error for
// failures the caller should retry.
type Store interface {
	ReadPage(ctx context.Context, offset int64, dst []byte) error
	WritePage(ctx context.Context, offset int64, src []byte) error
	Close() error
}

// PermanentError marks a backing-store failure as non-retryable: §4.5
// classifies a write failure this reaches as fatal ("dirty pages cannot be
// silently dropped") after the retry budget is exhausted, and a read
// failure this reaches is surfaced straight to the originating fault.
type PermanentError struct {
	Op  string
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent backing-store error during %s: %v", e.Op, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// IsPermanent reports whether err (or something it wraps) is a
// PermanentError.
func IsPermanent(err error) bool {
	var perm *PermanentError

	return errors.As(err, &perm)
}
