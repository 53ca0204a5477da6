package backingstore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
	"github.com/googleapis/gax-go/v2"
)

const objectFetchTimeout = 10 * time.Second

// ObjectStore is a remote-object backing store: the "or other pluggable
// backing store" half of the spec's framing, for workloads whose backing
// file actually lives in object storage.
//
// Adapted from this module's teacher package's source.GCSObject: a single
// object handle with the client's own retry policy attached, wrapped to
// satisfy the Store contract. ObjectStore only supports ReadPage —
// WritePage always returns a PermanentError, because writing back into an
// immutable published object is not a supported mode for this backing
// store (a cache-then-upload flow, if needed, belongs to the excluded
// mapping-API layer, not the Buffer).
type ObjectStore struct {
	object *storage.ObjectHandle
}

// NewObjectStore returns a Store that reads bucket/objectPath through
// client, with the GCS client's own backoff/retry policy attached.
func NewObjectStore(client *storage.Client, bucket, objectPath string) *ObjectStore {
	object := client.Bucket(bucket).Object(objectPath).Retryer(
		storage.WithBackoff(gax.Backoff{
			Initial:    10 * time.Millisecond,
			Max:        10 * time.Second,
			Multiplier: 2,
		}),
		storage.WithPolicy(storage.RetryAlways),
	)

	return &ObjectStore{object: object}
}

func (o *ObjectStore) ReadPage(ctx context.Context, offset int64, dst []byte) error {
	ctx, cancel := context.WithTimeout(ctx, objectFetchTimeout)
	defer cancel()

	reader, err := o.object.NewRangeReader(ctx, offset, int64(len(dst)))
	if err != nil {
		return fmt.Errorf("failed to open object range reader at %d: %w", offset, err)
	}
	defer reader.Close()

	if _, err := reader.Read(dst); err != nil {
		return fmt.Errorf("failed to read object range at %d: %w", offset, err)
	}

	return nil
}

func (o *ObjectStore) WritePage(_ context.Context, offset int64, _ []byte) error {
	return &PermanentError{
		Op:  "write",
		Err: fmt.Errorf("object store at offset %d does not support write-back", offset),
	}
}

func (o *ObjectStore) Close() error { return nil }

// Size returns the object's total size in bytes.
func (o *ObjectStore) Size(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, objectFetchTimeout)
	defer cancel()

	attrs, err := o.object.Attrs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to stat object: %w", err)
	}

	return attrs.Size, nil
}
