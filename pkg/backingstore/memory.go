package backingstore

import (
	"context"
	"sync"
)

// MemoryStore is an in-process backing store over a plain byte slice,
// used by this package's own tests and by workers/faulthandler tests that
// need a Store without touching the filesystem.
//
// Adapted from this module's teacher package's block.MockDevice: the same
// marker-gated read behavior as FileStore, but backed by a heap slice
// instead of a memory-mapped file.
type MemoryStore struct {
	data   []byte
	marker *marker
	mu     sync.RWMutex
}

// NewMemoryStore allocates a MemoryStore of the given size. If
// prefilled is true every page starts out readable (as if the whole
// store had already been written); otherwise every page starts
// unavailable, matching a freshly-created file-backed store.
func NewMemoryStore(size int64, prefilled bool) *MemoryStore {
	s := &MemoryStore{
		data:   make([]byte, size),
		marker: newMarker(),
	}

	if prefilled {
		for p := int64(0); p < size; p += PageSize {
			s.marker.mark(pageNumber(p))
		}
	}

	return s
}

func (s *MemoryStore) ReadPage(_ context.Context, offset int64, dst []byte) error {
	if !s.marker.isMarked(pageNumber(offset)) {
		return ErrPageUnavailable{Offset: offset}
	}

	length := clampLength(int64(len(dst)), offset, int64(len(s.data)))

	s.mu.RLock()
	defer s.mu.RUnlock()

	copy(dst, s.data[offset:offset+length])

	return nil
}

func (s *MemoryStore) WritePage(_ context.Context, offset int64, src []byte) error {
	length := clampLength(int64(len(src)), offset, int64(len(s.data)))

	s.mu.Lock()
	n := copy(s.data[offset:offset+length], src)
	s.mu.Unlock()

	for p := offset; p < offset+int64(n); p += PageSize {
		s.marker.mark(pageNumber(p))
	}

	return nil
}

func (s *MemoryStore) Close() error { return nil }
