package backingstore

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"
)

// FileStore is a local, mmap'd-file backing store: the "file" half of the
// spec's "backing file (or other pluggable backing store)" framing.
//
// Adapted from this module's teacher package's cache.MmapCache: the file
// is grown to its final size up front and mapped once, reads and writes
// are plain slice copies into the mapping, and a marker records which
// pages have ever been written so an unwritten page is reported as
// unavailable (a retryable ReadPage error) rather than silently returning
// zero bytes.
type FileStore struct {
	file   *os.File
	mapped mmap.MMap
	size   int64
	marker *marker
	mu     sync.RWMutex
}

// NewFileStore opens (creating if necessary) filePath, truncates it to
// size, and maps it RDWR.
func NewFileStore(filePath string, size int64) (*FileStore, error) {
	f, err := os.OpenFile(filePath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open backing file: %w", err)
	}

	if err := f.Truncate(size); err != nil {
		_ = f.Close()

		return nil, fmt.Errorf("failed to size backing file: %w", err)
	}

	mapped, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		_ = f.Close()

		return nil, fmt.Errorf("failed to map backing file: %w", err)
	}

	return &FileStore{
		file:   f,
		mapped: mapped,
		size:   size,
		marker: newMarker(),
	}, nil
}

// ErrPageUnavailable is returned by ReadPage when the requested page has
// never been written. It is retryable in the sense that a different
// offset will succeed; the fill worker that encounters it while reading
// from a file-backed store treats it the same as any other transient
// error and lets the caller decide whether to retry or surface it.
type ErrPageUnavailable struct {
	Offset int64
}

func (e ErrPageUnavailable) Error() string {
	return fmt.Sprintf("page at offset %d has never been written to this backing file", e.Offset)
}

func (s *FileStore) ReadPage(_ context.Context, offset int64, dst []byte) error {
	if !s.marker.isMarked(pageNumber(offset)) {
		return ErrPageUnavailable{Offset: offset}
	}

	length := clampLength(int64(len(dst)), offset, s.size)

	s.mu.RLock()
	defer s.mu.RUnlock()

	copy(dst, s.mapped[offset:offset+length])

	return nil
}

func (s *FileStore) WritePage(_ context.Context, offset int64, src []byte) error {
	length := clampLength(int64(len(src)), offset, s.size)

	s.mu.Lock()
	n := copy(s.mapped[offset:offset+length], src)
	s.mu.Unlock()

	for p := offset; p < offset+int64(n); p += PageSize {
		s.marker.mark(pageNumber(p))
	}

	return nil
}

func (s *FileStore) Close() error {
	if err := s.mapped.Unmap(); err != nil {
		_ = s.file.Close()

		return fmt.Errorf("failed to unmap backing file: %w", err)
	}

	if err := s.file.Close(); err != nil {
		return fmt.Errorf("failed to close backing file: %w", err)
	}

	return nil
}

// Sync flushes the mapping to disk. Not part of the Store interface — it
// is an extra durability knob a caller can use between evict batches.
func (s *FileStore) Sync() error {
	return s.mapped.Flush()
}

func pageNumber(offset int64) uint {
	return uint(offset / PageSize)
}

func clampLength(length, offset, size int64) int64 {
	if offset+length > size {
		return size - offset
	}

	return length
}
