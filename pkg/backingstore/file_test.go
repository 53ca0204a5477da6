package backingstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreWriteThenRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.img")

	s, err := NewFileStore(path, 4*PageSize)
	require.NoError(t, err)
	defer s.Close()

	src := make([]byte, PageSize)
	copy(src, []byte("hello file store"))

	require.NoError(t, s.WritePage(context.Background(), PageSize, src))

	dst := make([]byte, PageSize)
	require.NoError(t, s.ReadPage(context.Background(), PageSize, dst))
	assert.Equal(t, src, dst)
}

func TestFileStoreReadUnavailableBeforeWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.img")

	s, err := NewFileStore(path, 4*PageSize)
	require.NoError(t, err)
	defer s.Close()

	dst := make([]byte, PageSize)
	err = s.ReadPage(context.Background(), 0, dst)

	var unavailable ErrPageUnavailable
	require.ErrorAs(t, err, &unavailable)
}

func TestFileStoreReopenReportsPagesUnavailable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.img")

	s, err := NewFileStore(path, 2*PageSize)
	require.NoError(t, err)

	src := make([]byte, PageSize)
	copy(src, []byte("persisted"))
	require.NoError(t, s.WritePage(context.Background(), 0, src))
	require.NoError(t, s.Sync())
	require.NoError(t, s.Close())

	reopened, err := NewFileStore(path, 2*PageSize)
	require.NoError(t, err)
	defer reopened.Close()

	// The marker itself is in-memory, not persisted, so the reopened store
	// reports every page unavailable again even though the bytes are on
	// disk — matching a freshly-opened file-backed store's contract.
	dst := make([]byte, PageSize)
	err = reopened.ReadPage(context.Background(), 0, dst)
	var unavailable ErrPageUnavailable
	require.ErrorAs(t, err, &unavailable)
}

func TestNewFileStoreCreatesFileOfRequestedSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.img")

	s, err := NewFileStore(path, 8*PageSize)
	require.NoError(t, err)
	defer s.Close()

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(8*PageSize), info.Size())
}
