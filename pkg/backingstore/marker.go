package backingstore

import (
	"sync"

	"github.com/bits-and-blooms/bitset"
)

// marker tracks which pages of a file-backed store have ever been
// written, so a freshly-opened (possibly sparse) file correctly reports a
// page as unavailable rather than returning zeroed bytes as if they were
// real data.
//
// Grounded on this module's teacher package's own block.Bitset: a
// bits-and-blooms/bitset.BitSet guarded by a sync.RWMutex, indexed by page
// number rather than byte offset.
type marker struct {
	bits *bitset.BitSet
	mu   sync.RWMutex
}

func newMarker() *marker {
	return &marker{bits: &bitset.BitSet{}}
}

func (m *marker) mark(page uint) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.bits.Set(page)
}

func (m *marker) isMarked(page uint) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.bits.Test(page)
}
