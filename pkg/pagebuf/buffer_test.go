package pagebuf

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftfs/pagebuffer/pkg/pagedesc"
)

func TestNewRejectsBadCapacity(t *testing.T) {
	_, err := New(0, 50, 90)
	require.Error(t, err)
	assert.ErrorAs(t, err, &ErrInvalidCapacity{})

	_, err = New(-1, 50, 90)
	require.Error(t, err)
	assert.ErrorAs(t, err, &ErrInvalidCapacity{})
}

func TestNewRejectsBadWatermarks(t *testing.T) {
	_, err := New(10, -1, 90)
	require.Error(t, err)
	assert.ErrorAs(t, err, &ErrInvalidWatermarks{})

	_, err = New(10, 50, 101)
	require.Error(t, err)
	assert.ErrorAs(t, err, &ErrInvalidWatermarks{})

	_, err = New(10, 90, 50)
	require.Error(t, err)
	assert.ErrorAs(t, err, &ErrInvalidWatermarks{})
}

func TestNewComputesWatermarks(t *testing.T) {
	b, err := New(100, 50, 75)
	require.NoError(t, err)
	assert.Equal(t, 50, b.lowWater)
	assert.Equal(t, 75, b.highWater)
	assert.Equal(t, 100, b.Capacity())
}

// fillOne drives one page through FREE->FILLING->PRESENT, simulating what
// a fault handler + fill worker pair would do, without the workqueue.
func fillOne(t *testing.T, b *Buffer, addr uint64) *pagedesc.Descriptor {
	t.Helper()

	b.Lock()
	d := b.AcquireForFill(addr)
	require.NotNil(t, d)
	require.NoError(t, b.AdmitFilling(d))
	b.Unlock()

	b.Lock()
	require.NoError(t, b.MarkPresent(d))
	b.Unlock()

	return d
}

func TestLookupMissThenHitAfterFill(t *testing.T) {
	b, err := New(4, 50, 100)
	require.NoError(t, err)

	b.Lock()
	_, ok := b.Lookup(7)
	b.Unlock()
	assert.False(t, ok)

	d := fillOne(t, b, 7)

	b.Lock()
	got, ok := b.Lookup(7)
	b.Unlock()
	assert.True(t, ok)
	assert.Same(t, d, got)
}

// TestAcquireForFillBlocksUntilFree exercises the blocking-fill scenario:
// a fault handler blocked on AcquireForFill wakes only once a descriptor
// is released back to the free list.
func TestAcquireForFillBlocksUntilFree(t *testing.T) {
	b, err := New(1, 0, 100)
	require.NoError(t, err)

	d0 := fillOne(t, b, 1)

	unblocked := make(chan *pagedesc.Descriptor, 1)

	go func() {
		b.Lock()
		d := b.AcquireForFill(2)
		b.Unlock()
		unblocked <- d
	}()

	select {
	case <-unblocked:
		t.Fatal("AcquireForFill returned before any descriptor was freed")
	case <-time.After(50 * time.Millisecond):
	}

	b.Lock()
	d0.Dirty = false
	require.NoError(t, d0.Transition(pagedesc.Leaving))
	require.NoError(t, b.Release(d0))
	b.Unlock()

	select {
	case d := <-unblocked:
		require.NotNil(t, d)
		assert.Equal(t, uint64(2), d.PageAddr)
	case <-time.After(time.Second):
		t.Fatal("AcquireForFill never unblocked after release")
	}
}

// TestAcquireOldestPresentFIFOOrder exercises the FIFO-eviction scenario:
// pages admitted in order A, B must be evicted in that same order even
// if B becomes PRESENT before A.
func TestAcquireOldestPresentFIFOOrder(t *testing.T) {
	b, err := New(3, 0, 100)
	require.NoError(t, err)

	b.Lock()
	da := b.AcquireForFill(100)
	require.NoError(t, b.AdmitFilling(da))
	db := b.AcquireForFill(200)
	require.NoError(t, b.AdmitFilling(db))
	b.Unlock()

	// B finishes first, but A is still FILLING: an evictor must block.
	b.Lock()
	require.NoError(t, b.MarkPresent(db))
	b.Unlock()

	result := make(chan *pagedesc.Descriptor, 1)

	go func() {
		b.Lock()
		d := b.AcquireOldestPresent()
		b.Unlock()
		result <- d
	}()

	select {
	case <-result:
		t.Fatal("evictor returned before the FIFO head (A) reached PRESENT")
	case <-time.After(50 * time.Millisecond):
	}

	b.Lock()
	require.NoError(t, b.MarkPresent(da))
	b.Unlock()

	select {
	case d := <-result:
		require.NotNil(t, d)
		assert.Equal(t, uint64(100), d.PageAddr, "evictor must receive A, the FIFO head, not B")
	case <-time.After(time.Second):
		t.Fatal("evictor never unblocked after A reached PRESENT")
	}
}

// TestConditionalOldestReadySignal checks that an evictor parked on a
// FILLING head is recorded in lastPDWaiting, and that MarkPresent on that
// descriptor clears lastPDWaiting and wakes the evictor.
func TestConditionalOldestReadySignal(t *testing.T) {
	b, err := New(2, 0, 100)
	require.NoError(t, err)

	b.Lock()
	da := b.AcquireForFill(1)
	require.NoError(t, b.AdmitFilling(da))
	b.Unlock()

	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		b.Lock()
		d := b.AcquireOldestPresent()
		b.Unlock()
		assert.NotNil(t, d)
	}()

	// Give the evictor time to park on da.
	time.Sleep(30 * time.Millisecond)

	b.Lock()
	assert.Same(t, da, b.lastPDWaiting)
	require.NoError(t, b.MarkPresent(da))
	assert.Nil(t, b.lastPDWaiting, "lastPDWaiting must be cleared once its waiter is woken")
	b.Unlock()

	wg.Wait()
}

func TestReleaseReturnsDescriptorToFreeList(t *testing.T) {
	b, err := New(2, 0, 100)
	require.NoError(t, err)

	d := fillOne(t, b, 9)

	b.Lock()
	require.NoError(t, d.Transition(pagedesc.Leaving))
	require.NoError(t, b.Release(d))
	_, ok := b.Lookup(9)
	b.Unlock()

	assert.False(t, ok)
	assert.Equal(t, pagedesc.Free, d.State())
	assert.Equal(t, uint64(0), d.PageAddr)
}

func TestRollbackFillingReturnsToFreeWithoutPresent(t *testing.T) {
	b, err := New(2, 0, 100)
	require.NoError(t, err)

	b.Lock()
	d := b.AcquireForFill(5)
	require.NoError(t, b.AdmitFilling(d))
	require.NoError(t, b.RollbackFilling(d))
	_, ok := b.Lookup(5)
	b.Unlock()

	assert.False(t, ok)
	assert.Equal(t, pagedesc.Free, d.State())
}

func TestRollbackFillingOfHeadUnblocksEvictorOnNewHead(t *testing.T) {
	b, err := New(3, 0, 100)
	require.NoError(t, err)

	b.Lock()
	da := b.AcquireForFill(1)
	require.NoError(t, b.AdmitFilling(da))
	db := b.AcquireForFill(2)
	require.NoError(t, b.AdmitFilling(db))
	require.NoError(t, b.MarkPresent(db))
	b.Unlock()

	result := make(chan *pagedesc.Descriptor, 1)

	go func() {
		b.Lock()
		d := b.AcquireOldestPresent()
		b.Unlock()
		result <- d
	}()

	time.Sleep(30 * time.Millisecond)

	// A (the FIFO head) fails its fill; B becomes the new head and is
	// already PRESENT, so the parked evictor must be woken with B.
	b.Lock()
	require.NoError(t, b.RollbackFilling(da))
	b.Unlock()

	select {
	case d := <-result:
		require.NotNil(t, d)
		assert.Equal(t, uint64(2), d.PageAddr)
	case <-time.After(time.Second):
		t.Fatal("evictor never unblocked after the FIFO head was rolled back")
	}
}

func TestHighAndLowWaterReached(t *testing.T) {
	b, err := New(4, 25, 75)
	require.NoError(t, err)

	assert.False(t, b.HighWaterReached())
	assert.True(t, b.LowWaterReached())

	fillOne(t, b, 1)
	fillOne(t, b, 2)
	fillOne(t, b, 3)

	assert.True(t, b.HighWaterReached())
	assert.False(t, b.LowWaterReached())
}

func TestHighWaterNotifyFires(t *testing.T) {
	b, err := New(2, 0, 100)
	require.NoError(t, err)

	select {
	case <-b.HighWaterNotify():
		t.Fatal("unexpected notification before crossing high water")
	default:
	}

	fillOne(t, b, 1)
	fillOne(t, b, 2)

	select {
	case <-b.HighWaterNotify():
	case <-time.After(time.Second):
		t.Fatal("expected a high-water notification")
	}
}

// TestCloseWithResidentPagesPanics exercises the destruction-guard
// scenario: destroying a Buffer with any PRESENT page aborts the process.
func TestCloseWithResidentPagesPanics(t *testing.T) {
	b, err := New(1, 0, 100)
	require.NoError(t, err)

	fillOne(t, b, 1)

	assert.Panics(t, func() { b.Close() })
}

func TestCloseWithNoResidentPagesSucceeds(t *testing.T) {
	b, err := New(1, 0, 100)
	require.NoError(t, err)

	assert.NotPanics(t, func() { b.Close() })
}

func TestCloseUnblocksWaiters(t *testing.T) {
	b, err := New(1, 0, 100)
	require.NoError(t, err)

	// Drain the one resident page first so Close doesn't panic.
	d := fillOne(t, b, 1)
	b.Lock()
	require.NoError(t, d.Transition(pagedesc.Leaving))
	require.NoError(t, b.Release(d))
	d2 := b.AcquireForFill(2)
	require.NoError(t, b.AdmitFilling(d2))
	b.Unlock()

	result := make(chan error, 1)

	go func() {
		b.Lock()
		_, err := b.AcquireOldestPresentCtx(context.Background())
		b.Unlock()
		result <- err
	}()

	time.Sleep(30 * time.Millisecond)

	b.Close()

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrBufferClosing)
	case <-time.After(time.Second):
		t.Fatal("evictor should have been unblocked by Close")
	}
}

func TestAcquireForFillCtxCancellation(t *testing.T) {
	b, err := New(1, 0, 100)
	require.NoError(t, err)

	fillOne(t, b, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	b.Lock()
	d, err := b.AcquireForFillCtx(ctx, 2)
	b.Unlock()

	assert.Nil(t, d)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAcquireOldestPresentCtxCancellation(t *testing.T) {
	b, err := New(2, 0, 100)
	require.NoError(t, err)

	b.Lock()
	d := b.AcquireForFill(1)
	require.NoError(t, b.AdmitFilling(d))
	b.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	b.Lock()
	got, err := b.AcquireOldestPresentCtx(ctx)
	b.Unlock()

	assert.Nil(t, got)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStatsAndRender(t *testing.T) {
	b, err := New(4, 50, 75)
	require.NoError(t, err)

	fillOne(t, b, 1)

	s := b.Stats()
	assert.Equal(t, 4, s.Capacity)
	assert.Equal(t, 1, s.PresentCount)
	assert.Equal(t, 1, s.BusyCount)
	assert.Equal(t, 3, s.FreeCount)

	rendered := b.Render()
	assert.Contains(t, rendered, "resident")
}

func TestPageBytesIsolatedPerSlot(t *testing.T) {
	b, err := New(2, 0, 100)
	require.NoError(t, err)

	d1 := fillOne(t, b, 1)
	d2 := fillOne(t, b, 2)

	copy(b.PageBytes(d1), []byte("aaaa"))
	copy(b.PageBytes(d2), []byte("bbbb"))

	assert.Equal(t, []byte("aaaa"), b.PageBytes(d1)[:4])
	assert.Equal(t, []byte("bbbb"), b.PageBytes(d2)[:4])
}
