package workers

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/riftfs/pagebuffer/pkg/pagebuf"
	"github.com/riftfs/pagebuffer/pkg/workqueue"
)

// pollInterval bounds how long the Manager ever waits between checking
// the watermarks when no HighWaterNotify wakeup arrives — a fallback for
// the case where a single AcquireForFill pushed the busy queue over
// high_water without anyone observing the notification channel in time.
const pollInterval = 250 * time.Millisecond

// Manager drives the evict queue from the Buffer's watermarks, per §4.4:
// once the busy queue reaches high_water it pushes Evict triggers until
// the queue has drained back down to low_water.
type Manager struct {
	buf   *pagebuf.Buffer
	queue *workqueue.WorkQueue
	log   *zap.Logger
}

// NewManager builds a Manager pushing triggers onto queue whenever buf
// crosses its high-water mark.
func NewManager(buf *pagebuf.Buffer, queue *workqueue.WorkQueue, log *zap.Logger) *Manager {
	return &Manager{
		buf:   buf,
		queue: queue,
		log:   log.With(zap.String("component", "evict-manager")),
	}
}

// Run blocks until ctx is cancelled, driving the evict queue as described
// above.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.buf.HighWaterNotify():
			m.drain(ctx)
		case <-ticker.C:
			if m.buf.HighWaterReached() {
				m.drain(ctx)
			}
		}
	}
}

// drain pushes exactly as many Evict triggers as the current snapshot
// says are needed to reach low_water. Each trigger causes exactly one
// evict worker to evict at most one page (see EvictPool.evictOne), so
// sizing the batch off a single snapshot — rather than spinning on
// LowWaterReached between individual pushes — avoids flooding the queue
// while the workers are still catching up. drain runs again on the next
// high-water notification, or on the next tick that finds the high-water
// mark reached; a busy queue left between low_water and high_water does
// not trigger another drain.
func (m *Manager) drain(ctx context.Context) {
	stats := m.buf.Stats()
	need := stats.BusyCount - stats.LowWater

	for i := 0; i < need; i++ {
		select {
		case <-ctx.Done():
			return
		default:
		}

		m.queue.Push(workqueue.Evict, nil)
	}

	if need > 0 {
		m.log.Debug("pushed evict triggers", zap.Int("count", need), zap.String("stats", m.buf.Render()))
	}
}
