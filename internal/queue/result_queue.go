package queue

import (
	"sync"
	"time"

	"github.com/pingsantohq/pptpagent/internal/events"
	"github.com/pingsantohq/pptpagent/internal/metrics"
	"github.com/pingsantohq/pptpagent/pkg/types"
)

// ResultQueue buffers probe results between the workers and the
// transmitter. When full, the oldest result is dropped.
type ResultQueue struct {
	mu       sync.Mutex
	capacity int
	items    []types.ProbeResult
	dropped  uint64
	events   events.Recorder
	metrics  metrics.QueueRecorder
	now      func() time.Time
}

func NewResultQueue(capacity int) *ResultQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &ResultQueue{
		capacity: capacity,
		items:    make([]types.ProbeResult, 0, capacity),
		now:      time.Now,
	}
}

func (q *ResultQueue) SetEventRecorder(rec events.Recorder) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = rec
}

func (q *ResultQueue) SetMetricsRecorder(rec metrics.QueueRecorder) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.metrics = rec
	if rec != nil {
		rec.ObserveQueueCapacity(q.capacity)
	}
}

func (q *ResultQueue) Enqueue(result types.ProbeResult) (dropped bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.capacity {
		removed := q.items[0]
		q.items = q.items[1:]
		dropped = true
		q.dropped++
		q.recordDrop(removed)
	}

	q.items = append(q.items, result)
	q.observeDepthLocked()
	return dropped
}

func (q *ResultQueue) Drain(max int) []types.ProbeResult {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	if max > 0 && max < n {
		n = max
	}
	drained := make([]types.ProbeResult, n)
	copy(drained, q.items[:n])
	q.items = q.items[n:]
	q.observeDepthLocked()
	return drained
}

// Requeue puts results back at the head of the queue after a failed send,
// keeping as many of the newest items as capacity allows.
func (q *ResultQueue) Requeue(results []types.ProbeResult) {
	if len(results) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	merged := make([]types.ProbeResult, 0, len(results)+len(q.items))
	merged = append(merged, results...)
	merged = append(merged, q.items...)
	for len(merged) > q.capacity {
		q.dropped++
		q.recordDrop(merged[0])
		merged = merged[1:]
	}
	q.items = merged
	q.observeDepthLocked()
}

func (q *ResultQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *ResultQueue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Len:      len(q.items),
		Capacity: q.capacity,
		Dropped:  q.dropped,
	}
}

type Stats struct {
	Len      int
	Capacity int
	Dropped  uint64
}

func (q *ResultQueue) recordDrop(removed types.ProbeResult) {
	if q.metrics != nil {
		q.metrics.IncQueueDrops()
	}
	if q.events == nil {
		return
	}
	q.events.Record(types.Event{
		Type:      types.EventQueueDrop,
		Timestamp: q.now().UTC(),
		TargetID:  removed.TargetID,
	})
}

func (q *ResultQueue) observeDepthLocked() {
	if q.metrics == nil {
		return
	}
	q.metrics.ObserveQueueDepth(len(q.items))
}
