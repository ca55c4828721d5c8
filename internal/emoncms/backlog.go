package emoncms

import (
	"context"
	"sync"

	"github.com/matthewwall/weewx-emoncms/internal/metrics"
)

// Backlog is a bounded FIFO hand-off between the intake callback and the
// delivery worker. When full, the oldest record is evicted to make room;
// the producer is never blocked. Safe for one producer and one consumer.
type Backlog struct {
	mu     sync.Mutex
	data   []Record
	cap    int
	notify chan struct{}
}

// NewBacklog returns a backlog holding at most capacity records.
func NewBacklog(capacity int) *Backlog {
	if capacity < 1 {
		capacity = 1
	}
	return &Backlog{
		data:   make([]Record, 0, capacity),
		cap:    capacity,
		notify: make(chan struct{}, 1),
	}
}

// Put appends a record, evicting the oldest entry when the backlog is at
// capacity. Returns the number of records evicted (0 or 1).
func (b *Backlog) Put(rec Record) int {
	b.mu.Lock()
	dropped := 0
	if len(b.data) >= b.cap {
		b.data = b.data[1:]
		dropped = 1
	}
	b.data = append(b.data, rec)
	metrics.BacklogLength.Set(float64(len(b.data)))
	b.mu.Unlock()

	if dropped > 0 {
		metrics.RecordsDropped.WithLabelValues("backlog_full").Inc()
	}

	select {
	case b.notify <- struct{}{}:
	default:
	}
	return dropped
}

// Get removes and returns the oldest record, blocking until one is
// available or ctx is done.
func (b *Backlog) Get(ctx context.Context) (Record, error) {
	for {
		b.mu.Lock()
		if len(b.data) > 0 {
			rec := b.data[0]
			b.data = b.data[1:]
			metrics.BacklogLength.Set(float64(len(b.data)))
			b.mu.Unlock()
			return rec, nil
		}
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-b.notify:
		}
	}
}

// Len reports the number of queued records.
func (b *Backlog) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}
