package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// DefaultMaxRedeliveries bounds how often a nacked job is handed out again.
const DefaultMaxRedeliveries = 5

// MemoryQueue implements Queue with a buffered channel. It is durable only
// for the lifetime of the process and is meant for single-process
// deployments and tests.
type MemoryQueue struct {
	jobs            chan Job
	done            chan struct{}
	logger          *slog.Logger
	maxRedeliveries int

	mu     sync.RWMutex
	closed bool
	once   sync.Once

	dropped atomic.Int64
}

// NewMemoryQueue creates a new queue with the specified buffer size.
// maxRedeliveries <= 0 selects DefaultMaxRedeliveries.
func NewMemoryQueue(size, maxRedeliveries int, logger *slog.Logger) *MemoryQueue {
	if size <= 0 {
		size = 1
	}
	if maxRedeliveries <= 0 {
		maxRedeliveries = DefaultMaxRedeliveries
	}
	return &MemoryQueue{
		jobs:            make(chan Job, size),
		done:            make(chan struct{}),
		logger:          logger.With("component", "memory_queue"),
		maxRedeliveries: maxRedeliveries,
	}
}

// Publish adds a job to the queue.
// Returns an error if the queue is full or closed.
func (q *MemoryQueue) Publish(ctx context.Context, job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.jobs <- job:
		q.logger.Debug("job enqueued",
			"job_id", job.ID,
			"job_kind", job.Kind,
			"queue_len", len(q.jobs),
			"queue_cap", cap(q.jobs))
		return nil
	default:
		return fmt.Errorf("%w: queue capacity %d reached", ErrQueueFull, cap(q.jobs))
	}
}

// Deliveries streams queued jobs until ctx is cancelled or the queue is closed.
func (q *MemoryQueue) Deliveries(ctx context.Context) (<-chan Delivery, error) {
	q.mu.RLock()
	closed := q.closed
	q.mu.RUnlock()
	if closed {
		return nil, ErrQueueClosed
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-q.done:
				return
			case job := <-q.jobs:
				select {
				case out <- &memoryDelivery{queue: q, job: job}:
				case <-ctx.Done():
					q.putBack(job)
					return
				case <-q.done:
					return
				}
			}
		}
	}()
	return out, nil
}

// Ping reports whether the queue still accepts jobs.
func (q *MemoryQueue) Ping(ctx context.Context) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	return nil
}

// Close stops the queue. Jobs still buffered are discarded.
func (q *MemoryQueue) Close() error {
	q.once.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		close(q.done)
		q.logger.Info("job queue closed", "discarded", len(q.jobs))
	})
	return nil
}

// Len returns the number of buffered jobs.
func (q *MemoryQueue) Len() int {
	return len(q.jobs)
}

// Dropped returns how many jobs were discarded after exhausting redeliveries.
func (q *MemoryQueue) Dropped() int64 {
	return q.dropped.Load()
}

// redeliver re-enqueues a nacked job, or drops it once the redelivery
// ceiling is reached. The re-enqueue waits for buffer space in its own
// goroutine.
func (q *MemoryQueue) redeliver(job Job) {
	job.Redeliveries++
	if job.Redeliveries > q.maxRedeliveries {
		q.dropped.Add(1)
		q.logger.Error("dropping job after max redeliveries",
			"job_id", job.ID,
			"job_kind", job.Kind,
			"redeliveries", job.Redeliveries-1)
		return
	}

	go func() {
		select {
		case q.jobs <- job:
			q.logger.Debug("job redelivered",
				"job_id", job.ID,
				"job_kind", job.Kind,
				"redeliveries", job.Redeliveries)
		case <-q.done:
		}
	}()
}

func (q *MemoryQueue) putBack(job Job) {
	select {
	case q.jobs <- job:
	default:
		q.logger.Error("failed to return undelivered job to a full queue",
			"job_id", job.ID,
			"job_kind", job.Kind)
	}
}

type memoryDelivery struct {
	queue *MemoryQueue
	job   Job
	once  sync.Once
}

func (d *memoryDelivery) Job() Job { return d.job }

func (d *memoryDelivery) Ack() {
	d.once.Do(func() {})
}

func (d *memoryDelivery) Nack() {
	d.once.Do(func() {
		d.queue.redeliver(d.job)
	})
}

var _ Queue = (*MemoryQueue)(nil)
