package retry

import (
	"container/heap"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/taskd/internal/queue"
)

// ErrSchedulerStopped is returned when scheduling on a stopped scheduler.
var ErrSchedulerStopped = errors.New("retry scheduler stopped")

// Scheduler publishes a job once its run time has come.
type Scheduler interface {
	Schedule(ctx context.Context, job queue.Job, at time.Time) error
}

type pendingJob struct {
	runAt time.Time
	seq   int64
	job   queue.Job
}

type pendingHeap []pendingJob

func (h pendingHeap) Len() int { return len(h) }
func (h pendingHeap) Less(i, j int) bool {
	if h[i].runAt.Equal(h[j].runAt) {
		return h[i].seq < h[j].seq
	}
	return h[i].runAt.Before(h[j].runAt)
}
func (h pendingHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *pendingHeap) Push(x interface{}) { *h = append(*h, x.(pendingJob)) }
func (h *pendingHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// MemoryScheduler keeps delayed jobs in a min-heap ordered by run time and
// arms a single timer for the head. Due jobs are published to the
// configured publisher. Pending jobs are lost if the process exits.
type MemoryScheduler struct {
	publisher queue.Publisher
	logger    *slog.Logger
	in        chan pendingJob
	done      chan struct{}

	mu      sync.Mutex
	seq     int64
	pending int
	stopped bool
	wg      sync.WaitGroup
}

// NewMemoryScheduler creates a scheduler that publishes to publisher.
func NewMemoryScheduler(publisher queue.Publisher, logger *slog.Logger) *MemoryScheduler {
	return &MemoryScheduler{
		publisher: publisher,
		logger:    logger.With("component", "retry_scheduler"),
		in:        make(chan pendingJob, 64),
		done:      make(chan struct{}),
	}
}

// Start runs the scheduling loop until ctx is cancelled or Stop is called.
func (s *MemoryScheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop ends the scheduling loop and waits for it to exit.
func (s *MemoryScheduler) Stop() {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.done)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Schedule queues job for publication at or after at.
func (s *MemoryScheduler) Schedule(ctx context.Context, job queue.Job, at time.Time) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrSchedulerStopped
	}
	s.seq++
	item := pendingJob{runAt: at, seq: s.seq, job: job}
	s.pending++
	s.mu.Unlock()

	select {
	case s.in <- item:
		s.logger.Debug("retry scheduled",
			"job_id", job.ID,
			"job_kind", job.Kind,
			"attempt", job.Attempt,
			"run_at", at)
		return nil
	case <-ctx.Done():
		s.decrementPending()
		return ctx.Err()
	case <-s.done:
		s.decrementPending()
		return ErrSchedulerStopped
	}
}

// Pending returns the number of jobs waiting for their run time.
func (s *MemoryScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

func (s *MemoryScheduler) decrementPending() {
	s.mu.Lock()
	s.pending--
	s.mu.Unlock()
}

func (s *MemoryScheduler) run(ctx context.Context) {
	var h pendingHeap
	heap.Init(&h)

	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		var due <-chan time.Time
		if len(h) > 0 {
			d := time.Until(h[0].runAt)
			if d < 0 {
				d = 0
			}
			resetTimer(timer, d)
			due = timer.C
		}

		select {
		case <-ctx.Done():
			s.logger.Info("retry scheduler stopping", "pending", len(h))
			return
		case <-s.done:
			s.logger.Info("retry scheduler stopping", "pending", len(h))
			return
		case item := <-s.in:
			heap.Push(&h, item)
		case <-due:
			if len(h) == 0 {
				continue
			}
			item := heap.Pop(&h).(pendingJob)
			s.decrementPending()
			s.publish(ctx, item.job)
		}
	}
}

func (s *MemoryScheduler) publish(ctx context.Context, job queue.Job) {
	if err := s.publisher.Publish(ctx, job); err != nil {
		s.logger.Error("failed to publish scheduled retry",
			"job_id", job.ID,
			"job_kind", job.Kind,
			"attempt", job.Attempt,
			"error", err)
		return
	}
	s.logger.Debug("scheduled retry published",
		"job_id", job.ID,
		"job_kind", job.Kind,
		"attempt", job.Attempt)
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

var _ Scheduler = (*MemoryScheduler)(nil)
