// Package scheduler runs the periodic jobs of the worker: it enqueues the
// retention cleanup and recovers tasks that stopped making progress.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/taskd/internal/domain"
	"github.com/phrazzld/taskd/internal/queue"
	"github.com/phrazzld/taskd/internal/retry"
	"github.com/phrazzld/taskd/internal/store"
)

// StuckReason is recorded on tasks failed by the stuck-task sweep.
const StuckReason = "stuck in processing"

// Config holds the scheduler settings.
type Config struct {
	// CleanupInterval is how often a cleanup_old_tasks job is enqueued.
	CleanupInterval time.Duration

	// StuckCheckInterval is how often the stuck-task sweep runs.
	StuckCheckInterval time.Duration

	// StuckTaskAge is how long a task may sit in pending or processing
	// without an update before the sweep acts on it.
	StuckTaskAge time.Duration

	// MaxRetries bounds the retries the sweep issues for stuck tasks.
	MaxRetries int
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		CleanupInterval:    time.Hour,
		StuckCheckInterval: 5 * time.Minute,
		StuckTaskAge:       30 * time.Minute,
		MaxRetries:         retry.DefaultMaxRetries,
	}
}

// SweepResult summarizes one stuck-task sweep.
type SweepResult struct {
	Requeued int
	Failed   int
	Retried  int
}

// Scheduler drives the periodic jobs with tickers.
type Scheduler struct {
	tasks     store.TaskStore
	publisher queue.Publisher
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time

	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// New creates a Scheduler. Zero durations select the defaults.
func New(tasks store.TaskStore, publisher queue.Publisher, cfg Config, logger *slog.Logger) *Scheduler {
	d := DefaultConfig()
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = d.CleanupInterval
	}
	if cfg.StuckCheckInterval <= 0 {
		cfg.StuckCheckInterval = d.StuckCheckInterval
	}
	if cfg.StuckTaskAge <= 0 {
		cfg.StuckTaskAge = d.StuckTaskAge
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	return &Scheduler{
		tasks:     tasks,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger.With("component", "scheduler"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Start launches the cleanup and stuck-task loops.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancelFunc = context.WithCancel(ctx)

	s.wg.Add(2)
	go s.loop(ctx, "cleanup", s.cfg.CleanupInterval, func(ctx context.Context) {
		if err := s.EnqueueCleanup(ctx); err != nil {
			s.logger.Error("failed to enqueue cleanup, will retry next tick", "error", err)
		}
	})
	go s.loop(ctx, "stuck_task_sweep", s.cfg.StuckCheckInterval, func(ctx context.Context) {
		if _, err := s.SweepStuck(ctx); err != nil {
			s.logger.Error("stuck task sweep failed", "error", err)
		}
	})

	s.logger.Info("scheduler started",
		"cleanup_interval", s.cfg.CleanupInterval,
		"stuck_check_interval", s.cfg.StuckCheckInterval)
}

// Stop ends both loops and waits for them.
func (s *Scheduler) Stop() {
	if s.cancelFunc != nil {
		s.cancelFunc()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, fn func(context.Context)) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("stopping scheduler loop", "loop", name)
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// EnqueueCleanup publishes one cleanup_old_tasks job.
func (s *Scheduler) EnqueueCleanup(ctx context.Context) error {
	job := queue.NewCleanupOldTasksJob()
	if err := s.publisher.Publish(ctx, job); err != nil {
		return fmt.Errorf("failed to publish cleanup job: %w", err)
	}
	s.logger.Debug("cleanup job enqueued", "job_id", job.ID)
	return nil
}

// SweepStuck republishes tasks left pending past StuckTaskAge and fails
// tasks left processing past StuckTaskAge, retrying them while attempts
// remain. Duplicate jobs this may create are discarded by the executor.
func (s *Scheduler) SweepStuck(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	cutoff := s.now().Add(-s.cfg.StuckTaskAge)

	pending, pendingErr := s.tasks.FindStale(ctx, domain.TaskStatusPending, cutoff)
	for _, task := range pending {
		if task.Cancelled() {
			continue
		}
		if s.publish(ctx, task, 0) {
			result.Requeued++
		}
	}

	processing, processingErr := s.tasks.FindStale(ctx, domain.TaskStatusProcessing, cutoff)
	for _, task := range processing {
		log := s.logger.With("task_id", task.ID, "attempts", task.Attempts)

		if err := task.Fail(StuckReason, s.now()); err != nil {
			log.Error("failed to fail stuck task", "error", err)
			continue
		}
		if err := s.tasks.UpdateStatus(ctx, task, domain.TaskStatusProcessing); err != nil {
			if errors.Is(err, store.ErrStatusConflict) {
				log.Debug("stuck task changed concurrently, skipping")
			} else {
				log.Error("failed to persist stuck task failure", "error", err)
			}
			continue
		}
		result.Failed++
		log.Warn("failed task stuck in processing")

		if task.Cancelled() || task.Attempts > s.cfg.MaxRetries {
			continue
		}
		if s.publish(ctx, task, task.Attempts) {
			result.Retried++
		}
	}

	if result != (SweepResult{}) {
		s.logger.Info("stuck task sweep finished",
			"requeued", result.Requeued,
			"failed", result.Failed,
			"retried", result.Retried)
	}

	if err := errors.Join(pendingErr, processingErr); err != nil {
		return result, fmt.Errorf("failed to find stuck tasks: %w", err)
	}
	return result, nil
}

func (s *Scheduler) publish(ctx context.Context, task *domain.Task, attempt int) bool {
	job, err := queue.NewProcessTaskJob(task.ID, attempt)
	if err == nil {
		err = s.publisher.Publish(ctx, job)
	}
	if err != nil {
		s.logger.Error("failed to requeue stuck task",
			"task_id", task.ID,
			"attempt", attempt,
			"error", err)
		return false
	}
	s.logger.Info("requeued stuck task",
		"task_id", task.ID,
		"task_status", task.Status,
		"attempt", attempt,
		"job_id", job.ID)
	return true
}
