package executor

import (
	"context"
	"time"

	"github.com/phrazzld/taskd/internal/domain"
	"github.com/phrazzld/taskd/internal/retry"
)

// Config holds the executor settings.
type Config struct {
	// WorkerCount is the number of jobs handled concurrently.
	WorkerCount int

	// WorkDuration is how long the simulated workload runs.
	WorkDuration time.Duration

	// Retention is how long completed tasks are kept before cleanup.
	Retention time.Duration

	// Retry is the policy applied to failed process_task attempts.
	Retry retry.Policy
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		WorkerCount:  2,
		WorkDuration: 10 * time.Second,
		Retention:    30 * 24 * time.Hour,
		Retry:        retry.DefaultPolicy(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WorkerCount <= 0 {
		c.WorkerCount = d.WorkerCount
	}
	if c.WorkDuration <= 0 {
		c.WorkDuration = d.WorkDuration
	}
	if c.Retention <= 0 {
		c.Retention = d.Retention
	}
	if c.Retry == (retry.Policy{}) {
		c.Retry = d.Retry
	}
	if c.Retry.MaxRetries < 0 {
		c.Retry.MaxRetries = 0
	}
	if c.Retry.Delay <= 0 {
		c.Retry.Delay = d.Retry.Delay
	}
	return c
}

// WorkFunc performs the actual work of a task.
type WorkFunc func(ctx context.Context, task *domain.Task) error

// SimulatedWork returns a WorkFunc that waits for d or until ctx is done.
func SimulatedWork(d time.Duration) WorkFunc {
	return func(ctx context.Context, task *domain.Task) error {
		timer := time.NewTimer(d)
		defer timer.Stop()

		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
