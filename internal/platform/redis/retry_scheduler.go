// Package redis provides a durable delayed-retry scheduler on top of a
// Redis sorted set.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/taskd/internal/queue"
	"github.com/phrazzld/taskd/internal/retry"
	goredis "github.com/redis/go-redis/v9"
)

// Defaults for the retry scheduler.
const (
	DefaultKey          = "taskd:retries"
	DefaultPollInterval = time.Second
	DefaultClaimLease   = 30 * time.Second
	defaultBatchSize    = 100
)

// Options configures a RetryScheduler.
type Options struct {
	// Key is the sorted set holding scheduled jobs.
	Key string
	// PollInterval is how often due jobs are claimed.
	PollInterval time.Duration
	// ClaimLease is how long a claimed job stays hidden from other
	// replicas. A job whose publish never completed is due again after it.
	ClaimLease time.Duration
}

// NewClient parses url (redis://...) and verifies the server is reachable.
func NewClient(ctx context.Context, url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.PoolSize = 10
	opts.MinIdleConns = 2
	opts.PoolTimeout = 5 * time.Second

	client := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RetryScheduler stores delayed jobs in a sorted set scored by their run
// time in Unix milliseconds. Every worker replica polls the set. A due
// member is claimed by pushing its score past a lease, published, and only
// then removed, so a crash or failed publish leaves it in the set.
type RetryScheduler struct {
	set          retrySet
	ping         func(ctx context.Context) error
	publisher    queue.Publisher
	logger       *slog.Logger
	pollInterval time.Duration
	lease        time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRetryScheduler creates a scheduler publishing due jobs to publisher.
func NewRetryScheduler(client *goredis.Client, publisher queue.Publisher, opts Options, logger *slog.Logger) *RetryScheduler {
	if opts.Key == "" {
		opts.Key = DefaultKey
	}
	s := newRetryScheduler(&sortedSet{client: client, key: opts.Key}, publisher, opts, logger)
	s.ping = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	return s
}

func newRetryScheduler(set retrySet, publisher queue.Publisher, opts Options, logger *slog.Logger) *RetryScheduler {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.ClaimLease <= 0 {
		opts.ClaimLease = DefaultClaimLease
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryScheduler{
		set:          set,
		publisher:    publisher,
		logger:       logger.With("component", "redis_retry_scheduler"),
		pollInterval: opts.PollInterval,
		lease:        opts.ClaimLease,
	}
}

// Schedule adds job to the sorted set with at as its score.
func (s *RetryScheduler) Schedule(ctx context.Context, job queue.Job, at time.Time) error {
	data, err := queue.Encode(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	if err := s.set.Add(ctx, string(data), at.UnixMilli()); err != nil {
		return fmt.Errorf("schedule job %s: %w", job.ID, err)
	}

	s.logger.Debug("retry scheduled",
		"job_id", job.ID,
		"job_kind", job.Kind,
		"attempt", job.Attempt,
		"run_at", at)
	return nil
}

// Start launches the poll loop.
func (s *RetryScheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.PublishDue(ctx, time.Now()); err != nil && ctx.Err() == nil {
					s.logger.Error("failed to publish due retries", "error", err)
				}
			}
		}
	}()
}

// Stop ends the poll loop and waits for it.
func (s *RetryScheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// PublishDue claims and publishes every job due at now. It returns the
// number of jobs this caller published.
func (s *RetryScheduler) PublishDue(ctx context.Context, now time.Time) (int, error) {
	due := now.UnixMilli()
	members, err := s.set.Due(ctx, due, defaultBatchSize)
	if err != nil {
		return 0, fmt.Errorf("read due retries: %w", err)
	}

	published := 0
	for _, member := range members {
		claimed, err := s.set.Claim(ctx, member, due, now.Add(s.lease).UnixMilli())
		if err != nil {
			return published, fmt.Errorf("claim due retry: %w", err)
		}
		if !claimed {
			// Another replica claimed it.
			continue
		}

		job, err := queue.Decode([]byte(member))
		if err != nil {
			s.logger.Error("discarding undecodable scheduled job", "error", err)
			if err := s.set.Remove(context.WithoutCancel(ctx), member); err != nil {
				return published, fmt.Errorf("remove undecodable retry: %w", err)
			}
			continue
		}

		if err := s.publisher.Publish(ctx, job); err != nil {
			// The member keeps its lease score and is due again once the
			// lease runs out.
			s.logger.Error("failed to publish due retry, kept for the next claim",
				"job_id", job.ID,
				"job_kind", job.Kind,
				"retry_after", s.lease,
				"error", err)
			continue
		}

		// The job is on the queue; a failed removal only means a duplicate
		// publish after the lease, which the executor discards.
		if err := s.set.Remove(context.WithoutCancel(ctx), member); err != nil {
			s.logger.Error("failed to remove published retry",
				"job_id", job.ID,
				"error", err)
		}

		published++
		s.logger.Debug("scheduled retry published",
			"job_id", job.ID,
			"job_kind", job.Kind,
			"attempt", job.Attempt)
	}
	return published, nil
}

// Pending returns the number of scheduled jobs, claimed ones included.
func (s *RetryScheduler) Pending(ctx context.Context) (int64, error) {
	return s.set.Len(ctx)
}

// Ping verifies the Redis server is reachable.
func (s *RetryScheduler) Ping(ctx context.Context) error {
	if s.ping == nil {
		return nil
	}
	return s.ping(ctx)
}

var _ retry.Scheduler = (*RetryScheduler)(nil)
