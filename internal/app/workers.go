package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/phrazzld/taskd/internal/executor"
	"github.com/phrazzld/taskd/internal/notify"
	"github.com/phrazzld/taskd/internal/platform/redis"
	"github.com/phrazzld/taskd/internal/platform/smtp"
	"github.com/phrazzld/taskd/internal/retry"
	"github.com/phrazzld/taskd/internal/scheduler"
)

func (a *App) buildWorkers(ctx context.Context) error {
	cfg := a.Config

	if err := a.openRetryScheduler(ctx); err != nil {
		return err
	}

	switch cfg.Mail.Driver {
	case DriverSMTP:
		sender, err := smtp.NewSender(smtp.Config{
			Host:     cfg.Mail.Host,
			Port:     cfg.Mail.Port,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
			From:     cfg.Mail.From,
		}, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to create smtp sender: %w", err)
		}
		a.Sender = sender
	default:
		a.Sender = notify.NewLogSender(a.Logger)
	}

	policy := retry.Policy{
		MaxRetries: cfg.Worker.MaxRetries,
		Delay:      cfg.Worker.RetryDelay,
	}

	exec, err := executor.New(executor.Dependencies{
		Tasks:     a.Tasks,
		EmailLogs: a.EmailLogs,
		Consumer:  a.Queue,
		Retries:   a.retries,
		Sender:    a.Sender,
	}, executor.Config{
		WorkerCount:  cfg.Worker.Count,
		WorkDuration: cfg.Worker.WorkDuration,
		Retention:    cfg.Worker.Retention,
		Retry:        policy,
	}, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create executor: %w", err)
	}
	a.Executor = exec

	a.Scheduler = scheduler.New(a.Tasks, a.Queue, scheduler.Config{
		CleanupInterval:    cfg.Worker.CleanupInterval,
		StuckCheckInterval: cfg.Worker.StuckCheckInterval,
		StuckTaskAge:       cfg.Worker.StuckTaskAge,
		MaxRetries:         cfg.Worker.MaxRetries,
	}, a.Logger)
	return nil
}

// openRetryScheduler uses Redis when a URL is configured, so delayed
// retries survive a restart. Otherwise they are held in memory.
func (a *App) openRetryScheduler(ctx context.Context) error {
	cfg := a.Config.Redis
	if cfg.URL == "" {
		a.retries = retry.NewMemoryScheduler(a.Queue, a.Logger)
		return nil
	}

	client, err := redis.NewClient(ctx, cfg.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	a.redis = client
	a.retries = redis.NewRetryScheduler(client, a.Queue, redis.Options{
		Key:          cfg.RetryKey,
		PollInterval: cfg.PollInterval,
	}, a.Logger)
	a.Logger.Info("redis retry scheduler connected", "key", cfg.RetryKey)
	return nil
}

// StartWorkers starts the retry scheduler, the executor and the periodic
// scheduler. It fails if the App was built without Options.RunWorkers.
func (a *App) StartWorkers(ctx context.Context) error {
	if a.Executor == nil {
		return errors.New("workers are not enabled for this process")
	}
	if a.started {
		return nil
	}

	a.retries.Start(ctx)
	if err := a.Executor.Start(ctx); err != nil {
		a.retries.Stop()
		return fmt.Errorf("failed to start executor: %w", err)
	}
	a.Scheduler.Start(ctx)
	a.started = true
	return nil
}

// StopWorkers stops the workers in reverse start order and waits for
// in-flight jobs.
func (a *App) StopWorkers() {
	if !a.started {
		return
	}
	a.Scheduler.Stop()
	a.Executor.Stop()
	a.retries.Stop()
	a.started = false
}

// Close stops any running workers and releases the queue, Redis and
// database connections.
func (a *App) Close() error {
	a.StopWorkers()

	var errs []error
	if a.Queue != nil {
		if err := a.Queue.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close queue: %w", err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	return errors.Join(errs...)
}
