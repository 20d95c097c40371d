// Package main implements the taskd worker. It consumes jobs from the
// shared queue, runs the periodic scheduler and delivers delayed retries.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/phrazzld/taskd/internal/app"
	"github.com/phrazzld/taskd/internal/config"
	"github.com/phrazzld/taskd/internal/platform/logger"
)

// ErrSharedQueueRequired is returned when the worker is configured with the
// process-local memory queue.
var ErrSharedQueueRequired = errors.New("worker requires a shared queue; set TASKD_QUEUE_DRIVER=kafka or run the server with the memory queue")

func main() {
	if err := run(); err != nil {
		slog.Error("worker exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.Setup(logger.LoggerConfig{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return runWorker(ctx, cfg, log)
}

// runWorker starts the workers and blocks until ctx is done.
func runWorker(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	if err := checkConfig(cfg); err != nil {
		return err
	}

	log.Info("worker configuration loaded",
		"worker_count", cfg.Worker.Count,
		"database_driver", cfg.Database.Driver,
		"queue_driver", cfg.Queue.Driver,
		"mail_driver", cfg.Mail.Driver,
		"durable_retries", cfg.Redis.URL != "")

	a, err := app.New(ctx, cfg, log, app.Options{RunWorkers: true})
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error("failed to release resources", "error", err)
		}
	}()

	if err := a.StartWorkers(ctx); err != nil {
		return err
	}
	log.Info("worker started")

	<-ctx.Done()
	log.Info("shutting down worker")
	return nil
}

func checkConfig(cfg *config.Config) error {
	if cfg.Queue.Driver != app.DriverKafka {
		return ErrSharedQueueRequired
	}
	return nil
}
