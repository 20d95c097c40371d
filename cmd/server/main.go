// Package main implements the taskd API server. It accepts tasks and email
// requests over HTTP and, when the queue lives in process memory, runs the
// workers that execute them.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/phrazzld/taskd/internal/app"
	"github.com/phrazzld/taskd/internal/config"
	"github.com/phrazzld/taskd/internal/platform/logger"
	"github.com/phrazzld/taskd/internal/platform/postgres"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	migrate := fs.String("migrate", "", "run a migration command (up, down, reset, status, version) and exit")
	workers := fs.Bool("workers", false, "run the executor and scheduler in this process")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.Setup(logger.LoggerConfig{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *migrate != "" {
		return runMigrations(ctx, cfg, log, *migrate)
	}

	// A memory queue cannot be shared with a separate worker process.
	runWorkers := *workers || cfg.Queue.Driver == app.DriverMemory

	log.Info("server configuration loaded",
		"port", cfg.Server.Port,
		"database_driver", cfg.Database.Driver,
		"queue_driver", cfg.Queue.Driver,
		"run_workers", runWorkers)

	a, err := app.New(ctx, cfg, log, app.Options{RunWorkers: runWorkers})
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error("failed to release resources", "error", err)
		}
	}()

	if runWorkers {
		if err := a.StartWorkers(ctx); err != nil {
			return err
		}
	}

	return startHTTPServer(ctx, cfg.Server, setupRouter(a), log)
}

func runMigrations(ctx context.Context, cfg *config.Config, log *slog.Logger, command string) error {
	if cfg.Database.Driver != app.DriverPostgres {
		return errors.New("migrations require the postgres database driver")
	}

	db, err := postgres.Open(ctx, cfg.Database.URL, postgres.DefaultPoolConfig())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("failed to close database", "error", err)
		}
	}()

	if err := postgres.Migrate(db, command, log); err != nil {
		return err
	}
	log.Info("migration command completed", "command", command)
	return nil
}
