// Package app assembles the taskd components selected by configuration.
// Both binaries build an App: cmd/server for the API (and, with the memory
// queue, the workers), cmd/worker for the executor and scheduler alone.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/phrazzld/taskd/internal/config"
	"github.com/phrazzld/taskd/internal/executor"
	"github.com/phrazzld/taskd/internal/health"
	"github.com/phrazzld/taskd/internal/notify"
	"github.com/phrazzld/taskd/internal/platform/kafka"
	"github.com/phrazzld/taskd/internal/platform/postgres"
	"github.com/phrazzld/taskd/internal/queue"
	"github.com/phrazzld/taskd/internal/retry"
	"github.com/phrazzld/taskd/internal/scheduler"
	"github.com/phrazzld/taskd/internal/service"
	"github.com/phrazzld/taskd/internal/service/auth"
	"github.com/phrazzld/taskd/internal/store"
	"github.com/phrazzld/taskd/internal/store/memory"
)

// Driver names accepted in configuration.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
	DriverKafka    = "kafka"
	DriverSMTP     = "smtp"
)

// Options selects which parts of the process an App runs.
type Options struct {
	// RunWorkers starts the executor, scheduler and retry scheduler in
	// this process.
	RunWorkers bool
}

// retryRunner is a retry scheduler with a polling loop.
type retryRunner interface {
	retry.Scheduler
	Start(ctx context.Context)
	Stop()
}

// App holds the shared dependencies of a taskd process and releases them
// on Close.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	// DB is nil with the memory database driver.
	DB *sql.DB

	Tasks     store.TaskStore
	EmailLogs store.EmailLogStore
	Queue     queue.Queue
	Sender    notify.Sender

	// JWT is nil when no secret is configured.
	JWT auth.JWTService

	TaskService  service.TaskService
	EmailService service.EmailService
	Health       *health.Checker

	// Set only when Options.RunWorkers is true.
	Executor  *executor.Executor
	Scheduler *scheduler.Scheduler

	opts    Options
	retries retryRunner
	redis   *goredis.Client
	started bool
}

// New connects the configured backends and builds the services. On error
// everything opened so far is closed again.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*App, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{Config: cfg, Logger: logger, opts: opts}
	if err := a.build(ctx); err != nil {
		if closeErr := a.Close(); closeErr != nil {
			logger.Error("failed to release resources after setup error", "error", closeErr)
		}
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config

	if err := a.openStores(ctx); err != nil {
		return err
	}
	if err := a.openQueue(); err != nil {
		return err
	}

	var canceller service.TaskCanceller
	if a.opts.RunWorkers {
		if err := a.buildWorkers(ctx); err != nil {
			return err
		}
		canceller = a.Executor
	}

	if cfg.Auth.JWTSecret != "" {
		jwtService, err := auth.NewJWTService(cfg.Auth)
		if err != nil {
			return fmt.Errorf("failed to initialize JWT service: %w", err)
		}
		a.JWT = jwtService
		a.Logger.Info("bearer token identity enabled")
	}

	var err error
	a.TaskService, err = service.NewTaskService(a.Tasks, a.Queue, canceller, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create task service: %w", err)
	}
	a.EmailService, err = service.NewEmailService(a.EmailLogs, a.Queue, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create email service: %w", err)
	}

	a.Health = health.NewChecker(a.Tasks, a.Queue, a.Logger)
	return nil
}

func (a *App) openStores(ctx context.Context) error {
	cfg := a.Config.Database

	switch cfg.Driver {
	case DriverMemory:
		a.Tasks = memory.NewTaskStore()
		a.EmailLogs = memory.NewEmailLogStore()
		a.Logger.Warn("using in-memory storage, data is lost on exit")
		return nil

	case DriverPostgres, "":
		db, err := postgres.Open(ctx, cfg.URL, postgres.PoolConfig{
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
		})
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		a.DB = db
		a.Tasks = postgres.NewPostgresTaskStore(db, a.Logger)
		a.EmailLogs = postgres.NewPostgresEmailLogStore(db, a.Logger)
		a.Logger.Info("database connection established")
		return nil

	default:
		return fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func (a *App) openQueue() error {
	cfg := a.Config.Queue

	switch cfg.Driver {
	case DriverMemory, "":
		a.Queue = queue.NewMemoryQueue(cfg.BufferSize, cfg.MaxRedeliveries, a.Logger)
		return nil

	case DriverKafka:
		q, err := kafka.New(kafka.Config{
			Brokers:         cfg.Brokers,
			Topic:           cfg.Topic,
			Group:           cfg.Group,
			MaxRedeliveries: cfg.MaxRedeliveries,
		}, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to connect to kafka: %w", err)
		}
		a.Queue = q
		a.Logger.Info("kafka queue connected", "topic", cfg.Topic, "group", cfg.Group)
		return nil

	default:
		return fmt.Errorf("unknown queue driver %q", cfg.Driver)
	}
}
