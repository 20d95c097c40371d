package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskd/internal/notify"
	"github.com/phrazzld/taskd/internal/platform/logger"
	"github.com/phrazzld/taskd/internal/queue"
	"github.com/phrazzld/taskd/internal/retry"
	"github.com/phrazzld/taskd/internal/store"
)

// Errors reported by job handlers.
var (
	ErrUnknownKind    = errors.New("unknown job kind")
	ErrDeliveryFailed = errors.New("email delivery failed")
)

// Dependencies are the collaborators of an Executor.
type Dependencies struct {
	Tasks     store.TaskStore
	EmailLogs store.EmailLogStore

	// Consumer is required by Start only; Handle works without it.
	Consumer queue.Consumer

	// Retries receives process_task jobs for failed attempts.
	Retries retry.Scheduler

	Sender notify.Sender

	// Work overrides the simulated workload.
	Work WorkFunc

	// Now overrides the clock.
	Now func() time.Time
}

// Executor runs jobs taken from the queue on a fixed number of worker slots.
type Executor struct {
	deps   Dependencies
	cfg    Config
	logger *slog.Logger
	work   WorkFunc
	now    func() time.Time

	cancelFunc context.CancelFunc
	wg         sync.WaitGroup

	mu      sync.Mutex
	running map[uuid.UUID]context.CancelFunc
}

// New creates an Executor.
func New(deps Dependencies, cfg Config, logger *slog.Logger) (*Executor, error) {
	if deps.Tasks == nil {
		return nil, errors.New("executor: task store is required")
	}
	if deps.EmailLogs == nil {
		return nil, errors.New("executor: email log store is required")
	}
	if deps.Retries == nil {
		return nil, errors.New("executor: retry scheduler is required")
	}
	if deps.Sender == nil {
		return nil, errors.New("executor: notification sender is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg = cfg.withDefaults()

	e := &Executor{
		deps:    deps,
		cfg:     cfg,
		logger:  logger.With("component", "executor"),
		work:    deps.Work,
		now:     deps.Now,
		running: make(map[uuid.UUID]context.CancelFunc),
	}
	if e.work == nil {
		e.work = SimulatedWork(cfg.WorkDuration)
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	return e, nil
}

// Start subscribes to the queue and launches the worker slots.
func (e *Executor) Start(ctx context.Context) error {
	if e.deps.Consumer == nil {
		return errors.New("executor: queue consumer is required to start")
	}

	ctx, cancel := context.WithCancel(ctx)
	deliveries, err := e.deps.Consumer.Deliveries(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to subscribe to queue: %w", err)
	}
	e.cancelFunc = cancel

	for i := 0; i < e.cfg.WorkerCount; i++ {
		e.wg.Add(1)
		go e.worker(ctx, i, deliveries)
	}

	e.logger.Info("executor started", "worker_count", e.cfg.WorkerCount)
	return nil
}

// Stop cancels the worker slots and waits for in-flight jobs to settle.
func (e *Executor) Stop() {
	if e.cancelFunc != nil {
		e.cancelFunc()
	}
	e.wg.Wait()
	e.logger.Info("executor stopped")
}

// worker handles one delivery at a time until ctx is done or the stream ends.
func (e *Executor) worker(ctx context.Context, id int, deliveries <-chan queue.Delivery) {
	defer e.wg.Done()

	e.logger.Debug("starting worker", "worker_id", id)

	for {
		select {
		case <-ctx.Done():
			e.logger.Debug("stopping worker", "worker_id", id)
			return

		case d, ok := <-deliveries:
			if !ok {
				e.logger.Debug("delivery channel closed, stopping worker", "worker_id", id)
				return
			}
			e.process(ctx, id, d)
		}
	}
}

// process runs the handler for one delivery and settles it.
func (e *Executor) process(ctx context.Context, workerID int, d queue.Delivery) {
	job := d.Job()
	log := e.jobLogger(job).With("worker_id", workerID)

	defer func() {
		if r := recover(); r != nil {
			log.Error("job handler panicked",
				"panic", r,
				"stack", string(debug.Stack()))
			d.Nack()
		}
	}()

	err := e.Handle(logger.WithLogger(ctx, log), job)
	switch {
	case err == nil:
		d.Ack()
	case !retry.IsRetryable(err):
		log.Warn("job failed permanently, not redelivering", "error", err)
		d.Ack()
	default:
		log.Error("job failed, requesting redelivery", "error", err)
		d.Nack()
	}
}

// Handle routes job to the handler for its kind. A nil error means the job
// is done. Errors wrapping retry.ErrNonRetryable must not be redelivered;
// any other error asks the queue to deliver the job again.
func (e *Executor) Handle(ctx context.Context, job queue.Job) error {
	log := logger.FromContextOrDefault(ctx, e.jobLogger(job))
	ctx = logger.WithLogger(ctx, log)

	switch job.Kind {
	case queue.KindProcessTask:
		return e.handleProcessTask(ctx, job)
	case queue.KindSendEmail:
		return e.handleSendEmail(ctx, job)
	case queue.KindCleanupOldTasks:
		_, err := e.Cleanup(ctx)
		return err
	default:
		log.Error("discarding job of unknown kind")
		return retry.Permanent(fmt.Errorf("%w: %q", ErrUnknownKind, job.Kind))
	}
}

func (e *Executor) jobLogger(job queue.Job) *slog.Logger {
	return e.logger.With(
		"job_id", job.ID,
		"job_kind", job.Kind,
		"attempt", job.Attempt,
		"redeliveries", job.Redeliveries,
	)
}

// track registers a cancel function for a task running in this process.
func (e *Executor) track(ctx context.Context, taskID uuid.UUID) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)

	e.mu.Lock()
	e.running[taskID] = cancel
	e.mu.Unlock()

	return ctx, func() {
		e.mu.Lock()
		delete(e.running, taskID)
		e.mu.Unlock()
		cancel()
	}
}

// interrupt cancels the local work of a running task. It reports whether
// the task was running here.
func (e *Executor) interrupt(taskID uuid.UUID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	cancel, ok := e.running[taskID]
	if ok {
		cancel()
	}
	return ok
}
