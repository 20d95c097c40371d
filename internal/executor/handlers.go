package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/phrazzld/taskd/internal/domain"
	"github.com/phrazzld/taskd/internal/platform/logger"
	"github.com/phrazzld/taskd/internal/queue"
	"github.com/phrazzld/taskd/internal/redact"
	"github.com/phrazzld/taskd/internal/retry"
	"github.com/phrazzld/taskd/internal/store"
)

// handleProcessTask moves the task to processing, runs the work and records
// the outcome. Failed work is retried through the retry scheduler rather
// than by queue redelivery.
func (e *Executor) handleProcessTask(ctx context.Context, job queue.Job) error {
	log := logger.FromContext(ctx)

	var payload queue.ProcessTaskPayload
	if err := job.UnmarshalPayload(&payload); err != nil {
		return retry.Permanent(err)
	}
	if payload.TaskID == uuid.Nil {
		return retry.Permanent(fmt.Errorf("%w: task ID cannot be empty", queue.ErrInvalidPayload))
	}

	log = log.With("task_id", payload.TaskID)

	task, err := e.deps.Tasks.GetByID(ctx, payload.TaskID)
	if err != nil {
		if store.IsNotFoundError(err) {
			log.Warn("task not found, discarding job")
			return retry.Permanent(err)
		}
		return fmt.Errorf("failed to load task %s: %w", payload.TaskID, err)
	}

	if task.Cancelled() {
		log.Info("task was cancelled, skipping")
		return nil
	}
	if job.Attempt > e.cfg.Retry.MaxRetries {
		log.Warn("attempt exceeds retry ceiling, skipping", "max_retries", e.cfg.Retry.MaxRetries)
		return nil
	}
	// Attempts counts entries into processing, so a job for attempt n is
	// current only while the task has been processed n times.
	if task.Attempts != job.Attempt {
		log.Info("stale or duplicate job, skipping",
			"task_status", task.Status,
			"task_attempts", task.Attempts)
		return nil
	}

	expected := task.Status
	if err := task.TransitionTo(domain.TaskStatusProcessing, e.now()); err != nil {
		log.Info("task cannot enter processing, skipping",
			"task_status", expected,
			"error", err)
		return nil
	}
	if err := e.deps.Tasks.UpdateStatus(ctx, task, expected); err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			log.Info("task changed concurrently, skipping", "error", err)
			return nil
		}
		return fmt.Errorf("failed to mark task %s processing: %w", task.ID, err)
	}

	log.Info("processing task")

	workCtx, done := e.track(ctx, task.ID)
	workErr := e.work(workCtx, task)
	done()

	// Stop cancels ctx, which also ends the work. That is not a task
	// failure: the task stays processing and the stuck-task sweep
	// requeues it. Cancel only ends workCtx, so ctx is still live then.
	if workErr != nil && ctx.Err() != nil {
		log.Warn("executor stopping, task left processing for the stuck-task sweep",
			"error", workErr)
		return nil
	}

	// A finished outcome is recorded even if the executor is stopping.
	persistCtx := context.WithoutCancel(ctx)

	if workErr == nil {
		if err := task.TransitionTo(domain.TaskStatusCompleted, e.now()); err != nil {
			return retry.Permanent(err)
		}
		if err := e.deps.Tasks.UpdateStatus(persistCtx, task, domain.TaskStatusProcessing); err != nil {
			if errors.Is(err, store.ErrStatusConflict) {
				log.Info("task changed while running, completion discarded", "error", err)
				return nil
			}
			return fmt.Errorf("failed to mark task %s completed: %w", task.ID, err)
		}
		log.Info("task completed successfully")
		return nil
	}

	log.Error("task execution failed", "error", redact.Error(workErr))

	if err := task.Fail(workErr.Error(), e.now()); err != nil {
		return retry.Permanent(err)
	}
	if err := e.deps.Tasks.UpdateStatus(persistCtx, task, domain.TaskStatusProcessing); err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			log.Info("task changed while running, failure discarded", "error", err)
			return nil
		}
		return fmt.Errorf("failed to mark task %s failed: %w", task.ID, err)
	}

	e.scheduleRetry(persistCtx, job, workErr)
	return nil
}

// scheduleRetry hands the next attempt of a failed job to the retry
// scheduler, or logs that the task is abandoned.
func (e *Executor) scheduleRetry(ctx context.Context, job queue.Job, workErr error) {
	log := logger.FromContext(ctx)

	if !e.cfg.Retry.ShouldRetry(job.Attempt, workErr) {
		log.Error("task abandoned after max retries",
			"max_retries", e.cfg.Retry.MaxRetries)
		return
	}

	now := e.now()
	next := job.Retry(now)
	runAt := e.cfg.Retry.NextRun(now)

	if err := e.deps.Retries.Schedule(ctx, next, runAt); err != nil {
		log.Error("failed to schedule retry, task left failed",
			"next_attempt", next.Attempt,
			"error", err)
		return
	}
	log.Info("retry scheduled",
		"next_attempt", next.Attempt,
		"retry_job_id", next.ID,
		"run_at", runAt)
}

// handleSendEmail records an EmailLog, attempts delivery once and stores
// the outcome on the same log. It never asks for redelivery once the
// send was attempted.
func (e *Executor) handleSendEmail(ctx context.Context, job queue.Job) error {
	log := logger.FromContext(ctx)

	var payload queue.SendEmailPayload
	if err := job.UnmarshalPayload(&payload); err != nil {
		return retry.Permanent(err)
	}
	if err := payload.Validate(); err != nil {
		return retry.Permanent(err)
	}

	emailLog, err := domain.NewEmailLog(payload.Recipient, payload.Subject, payload.Message)
	if err != nil {
		return retry.Permanent(fmt.Errorf("%w: %v", queue.ErrInvalidPayload, err))
	}
	if err := e.deps.EmailLogs.Create(ctx, emailLog); err != nil {
		return fmt.Errorf("failed to create email log: %w", err)
	}

	log = log.With("email_log_id", emailLog.ID)

	sendErr := e.deps.Sender.Send(ctx, payload.Recipient, payload.Subject, payload.Message)
	if sendErr == nil {
		emailLog.MarkSent()
	} else {
		emailLog.MarkFailed(redact.Error(sendErr))
	}

	if err := e.deps.EmailLogs.Update(context.WithoutCancel(ctx), emailLog); err != nil {
		log.Error("failed to record email outcome",
			"success", emailLog.Success,
			"error", err)
		return retry.Permanent(fmt.Errorf("failed to update email log %s: %w", emailLog.ID, err))
	}

	if sendErr != nil {
		log.Error("email delivery failed", "error", redact.Error(sendErr))
		return retry.Permanent(fmt.Errorf("%w: %w", ErrDeliveryFailed, sendErr))
	}

	log.Info("email sent")
	return nil
}

// Cleanup deletes completed tasks older than the retention window and
// returns how many were removed.
func (e *Executor) Cleanup(ctx context.Context) (int64, error) {
	log := logger.FromContextOrDefault(ctx, e.logger)

	cutoff := e.now().Add(-e.cfg.Retention)
	deleted, err := e.deps.Tasks.DeleteWhere(ctx, domain.TaskStatusCompleted, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old tasks: %w", err)
	}

	log.Info("cleaned up old tasks", "deleted", deleted, "cutoff", cutoff)
	return deleted, nil
}
