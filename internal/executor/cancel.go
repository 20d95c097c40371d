package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskd/internal/domain"
	"github.com/phrazzld/taskd/internal/store"
)

// CancelTask marks a task cancelled and stops any further retries of it.
// A pending task is moved through processing to failed so the lifecycle
// never skips processing; a processing task is moved to failed; a failed
// task keeps its status. Completed tasks cannot be cancelled.
//
// Every write is a compare-and-set against the status just read, so a
// concurrent transition surfaces as store.ErrStatusConflict.
func CancelTask(ctx context.Context, tasks store.TaskStore, id uuid.UUID, now time.Time) (*domain.Task, error) {
	task, err := tasks.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	expected := task.Status
	if err := task.MarkCancelled(now); err != nil {
		return nil, err
	}

	switch expected {
	case domain.TaskStatusPending:
		if err := task.TransitionTo(domain.TaskStatusProcessing, now); err != nil {
			return nil, err
		}
		if err := tasks.UpdateStatus(ctx, task, expected); err != nil {
			return nil, fmt.Errorf("failed to cancel task %s: %w", id, err)
		}
		expected = domain.TaskStatusProcessing
		fallthrough

	case domain.TaskStatusProcessing:
		if err := task.Fail(domain.CancelledReason, now); err != nil {
			return nil, err
		}
	}

	if err := tasks.UpdateStatus(ctx, task, expected); err != nil {
		return nil, fmt.Errorf("failed to cancel task %s: %w", id, err)
	}
	return task, nil
}

// Cancel cancels a task and interrupts its work if it is running in this
// process.
func (e *Executor) Cancel(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	task, err := CancelTask(ctx, e.deps.Tasks, id, e.now())
	if err != nil {
		return nil, err
	}

	interrupted := e.interrupt(id)
	e.logger.Info("task cancelled",
		"task_id", id,
		"task_status", task.Status,
		"interrupted", interrupted)
	return task, nil
}
