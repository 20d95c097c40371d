package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskd/internal/domain"
	"github.com/phrazzld/taskd/internal/executor"
	"github.com/phrazzld/taskd/internal/platform/logger"
	"github.com/phrazzld/taskd/internal/queue"
	"github.com/phrazzld/taskd/internal/store"
)

// TaskCanceller cancels a task. The executor implements it when the API
// and the workers share a process.
type TaskCanceller interface {
	Cancel(ctx context.Context, id uuid.UUID) (*domain.Task, error)
}

// TaskService provides the task operations exposed by the API.
type TaskService interface {
	// CreateTask persists a pending task and enqueues its first run.
	CreateTask(ctx context.Context, title, description string, createdBy *uuid.UUID) (*domain.Task, error)

	GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	ListTasks(ctx context.Context, filter store.TaskFilter) ([]*domain.Task, error)

	// UpdateTask changes title and/or description. Status is not editable.
	UpdateTask(ctx context.Context, id uuid.UUID, title, description *string) (*domain.Task, error)

	DeleteTask(ctx context.Context, id uuid.UUID) error

	// CancelTask stops further processing of a task. Returns
	// domain.ErrInvalidTransition for completed tasks.
	CancelTask(ctx context.Context, id uuid.UUID) (*domain.Task, error)
}

type taskServiceImpl struct {
	tasks     store.TaskStore
	publisher queue.Publisher
	canceller TaskCanceller
	now       func() time.Time
	logger    *slog.Logger
}

// storeCanceller cancels through the store alone, for processes that do
// not run workers.
type storeCanceller struct {
	tasks store.TaskStore
	now   func() time.Time
}

func (c storeCanceller) Cancel(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	return executor.CancelTask(ctx, c.tasks, id, c.now())
}

// NewTaskService creates a TaskService. canceller may be nil.
func NewTaskService(
	tasks store.TaskStore,
	publisher queue.Publisher,
	canceller TaskCanceller,
	logger *slog.Logger,
) (TaskService, error) {
	if tasks == nil {
		return nil, errors.New("task store cannot be nil")
	}
	if publisher == nil {
		return nil, errors.New("queue publisher cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	now := func() time.Time { return time.Now().UTC() }
	if canceller == nil {
		canceller = storeCanceller{tasks: tasks, now: now}
	}

	return &taskServiceImpl{
		tasks:     tasks,
		publisher: publisher,
		canceller: canceller,
		now:       now,
		logger:    logger.With("component", "task_service"),
	}, nil
}

// CreateTask saves the task before publishing, so a worker never receives
// a job for a task it cannot load. A failed publish is logged and left to
// the stuck-task sweep, which requeues pending tasks.
func (s *taskServiceImpl) CreateTask(
	ctx context.Context,
	title, description string,
	createdBy *uuid.UUID,
) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	task, err := domain.NewTask(title, description, createdBy)
	if err != nil {
		return nil, err
	}

	if err := s.tasks.Create(ctx, task); err != nil {
		log.Error("failed to save task", "error", err, "task_id", task.ID)
		return nil, newServiceError("task", "create_task", "failed to save task", err)
	}

	job, err := queue.NewProcessTaskJob(task.ID, 0)
	if err != nil {
		return nil, newServiceError("task", "create_task", "failed to build job", err)
	}
	if err := s.publisher.Publish(ctx, job); err != nil {
		log.Warn("task saved but not enqueued, the stuck-task sweep will requeue it",
			"error", err,
			"task_id", task.ID)
		return task, nil
	}

	log.Info("task created and enqueued",
		"task_id", task.ID,
		"job_id", job.ID)
	return task, nil
}

func (s *taskServiceImpl) GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	task, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		if store.IsNotFoundError(err) {
			return nil, err
		}
		return nil, newServiceError("task", "get_task", "failed to load task", err)
	}
	return task, nil
}

func (s *taskServiceImpl) ListTasks(ctx context.Context, filter store.TaskFilter) ([]*domain.Task, error) {
	tasks, err := s.tasks.List(ctx, filter)
	if err != nil {
		return nil, newServiceError("task", "list_tasks", "failed to list tasks", err)
	}
	return tasks, nil
}

func (s *taskServiceImpl) UpdateTask(
	ctx context.Context,
	id uuid.UUID,
	title, description *string,
) (*domain.Task, error) {
	task, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}

	expected := task.Status
	if err := task.UpdateDetails(title, description, s.now()); err != nil {
		return nil, err
	}

	// The executor may move the task concurrently; the compare-and-set
	// surfaces that as store.ErrStatusConflict.
	if err := s.tasks.Update(ctx, task, expected); err != nil {
		if errors.Is(err, store.ErrStatusConflict) || store.IsNotFoundError(err) {
			return nil, err
		}
		return nil, newServiceError("task", "update_task", "failed to save task", err)
	}
	return task, nil
}

func (s *taskServiceImpl) DeleteTask(ctx context.Context, id uuid.UUID) error {
	if err := s.tasks.Delete(ctx, id); err != nil {
		if store.IsNotFoundError(err) {
			return err
		}
		return newServiceError("task", "delete_task", "failed to delete task", err)
	}
	logger.FromContextOrDefault(ctx, s.logger).Info("task deleted", "task_id", id)
	return nil
}

func (s *taskServiceImpl) CancelTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	task, err := s.canceller.Cancel(ctx, id)
	if err != nil {
		if store.IsNotFoundError(err) ||
			errors.Is(err, store.ErrStatusConflict) ||
			errors.Is(err, domain.ErrInvalidTransition) {
			return nil, err
		}
		return nil, newServiceError("task", "cancel_task", "failed to cancel task", err)
	}
	return task, nil
}
