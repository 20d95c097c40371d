// Package memory provides in-process implementations of the store
// interfaces. They back the "memory" database driver used for local runs
// and serve as the repository fake in tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskd/internal/domain"
	"github.com/phrazzld/taskd/internal/store"
)

// TaskStore implements store.TaskStore with a mutex-guarded map.
// Tasks are copied on the way in and out so callers never share memory
// with the store.
type TaskStore struct {
	mutex sync.RWMutex
	tasks map[uuid.UUID]*domain.Task

	// Optional hooks for injecting failures in tests.
	CreateFn func(ctx context.Context, task *domain.Task) error
	UpdateFn func(ctx context.Context, task *domain.Task, expected domain.TaskStatus) error
	PingFn   func(ctx context.Context) error

	updates int
}

// NewTaskStore creates an empty TaskStore.
func NewTaskStore() *TaskStore {
	return &TaskStore{
		tasks: make(map[uuid.UUID]*domain.Task),
	}
}

// Create saves a new task.
func (s *TaskStore) Create(ctx context.Context, task *domain.Task) error {
	if s.CreateFn != nil {
		if err := s.CreateFn(ctx, task); err != nil {
			return err
		}
	}
	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.tasks[task.ID]; exists {
		return store.ErrDuplicate
	}
	s.tasks[task.ID] = copyTask(task)
	return nil
}

// GetByID retrieves a task by ID.
func (s *TaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return copyTask(task), nil
}

// Update saves the task if the stored status equals expected.
func (s *TaskStore) Update(ctx context.Context, task *domain.Task, expected domain.TaskStatus) error {
	return s.compareAndSet(ctx, task, expected, func(current *domain.Task) {
		*current = *copyTask(task)
	})
}

// UpdateStatus saves the lifecycle fields of the task if the stored status
// equals expected.
func (s *TaskStore) UpdateStatus(ctx context.Context, task *domain.Task, expected domain.TaskStatus) error {
	return s.compareAndSet(ctx, task, expected, func(current *domain.Task) {
		src := copyTask(task)
		current.Status = src.Status
		current.Attempts = src.Attempts
		current.LastError = src.LastError
		current.UpdatedAt = src.UpdatedAt
		current.CancelledAt = src.CancelledAt
	})
}

func (s *TaskStore) compareAndSet(
	ctx context.Context,
	task *domain.Task,
	expected domain.TaskStatus,
	apply func(current *domain.Task),
) error {
	if s.UpdateFn != nil {
		if err := s.UpdateFn(ctx, task, expected); err != nil {
			return err
		}
	}
	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	current, ok := s.tasks[task.ID]
	if !ok {
		return store.ErrTaskNotFound
	}
	if current.Status != expected {
		return fmt.Errorf("%w: expected %s, found %s", store.ErrStatusConflict, expected, current.Status)
	}
	apply(current)
	s.updates++
	return nil
}

// Delete removes a task.
func (s *TaskStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.tasks[id]; !ok {
		return store.ErrTaskNotFound
	}
	delete(s.tasks, id)
	return nil
}

// List returns tasks newest first, honoring the filter.
func (s *TaskStore) List(ctx context.Context, filter store.TaskFilter) ([]*domain.Task, error) {
	s.mutex.RLock()
	var result []*domain.Task
	for _, task := range s.tasks {
		if filter.Status != "" && task.Status != filter.Status {
			continue
		}
		result = append(result, copyTask(task))
	}
	s.mutex.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return paginate(result, filter.Limit, filter.Offset), nil
}

// DeleteWhere removes tasks in status whose UpdatedAt is before updatedBefore.
func (s *TaskStore) DeleteWhere(ctx context.Context, status domain.TaskStatus, updatedBefore time.Time) (int64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var deleted int64
	for id, task := range s.tasks {
		if task.Status == status && task.UpdatedAt.Before(updatedBefore) {
			delete(s.tasks, id)
			deleted++
		}
	}
	return deleted, nil
}

// FindStale returns tasks in status not updated since olderThan, oldest first.
func (s *TaskStore) FindStale(ctx context.Context, status domain.TaskStatus, olderThan time.Time) ([]*domain.Task, error) {
	s.mutex.RLock()
	var result []*domain.Task
	for _, task := range s.tasks {
		if task.Status == status && task.UpdatedAt.Before(olderThan) {
			result = append(result, copyTask(task))
		}
	}
	s.mutex.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.Before(result[j].UpdatedAt)
	})
	return result, nil
}

// Ping reports the store as reachable unless PingFn says otherwise.
func (s *TaskStore) Ping(ctx context.Context) error {
	if s.PingFn != nil {
		return s.PingFn(ctx)
	}
	return nil
}

// Put stores a task as-is, bypassing validation and status checks.
// Tests use it to seed fixtures such as old completed tasks.
func (s *TaskStore) Put(task *domain.Task) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.tasks[task.ID] = copyTask(task)
}

// Len returns the number of stored tasks.
func (s *TaskStore) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.tasks)
}

// UpdateCount returns how many successful updates the store has applied.
func (s *TaskStore) UpdateCount() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.updates
}

// EmailLogStore implements store.EmailLogStore in memory.
type EmailLogStore struct {
	mutex sync.RWMutex
	logs  map[uuid.UUID]*domain.EmailLog

	CreateFn func(ctx context.Context, log *domain.EmailLog) error
	UpdateFn func(ctx context.Context, log *domain.EmailLog) error
}

// NewEmailLogStore creates an empty EmailLogStore.
func NewEmailLogStore() *EmailLogStore {
	return &EmailLogStore{
		logs: make(map[uuid.UUID]*domain.EmailLog),
	}
}

// Create saves a new email log.
func (s *EmailLogStore) Create(ctx context.Context, log *domain.EmailLog) error {
	if s.CreateFn != nil {
		if err := s.CreateFn(ctx, log); err != nil {
			return err
		}
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.logs[log.ID]; exists {
		return store.ErrDuplicate
	}
	c := *log
	s.logs[log.ID] = &c
	return nil
}

// Update saves the outcome fields of an existing log.
func (s *EmailLogStore) Update(ctx context.Context, log *domain.EmailLog) error {
	if s.UpdateFn != nil {
		if err := s.UpdateFn(ctx, log); err != nil {
			return err
		}
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	current, ok := s.logs[log.ID]
	if !ok {
		return store.ErrEmailLogNotFound
	}
	current.Success = log.Success
	current.ErrorMessage = log.ErrorMessage
	return nil
}

// GetByID retrieves an email log by ID.
func (s *EmailLogStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.EmailLog, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	log, ok := s.logs[id]
	if !ok {
		return nil, store.ErrEmailLogNotFound
	}
	c := *log
	return &c, nil
}

// List returns email logs newest first.
func (s *EmailLogStore) List(ctx context.Context, limit, offset int) ([]*domain.EmailLog, error) {
	s.mutex.RLock()
	result := make([]*domain.EmailLog, 0, len(s.logs))
	for _, log := range s.logs {
		c := *log
		result = append(result, &c)
	}
	s.mutex.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].SentAt.After(result[j].SentAt)
	})
	return paginate(result, limit, offset), nil
}

// All returns every stored log, newest first.
func (s *EmailLogStore) All() []*domain.EmailLog {
	logs, _ := s.List(context.Background(), 0, 0)
	return logs
}

func copyTask(task *domain.Task) *domain.Task {
	c := *task
	if task.CreatedBy != nil {
		id := *task.CreatedBy
		c.CreatedBy = &id
	}
	if task.CancelledAt != nil {
		ts := *task.CancelledAt
		c.CancelledAt = &ts
	}
	return &c
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return []T{}
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

var (
	_ store.TaskStore     = (*TaskStore)(nil)
	_ store.EmailLogStore = (*EmailLogStore)(nil)
)
