package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskd/internal/domain"
)

// TaskFilter narrows a task listing. Zero values mean "no constraint".
type TaskFilter struct {
	Status domain.TaskStatus
	Limit  int
	Offset int
}

// TaskStore defines the interface for task persistence.
// Implementations must be safe for concurrent writers on different tasks.
type TaskStore interface {
	// Create saves a new task to the store.
	// Returns ErrDuplicate if a task with the same ID exists.
	Create(ctx context.Context, task *domain.Task) error

	// GetByID retrieves a task by its unique ID.
	// Returns ErrTaskNotFound if the task does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// Update saves all mutable fields of the task, but only if the stored
	// status still equals expected. Returns ErrStatusConflict when it does
	// not, and ErrTaskNotFound when the task is gone.
	Update(ctx context.Context, task *domain.Task, expected domain.TaskStatus) error

	// UpdateStatus is Update restricted to the lifecycle fields: status,
	// attempts, last error, updated at and cancelled at. Title and
	// description are left as stored.
	UpdateStatus(ctx context.Context, task *domain.Task, expected domain.TaskStatus) error

	// Delete removes a task. Returns ErrTaskNotFound if it does not exist.
	Delete(ctx context.Context, id uuid.UUID) error

	// List returns tasks ordered newest first.
	List(ctx context.Context, filter TaskFilter) ([]*domain.Task, error)

	// DeleteWhere removes every task in the given status whose UpdatedAt is
	// strictly before updatedBefore, returning the number deleted.
	DeleteWhere(ctx context.Context, status domain.TaskStatus, updatedBefore time.Time) (int64, error)

	// FindStale returns tasks in the given status whose UpdatedAt is
	// strictly before olderThan, oldest first.
	FindStale(ctx context.Context, status domain.TaskStatus, olderThan time.Time) ([]*domain.Task, error)

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error
}
