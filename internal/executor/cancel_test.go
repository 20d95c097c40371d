package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskd/internal/domain"
	"github.com/phrazzld/taskd/internal/store"
	"github.com/phrazzld/taskd/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedTask(t *testing.T, tasks *memory.TaskStore, status domain.TaskStatus) *domain.Task {
	t.Helper()
	task, err := domain.NewTask("T", "D", nil)
	require.NoError(t, err)
	task.Status = status
	tasks.Put(task)
	return task
}

func TestCancelTask(t *testing.T) {
	now := time.Now().UTC().Add(time.Minute)

	tests := []struct {
		name        string
		status      domain.TaskStatus
		wantStatus  domain.TaskStatus
		wantUpdates int
	}{
		{"pending goes through processing", domain.TaskStatusPending, domain.TaskStatusFailed, 2},
		{"processing fails", domain.TaskStatusProcessing, domain.TaskStatusFailed, 1},
		{"failed keeps status", domain.TaskStatusFailed, domain.TaskStatusFailed, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tasks := memory.NewTaskStore()
			task := seedTask(t, tasks, tt.status)

			var seen []domain.TaskStatus
			tasks.UpdateFn = func(ctx context.Context, tk *domain.Task, expected domain.TaskStatus) error {
				seen = append(seen, tk.Status)
				return nil
			}

			got, err := CancelTask(context.Background(), tasks, task.ID, now)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Equal(t, tt.wantUpdates, tasks.UpdateCount())
			if tt.status == domain.TaskStatusPending {
				assert.Equal(t, []domain.TaskStatus{domain.TaskStatusProcessing, domain.TaskStatusFailed}, seen)
			}

			stored, err := tasks.GetByID(context.Background(), task.ID)
			require.NoError(t, err)
			assert.True(t, stored.Cancelled())
			assert.Equal(t, domain.CancelledReason, stored.LastError)
			assert.Equal(t, tt.wantStatus, stored.Status)
		})
	}
}

func TestCancelTask_Completed(t *testing.T) {
	tasks := memory.NewTaskStore()
	task := seedTask(t, tasks, domain.TaskStatusCompleted)

	_, err := CancelTask(context.Background(), tasks, task.ID, time.Now())

	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, 0, tasks.UpdateCount())
}

func TestCancelTask_NotFound(t *testing.T) {
	_, err := CancelTask(context.Background(), memory.NewTaskStore(), uuid.New(), time.Now())
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func TestCancelTask_Conflict(t *testing.T) {
	tasks := memory.NewTaskStore()
	task := seedTask(t, tasks, domain.TaskStatusProcessing)

	tasks.UpdateFn = func(ctx context.Context, tk *domain.Task, expected domain.TaskStatus) error {
		return store.ErrStatusConflict
	}

	_, err := CancelTask(context.Background(), tasks, task.ID, time.Now())
	assert.True(t, errors.Is(err, store.ErrStatusConflict))
}
