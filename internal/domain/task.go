package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a task
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// MaxTaskTitleLength mirrors the width of the tasks.title column.
const MaxTaskTitleLength = 200

// CancelledReason is recorded as the task's last error when an operator cancels it.
const CancelledReason = "cancelled"

// transitions is the task lifecycle graph. failed -> processing is the
// retry edge; every other edge moves forward.
var transitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending:    {TaskStatusProcessing},
	TaskStatusProcessing: {TaskStatusCompleted, TaskStatusFailed},
	TaskStatusFailed:     {TaskStatusProcessing},
	TaskStatusCompleted:  nil,
}

// Task is a unit of work created through the API and executed in the
// background. Only the job executor changes its status.
type Task struct {
	ID          uuid.UUID  `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      TaskStatus `json:"status"`
	Attempts    int        `json:"attempts"`
	LastError   string     `json:"last_error,omitempty"`
	CreatedBy   *uuid.UUID `json:"created_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

// NewTask creates a pending Task with a fresh ID and timestamps.
// createdBy may be nil for anonymous callers.
// Returns an error if validation fails.
func NewTask(title, description string, createdBy *uuid.UUID) (*Task, error) {
	now := time.Now().UTC()
	task := &Task{
		ID:          uuid.New(),
		Title:       strings.TrimSpace(title),
		Description: description,
		Status:      TaskStatusPending,
		CreatedBy:   createdBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks if the Task has valid data.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return fmt.Errorf("%w: task ID cannot be empty", ErrInvalidID)
	}
	if t.Title == "" {
		return fmt.Errorf("%w: task title", ErrEmptyContent)
	}
	if len(t.Title) > MaxTaskTitleLength {
		return fmt.Errorf("%w: task title exceeds %d characters", ErrValidation, MaxTaskTitleLength)
	}
	if !t.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidTaskStatus, t.Status)
	}
	if t.UpdatedAt.Before(t.CreatedAt) {
		return fmt.Errorf("%w: updated_at precedes created_at", ErrValidation)
	}
	return nil
}

// Valid reports whether s is one of the four lifecycle states.
func (s TaskStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no automatic transition leaves s under normal
// handler logic. failed is terminal unless a retry re-enters processing.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// CanTransition reports whether moving from one status to another is an
// edge of the lifecycle graph.
func CanTransition(from, to TaskStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionTo moves the task to the given status, stamping UpdatedAt.
// Entering processing counts as an attempt. Returns ErrInvalidTransition
// and leaves the task untouched when the edge does not exist.
func (t *Task) TransitionTo(to TaskStatus, now time.Time) error {
	if !to.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidTaskStatus, to)
	}
	if !CanTransition(t.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, to)
	}

	t.Status = to
	if to == TaskStatusProcessing {
		t.Attempts++
	}
	if to == TaskStatusCompleted {
		t.LastError = ""
	}
	t.touch(now)
	return nil
}

// Fail moves a processing task to failed and records the failure detail.
func (t *Task) Fail(reason string, now time.Time) error {
	if err := t.TransitionTo(TaskStatusFailed, now); err != nil {
		return err
	}
	t.LastError = reason
	return nil
}

// Cancelled reports whether an operator cancelled the task.
func (t *Task) Cancelled() bool {
	return t.CancelledAt != nil
}

// MarkCancelled stamps the cancellation time. Cancelling a completed task
// is rejected since the work already happened.
func (t *Task) MarkCancelled(now time.Time) error {
	if t.Status == TaskStatusCompleted {
		return fmt.Errorf("%w: task already completed", ErrInvalidTransition)
	}
	if t.CancelledAt == nil {
		ts := now.UTC()
		t.CancelledAt = &ts
	}
	t.LastError = CancelledReason
	t.touch(now)
	return nil
}

// UpdateDetails changes the user-editable fields of a task.
func (t *Task) UpdateDetails(title, description *string, now time.Time) error {
	if title != nil {
		t.Title = strings.TrimSpace(*title)
	}
	if description != nil {
		t.Description = *description
	}
	if err := t.Validate(); err != nil {
		return err
	}
	t.touch(now)
	return nil
}

// touch stamps UpdatedAt, never earlier than CreatedAt.
func (t *Task) touch(now time.Time) {
	now = now.UTC()
	if now.Before(t.CreatedAt) {
		now = t.CreatedAt
	}
	t.UpdatedAt = now
}

// ParseTaskStatus converts a string into a TaskStatus.
func ParseTaskStatus(s string) (TaskStatus, error) {
	status := TaskStatus(strings.ToLower(strings.TrimSpace(s)))
	if !status.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidTaskStatus, s)
	}
	return status, nil
}
