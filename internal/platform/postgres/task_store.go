package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskd/internal/domain"
	"github.com/phrazzld/taskd/internal/platform/logger"
	"github.com/phrazzld/taskd/internal/store"
)

const taskColumns = `id, title, description, status, attempts, last_error, created_by, created_at, updated_at, cancelled_at`

// PostgresTaskStore implements the store.TaskStore interface
// using a PostgreSQL database as the storage backend.
type PostgresTaskStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresTaskStore creates a new PostgreSQL implementation of the TaskStore interface.
// It accepts a database connection or transaction that should be initialized and managed by the caller.
// If logger is nil, a default logger will be used.
func NewPostgresTaskStore(db store.DBTX, logger *slog.Logger) *PostgresTaskStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresTaskStore{
		db:     db,
		logger: logger.With(slog.String("component", "task_store")),
	}
}

var _ store.TaskStore = (*PostgresTaskStore)(nil)

// Create implements store.TaskStore.Create.
func (s *PostgresTaskStore) Create(ctx context.Context, task *domain.Task) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := task.Validate(); err != nil {
		log.Warn("task validation failed during create",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	query := `INSERT INTO tasks (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.db.ExecContext(ctx, query,
		task.ID,
		task.Title,
		task.Description,
		task.Status,
		task.Attempts,
		task.LastError,
		task.CreatedBy,
		task.CreatedAt,
		task.UpdatedAt,
		task.CancelledAt,
	)
	if err != nil {
		log.Error("failed to create task",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return MapError(err)
	}

	log.Debug("task created", slog.String("task_id", task.ID.String()))
	return nil
}

// GetByID implements store.TaskStore.GetByID.
func (s *PostgresTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

	task, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTaskNotFound
		}
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to get task",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()))
		return nil, MapError(err)
	}
	return task, nil
}

// Update implements store.TaskStore.Update as a single conditional UPDATE
// on the stored status.
func (s *PostgresTaskStore) Update(ctx context.Context, task *domain.Task, expected domain.TaskStatus) error {
	query := `
		UPDATE tasks
		SET title = $3, description = $4, status = $5, attempts = $6,
			last_error = $7, updated_at = $8, cancelled_at = $9
		WHERE id = $1 AND status = $2
	`
	return s.compareAndSet(ctx, task, expected, query,
		task.ID,
		expected,
		task.Title,
		task.Description,
		task.Status,
		task.Attempts,
		task.LastError,
		task.UpdatedAt,
		task.CancelledAt,
	)
}

// UpdateStatus implements store.TaskStore.UpdateStatus. Title and
// description are not part of the statement.
func (s *PostgresTaskStore) UpdateStatus(ctx context.Context, task *domain.Task, expected domain.TaskStatus) error {
	query := `
		UPDATE tasks
		SET status = $3, attempts = $4, last_error = $5, updated_at = $6,
			cancelled_at = $7
		WHERE id = $1 AND status = $2
	`
	return s.compareAndSet(ctx, task, expected, query,
		task.ID,
		expected,
		task.Status,
		task.Attempts,
		task.LastError,
		task.UpdatedAt,
		task.CancelledAt,
	)
}

// compareAndSet runs a conditional UPDATE whose first two parameters are
// the task ID and the expected status.
func (s *PostgresTaskStore) compareAndSet(
	ctx context.Context,
	task *domain.Task,
	expected domain.TaskStatus,
	query string,
	args ...any,
) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to update task",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return MapError(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	// Nothing matched: either the task is gone or its status moved on.
	var current domain.TaskStatus
	err = s.db.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = $1`, task.ID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrTaskNotFound
	}
	if err != nil {
		return MapError(err)
	}
	return fmt.Errorf("%w: task %s is %s, expected %s", store.ErrStatusConflict, task.ID, current, expected)
}

// Delete implements store.TaskStore.Delete.
func (s *PostgresTaskStore) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to delete task",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()))
		return MapError(err)
	}
	return CheckRowsAffected(result, store.ErrTaskNotFound)
}

// List implements store.TaskStore.List.
func (s *PostgresTaskStore) List(ctx context.Context, filter store.TaskFilter) ([]*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	args := []any{}

	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" WHERE status = $%d", len(args))
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	return s.query(ctx, query, args...)
}

// DeleteWhere implements store.TaskStore.DeleteWhere.
func (s *PostgresTaskStore) DeleteWhere(
	ctx context.Context,
	status domain.TaskStatus,
	updatedBefore time.Time,
) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE status = $1 AND updated_at < $2`,
		status, updatedBefore)
	if err != nil {
		return 0, MapError(err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

// FindStale implements store.TaskStore.FindStale.
func (s *PostgresTaskStore) FindStale(
	ctx context.Context,
	status domain.TaskStatus,
	olderThan time.Time,
) ([]*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC`
	return s.query(ctx, query, status, olderThan)
}

// Ping implements store.TaskStore.Ping.
func (s *PostgresTaskStore) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

func (s *PostgresTaskStore) query(ctx context.Context, query string, args ...any) ([]*domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to query tasks",
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	tasks := []*domain.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task rows: %w", err)
	}
	return tasks, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		task        domain.Task
		createdBy   uuid.NullUUID
		cancelledAt sql.NullTime
	)
	err := row.Scan(
		&task.ID,
		&task.Title,
		&task.Description,
		&task.Status,
		&task.Attempts,
		&task.LastError,
		&createdBy,
		&task.CreatedAt,
		&task.UpdatedAt,
		&cancelledAt,
	)
	if err != nil {
		return nil, err
	}

	if createdBy.Valid {
		id := createdBy.UUID
		task.CreatedBy = &id
	}
	if cancelledAt.Valid {
		ts := cancelledAt.Time.UTC()
		task.CancelledAt = &ts
	}
	task.CreatedAt = task.CreatedAt.UTC()
	task.UpdatedAt = task.UpdatedAt.UTC()
	return &task, nil
}
