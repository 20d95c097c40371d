package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/taskd/internal/domain"
	"github.com/phrazzld/taskd/internal/platform/logger"
	"github.com/phrazzld/taskd/internal/store"
)

// PostgresEmailLogStore implements store.EmailLogStore on PostgreSQL.
type PostgresEmailLogStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresEmailLogStore creates a new PostgresEmailLogStore.
func NewPostgresEmailLogStore(db store.DBTX, logger *slog.Logger) *PostgresEmailLogStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresEmailLogStore{
		db:     db,
		logger: logger.With(slog.String("component", "email_log_store")),
	}
}

var _ store.EmailLogStore = (*PostgresEmailLogStore)(nil)

func (s *PostgresEmailLogStore) Create(ctx context.Context, emailLog *domain.EmailLog) error {
	if err := emailLog.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO email_logs (id, recipient, subject, message, sent_at, success, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		emailLog.ID,
		emailLog.Recipient,
		emailLog.Subject,
		emailLog.Message,
		emailLog.SentAt,
		emailLog.Success,
		emailLog.ErrorMessage,
	)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to create email log",
			slog.String("error", err.Error()),
			slog.String("email_log_id", emailLog.ID.String()))
		return MapError(err)
	}
	return nil
}

func (s *PostgresEmailLogStore) Update(ctx context.Context, emailLog *domain.EmailLog) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE email_logs SET success = $2, error_message = $3 WHERE id = $1`,
		emailLog.ID,
		emailLog.Success,
		emailLog.ErrorMessage,
	)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to update email log",
			slog.String("error", err.Error()),
			slog.String("email_log_id", emailLog.ID.String()))
		return MapError(err)
	}
	return CheckRowsAffected(result, store.ErrEmailLogNotFound)
}

func (s *PostgresEmailLogStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.EmailLog, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, recipient, subject, message, sent_at, success, error_message
		FROM email_logs WHERE id = $1`, id)

	emailLog, err := scanEmailLog(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrEmailLogNotFound
		}
		return nil, MapError(err)
	}
	return emailLog, nil
}

func (s *PostgresEmailLogStore) List(ctx context.Context, limit, offset int) ([]*domain.EmailLog, error) {
	query := `
		SELECT id, recipient, subject, message, sent_at, success, error_message
		FROM email_logs
		ORDER BY sent_at DESC, id`
	args := []any{}
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	logs := []*domain.EmailLog{}
	for rows.Next() {
		emailLog, err := scanEmailLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan email log: %w", err)
		}
		logs = append(logs, emailLog)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating email log rows: %w", err)
	}
	return logs, nil
}

func scanEmailLog(row rowScanner) (*domain.EmailLog, error) {
	var l domain.EmailLog
	if err := row.Scan(
		&l.ID,
		&l.Recipient,
		&l.Subject,
		&l.Message,
		&l.SentAt,
		&l.Success,
		&l.ErrorMessage,
	); err != nil {
		return nil, err
	}
	l.SentAt = l.SentAt.UTC()
	return &l, nil
}
