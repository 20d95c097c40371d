package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/taskd/internal/domain"
	"github.com/phrazzld/taskd/internal/platform/logger"
	"github.com/phrazzld/taskd/internal/queue"
	"github.com/phrazzld/taskd/internal/store"
)

// EmailService queues notification emails and exposes their audit log.
type EmailService interface {
	// QueueEmail validates the message and enqueues a send_email job,
	// returning the job ID. Invalid input returns queue.ErrInvalidPayload
	// and nothing is enqueued.
	QueueEmail(ctx context.Context, recipient, subject, message string) (uuid.UUID, error)

	ListEmailLogs(ctx context.Context, limit, offset int) ([]*domain.EmailLog, error)
}

type emailServiceImpl struct {
	logs      store.EmailLogStore
	publisher queue.Publisher
	logger    *slog.Logger
}

// NewEmailService creates an EmailService.
func NewEmailService(logs store.EmailLogStore, publisher queue.Publisher, logger *slog.Logger) (EmailService, error) {
	if logs == nil {
		return nil, errors.New("email log store cannot be nil")
	}
	if publisher == nil {
		return nil, errors.New("queue publisher cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &emailServiceImpl{
		logs:      logs,
		publisher: publisher,
		logger:    logger.With("component", "email_service"),
	}, nil
}

func (s *emailServiceImpl) QueueEmail(ctx context.Context, recipient, subject, message string) (uuid.UUID, error) {
	if len(subject) > domain.MaxEmailSubjectLength {
		return uuid.Nil, fmt.Errorf("%w: subject exceeds %d characters",
			queue.ErrInvalidPayload, domain.MaxEmailSubjectLength)
	}

	job, err := queue.NewSendEmailJob(recipient, subject, message)
	if err != nil {
		return uuid.Nil, err
	}

	if err := s.publisher.Publish(ctx, job); err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to enqueue email",
			"error", err,
			"job_id", job.ID)
		return uuid.Nil, fmt.Errorf("%w: %w", ErrEnqueueFailed, err)
	}

	logger.FromContextOrDefault(ctx, s.logger).Info("email queued for sending", "job_id", job.ID)
	return job.ID, nil
}

func (s *emailServiceImpl) ListEmailLogs(ctx context.Context, limit, offset int) ([]*domain.EmailLog, error) {
	logs, err := s.logs.List(ctx, limit, offset)
	if err != nil {
		return nil, newServiceError("email", "list_email_logs", "failed to list email logs", err)
	}
	return logs, nil
}
