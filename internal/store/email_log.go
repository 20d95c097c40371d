package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/phrazzld/taskd/internal/domain"
)

// EmailLogStore defines the interface for email audit log persistence.
// Email logs are never deleted.
type EmailLogStore interface {
	// Create saves a new email log.
	Create(ctx context.Context, log *domain.EmailLog) error

	// Update saves the outcome fields (success, error message) of an existing log.
	// Returns ErrEmailLogNotFound if the log does not exist.
	Update(ctx context.Context, log *domain.EmailLog) error

	// GetByID retrieves an email log by its unique ID.
	// Returns ErrEmailLogNotFound if the log does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.EmailLog, error)

	// List returns email logs ordered by SentAt, newest first.
	List(ctx context.Context, limit, offset int) ([]*domain.EmailLog, error)
}
