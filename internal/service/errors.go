package service

import (
	"errors"
	"fmt"
)

// ErrEnqueueFailed indicates the queue refused a job. The API maps it to
// 503 Service Unavailable.
var ErrEnqueueFailed = errors.New("failed to enqueue job")

// ServiceError wraps unexpected failures with the operation that hit them.
type ServiceError struct {
	// Service is the service that failed (e.g. "task", "email")
	Service string
	// Operation is the operation that failed (e.g. "create_task")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for ServiceError.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s service %s failed: %s: %v", e.Service, e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("%s service %s failed: %s", e.Service, e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

func newServiceError(service, operation, message string, err error) error {
	if err == nil {
		return nil
	}
	return &ServiceError{
		Service:   service,
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
