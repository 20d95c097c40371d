package api

import "github.com/google/uuid"

// CreateTaskRequest is the body of POST /api/tasks.
type CreateTaskRequest struct {
	Title       string `json:"title"       validate:"required,max=200"`
	Description string `json:"description" validate:"max=10000"`
}

// UpdateTaskRequest is the body of PATCH /api/tasks/{id}. Omitted fields
// are left unchanged.
type UpdateTaskRequest struct {
	Title       *string `json:"title,omitempty"       validate:"omitempty,min=1,max=200"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=10000"`
}

// SendEmailRequest is the body of POST /api/send-email.
type SendEmailRequest struct {
	Recipient string `json:"recipient" validate:"required,email"`
	Subject   string `json:"subject"   validate:"required,max=255"`
	Message   string `json:"message"   validate:"required"`
}

// SendEmailResponse acknowledges a queued email.
type SendEmailResponse struct {
	Message string    `json:"message"`
	TaskID  uuid.UUID `json:"task_id"`
}
