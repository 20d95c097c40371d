package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskd/internal/domain"
)

// Kind identifies the handler a job is routed to.
type Kind string

// Job kinds understood by the executor.
const (
	KindProcessTask     Kind = "process_task"
	KindSendEmail       Kind = "send_email"
	KindCleanupOldTasks Kind = "cleanup_old_tasks"
)

// Job is the immutable descriptor carried by the queue. Payload holds the
// kind-specific parameters serialized as JSON.
type Job struct {
	// ID identifies this particular enqueue; it doubles as the tracking
	// identifier returned to API callers.
	ID uuid.UUID `json:"id"`

	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// Attempt is the retry ordinal for process_task jobs (0 = first run).
	Attempt int `json:"attempt"`

	// Redeliveries counts how often the queue handed this job out again
	// after a nack.
	Redeliveries int `json:"redeliveries"`

	EnqueuedAt time.Time `json:"enqueued_at"`
}

// ProcessTaskPayload is the payload of a process_task job.
type ProcessTaskPayload struct {
	TaskID uuid.UUID `json:"task_id"`
}

// SendEmailPayload is the payload of a send_email job.
type SendEmailPayload struct {
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Message   string `json:"message"`
}

// Validate rejects payloads the producer should never have enqueued.
func (p SendEmailPayload) Validate() error {
	if err := domain.ValidateEmailAddress(p.Recipient); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if strings.TrimSpace(p.Subject) == "" {
		return fmt.Errorf("%w: subject is required", ErrInvalidPayload)
	}
	if strings.TrimSpace(p.Message) == "" {
		return fmt.Errorf("%w: message is required", ErrInvalidPayload)
	}
	return nil
}

// NewProcessTaskJob creates a process_task job for the given task and
// retry ordinal.
func NewProcessTaskJob(taskID uuid.UUID, attempt int) (Job, error) {
	if taskID == uuid.Nil {
		return Job{}, fmt.Errorf("%w: task ID cannot be empty", ErrInvalidPayload)
	}
	return newJob(KindProcessTask, ProcessTaskPayload{TaskID: taskID}, attempt)
}

// NewSendEmailJob creates a send_email job after validating its fields.
func NewSendEmailJob(recipient, subject, message string) (Job, error) {
	payload := SendEmailPayload{Recipient: recipient, Subject: subject, Message: message}
	if err := payload.Validate(); err != nil {
		return Job{}, err
	}
	return newJob(KindSendEmail, payload, 0)
}

// NewCleanupOldTasksJob creates a cleanup_old_tasks job.
func NewCleanupOldTasksJob() Job {
	return Job{
		ID:         uuid.New(),
		Kind:       KindCleanupOldTasks,
		EnqueuedAt: time.Now().UTC(),
	}
}

func newJob(kind Kind, payload interface{}, attempt int) (Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Job{}, fmt.Errorf("failed to marshal %s payload: %w", kind, err)
	}
	return Job{
		ID:         uuid.New(),
		Kind:       kind,
		Payload:    data,
		Attempt:    attempt,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// UnmarshalPayload decodes the job payload into v.
func (j Job) UnmarshalPayload(v interface{}) error {
	if len(j.Payload) == 0 {
		return fmt.Errorf("%w: empty payload for %s job", ErrInvalidPayload, j.Kind)
	}
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// Retry returns a copy of the job for the next process_task attempt, with
// a new ID and a fresh redelivery count.
func (j Job) Retry(now time.Time) Job {
	next := j
	next.ID = uuid.New()
	next.Attempt = j.Attempt + 1
	next.Redeliveries = 0
	next.EnqueuedAt = now.UTC()
	return next
}

// Key returns the ordering key used by partitioned transports. Jobs for
// the same task share a key so one consumer owns a task at a time.
func (j Job) Key() string {
	if j.Kind == KindProcessTask {
		var p ProcessTaskPayload
		if err := json.Unmarshal(j.Payload, &p); err == nil && p.TaskID != uuid.Nil {
			return p.TaskID.String()
		}
	}
	return j.ID.String()
}

// Encode serializes the job for transport.
func Encode(j Job) ([]byte, error) {
	return json.Marshal(j)
}

// Decode parses a job produced by Encode.
func Decode(data []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return Job{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if j.ID == uuid.Nil || j.Kind == "" {
		return Job{}, fmt.Errorf("%w: missing id or kind", ErrInvalidPayload)
	}
	return j, nil
}
