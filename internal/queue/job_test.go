package queue

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProcessTaskJob(t *testing.T) {
	taskID := uuid.New()
	job, err := NewProcessTaskJob(taskID, 2)
	require.NoError(t, err)

	assert.Equal(t, KindProcessTask, job.Kind)
	assert.Equal(t, 2, job.Attempt)
	assert.NotEqual(t, uuid.Nil, job.ID)
	assert.Equal(t, taskID.String(), job.Key(), "process_task jobs are keyed by task")

	var payload ProcessTaskPayload
	require.NoError(t, job.UnmarshalPayload(&payload))
	assert.Equal(t, taskID, payload.TaskID)

	_, err = NewProcessTaskJob(uuid.Nil, 0)
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestNewSendEmailJob(t *testing.T) {
	tests := []struct {
		name      string
		recipient string
		subject   string
		message   string
		wantErr   bool
	}{
		{"valid", "a@b.com", "S", "M", false},
		{"invalid recipient", "nope", "S", "M", true},
		{"blank subject", "a@b.com", "  ", "M", true},
		{"blank message", "a@b.com", "S", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, err := NewSendEmailJob(tt.recipient, tt.subject, tt.message)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPayload)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, KindSendEmail, job.Kind)
			assert.Equal(t, job.ID.String(), job.Key())
		})
	}
}

func TestEncodeDecode(t *testing.T) {
	job, err := NewSendEmailJob("a@b.com", "S", "M")
	require.NoError(t, err)
	job.Redeliveries = 3

	data, err := Encode(job)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, job.ID, decoded.ID)
	assert.Equal(t, job.Kind, decoded.Kind)
	assert.Equal(t, 3, decoded.Redeliveries)
	assert.JSONEq(t, string(job.Payload), string(decoded.Payload))

	_, err = Decode([]byte(`{"kind":"send_email"}`))
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = Decode([]byte(`not json`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestJobRetry(t *testing.T) {
	job, err := NewProcessTaskJob(uuid.New(), 0)
	require.NoError(t, err)
	job.Redeliveries = 2

	now := time.Now()
	next := job.Retry(now)

	assert.Equal(t, 1, next.Attempt)
	assert.Equal(t, 0, next.Redeliveries)
	assert.NotEqual(t, job.ID, next.ID)
	assert.Equal(t, job.Key(), next.Key())
	assert.Equal(t, 0, job.Attempt, "original job is not modified")
}

func TestUnmarshalPayloadEmpty(t *testing.T) {
	job := NewCleanupOldTasksJob()
	var payload ProcessTaskPayload
	assert.ErrorIs(t, job.UnmarshalPayload(&payload), ErrInvalidPayload)
}
