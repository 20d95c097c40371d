package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskd/internal/domain"
	"github.com/phrazzld/taskd/internal/queue"
	"github.com/phrazzld/taskd/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu   sync.Mutex
	jobs []queue.Job
	err  error
}

func (p *recordingPublisher) Publish(ctx context.Context, job queue.Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.jobs = append(p.jobs, job)
	return nil
}

func (p *recordingPublisher) published() []queue.Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]queue.Job(nil), p.jobs...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func putTask(tasks *memory.TaskStore, status domain.TaskStatus, attempts int, age time.Duration) *domain.Task {
	ts := time.Now().UTC().Add(-age)
	task := &domain.Task{
		ID:        uuid.New(),
		Title:     "stuck",
		Status:    status,
		Attempts:  attempts,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	tasks.Put(task)
	return task
}

func jobTaskID(t *testing.T, job queue.Job) uuid.UUID {
	t.Helper()
	var p queue.ProcessTaskPayload
	require.NoError(t, job.UnmarshalPayload(&p))
	return p.TaskID
}

func TestEnqueueCleanup(t *testing.T) {
	pub := &recordingPublisher{}
	s := New(memory.NewTaskStore(), pub, DefaultConfig(), testLogger())

	require.NoError(t, s.EnqueueCleanup(context.Background()))
	jobs := pub.published()
	require.Len(t, jobs, 1)
	assert.Equal(t, queue.KindCleanupOldTasks, jobs[0].Kind)

	pub.err = errors.New("queue full")
	assert.Error(t, s.EnqueueCleanup(context.Background()))
}

func TestSweepStuck_RequeuesOldPending(t *testing.T) {
	tasks := memory.NewTaskStore()
	pub := &recordingPublisher{}
	s := New(tasks, pub, DefaultConfig(), testLogger())

	old := putTask(tasks, domain.TaskStatusPending, 0, time.Hour)
	putTask(tasks, domain.TaskStatusPending, 0, time.Minute)

	result, err := s.SweepStuck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Requeued: 1}, result)

	jobs := pub.published()
	require.Len(t, jobs, 1)
	assert.Equal(t, old.ID, jobTaskID(t, jobs[0]))
	assert.Equal(t, 0, jobs[0].Attempt)
}

func TestSweepStuck_FailsAndRetriesProcessing(t *testing.T) {
	tasks := memory.NewTaskStore()
	pub := &recordingPublisher{}
	s := New(tasks, pub, DefaultConfig(), testLogger())

	retryable := putTask(tasks, domain.TaskStatusProcessing, 2, time.Hour)
	exhausted := putTask(tasks, domain.TaskStatusProcessing, 4, time.Hour)
	putTask(tasks, domain.TaskStatusProcessing, 1, time.Minute)

	result, err := s.SweepStuck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Failed: 2, Retried: 1}, result)

	for _, id := range []uuid.UUID{retryable.ID, exhausted.ID} {
		got, err := tasks.GetByID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusFailed, got.Status)
		assert.Equal(t, StuckReason, got.LastError)
	}

	jobs := pub.published()
	require.Len(t, jobs, 1)
	assert.Equal(t, retryable.ID, jobTaskID(t, jobs[0]))
	assert.Equal(t, 2, jobs[0].Attempt, "retry continues from the recorded attempt count")
}

func TestSweepStuck_SkipsCancelled(t *testing.T) {
	tasks := memory.NewTaskStore()
	pub := &recordingPublisher{}
	s := New(tasks, pub, DefaultConfig(), testLogger())

	task := putTask(tasks, domain.TaskStatusPending, 0, time.Hour)
	cancelledAt := time.Now().UTC()
	task.CancelledAt = &cancelledAt
	tasks.Put(task)

	result, err := s.SweepStuck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, result)
	assert.Empty(t, pub.published())
}

func TestSweepStuck_PublishFailureCounted(t *testing.T) {
	tasks := memory.NewTaskStore()
	pub := &recordingPublisher{err: errors.New("queue down")}
	s := New(tasks, pub, DefaultConfig(), testLogger())

	putTask(tasks, domain.TaskStatusPending, 0, time.Hour)

	result, err := s.SweepStuck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Requeued)
}

func TestScheduler_StartEnqueuesCleanup(t *testing.T) {
	pub := &recordingPublisher{}
	s := New(memory.NewTaskStore(), pub, Config{
		CleanupInterval:    10 * time.Millisecond,
		StuckCheckInterval: time.Hour,
	}, testLogger())

	s.Start(context.Background())
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return len(pub.published()) >= 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestScheduler_CleanupRetriedNextTick(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("queue full")}
	s := New(memory.NewTaskStore(), pub, Config{
		CleanupInterval:    10 * time.Millisecond,
		StuckCheckInterval: time.Hour,
	}, testLogger())

	s.Start(context.Background())
	defer s.Stop()

	time.Sleep(30 * time.Millisecond)
	pub.mu.Lock()
	pub.err = nil
	pub.mu.Unlock()

	assert.Eventually(t, func() bool {
		return len(pub.published()) >= 1
	}, 2*time.Second, 5*time.Millisecond)
}
