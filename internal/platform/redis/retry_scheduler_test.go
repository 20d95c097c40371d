package redis

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskd/internal/queue"
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

// memorySet is an in-memory retrySet. Like the Redis client, every call
// fails once ctx is done.
type memorySet struct {
	mu      sync.Mutex
	members map[string]int64
}

func newMemorySet() *memorySet {
	return &memorySet{members: make(map[string]int64)}
}

func (m *memorySet) Add(ctx context.Context, member string, score int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[member] = score
	return nil
}

func (m *memorySet) Due(ctx context.Context, max int64, limit int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []string
	for member, score := range m.members {
		if score <= max {
			due = append(due, member)
		}
	}
	sort.Slice(due, func(i, j int) bool { return m.members[due[i]] < m.members[due[j]] })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *memorySet) Claim(ctx context.Context, member string, due, lease int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	score, ok := m.members[member]
	if !ok || score > due {
		return false, nil
	}
	m.members[member] = lease
	return true, nil
}

func (m *memorySet) Remove(ctx context.Context, member string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.members, member)
	return nil
}

func (m *memorySet) Len(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.members)), nil
}

func newMemoryScheduler(set *memorySet, pub queue.Publisher) *RetryScheduler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return newRetryScheduler(set, pub, Options{
		PollInterval: 10 * time.Millisecond,
		ClaimLease:   time.Minute,
	}, logger)
}

func TestPublishDue_RemovesPublishedJob(t *testing.T) {
	set := newMemorySet()
	pub := &recordingPublisher{}
	s := newMemoryScheduler(set, pub)
	ctx := context.Background()
	now := time.Now()

	due, err := queue.NewProcessTaskJob(uuid.New(), 1)
	require.NoError(t, err)
	later, err := queue.NewProcessTaskJob(uuid.New(), 2)
	require.NoError(t, err)
	require.NoError(t, s.Schedule(ctx, due, now.Add(-time.Second)))
	require.NoError(t, s.Schedule(ctx, later, now.Add(time.Hour)))

	n, err := s.PublishDue(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, pub.jobs, 1)
	assert.Equal(t, due.ID, pub.jobs[0].ID)

	pending, err := s.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending, "only the later job remains")

	n, err = s.PublishDue(ctx, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, n, "a published job is never published again")
}

func TestPublishDue_KeepsJobOnPublishFailure(t *testing.T) {
	set := newMemorySet()
	pub := &recordingPublisher{err: errors.New("queue down")}
	s := newMemoryScheduler(set, pub)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Schedule(ctx, queue.NewCleanupOldTasksJob(), now.Add(-time.Second)))

	n, err := s.PublishDue(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	pending, err := s.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending, "job should stay in the set")

	// Hidden while the claim lease runs.
	pub.err = nil
	n, err = s.PublishDue(ctx, now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = s.PublishDue(ctx, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, pub.jobs, 1)

	pending, err = s.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

// cancellingPublisher cancels the poll context mid-publish, the way Stop
// does, and reports the cancellation as a publish failure.
type cancellingPublisher struct {
	cancel context.CancelFunc
}

func (p *cancellingPublisher) Publish(ctx context.Context, job queue.Job) error {
	p.cancel()
	return ctx.Err()
}

func TestPublishDue_CancelledContextKeepsJob(t *testing.T) {
	set := newMemorySet()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := newMemoryScheduler(set, &cancellingPublisher{cancel: cancel})
	now := time.Now()

	require.NoError(t, s.Schedule(ctx, queue.NewCleanupOldTasksJob(), now.Add(-time.Second)))

	n, err := s.PublishDue(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	pending, err := set.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending, "a stop during publish must not lose the job")
}

// stoppingPublisher accepts the job and then cancels the poll context.
type stoppingPublisher struct {
	recordingPublisher
	cancel context.CancelFunc
}

func (p *stoppingPublisher) Publish(ctx context.Context, job queue.Job) error {
	err := p.recordingPublisher.Publish(ctx, job)
	p.cancel()
	return err
}

func TestPublishDue_RemovesAfterStopDuringPublish(t *testing.T) {
	set := newMemorySet()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pub := &stoppingPublisher{cancel: cancel}
	s := newMemoryScheduler(set, pub)
	now := time.Now()

	require.NoError(t, s.Schedule(ctx, queue.NewCleanupOldTasksJob(), now.Add(-time.Second)))

	n, err := s.PublishDue(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, pub.jobs, 1)

	pending, err := set.Len(context.Background())
	require.NoError(t, err)
	assert.Zero(t, pending, "a published job is removed even when stopping")
}

func TestPublishDue_DropsUndecodableMember(t *testing.T) {
	set := newMemorySet()
	pub := &recordingPublisher{}
	s := newMemoryScheduler(set, pub)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, set.Add(ctx, "{not json", now.Add(-time.Second).UnixMilli()))
	require.NoError(t, s.Schedule(ctx, queue.NewCleanupOldTasksJob(), now.Add(-time.Second)))

	n, err := s.PublishDue(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err := s.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestPublishDue_ClaimedOnceAcrossReplicas(t *testing.T) {
	set := newMemorySet()
	first := &recordingPublisher{}
	second := &recordingPublisher{}
	a := newMemoryScheduler(set, first)
	b := newMemoryScheduler(set, second)
	ctx := context.Background()
	now := time.Now()

	member := "claimed-once"
	require.NoError(t, set.Add(ctx, member, now.Add(-time.Second).UnixMilli()))

	lease := now.Add(time.Minute).UnixMilli()
	claimed, err := a.set.Claim(ctx, member, now.UnixMilli(), lease)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = b.set.Claim(ctx, member, now.UnixMilli(), lease)
	require.NoError(t, err)
	assert.False(t, claimed, "a claimed member is hidden from other replicas")

	n, err := b.PublishDue(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, second.jobs)
}

func TestRetryScheduler_StartStopWithoutRedis(t *testing.T) {
	set := newMemorySet()
	pub := &recordingPublisher{}
	s := newMemoryScheduler(set, pub)
	ctx := context.Background()

	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.Schedule(ctx, queue.NewCleanupOldTasksJob(), time.Now()))

	s.Start(ctx)
	defer s.Stop()

	assert.Eventually(t, func() bool {
		pub.mu.Lock()
		defer pub.mu.Unlock()
		return len(pub.jobs) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func newTestScheduler(t *testing.T, pub queue.Publisher) *RetryScheduler {
	t.Helper()

	url := os.Getenv("TASKD_TEST_REDIS_URL")
	if url == "" {
		t.Skip("TASKD_TEST_REDIS_URL not set, skipping redis integration test")
	}

	ctx := context.Background()
	client, err := NewClient(ctx, url)
	require.NoError(t, err)

	key := "taskd:test:retries:" + uuid.NewString()
	t.Cleanup(func() {
		_ = client.Del(context.Background(), key).Err()
		_ = client.Close()
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRetryScheduler(client, pub, Options{Key: key, PollInterval: 10 * time.Millisecond}, logger)
}

func TestRetryScheduler_PublishDue(t *testing.T) {
	pub := &recordingPublisher{}
	s := newTestScheduler(t, pub)
	ctx := context.Background()
	now := time.Now()

	due, err := queue.NewProcessTaskJob(uuid.New(), 1)
	require.NoError(t, err)
	later, err := queue.NewProcessTaskJob(uuid.New(), 2)
	require.NoError(t, err)

	require.NoError(t, s.Schedule(ctx, due, now.Add(-time.Second)))
	require.NoError(t, s.Schedule(ctx, later, now.Add(time.Minute)))

	n, err := s.PublishDue(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, pub.jobs, 1)
	assert.Equal(t, due.ID, pub.jobs[0].ID)
	assert.Equal(t, 1, pub.jobs[0].Attempt)

	pending, err := s.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)

	// A second poll finds nothing new.
	n, err = s.PublishDue(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRetryScheduler_KeepsJobOnPublishFailure(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("queue down")}
	s := newTestScheduler(t, pub)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Schedule(ctx, queue.NewCleanupOldTasksJob(), now.Add(-time.Second)))

	n, err := s.PublishDue(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	pending, err := s.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending, "job should stay in the set")

	// Due again after the claim lease.
	pub.mu.Lock()
	pub.err = nil
	pub.mu.Unlock()
	n, err = s.PublishDue(ctx, now.Add(DefaultClaimLease+time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRetryScheduler_StartStop(t *testing.T) {
	pub := &recordingPublisher{}
	s := newTestScheduler(t, pub)
	ctx := context.Background()

	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.Schedule(ctx, queue.NewCleanupOldTasksJob(), time.Now()))

	s.Start(ctx)
	defer s.Stop()

	assert.Eventually(t, func() bool {
		pub.mu.Lock()
		defer pub.mu.Unlock()
		return len(pub.jobs) == 1
	}, 2*time.Second, 10*time.Millisecond)
}
