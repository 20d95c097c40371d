package queue

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

func receive(t *testing.T, ch <-chan Delivery) Delivery {
	t.Helper()
	select {
	case d, ok := <-ch:
		require.True(t, ok, "delivery channel closed unexpectedly")
		return d
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
		return nil
	}
}

func TestMemoryQueue_Publish(t *testing.T) {
	q := NewMemoryQueue(2, 0, setupTestLogger())
	ctx := context.Background()

	assert.NoError(t, q.Publish(ctx, NewCleanupOldTasksJob()))
	assert.NoError(t, q.Publish(ctx, NewCleanupOldTasksJob()))

	err := q.Publish(ctx, NewCleanupOldTasksJob())
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 2, q.Len())
}

func TestMemoryQueue_DeliverAndAck(t *testing.T) {
	q := NewMemoryQueue(10, 0, setupTestLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job := NewCleanupOldTasksJob()
	require.NoError(t, q.Publish(ctx, job))

	ch, err := q.Deliveries(ctx)
	require.NoError(t, err)

	d := receive(t, ch)
	assert.Equal(t, job.ID, d.Job().ID)
	d.Ack()
	d.Nack() // ignored after Ack

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, q.Len())
}

func TestMemoryQueue_NackRedelivers(t *testing.T) {
	q := NewMemoryQueue(10, 2, setupTestLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job := NewCleanupOldTasksJob()
	require.NoError(t, q.Publish(ctx, job))

	ch, err := q.Deliveries(ctx)
	require.NoError(t, err)

	first := receive(t, ch)
	first.Nack()

	second := receive(t, ch)
	assert.Equal(t, job.ID, second.Job().ID)
	assert.Equal(t, 1, second.Job().Redeliveries)
	second.Nack()

	third := receive(t, ch)
	assert.Equal(t, 2, third.Job().Redeliveries)
	third.Nack()

	select {
	case d := <-ch:
		t.Fatalf("expected job to be dropped, got redelivery %d", d.Job().Redeliveries)
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, int64(1), q.Dropped())
}

func TestMemoryQueue_Close(t *testing.T) {
	q := NewMemoryQueue(10, 0, setupTestLogger())
	ctx := context.Background()

	ch, err := q.Deliveries(ctx)
	require.NoError(t, err)

	require.NoError(t, q.Close())
	require.NoError(t, q.Close(), "close is idempotent")

	assert.ErrorIs(t, q.Publish(ctx, NewCleanupOldTasksJob()), ErrQueueClosed)
	assert.ErrorIs(t, q.Ping(ctx), ErrQueueClosed)

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "delivery channel should be closed")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for closed channel")
	}

	_, err = q.Deliveries(ctx)
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestMemoryQueue_ContextCancelStopsDeliveries(t *testing.T) {
	q := NewMemoryQueue(10, 0, setupTestLogger())
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := q.Deliveries(ctx)
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for closed channel")
	}
	assert.NoError(t, q.Ping(context.Background()))
}
