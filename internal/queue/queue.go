package queue

import (
	"context"
	"errors"
)

// Common errors returned by queue implementations
var (
	ErrQueueClosed    = errors.New("job queue is closed")
	ErrQueueFull      = errors.New("job queue is full")
	ErrInvalidPayload = errors.New("invalid job payload")
)

// Publisher enqueues jobs for asynchronous execution.
type Publisher interface {
	// Publish hands the job to the queue. A nil return means the queue has
	// accepted responsibility for delivering it at least once.
	Publish(ctx context.Context, job Job) error
}

// Delivery is one job handed to a consumer. Exactly one of Ack or Nack
// must be called once the consumer is done with it.
type Delivery interface {
	// Job returns the delivered job.
	Job() Job

	// Ack confirms the job was handled and must not be delivered again.
	Ack()

	// Nack reports a failure; the queue redelivers the job per its own policy.
	Nack()
}

// Consumer hands out deliveries to worker slots.
type Consumer interface {
	// Deliveries returns the stream of deliveries. The channel is closed
	// when ctx is cancelled or the queue is closed.
	Deliveries(ctx context.Context) (<-chan Delivery, error)
}

// Queue is a durable, at-least-once job channel.
type Queue interface {
	Publisher
	Consumer

	// Ping verifies the queue is reachable.
	Ping(ctx context.Context) error

	// Close releases the queue's resources.
	Close() error
}
