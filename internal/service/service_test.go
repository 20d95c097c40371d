package service

import (
	"context"
	"errors"
	"sync"

	"github.com/phrazzld/taskd/internal/queue"
)

// recordingPublisher captures published jobs and can be told to fail.
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

var errQueueDown = errors.New("queue unavailable")
