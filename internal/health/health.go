// Package health reports whether the service's dependencies are reachable.
package health

import (
	"context"
	"log/slog"
	"time"
)

// Status values reported for the service and each dependency.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// DefaultTimeout bounds a single ping.
const DefaultTimeout = 3 * time.Second

// Pinger is anything that can verify its own connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Report is the outcome of a health check.
type Report struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Queue    string `json:"queue"`
}

// Healthy reports whether every dependency answered.
func (r Report) Healthy() bool {
	return r.Status == StatusHealthy
}

// Checker composes the repository and queue pings.
type Checker struct {
	database Pinger
	queue    Pinger
	timeout  time.Duration
	logger   *slog.Logger
}

// NewChecker creates a Checker. A nil Pinger is reported unhealthy.
func NewChecker(database, queue Pinger, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		database: database,
		queue:    queue,
		timeout:  DefaultTimeout,
		logger:   logger.With("component", "health"),
	}
}

// Check pings both dependencies. The service is healthy only if both are.
func (c *Checker) Check(ctx context.Context) Report {
	report := Report{
		Database: c.ping(ctx, "database", c.database),
		Queue:    c.ping(ctx, "queue", c.queue),
	}
	report.Status = StatusUnhealthy
	if report.Database == StatusHealthy && report.Queue == StatusHealthy {
		report.Status = StatusHealthy
	}
	return report
}

func (c *Checker) ping(ctx context.Context, name string, p Pinger) string {
	if p == nil {
		return StatusUnhealthy
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := p.Ping(ctx); err != nil {
		c.logger.Warn("health check failed", "dependency", name, "error", err)
		return StatusUnhealthy
	}
	return StatusHealthy
}
