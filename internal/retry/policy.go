// Package retry holds the retry policy for transient task failures and the
// schedulers that deliver a job again after a delay.
package retry

import (
	"errors"
	"fmt"
	"time"
)

// Defaults for process_task retries.
const (
	DefaultMaxRetries = 3
	DefaultDelay      = 60 * time.Second
)

// ErrNonRetryable marks a failure that neither the handler nor the queue
// should retry.
var ErrNonRetryable = errors.New("non-retryable")

// Permanent wraps err so that IsRetryable reports false for it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNonRetryable) {
		return err
	}
	return &permanentError{err: err}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return fmt.Sprintf("%s: %v", ErrNonRetryable, e.err)
}

func (e *permanentError) Unwrap() []error {
	return []error{ErrNonRetryable, e.err}
}

// IsRetryable reports whether err is a transient failure.
func IsRetryable(err error) bool {
	return err != nil && !errors.Is(err, ErrNonRetryable)
}

// Policy decides whether and when a failed attempt runs again.
type Policy struct {
	MaxRetries int
	Delay      time.Duration
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: DefaultMaxRetries, Delay: DefaultDelay}
}

// ShouldRetry reports whether the attempt that just failed with err gets
// another run. attempt is the zero-based ordinal of that attempt.
func (p Policy) ShouldRetry(attempt int, err error) bool {
	return IsRetryable(err) && attempt < p.MaxRetries
}

// NextRun returns when the next attempt becomes due.
func (p Policy) NextRun(now time.Time) time.Time {
	return now.Add(p.Delay)
}
