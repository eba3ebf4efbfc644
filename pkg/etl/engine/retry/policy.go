// Package retry provides the bounded backoff used for requests sent to the store.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/tigerroll/statickg/pkg/etl/core/config"
	"github.com/tigerroll/statickg/pkg/etl/support/util/logger"
)

// RetryPolicy is an interface that defines retry logic.
type RetryPolicy interface {
	// ShouldRetry determines if a given error is retryable.
	ShouldRetry(err error) bool
	// GetBackoffInterval returns the waiting time (in milliseconds) after the given attempt (starting from 1).
	GetBackoffInterval(attempt int) int
	// GetMaxAttempts returns the maximum number of attempts.
	GetMaxAttempts() int
}

// retryableError marks an error as transient.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Retryable marks err as transient so that the default policy retries it.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// IsRetryable reports whether err was marked with Retryable.
func IsRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// NewPolicy creates the default exponential backoff policy from cfg.
// Non-positive values fall back to a single attempt and no waiting.
func NewPolicy(cfg config.RetryConfig) RetryPolicy {
	p := &defaultRetryPolicy{
		maxAttempts:     cfg.MaxAttempts,
		initialInterval: cfg.InitialIntervalMs,
		maxInterval:     cfg.MaxIntervalMs,
		factor:          cfg.Factor,
	}
	if p.maxAttempts < 1 {
		p.maxAttempts = 1
	}
	if p.factor < 1 {
		p.factor = 1
	}
	return p
}

type defaultRetryPolicy struct {
	maxAttempts     int
	initialInterval int
	maxInterval     int
	factor          float64
}

func (p *defaultRetryPolicy) GetMaxAttempts() int {
	return p.maxAttempts
}

// ShouldRetry retries errors marked with Retryable. Context cancellation is never retried.
func (p *defaultRetryPolicy) ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return IsRetryable(err)
}

// GetBackoffInterval grows the initial interval by factor per attempt, capped at the max interval.
func (p *defaultRetryPolicy) GetBackoffInterval(attempt int) int {
	if p.initialInterval <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	interval := float64(p.initialInterval) * math.Pow(p.factor, float64(attempt-1))
	if p.maxInterval > 0 && interval > float64(p.maxInterval) {
		return p.maxInterval
	}
	return int(interval)
}

var _ RetryPolicy = (*defaultRetryPolicy)(nil)

// Do calls fn until it succeeds, returns a non retryable error, or the policy runs out of attempts.
// The last error is returned, wrapped with the number of attempts made.
func Do(ctx context.Context, policy RetryPolicy, op string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !policy.ShouldRetry(err) || attempt >= policy.GetMaxAttempts() {
			if attempt > 1 {
				return fmt.Errorf("%s failed after %d attempts: %w", op, attempt, err)
			}
			return err
		}

		wait := time.Duration(policy.GetBackoffInterval(attempt)) * time.Millisecond
		logger.Warnf("%s failed (attempt %d/%d), retrying in %s: %v", op, attempt, policy.GetMaxAttempts(), wait, err)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s interrupted after %d attempts: %w", op, attempt, errors.Join(err, ctx.Err()))
		case <-timer.C:
		}
	}
}
