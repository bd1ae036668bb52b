package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrMaxRetriesExceeded is returned once the attempt budget is spent
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
	// ErrNotReady signals that the operation should simply be tried again
	ErrNotReady = errors.New("not ready")
)

// Policy describes a bounded fixed-delay retry schedule
type Policy struct {
	MaxAttempts   int
	Delay         time.Duration
	RetryableFunc func(error) bool
}

// Validate checks the policy
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.Delay < 0 {
		return fmt.Errorf("delay must not be negative, got %s", p.Delay)
	}
	return nil
}

// Retrier handles retry logic
type Retrier struct {
	policy Policy
	logger *zap.Logger
	wait   func(ctx context.Context, d time.Duration) error
}

// NewRetrier creates a new retrier
func NewRetrier(policy Policy, logger *zap.Logger) *Retrier {
	if err := policy.Validate(); err != nil {
		panic(fmt.Sprintf("invalid retry policy: %v", err))
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Retrier{
		policy: policy,
		logger: logger,
		wait:   sleep,
	}
}

// Do executes a function with retry logic
func (r *Retrier) Do(ctx context.Context, operation func(attempt int) error) (int, error) {
	_, attempts, err := r.DoWithResult(ctx, func(attempt int) (interface{}, error) {
		return nil, operation(attempt)
	})
	return attempts, err
}

// DoWithResult runs operation until it succeeds, fails with a non-retryable
// error, or the attempt budget is spent. It reports how many attempts ran.
// There is no wait after the final attempt.
func (r *Retrier) DoWithResult(ctx context.Context, operation func(attempt int) (interface{}, error)) (interface{}, int, error) {
	var lastErr error

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, attempt - 1, err
		}

		result, err := operation(attempt)
		if err == nil {
			if attempt > 1 {
				r.logger.Debug("Operation succeeded after retries",
					zap.Int("attempt", attempt),
					zap.Int("max_attempts", r.policy.MaxAttempts))
			}
			return result, attempt, nil
		}
		lastErr = err

		if !r.isRetryable(err) {
			r.logger.Debug("Error is not retryable",
				zap.Error(err),
				zap.Int("attempt", attempt))
			return nil, attempt, err
		}

		if attempt == r.policy.MaxAttempts {
			break
		}

		r.logger.Debug("Retrying operation",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", r.policy.MaxAttempts),
			zap.Duration("delay", r.policy.Delay))

		if err := r.wait(ctx, r.policy.Delay); err != nil {
			return nil, attempt, err
		}
	}

	r.logger.Warn("Max retries exceeded",
		zap.Error(lastErr),
		zap.Int("attempts", r.policy.MaxAttempts))
	return nil, r.policy.MaxAttempts, fmt.Errorf("%w: %v", ErrMaxRetriesExceeded, lastErr)
}

func (r *Retrier) isRetryable(err error) bool {
	if errors.Is(err, ErrNotReady) {
		return true
	}
	if r.policy.RetryableFunc != nil {
		return r.policy.RetryableFunc(err)
	}
	return false
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
