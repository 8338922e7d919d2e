// internal/bridge/retry.go
package bridge

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy retries failed backend calls with exponential backoff.
type RetryPolicy struct {
	maxAttempts  int
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
	jitter       bool
	retryIf      func(error) bool
	logger       *zap.Logger
}

// RetryOption configures retry behavior.
type RetryOption func(*RetryPolicy)

// WithMaxAttempts sets the total number of attempts (first try included).
func WithMaxAttempts(n int) RetryOption {
	return func(p *RetryPolicy) { p.maxAttempts = n }
}

// WithInitialDelay sets the first backoff delay.
func WithInitialDelay(d time.Duration) RetryOption {
	return func(p *RetryPolicy) { p.initialDelay = d }
}

// WithMaxDelay caps the backoff delay.
func WithMaxDelay(d time.Duration) RetryOption {
	return func(p *RetryPolicy) { p.maxDelay = d }
}

// WithJitter enables jitter to prevent thundering herd.
func WithJitter(enabled bool) RetryOption {
	return func(p *RetryPolicy) { p.jitter = enabled }
}

// WithRetryIf sets the classifier deciding which errors are retried.
// Errors it rejects are returned to the caller immediately.
func WithRetryIf(fn func(error) bool) RetryOption {
	return func(p *RetryPolicy) { p.retryIf = fn }
}

// WithRetryLogger adds logging to retry attempts.
func WithRetryLogger(logger *zap.Logger) RetryOption {
	return func(p *RetryPolicy) { p.logger = logger }
}

// NewRetryPolicy creates a retry policy.
func NewRetryPolicy(opts ...RetryOption) *RetryPolicy {
	p := &RetryPolicy{
		maxAttempts:  3,
		initialDelay: 100 * time.Millisecond,
		maxDelay:     5 * time.Second,
		multiplier:   2.0,
		jitter:       true,
		retryIf:      func(error) bool { return true },
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Execute runs fn until it succeeds, attempts run out, the context is
// cancelled, or the classifier declares the error non-retryable.
func (p *RetryPolicy) Execute(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				p.logger.Debug("call succeeded after retry",
					zap.Int("attempt", attempt+1))
			}
			return nil
		}
		lastErr = err

		if !p.retryIf(err) {
			return err
		}
		if attempt == p.maxAttempts-1 {
			break
		}

		delay := p.delay(attempt)
		p.logger.Debug("call failed, retrying",
			zap.Error(err),
			zap.Int("attempt", attempt+1),
			zap.Int("maxAttempts", p.maxAttempts),
			zap.Duration("delay", delay))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	p.logger.Warn("call failed after all retries",
		zap.Error(lastErr),
		zap.Int("attempts", p.maxAttempts))
	return lastErr
}

// delay computes the backoff for the given zero-based attempt.
func (p *RetryPolicy) delay(attempt int) time.Duration {
	d := float64(p.initialDelay) * math.Pow(p.multiplier, float64(attempt))
	if d > float64(p.maxDelay) {
		d = float64(p.maxDelay)
	}
	if p.jitter {
		// between 0.5x and 1.5x
		d *= 0.5 + rand.Float64()
	}
	return time.Duration(d)
}
