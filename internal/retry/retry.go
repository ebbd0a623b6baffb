// Package retry runs short-lived cloud operations again after transient
// failures, with exponential backoff. It is intentionally small: the
// controller's work queue owns cross-pass retries, this package only
// bridges momentary locks and hiccups inside a single pass.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type config struct {
	maxRetries   int
	initialDelay time.Duration
	maxDelay     time.Duration
}

// Option overrides a backoff parameter.
type Option func(*config)

// WithMaxRetries sets how many times the operation is retried after the
// first attempt.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = n }
}

// WithInitialDelay sets the delay before the first retry.
func WithInitialDelay(d time.Duration) Option {
	return func(c *config) { c.initialDelay = d }
}

// WithMaxDelay caps the backoff delay.
func WithMaxDelay(d time.Duration) Option {
	return func(c *config) { c.maxDelay = d }
}

// WithExponentialBackoff runs operation until it succeeds, returns a
// fatal error, or the retry budget is spent. The delay doubles after
// every failed attempt. Context cancellation aborts the wait.
func WithExponentialBackoff(ctx context.Context, operation func() error, opts ...Option) error {
	cfg := &config{
		maxRetries:   5,
		initialDelay: time.Second,
		maxDelay:     30 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	delay := cfg.initialDelay
	var lastErr error

	for attempt := 0; attempt <= cfg.maxRetries; attempt++ {
		lastErr = operation()
		if lastErr == nil {
			return nil
		}
		if IsFatal(lastErr) {
			return lastErr
		}
		if attempt == cfg.maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("aborted after %d attempts: %w", attempt+1, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
		if delay > cfg.maxDelay {
			delay = cfg.maxDelay
		}
	}

	return fmt.Errorf("gave up after %d attempts: %w", cfg.maxRetries+1, lastErr)
}

// FatalError marks an error as not worth retrying.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return e.Err.Error() }

func (e *FatalError) Unwrap() error { return e.Err }

// Fatal wraps err so WithExponentialBackoff stops immediately.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsFatal reports whether err was marked with Fatal.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}
