// Package retry provides retry logic with exponential backoff for
// transient failures against external services and databases.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// RetryableError wraps an error that should trigger a retry.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable: %v", e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// Retryable marks an error as retryable.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// PermanentError wraps an error that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent marks an error as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsRetryable reports whether an error should trigger a retry.
// Permanent errors are never retryable. Explicitly retryable errors
// always are. Anything else is decided by the retrier's classifier.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var permanent *PermanentError
	if errors.As(err, &permanent) {
		return false
	}
	var retryable *RetryableError
	return errors.As(err, &retryable)
}

// Config holds retry behavior parameters.
type Config struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration
	// Multiplier scales the delay after each attempt.
	Multiplier float64
	// Jitter adds randomness to delays to avoid thundering herds.
	Jitter bool
	// Classify decides whether an unwrapped error is retryable.
	// When nil, only errors marked with Retryable are retried.
	Classify func(error) bool
	// OnRetry is invoked before each retry with the attempt number
	// (1-based) and the error that triggered it.
	OnRetry func(attempt int, err error)
}

// DefaultConfig returns a conservative retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Option configures a Retrier.
type Option func(*Config)

// WithMaxAttempts sets the total number of attempts.
func WithMaxAttempts(n int) Option {
	return func(c *Config) { c.MaxAttempts = n }
}

// WithInitialDelay sets the delay before the first retry.
func WithInitialDelay(d time.Duration) Option {
	return func(c *Config) { c.InitialDelay = d }
}

// WithMaxDelay caps the backoff delay.
func WithMaxDelay(d time.Duration) Option {
	return func(c *Config) { c.MaxDelay = d }
}

// WithMultiplier sets the backoff multiplier.
func WithMultiplier(m float64) Option {
	return func(c *Config) { c.Multiplier = m }
}

// WithJitter toggles delay randomization.
func WithJitter(enabled bool) Option {
	return func(c *Config) { c.Jitter = enabled }
}

// WithClassifier sets the function that decides whether an unmarked
// error is retryable.
func WithClassifier(fn func(error) bool) Option {
	return func(c *Config) { c.Classify = fn }
}

// WithOnRetry sets a callback invoked before each retry.
func WithOnRetry(fn func(attempt int, err error)) Option {
	return func(c *Config) { c.OnRetry = fn }
}

// Retrier executes operations with retries and exponential backoff.
type Retrier struct {
	config Config
}

// New creates a Retrier from the default config and the given options.
func New(opts ...Option) *Retrier {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	return &Retrier{config: cfg}
}

// Do executes fn, retrying on retryable errors until the attempt budget
// is exhausted or the context is cancelled. The last error is returned.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if !r.shouldRetry(lastErr) {
			return lastErr
		}
		if attempt == r.config.MaxAttempts {
			break
		}

		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, lastErr)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.delay(attempt)):
		}
	}

	return lastErr
}

func (r *Retrier) shouldRetry(err error) bool {
	var permanent *PermanentError
	if errors.As(err, &permanent) {
		return false
	}
	var retryable *RetryableError
	if errors.As(err, &retryable) {
		return true
	}
	if r.config.Classify != nil {
		return r.config.Classify(err)
	}
	return false
}

func (r *Retrier) delay(attempt int) time.Duration {
	d := float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))
	if d > float64(r.config.MaxDelay) {
		d = float64(r.config.MaxDelay)
	}
	if r.config.Jitter {
		// Full jitter keeps the average backoff while spreading attempts.
		d = d/2 + rand.Float64()*d/2
	}
	return time.Duration(d)
}

// Do is a convenience wrapper that builds a one-off Retrier.
func Do(ctx context.Context, fn func(ctx context.Context) error, opts ...Option) error {
	return New(opts...).Do(ctx, fn)
}
