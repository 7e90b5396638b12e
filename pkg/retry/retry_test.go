package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func fastRetrier(opts ...Option) *Retrier {
	base := []Option{
		WithInitialDelay(time.Microsecond),
		WithJitter(false),
	}
	return New(append(base, opts...)...)
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := fastRetrier().Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesMarkedRetryable(t *testing.T) {
	calls := 0
	err := fastRetrier(WithMaxAttempts(3)).Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return Retryable(errTransient)
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	err := fastRetrier(WithMaxAttempts(3)).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return Retryable(errTransient)
	})

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, calls)
}

func TestDoUnmarkedErrorNotRetriedWithoutClassifier(t *testing.T) {
	calls := 0
	err := fastRetrier(WithMaxAttempts(3)).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errTransient
	})

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 1, calls)
}

func TestDoClassifierDecidesUnmarkedErrors(t *testing.T) {
	classify := func(err error) bool { return errors.Is(err, errTransient) }

	calls := 0
	err := fastRetrier(WithMaxAttempts(3), WithClassifier(classify)).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errTransient
	})

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, calls)
}

func TestDoPermanentBeatsClassifier(t *testing.T) {
	classify := func(error) bool { return true }

	calls := 0
	err := fastRetrier(WithMaxAttempts(3), WithClassifier(classify)).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return Permanent(errTransient)
	})

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 1, calls)
}

func TestDoStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := New(WithMaxAttempts(5), WithInitialDelay(time.Hour)).Do(ctx, func(ctx context.Context) error {
		calls++
		cancel()
		return Retryable(errTransient)
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDoOnRetryCallback(t *testing.T) {
	var attempts []int
	onRetry := func(attempt int, err error) { attempts = append(attempts, attempt) }

	_ = fastRetrier(WithMaxAttempts(3), WithOnRetry(onRetry)).Do(context.Background(), func(ctx context.Context) error {
		return Retryable(errTransient)
	})

	assert.Equal(t, []int{1, 2}, attempts)
}

func TestDelayBackoffCapped(t *testing.T) {
	r := New(
		WithInitialDelay(100*time.Millisecond),
		WithMultiplier(2),
		WithMaxDelay(250*time.Millisecond),
		WithJitter(false),
	)

	assert.Equal(t, 100*time.Millisecond, r.delay(1))
	assert.Equal(t, 200*time.Millisecond, r.delay(2))
	assert.Equal(t, 250*time.Millisecond, r.delay(3))
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.True(t, IsRetryable(Retryable(errTransient)))
	assert.False(t, IsRetryable(Permanent(errTransient)))
	assert.False(t, IsRetryable(errTransient))
}

func TestMarkersPreserveNil(t *testing.T) {
	require.Nil(t, Retryable(nil))
	require.Nil(t, Permanent(nil))
}
