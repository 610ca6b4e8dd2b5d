package retrier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errFlaky = errors.New("flaky")

func TestRetrier_Do(t *testing.T) {
	t.Run("first attempt succeeds", func(t *testing.T) {
		r := New()
		attempts := 0
		err := r.Do(context.Background(), func(ctx context.Context) error {
			attempts++
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 1, attempts)
	})

	t.Run("succeeds after retries", func(t *testing.T) {
		r := New(WithMaxRetries(3), WithInitialInterval(time.Millisecond))
		attempts := 0
		err := r.Do(context.Background(), func(ctx context.Context) error {
			attempts++
			if attempts < 3 {
				return errFlaky
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("gives up keeping the cause", func(t *testing.T) {
		r := New(WithMaxRetries(2), WithInitialInterval(time.Millisecond))
		attempts := 0
		err := r.Do(context.Background(), func(ctx context.Context) error {
			attempts++
			return errFlaky
		})
		assert.ErrorIs(t, err, errFlaky)
		assert.Contains(t, err.Error(), "3 attempts")
		assert.Equal(t, 3, attempts)
	})

	t.Run("zero retries", func(t *testing.T) {
		r := New(WithMaxRetries(0))
		attempts := 0
		_ = r.Do(context.Background(), func(ctx context.Context) error {
			attempts++
			return errFlaky
		})
		assert.Equal(t, 1, attempts)
	})

	t.Run("non retryable error returns at once", func(t *testing.T) {
		permanent := errors.New("constraint violation")
		r := New(
			WithMaxRetries(5),
			WithInitialInterval(time.Millisecond),
			WithRetryIf(func(err error) bool { return !errors.Is(err, permanent) }),
		)
		attempts := 0
		err := r.Do(context.Background(), func(ctx context.Context) error {
			attempts++
			return permanent
		})
		assert.Equal(t, permanent, err)
		assert.Equal(t, 1, attempts)
	})

	t.Run("context cancellation", func(t *testing.T) {
		r := New(WithMaxRetries(5), WithInitialInterval(100*time.Millisecond))
		ctx, cancel := context.WithCancel(context.Background())

		attempts := 0
		err := r.Do(ctx, func(ctx context.Context) error {
			attempts++
			if attempts == 2 {
				cancel()
			}
			return errFlaky
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 2, attempts)
	})
}

func TestRetrier_Backoff(t *testing.T) {
	r := New(WithInitialInterval(time.Second), WithMultiplier(3), WithMaxInterval(5*time.Second))
	assert.Equal(t, 3*time.Second, r.next(time.Second))
	assert.Equal(t, 5*time.Second, r.next(3*time.Second))
}

func TestRetrier_DoWithData(t *testing.T) {
	t.Run("returns data", func(t *testing.T) {
		r := New()
		val, err := DoWithData(r, context.Background(), func(ctx context.Context) (int, error) {
			return 42, nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 42, val)
	})

	t.Run("returns error", func(t *testing.T) {
		r := New(WithMaxRetries(1), WithInitialInterval(time.Millisecond))
		val, err := DoWithData(r, context.Background(), func(ctx context.Context) (string, error) {
			return "", errFlaky
		})
		assert.Error(t, err)
		assert.Empty(t, val)
	})
}
