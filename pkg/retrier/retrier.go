package retrier

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/pkg/errors"
)

const (
	defaultInitialInterval = 100 * time.Millisecond
	defaultMaxInterval     = 2 * time.Second
	defaultMultiplier      = 2.0
	defaultMaxRetries      = 2
	defaultJitter          = 0.1
)

// Retrier runs a call with exponential backoff and jitter.
type Retrier struct {
	initialInterval time.Duration
	maxInterval     time.Duration
	multiplier      float64
	maxRetries      int
	jitter          float64
	retryIf         func(error) bool
}

type Option func(*Retrier)

func WithInitialInterval(d time.Duration) Option {
	return func(r *Retrier) { r.initialInterval = d }
}

func WithMaxInterval(d time.Duration) Option {
	return func(r *Retrier) { r.maxInterval = d }
}

func WithMultiplier(m float64) Option {
	return func(r *Retrier) { r.multiplier = m }
}

// WithMaxRetries sets how many times a failed call is repeated; 0 disables retries.
func WithMaxRetries(n int) Option {
	return func(r *Retrier) {
		if n < 0 {
			n = 0
		}
		r.maxRetries = n
	}
}

// WithJitter sets the jitter factor (0.0 to 1.0).
func WithJitter(j float64) Option {
	return func(r *Retrier) { r.jitter = j }
}

// WithRetryIf limits retries to errors accepted by fn. Other errors are returned at once.
func WithRetryIf(fn func(error) bool) Option {
	return func(r *Retrier) { r.retryIf = fn }
}

func New(opts ...Option) *Retrier {
	r := &Retrier{
		initialInterval: defaultInitialInterval,
		maxInterval:     defaultMaxInterval,
		multiplier:      defaultMultiplier,
		maxRetries:      defaultMaxRetries,
		jitter:          defaultJitter,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Do calls fn until it succeeds, the retries are used up, the error is not retryable
// or ctx is done. The last error is returned.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	interval := r.initialInterval

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			if werr := r.wait(ctx, interval); werr != nil {
				return werr
			}
			interval = r.next(interval)
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}
		if r.retryIf != nil && !r.retryIf(err) {
			return err
		}
	}

	return errors.Wrapf(err, "gave up after %d attempts", r.maxRetries+1)
}

func (r *Retrier) wait(ctx context.Context, interval time.Duration) error {
	jitter := (rand.Float64()*2 - 1) * r.jitter * float64(interval)
	d := max(time.Duration(float64(interval)+jitter), 0)

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (r *Retrier) next(interval time.Duration) time.Duration {
	interval = time.Duration(float64(interval) * r.multiplier)
	if interval > r.maxInterval {
		interval = r.maxInterval
	}
	return interval
}

// DoWithData is Do for calls returning a value.
func DoWithData[T any](r *Retrier, ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, func(ctx context.Context) error {
		var e error
		result, e = fn(ctx)
		return e
	})
	return result, err
}
