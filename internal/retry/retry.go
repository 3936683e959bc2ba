package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Func defines the function signature for a retryable operation.
// attempt starts at 1.
type Func func(ctx context.Context, attempt int) error

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// NotifyFunc is called after a failed attempt that will be retried.
type NotifyFunc func(attempt int, delay time.Duration, err error)

// Option configures a Retrier.
type Option func(*Retrier)

// Retrier runs an operation with bounded exponential backoff.
type Retrier struct {
	cfg    Config
	sleep  SleepFunc
	notify NotifyFunc
}

// permanentError marks an error that must not be retried.
type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps err so that Do returns it without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// WithSleep replaces the sleeper, mostly for tests.
func WithSleep(fn SleepFunc) Option {
	return func(r *Retrier) {
		if fn != nil {
			r.sleep = fn
		}
	}
}

// WithNotify sets a callback invoked before each backoff.
func WithNotify(fn NotifyFunc) Option {
	return func(r *Retrier) {
		r.notify = fn
	}
}

// New creates a Retrier. A nil config means a single attempt.
func New(cfg *Config, opts ...Option) *Retrier {
	r := &Retrier{sleep: Sleep}
	if cfg != nil {
		r.cfg = *cfg
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Do runs op until it succeeds, returns a Permanent error, the attempts
// are used up, or ctx is done. It returns the number of attempts made and
// the last error, unwrapped from Permanent.
func (r *Retrier) Do(ctx context.Context, op Func) (int, error) {
	attempts := 1
	if r.cfg.Enable {
		if err := r.cfg.Validate(); err != nil {
			return 0, fmt.Errorf("invalid retry configuration: %w", err)
		}
		attempts = r.cfg.MaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := op(ctx, attempt)
		if err == nil {
			return attempt, nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return attempt, perm.err
		}
		lastErr = err

		if attempt == attempts {
			break
		}

		delay := r.cfg.BackoffFor(attempt)
		if r.notify != nil {
			r.notify(attempt, delay, err)
		}
		if err := r.sleep(ctx, delay); err != nil {
			return attempt, err
		}
	}

	return attempts, lastErr
}

// Sleep waits for d, returning early with ctx.Err() if ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
