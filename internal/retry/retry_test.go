package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordSleep returns a sleeper that records requested delays without waiting
func recordSleep(delays *[]time.Duration) SleepFunc {
	return func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	}
}

func TestDoAttemptsAndBackoff(t *testing.T) {
	var delays []time.Duration
	r := New(&Config{Enable: true, MaxAttempts: 3, Delay: time.Second, Backoff: 2.0},
		WithSleep(recordSleep(&delays)))

	calls := 0
	boom := errors.New("boom")
	attempts, err := r.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		assert.Equal(t, calls, attempt)
		return boom
	})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, delays)
}

func TestDoSucceedsAfterFailures(t *testing.T) {
	var delays []time.Duration
	r := New(&Config{Enable: true, MaxAttempts: 5, Delay: 10 * time.Millisecond, Backoff: 3},
		WithSleep(recordSleep(&delays)))

	attempts, err := r.Do(context.Background(), func(ctx context.Context, attempt int) error {
		if attempt < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 30 * time.Millisecond}, delays)
}

func TestDoPermanentStopsImmediately(t *testing.T) {
	r := New(DefaultRetryConfig(), WithSleep(func(context.Context, time.Duration) error {
		t.Fatal("should not sleep")
		return nil
	}))

	cause := errors.New("pool exhausted")
	attempts, err := r.Do(context.Background(), func(ctx context.Context, attempt int) error {
		return Permanent(cause)
	})

	assert.Equal(t, 1, attempts)
	assert.Same(t, cause, err)
}

func TestDoDisabledRunsOnce(t *testing.T) {
	r := New(&Config{Enable: false, MaxAttempts: 10})

	calls := 0
	_, err := r.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return errors.New("fail")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoContextCancelledDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := New(&Config{Enable: true, MaxAttempts: 3, Delay: time.Hour, Backoff: 1},
		WithNotify(func(attempt int, delay time.Duration, err error) {
			cancel()
		}))

	attempts, err := r.Do(ctx, func(ctx context.Context, attempt int) error {
		return errors.New("fail")
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{"nil", nil, false},
		{"disabled", &Config{}, false},
		{"default", DefaultRetryConfig(), false},
		{"zero attempts", &Config{Enable: true, Backoff: 1}, true},
		{"negative delay", &Config{Enable: true, MaxAttempts: 1, Delay: -1, Backoff: 1}, true},
		{"backoff below one", &Config{Enable: true, MaxAttempts: 1, Backoff: 0.5}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBackoffFor(t *testing.T) {
	cfg := &Config{Delay: 100 * time.Millisecond, Backoff: 2}
	assert.Equal(t, 100*time.Millisecond, cfg.BackoffFor(0))
	assert.Equal(t, 100*time.Millisecond, cfg.BackoffFor(1))
	assert.Equal(t, 200*time.Millisecond, cfg.BackoffFor(2))
	assert.Equal(t, 400*time.Millisecond, cfg.BackoffFor(3))
}
