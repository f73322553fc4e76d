package retry

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// instantAfter fires immediately and records requested delays.
func instantAfter(delays *[]time.Duration) func(time.Duration) <-chan time.Time {
	return func(d time.Duration) <-chan time.Time {
		*delays = append(*delays, d)
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return ch
	}
}

func testConfig(delays *[]time.Duration) Config {
	cfg := DefaultConfig()
	cfg.Jitter = false
	cfg.After = instantAfter(delays)
	return cfg
}

type hinted struct{ wait time.Duration }

func (h hinted) Error() string             { return "throttled" }
func (h hinted) RetryAfter() time.Duration { return h.wait }

func TestDoSuccessAfterTransientErrors(t *testing.T) {
	var delays []time.Duration
	calls := 0
	err := Do(context.Background(), testConfig(&delays), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return io.ErrUnexpectedEOF
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{200 * time.Millisecond, 400 * time.Millisecond}, delays)
}

func TestDoNonRetryableError(t *testing.T) {
	var delays []time.Duration
	calls := 0
	boom := errors.New("boom")
	err := Do(context.Background(), testConfig(&delays), func(ctx context.Context) error {
		calls++
		return boom
	})
	assert.Same(t, boom, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, delays)
}

func TestDoPermanentUnwraps(t *testing.T) {
	var delays []time.Duration
	denied := errors.New("denied")
	cfg := testConfig(&delays)
	cfg.Retryable = func(error) bool { return true }
	calls := 0
	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		return Permanent(denied)
	})
	assert.Same(t, denied, err)
	assert.Equal(t, 1, calls)
	assert.Nil(t, Permanent(nil))
}

func TestDoMaxAttemptsReached(t *testing.T) {
	var delays []time.Duration
	calls := 0
	err := Do(context.Background(), testConfig(&delays), func(ctx context.Context) error {
		calls++
		return context.DeadlineExceeded
	})
	var exceeded *RetriesExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, 3, exceeded.Attempts)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 3, calls)
}

func TestDoHonoursDelayHint(t *testing.T) {
	var delays []time.Duration
	cfg := testConfig(&delays)
	cfg.Retryable = func(error) bool { return true }
	cfg.MaxAttempts = 2
	_ = Do(context.Background(), cfg, func(ctx context.Context) error {
		return hinted{wait: time.Second}
	})
	assert.Equal(t, []time.Duration{time.Second}, delays)

	delays = nil
	_ = Do(context.Background(), cfg, func(ctx context.Context) error {
		return hinted{wait: time.Hour}
	})
	assert.Equal(t, []time.Duration{cfg.MaxDelay}, delays, "hint is capped by MaxDelay")
}

func TestDoContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Do(ctx, DefaultConfig(), func(ctx context.Context) error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestDoStopsWhenDelayExceedsDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	cfg := DefaultConfig()
	cfg.InitialDelay = time.Second
	cfg.Jitter = false
	calls := 0
	err := Do(ctx, cfg, func(ctx context.Context) error {
		calls++
		return io.EOF
	})
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 1, calls)
}

func TestDoOnRetry(t *testing.T) {
	var delays []time.Duration
	cfg := testConfig(&delays)
	var attempts []int
	cfg.OnRetry = func(attempt int, err error, next time.Duration) {
		attempts = append(attempts, attempt)
	}
	_ = Do(context.Background(), cfg, func(ctx context.Context) error { return io.EOF })
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"default", DefaultConfig(), false},
		{"zero attempts", Config{MaxAttempts: 0}, true},
		{"negative delay", Config{MaxAttempts: 1, InitialDelay: -1}, true},
		{"delay above max", Config{MaxAttempts: 1, InitialDelay: time.Minute, MaxDelay: time.Second}, true},
		{"multiplier below one", Config{MaxAttempts: 1, Multiplier: 0.5}, true},
		{"fills defaults", Config{MaxAttempts: 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			err := cfg.Normalize()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, cfg.Retryable)
			assert.NotNil(t, cfg.After)
			assert.GreaterOrEqual(t, cfg.Multiplier, 1.0)
		})
	}
}

func TestBackoffBounds(t *testing.T) {
	cfg := Config{MaxAttempts: 10, InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Jitter: true, Rand: rand.New(rand.NewSource(1))}
	require.NoError(t, cfg.Normalize())
	for attempt := 1; attempt <= 10; attempt++ {
		d := cfg.Backoff(attempt)
		assert.LessOrEqual(t, d, time.Second)
		assert.Greater(t, d, time.Duration(0))
	}
	cfg.Jitter = false
	assert.Equal(t, time.Second, cfg.Backoff(10))
	assert.Equal(t, 800*time.Millisecond, cfg.Backoff(4))
}

func TestDefaultRetryable(t *testing.T) {
	assert.False(t, DefaultRetryable(nil))
	assert.False(t, DefaultRetryable(context.Canceled))
	assert.False(t, DefaultRetryable(errors.New("bad request")))
	assert.True(t, DefaultRetryable(context.DeadlineExceeded))
	assert.True(t, DefaultRetryable(io.EOF))
	assert.True(t, DefaultRetryable(&url.Error{Op: "Get", URL: "http://x", Err: context.DeadlineExceeded}))
}
