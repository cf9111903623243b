package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "chatflow/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
		MaxAttempts:  3,
	}
}

func TestBackoff_DefaultConfig(t *testing.T) {
	c := DefaultBackoffConfig()
	assert.Equal(t, 100*time.Millisecond, c.InitialDelay)
	assert.Equal(t, 30*time.Second, c.MaxDelay)
	assert.Equal(t, 5, c.MaxAttempts)
	assert.True(t, c.Jitter)
}

func TestBackoff_SuccessAfterRetries(t *testing.T) {
	b := NewBackoff(fastConfig())
	calls := 0
	err := b.Retry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("temporary")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestBackoff_FailureAfterMaxAttempts(t *testing.T) {
	b := NewBackoff(fastConfig())
	calls := 0
	want := errors.New("still down")
	err := b.Retry(context.Background(), func() error {
		calls++
		return want
	})
	assert.ErrorIs(t, err, want)
	assert.Equal(t, 3, calls)
}

func TestBackoff_RetryAppErrors(t *testing.T) {
	b := NewBackoff(fastConfig())

	calls := 0
	err := b.RetryAppErrors(context.Background(), func() error {
		calls++
		return apperrors.NewAPIError("telegram", "sendMessage", 400, errors.New("bad request"))
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls, "4xx is final")

	calls = 0
	err = b.RetryAppErrors(context.Background(), func() error {
		calls++
		if calls == 1 {
			return apperrors.NewAPIError("telegram", "sendMessage", 502, errors.New("bad gateway"))
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestBackoff_ContextCancellation(t *testing.T) {
	b := NewBackoff(BackoffConfig{InitialDelay: time.Second, MaxDelay: time.Second, Multiplier: 2, MaxAttempts: 5})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := b.Retry(ctx, func() error { return errors.New("fail") })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

type throttled struct{ wait time.Duration }

func (e throttled) Error() string             { return "too many requests" }
func (e throttled) RetryAfter() time.Duration { return e.wait }

func TestBackoff_HonorsRetryAfterCappedByMaxDelay(t *testing.T) {
	b := NewBackoff(BackoffConfig{InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, Multiplier: 2, MaxAttempts: 2})
	calls := 0
	start := time.Now()
	err := b.Retry(context.Background(), func() error {
		calls++
		if calls == 1 {
			return throttled{wait: time.Hour}
		}
		return nil
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
	assert.Less(t, time.Since(start), time.Second)
}

func TestBackoff_ExponentialDelays(t *testing.T) {
	b := NewBackoff(BackoffConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2, MaxAttempts: 10})
	assert.Equal(t, 100*time.Millisecond, b.GetNextDelay(1))
	assert.Equal(t, 200*time.Millisecond, b.GetNextDelay(2))
	assert.Equal(t, 400*time.Millisecond, b.GetNextDelay(3))
	assert.Equal(t, time.Second, b.GetNextDelay(10))
	assert.Equal(t, time.Second, b.GetNextDelay(1000))
}

func TestBackoff_JitterBounds(t *testing.T) {
	b := NewBackoff(BackoffConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2, MaxAttempts: 5, Jitter: true})
	for i := 0; i < 100; i++ {
		d := b.GetNextDelay(2)
		assert.GreaterOrEqual(t, d, 150*time.Millisecond)
		assert.LessOrEqual(t, d, 250*time.Millisecond)
	}
}

func TestDo(t *testing.T) {
	b := NewBackoff(fastConfig())
	calls := 0
	got, err := Do(context.Background(), b, func() (string, error) {
		calls++
		if calls < 2 {
			return "", errors.New("retry me")
		}
		return "ok", nil
	}, func(error) bool { return true })
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
}

func TestNewBackoff_Normalizes(t *testing.T) {
	b := NewBackoff(BackoffConfig{})
	calls := 0
	_ = b.Retry(context.Background(), func() error {
		calls++
		return errors.New("x")
	})
	assert.Equal(t, 1, calls)
}

func TestSecureFloat64(t *testing.T) {
	for i := 0; i < 1000; i++ {
		v := secureFloat64()
		assert.GreaterOrEqual(t, v, 0.0)
		assert.Less(t, v, 1.0)
	}
}
