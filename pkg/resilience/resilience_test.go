package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/errors"
)

var errStore = errors.New("store unavailable")

func TestCircuitBreakerTripsAndRecovers(t *testing.T) {
	var transitions []State
	cb := NewCircuitBreaker("annotations", CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     20 * time.Millisecond,
		OnStateChange:    func(_ string, _, to State) { transitions = append(transitions, to) },
	})
	fail := func() error { return errStore }

	assert.ErrorIs(t, cb.Execute(fail), errStore)
	assert.Equal(t, StateClosed, cb.GetState())
	assert.ErrorIs(t, cb.Execute(fail), errStore)
	assert.Equal(t, StateOpen, cb.GetState())

	err := cb.Execute(func() error { t.Fatal("must not run while open"); return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, transitions)
}

func TestCircuitBreakerCounts(t *testing.T) {
	now := time.Unix(1000, 0)
	cb := NewCircuitBreaker("annotations", CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})
	cb.now = func() time.Time { return now }

	cb.Execute(func() error { return errStore })
	assert.ErrorIs(t, cb.Execute(func() error { return nil }), ErrCircuitOpen)
	c := cb.Counts()
	assert.Equal(t, StateOpen, c.State)
	assert.Equal(t, 1, c.ConsecutiveFailures)
	assert.Equal(t, int64(1), c.Rejected)
	assert.Equal(t, now, c.OpenedAt)

	now = now.Add(time.Minute)
	assert.ErrorIs(t, cb.Execute(func() error { return errStore }), errStore)
	assert.Equal(t, StateOpen, cb.GetState(), "a failed probe re-opens")
	assert.Equal(t, now, cb.Counts().OpenedAt)
}

func TestCircuitBreakerIgnoresNonFailures(t *testing.T) {
	cb := NewCircuitBreaker("annotations", CircuitBreakerConfig{
		FailureThreshold: 1,
		IsFailure:        func(err error) bool { return !errors.Is(err, context.Canceled) },
	})
	assert.ErrorIs(t, cb.Execute(func() error { return context.Canceled }), context.Canceled)
	assert.Equal(t, StateClosed, cb.GetState())
	cb.Execute(func() error { return errStore })
	assert.Equal(t, StateOpen, cb.GetState())
	cb.Reset()
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestRetry(t *testing.T) {
	var calls atomic.Int32
	err := Retry(context.Background(), "flaky", RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond}, func() error {
		if calls.Add(1) < 3 {
			return errStore
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetryExhausted(t *testing.T) {
	err := Retry(context.Background(), "annotations.by_definition", RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond}, func() error {
		return errStore
	})
	var re *RetryError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 2, re.Attempts)
	assert.ErrorIs(t, err, errStore)
	assert.Equal(t, "annotations.by_definition failed after 2 attempts: store unavailable", err.Error())
}

func TestBackoffBounds(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second}.withDefaults()
	for i := 0; i < 50; i++ {
		first := cfg.backoff(1)
		assert.InDelta(t, float64(100*time.Millisecond), float64(first), float64(10*time.Millisecond))
		assert.InDelta(t, float64(400*time.Millisecond), float64(cfg.backoff(3)), float64(40*time.Millisecond))
		assert.LessOrEqual(t, cfg.backoff(20), time.Second)
	}
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("bad query")
	var calls atomic.Int32
	err := Retry(context.Background(), "permanent", RetryConfig{
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
		Retryable:    func(err error) bool { return !errors.Is(err, permanent) },
	}, func() error {
		calls.Add(1)
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWithTimeout(t *testing.T) {
	v, err := WithTimeout(context.Background(), time.Second, "fast", func(context.Context) (int, error) {
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	_, err = WithTimeout(context.Background(), 10*time.Millisecond, "slow", func(ctx context.Context) (int, error) {
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		return 0, nil
	})
	assert.ErrorIs(t, err, apperrors.ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
