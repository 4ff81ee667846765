package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffSequence(t *testing.T) {
	want := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		5 * time.Second,
		5 * time.Second,
	}
	for i, w := range want {
		require.Equal(t, w, Backoff(time.Second, 5*time.Second, i+1), "attempt %d", i+1)
	}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestDoRetriesTransientFailure(t *testing.T) {
	calls := 0
	start := time.Now()
	err := Do(context.Background(),
		func() error {
			calls++
			if calls == 1 {
				return errors.New("transient")
			}
			return nil
		},
		WithInitialDelay(20*time.Millisecond),
		WithMaxDelay(100*time.Millisecond),
	)
	require.NoError(t, err)
	require.Equal(t, 2, calls)
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestDoExhaustsAttempts(t *testing.T) {
	sentinel := errors.New("always")
	calls := 0
	err := Do(context.Background(),
		func() error { calls++; return sentinel },
		WithMaxAttempts(3),
		WithInitialDelay(time.Millisecond),
	)
	require.ErrorIs(t, err, sentinel)
	require.Equal(t, 3, calls)
}

func TestDoStopsWhenPredicateRejects(t *testing.T) {
	fatal := errors.New("fatal")
	calls := 0
	err := Do(context.Background(),
		func() error { calls++; return fatal },
		WithMaxAttempts(5),
		WithInitialDelay(time.Millisecond),
		WithShouldRetry(func(err error) bool { return !errors.Is(err, fatal) }),
	)
	require.ErrorIs(t, err, fatal)
	require.Equal(t, 1, calls)
}

func TestDoHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Do(ctx,
		func() error { calls++; return errors.New("x") },
		WithMaxAttempts(3),
		WithInitialDelay(time.Second),
	)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}

func TestWaitForResolves(t *testing.T) {
	var flag atomic.Bool
	time.AfterFunc(30*time.Millisecond, func() { flag.Store(true) })
	err := WaitFor(context.Background(), func() bool { return flag.Load() },
		WithTimeout(time.Second),
		WithInterval(5*time.Millisecond),
	)
	require.NoError(t, err)
}

func TestWaitForTimesOut(t *testing.T) {
	err := WaitFor(context.Background(), func() bool { return false },
		WithTimeout(30*time.Millisecond),
		WithInterval(5*time.Millisecond),
	)
	require.ErrorIs(t, err, ErrConditionTimeout)
}
