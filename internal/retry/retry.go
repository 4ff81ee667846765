package retry

import (
	"context"
	"errors"
	"time"
)

// ErrConditionTimeout is returned by WaitFor when the condition never holds
// within the timeout.
var ErrConditionTimeout = errors.New("timeout waiting for condition")

type Options struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	ShouldRetry  func(error) bool
	OnRetry      func(attempt int, err error)
}

type Option func(*Options)

func defaultOptions() Options {
	return Options{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     5 * time.Second,
		ShouldRetry:  func(error) bool { return true },
		OnRetry:      func(int, error) {},
	}
}

func WithMaxAttempts(n int) Option {
	return func(o *Options) { o.MaxAttempts = n }
}

func WithInitialDelay(d time.Duration) Option {
	return func(o *Options) { o.InitialDelay = d }
}

func WithMaxDelay(d time.Duration) Option {
	return func(o *Options) { o.MaxDelay = d }
}

// WithShouldRetry limits retries to errors the predicate accepts; any other
// error propagates immediately.
func WithShouldRetry(fn func(error) bool) Option {
	return func(o *Options) { o.ShouldRetry = fn }
}

func WithOnRetry(fn func(attempt int, err error)) Option {
	return func(o *Options) { o.OnRetry = fn }
}

// Backoff returns the delay before the given retry attempt (attempt >= 1):
// min(initial * 2^(attempt-1), max).
func Backoff(initial, max time.Duration, attempt int) time.Duration {
	d := initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// Do runs fn until it succeeds, attempts are exhausted, the predicate rejects
// the error, or ctx is done. The first attempt runs immediately; each retry
// waits an exponential backoff first.
func Do(ctx context.Context, fn func() error, opts ...Option) error {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	var lastErr error
	for attempt := 0; attempt < o.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := Sleep(ctx, Backoff(o.InitialDelay, o.MaxDelay, attempt)); err != nil {
				return err
			}
		}

		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if attempt == o.MaxAttempts-1 {
			break
		}
		if !o.ShouldRetry(lastErr) {
			return lastErr
		}
		o.OnRetry(attempt+1, lastErr)
	}
	return lastErr
}

type WaitOptions struct {
	Timeout  time.Duration
	Interval time.Duration
}

type WaitOption func(*WaitOptions)

func WithTimeout(d time.Duration) WaitOption {
	return func(o *WaitOptions) { o.Timeout = d }
}

func WithInterval(d time.Duration) WaitOption {
	return func(o *WaitOptions) { o.Interval = d }
}

// WaitFor polls cond until it holds. Returns ErrConditionTimeout when the
// timeout elapses first, or the ctx error if ctx ends the wait.
func WaitFor(ctx context.Context, cond func() bool, opts ...WaitOption) error {
	o := WaitOptions{Timeout: 5 * time.Second, Interval: 100 * time.Millisecond}
	for _, opt := range opts {
		opt(&o)
	}

	deadline := time.Now().Add(o.Timeout)
	for !cond() {
		if time.Now().After(deadline) {
			return ErrConditionTimeout
		}
		if err := Sleep(ctx, o.Interval); err != nil {
			return err
		}
	}
	return nil
}

// Sleep waits d or until ctx is done, whichever first.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
