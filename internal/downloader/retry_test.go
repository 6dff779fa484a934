package downloader

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:   attempts,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	got, err := Retry(context.Background(), fastRetry(3), func() (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("boom")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if got != "ok" || calls != 3 {
		t.Errorf("got %q after %d calls, want ok after 3", got, calls)
	}
}

func TestRetry_ReturnsLastError(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastRetry(2), func() (int, error) {
		calls++
		return 0, errors.New("attempt failed")
	})
	if err == nil || err.Error() != "attempt failed" {
		t.Errorf("err = %v, want last error", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestRetryWithCheck_StopsOnFinalError(t *testing.T) {
	final := errors.New("final")
	calls := 0
	_, err := RetryWithCheck(context.Background(), fastRetry(5), func() (int, error) {
		calls++
		return 0, final
	}, func(err error) bool { return !errors.Is(err, final) })

	if !errors.Is(err, final) {
		t.Errorf("err = %v, want final", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetry_ContextCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Hour, BackoffFactor: 2}

	_, err := Retry(ctx, cfg, func() (int, error) {
		cancel()
		return 0, errors.New("boom")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestRetry_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	Retry(context.Background(), RetryConfig{}, func() (int, error) {
		calls++
		return 0, errors.New("x")
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
