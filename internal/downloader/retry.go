package downloader

import (
	"context"
	"errors"
	"time"

	"github.com/circularmachines/sharedinventory/internal/config"
	"github.com/circularmachines/sharedinventory/internal/domain"
)

// RetryConfig holds retry configuration.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig returns sensible defaults for retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  5 * time.Second,
		MaxDelay:      60 * time.Second,
		BackoffFactor: 2.0,
	}
}

// RetryConfigFrom derives a retry policy from download settings.
func RetryConfigFrom(cfg config.DownloadConfig) RetryConfig {
	rc := DefaultRetryConfig()
	if cfg.MaxAttempts > 0 {
		rc.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.RetryDelay > 0 {
		rc.InitialDelay = cfg.RetryDelay
	}
	if cfg.MaxRetryDelay > 0 {
		rc.MaxDelay = cfg.MaxRetryDelay
	}
	return rc
}

// Retry executes fn with exponential backoff, retrying every error.
func Retry[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	return RetryWithCheck(ctx, cfg, fn, func(error) bool { return true })
}

// RetryWithCheck executes fn with exponential backoff while shouldRetry
// approves the returned error.
func RetryWithCheck[T any](
	ctx context.Context,
	cfg RetryConfig,
	fn func() (T, error),
	shouldRetry func(error) bool,
) (T, error) {
	var lastErr error
	var zero T

	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := cfg.InitialDelay

	for attempt := 0; attempt < attempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !shouldRetry(err) || attempt == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * cfg.BackoffFactor)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return zero, lastErr
}

// IsRetryable reports whether a download error may succeed on another attempt.
// Expired URLs and cancelled contexts are final.
func IsRetryable(err error) bool {
	switch {
	case errors.Is(err, domain.ErrURLExpired):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, errNotRetryable):
		return false
	}
	return true
}
