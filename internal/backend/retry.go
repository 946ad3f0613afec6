package backend

import (
	"context"
	"time"

	"github.com/sweepdb/sweepdb/internal/config"
	sweeperr "github.com/sweepdb/sweepdb/internal/errors"
)

// Retry runs fn, retrying contention-classified failures according to
// the configured backoff policy. Non-retryable errors are surfaced
// immediately. fn must be idempotent: the writer achieves this by
// re-deriving the same sequence window on every attempt rather than
// blindly re-flushing.
func Retry(ctx context.Context, cfg config.RetryConfig, fn func() error) error {
	attempts := cfg.MaxAttempts
	if cfg.Policy == config.RetryNone || attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(cfg, attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err = fn()
		if err == nil {
			return nil
		}
		if !sweeperr.IsRetryable(err) {
			return err
		}
	}
	return err
}

// backoffDelay computes the delay before the given retry attempt (1-based).
func backoffDelay(cfg config.RetryConfig, attempt int) time.Duration {
	base := cfg.BaseDelay
	if base <= 0 {
		base = 10 * time.Millisecond
	}
	switch cfg.Policy {
	case config.RetryFixed:
		return base
	case config.RetryExponential:
		delay := base
		for i := 1; i < attempt; i++ {
			delay *= 2
		}
		return delay
	default:
		return 0
	}
}
