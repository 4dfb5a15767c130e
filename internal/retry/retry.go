package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"memoryhub/internal/apperr"
	"memoryhub/internal/config"
)

// Operation is a unit of work retried by Do.
type Operation func() error

// Do runs op with exponential backoff + jitter per cfg, retrying only
// errors classified as transient or upstream-unavailable (§4.8). Any other
// error, or the final attempt's error, is returned to the caller as-is.
func Do(ctx context.Context, cfg config.ProviderRetryConfig, op Operation) error {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return lastErr
		}
		if attempt == maxAttempts-1 {
			break
		}
		wait := backoffDelay(cfg, attempt)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

func isRetryable(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.KindTransient, apperr.KindUpstreamUnavailable:
		return true
	default:
		return false
	}
}

func backoffDelay(cfg config.ProviderRetryConfig, attempt int) time.Duration {
	base := cfg.InitialDelay
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	factor := cfg.BackoffFactor
	if factor <= 0 {
		factor = 2
	}
	delay := float64(base) * math.Pow(factor, float64(attempt))
	if cfg.Jitter {
		delay = delay*0.5 + delay*0.5*rand.Float64()
	}
	d := time.Duration(delay)
	if cfg.MaxDelay > 0 && d > cfg.MaxDelay {
		d = cfg.MaxDelay
	}
	return d
}
