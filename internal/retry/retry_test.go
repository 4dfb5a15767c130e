package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"memoryhub/internal/apperr"
	"memoryhub/internal/config"
)

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	cfg := config.ProviderRetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, BackoffFactor: 2}
	attempts := 0
	err := Do(context.Background(), cfg, func() error {
		attempts++
		if attempts < 3 {
			return apperr.Transient("flaky upstream", nil)
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestDoStopsAfterMaxAttempts(t *testing.T) {
	cfg := config.ProviderRetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, BackoffFactor: 2}
	attempts := 0
	err := Do(context.Background(), cfg, func() error {
		attempts++
		return apperr.UpstreamUnavailable("still down")
	})
	require.Error(t, err)
	require.Equal(t, 2, attempts)
}

func TestDoDoesNotRetryNonTransientErrors(t *testing.T) {
	cfg := config.ProviderRetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond, BackoffFactor: 2}
	attempts := 0
	err := Do(context.Background(), cfg, func() error {
		attempts++
		return apperr.Invalid("bad request body")
	})
	require.Error(t, err)
	require.Equal(t, 1, attempts)
}

func TestDoRespectsContextCancellation(t *testing.T) {
	cfg := config.ProviderRetryConfig{MaxAttempts: 5, InitialDelay: 50 * time.Millisecond, BackoffFactor: 2}
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, cfg, func() error {
		attempts++
		return apperr.Transient("flaky", nil)
	})
	require.ErrorIs(t, err, context.Canceled)
}
