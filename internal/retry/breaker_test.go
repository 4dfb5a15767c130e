package retry

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"memoryhub/internal/config"
)

func testBreakerConfig() config.ProviderRetryConfig {
	return config.ProviderRetryConfig{
		FailureThreshold: 2,
		OpenTimeout:      20 * time.Millisecond,
		HalfOpenMaxCalls: 1,
		SuccessThreshold: 1,
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker("test", testBreakerConfig(), zerolog.Nop())
	boom := errors.New("boom")

	require.NoError(t, b.Execute(func() error { return nil }))
	require.Equal(t, StateClosed, b.State())

	_ = b.Execute(func() error { return boom })
	require.Equal(t, StateClosed, b.State())

	_ = b.Execute(func() error { return boom })
	require.Equal(t, StateOpen, b.State())
}

func TestBreakerShortCircuitsWhileOpen(t *testing.T) {
	b := NewBreaker("test", testBreakerConfig(), zerolog.Nop())
	boom := errors.New("boom")

	_ = b.Execute(func() error { return boom })
	_ = b.Execute(func() error { return boom })
	require.Equal(t, StateOpen, b.State())

	called := false
	err := b.Execute(func() error { called = true; return nil })
	require.ErrorIs(t, err, ErrOpen)
	require.False(t, called)
}

func TestBreakerHalfOpenRecoversToClose(t *testing.T) {
	b := NewBreaker("test", testBreakerConfig(), zerolog.Nop())
	boom := errors.New("boom")

	_ = b.Execute(func() error { return boom })
	_ = b.Execute(func() error { return boom })
	require.Equal(t, StateOpen, b.State())

	time.Sleep(25 * time.Millisecond)

	require.NoError(t, b.Execute(func() error { return nil }))
	require.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker("test", testBreakerConfig(), zerolog.Nop())
	boom := errors.New("boom")

	_ = b.Execute(func() error { return boom })
	_ = b.Execute(func() error { return boom })
	require.Equal(t, StateOpen, b.State())

	time.Sleep(25 * time.Millisecond)

	err := b.Execute(func() error { return boom })
	require.ErrorIs(t, err, boom)
	require.Equal(t, StateOpen, b.State())
}

func TestBreakerStateString(t *testing.T) {
	require.Equal(t, "CLOSED", StateClosed.String())
	require.Equal(t, "OPEN", StateOpen.String())
	require.Equal(t, "HALF_OPEN", StateHalfOpen.String())
}
