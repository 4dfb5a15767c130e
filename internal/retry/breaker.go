// Package retry implements the backoff-with-jitter helper and the
// per-provider circuit breaker (C4) that every external capability
// (embedder, extractor, attachment downloader, store) is wired behind.
//
// The breaker here trades the teacher's sliding-window failure-rate trigger
// (circuit_breaker_decorator.go in the example pack) for the spec's simpler
// consecutive-failure counter — SPEC_FULL §12.4 records why: the domain has
// no natural request volume to make a rate threshold meaningful, so a
// straight "N in a row" counter is the more honest model of "this provider
// has stopped responding."
package retry

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"memoryhub/internal/config"
)

// State is one of the three circuit breaker states (§4.8).
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrOpen is returned immediately by Execute when the circuit is open.
var ErrOpen = errors.New("circuit breaker is open")

// Breaker guards one external provider's calls behind a CLOSED/OPEN/
// HALF_OPEN state machine (§4.8).
type Breaker struct {
	name string
	cfg  config.ProviderRetryConfig
	log  zerolog.Logger

	mu              sync.Mutex
	state           State
	consecutiveFail int
	halfOpenSuccess int
	halfOpenCalls   int
	openedAt        time.Time
}

// NewBreaker constructs a breaker for the named provider.
func NewBreaker(name string, cfg config.ProviderRetryConfig, log zerolog.Logger) *Breaker {
	return &Breaker{name: name, cfg: cfg, state: StateClosed, log: log}
}

// State reports the breaker's current state (for health/metrics reporting).
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs fn under the breaker's protection, short-circuiting with
// ErrOpen while the circuit is open and not yet due for a recovery probe.
func (b *Breaker) Execute(fn func() error) error {
	if !b.allow() {
		return ErrOpen
	}
	err := fn()
	b.recordResult(err)
	return err
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(b.openedAt) >= b.cfg.OpenTimeout {
			b.transitionLocked(StateHalfOpen)
			return true
		}
		return false
	case StateHalfOpen:
		if b.halfOpenCalls >= maxInt(b.cfg.HalfOpenMaxCalls, 1) {
			return false
		}
		b.halfOpenCalls++
		return true
	default:
		return false
	}
}

func (b *Breaker) recordResult(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		if err != nil {
			b.consecutiveFail++
			if b.consecutiveFail >= maxInt(b.cfg.FailureThreshold, 1) {
				b.transitionLocked(StateOpen)
			}
		} else {
			b.consecutiveFail = 0
		}
	case StateHalfOpen:
		if err != nil {
			b.transitionLocked(StateOpen)
			return
		}
		b.halfOpenSuccess++
		if b.halfOpenSuccess >= maxInt(b.cfg.SuccessThreshold, 1) {
			b.transitionLocked(StateClosed)
		}
	}
}

func (b *Breaker) transitionLocked(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	switch to {
	case StateOpen:
		b.openedAt = time.Now()
	case StateHalfOpen:
		b.halfOpenCalls = 0
		b.halfOpenSuccess = 0
	case StateClosed:
		b.consecutiveFail = 0
	}
	b.log.Info().Str("provider", b.name).Str("from", from.String()).Str("to", to.String()).
		Msg("circuit breaker state change")
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
