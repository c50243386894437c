// Package resilience shields the conversation loop from flapping speech and
// language services.
//
// [Breaker] is a three-state circuit breaker (closed, open, half-open):
// consecutive failures open it, an open breaker rejects calls immediately
// instead of burning the turn's latency budget on a dead backend, and after
// a cool-down a few probe calls decide whether it closes again.
// [FallbackGroup] chains several providers of one role behind per-entry
// breakers so a session silently moves to the next healthy backend.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Execute] while the breaker is open
// and the cool-down has not elapsed.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is a breaker's operating mode.
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects every call with [ErrCircuitOpen] until the
	// cool-down elapses.
	StateOpen

	// StateHalfOpen lets a bounded number of probe calls through; their
	// outcome decides between closed and open.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. The zero value of each field selects its
// default.
type BreakerConfig struct {
	// Name labels the breaker in logs, usually the provider registry name.
	Name string

	// MaxFailures is the consecutive-failure count that opens the breaker.
	// Default 3.
	MaxFailures int

	// CoolDown is how long the breaker stays open before probing.
	// Default 30s.
	CoolDown time.Duration

	// ProbeCalls is how many half-open calls must succeed to close the
	// breaker. Default 2.
	ProbeCalls int
}

func (cfg BreakerConfig) withDefaults() BreakerConfig {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = 30 * time.Second
	}
	if cfg.ProbeCalls <= 0 {
		cfg.ProbeCalls = 2
	}
	return cfg
}

// Breaker is a three-state circuit breaker.
type Breaker struct {
	cfg BreakerConfig

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	probes      int
	probeFails  int
}

// NewBreaker returns a closed [Breaker] with defaults applied.
func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{cfg: cfg.withDefaults(), state: StateClosed}
}

// Execute runs fn unless the breaker rejects the call. Open breakers return
// [ErrCircuitOpen] without invoking fn; half-open breakers admit at most the
// configured number of probes.
func (b *Breaker) Execute(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case StateOpen:
		if time.Since(b.lastFailure) < b.cfg.CoolDown {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.probes = 0
		b.probeFails = 0
		slog.Info("resilience: breaker probing", "name", b.cfg.Name)

	case StateHalfOpen:
		if b.probes >= b.cfg.ProbeCalls {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
	}
	probing := b.state == StateHalfOpen
	if probing {
		b.probes++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.fail(probing)
	} else {
		b.succeed(probing)
	}
	return err
}

// fail updates failure accounting. Callers hold b.mu.
func (b *Breaker) fail(probing bool) {
	b.lastFailure = time.Now()
	if probing {
		b.probeFails++
		b.state = StateOpen
		b.failures = b.cfg.MaxFailures
		slog.Warn("resilience: breaker reopened", "name", b.cfg.Name)
		return
	}
	b.failures++
	if b.failures >= b.cfg.MaxFailures {
		b.state = StateOpen
		slog.Warn("resilience: breaker opened", "name", b.cfg.Name, "consecutive_failures", b.failures)
	}
}

// succeed updates success accounting. Callers hold b.mu.
func (b *Breaker) succeed(probing bool) {
	if probing {
		if b.probes-b.probeFails >= b.cfg.ProbeCalls {
			b.state = StateClosed
			b.failures = 0
			b.probes = 0
			b.probeFails = 0
			slog.Info("resilience: breaker closed", "name", b.cfg.Name)
		}
		return
	}
	b.failures = 0
}

// State reports the breaker's mode. An open breaker whose cool-down has
// elapsed reports half-open; the stored state flips on the next Execute.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && time.Since(b.lastFailure) >= b.cfg.CoolDown {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.probes = 0
	b.probeFails = 0
	slog.Info("resilience: breaker reset", "name", b.cfg.Name)
}
