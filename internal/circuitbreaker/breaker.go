// Package circuitbreaker shields the orchestrator from a failing role
// service: once a role endpoint produces enough consecutive errors the
// breaker opens and invocations fail fast until a probe succeeds. Open-breaker
// errors are ordinary retryable failures for the step loop.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the breaker state.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

var (
	ErrOpen            = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// Config tunes one breaker.
type Config struct {
	FailureThreshold uint32        // consecutive tripping failures that open the breaker
	SuccessThreshold uint32        // consecutive probe successes that close it
	MaxProbes        uint32        // in-flight probes admitted in half-open state
	Cooldown         time.Duration // open-state wait before probing

	// ShouldTrip classifies a non-nil invocation error. Errors it rejects
	// are passed through without moving the breaker in either direction.
	// Nil means every error trips.
	ShouldTrip func(error) bool

	OnStateChange func(name string, from, to State)
}

// DefaultConfig returns thresholds suitable for role service calls.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 6,
		SuccessThreshold: 2,
		MaxProbes:        2,
		Cooldown:         15 * time.Second,
	}
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFailure
	outcomeIgnored
)

// Breaker tracks consecutive failures per guarded endpoint. Failures reset on
// any success, so no periodic counter expiry is needed; an epoch stamp ties
// each admitted request to the state it was admitted under.
type Breaker struct {
	name   string
	cfg    Config
	logger *zap.Logger

	mu        sync.Mutex
	state     State
	epoch     uint64 // bumped on every state transition
	failures  uint32 // consecutive tripping failures while closed
	probes    uint32 // probes currently in flight while half-open
	successes uint32 // consecutive probe successes while half-open
	openedAt  time.Time
}

// New creates a breaker named after the guarded endpoint.
func New(name string, cfg Config, logger *zap.Logger) *Breaker {
	return &Breaker{name: name, cfg: cfg, logger: logger}
}

// Execute runs fn if the breaker admits the request and records the outcome.
// A context already cancelled is reported without touching the breaker.
func (b *Breaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	epoch, err := b.admit()
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			b.record(epoch, outcomeFailure)
			panic(r)
		}
	}()

	err = fn()
	b.record(epoch, b.classify(err))
	return err
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeProbe(time.Now())
	return b.state
}

func (b *Breaker) classify(err error) outcome {
	switch {
	case err == nil:
		return outcomeSuccess
	case b.cfg.ShouldTrip != nil && !b.cfg.ShouldTrip(err):
		return outcomeIgnored
	default:
		return outcomeFailure
	}
}

func (b *Breaker) admit() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeProbe(time.Now())

	switch b.state {
	case StateOpen:
		return b.epoch, ErrOpen
	case StateHalfOpen:
		if b.probes >= b.cfg.MaxProbes {
			return b.epoch, ErrTooManyRequests
		}
		b.probes++
	}
	return b.epoch, nil
}

func (b *Breaker) record(epoch uint64, out outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if epoch != b.epoch {
		// Admitted under a previous state; the outcome no longer applies.
		return
	}

	switch b.state {
	case StateClosed:
		switch out {
		case outcomeSuccess:
			b.failures = 0
		case outcomeFailure:
			b.failures++
			if b.failures >= b.cfg.FailureThreshold {
				b.transition(StateOpen)
			}
		}
	case StateHalfOpen:
		if b.probes > 0 {
			b.probes--
		}
		switch out {
		case outcomeSuccess:
			b.successes++
			if b.successes >= b.cfg.SuccessThreshold {
				b.transition(StateClosed)
			}
		case outcomeFailure:
			b.transition(StateOpen)
		}
	}
}

// maybeProbe moves an open breaker to half-open once the cooldown has
// elapsed. Caller holds b.mu.
func (b *Breaker) maybeProbe(now time.Time) {
	if b.state == StateOpen && now.Sub(b.openedAt) >= b.cfg.Cooldown {
		b.transition(StateHalfOpen)
	}
}

// transition switches state, stamps a new epoch, and resets counters.
// Caller holds b.mu.
func (b *Breaker) transition(next State) {
	if b.state == next {
		return
	}
	prev := b.state
	b.state = next
	b.epoch++
	b.failures = 0
	b.probes = 0
	b.successes = 0
	if next == StateOpen {
		b.openedAt = time.Now()
	}

	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, prev, next)
	}
	b.logger.Info("circuit breaker state changed",
		zap.String("name", b.name),
		zap.String("from", prev.String()),
		zap.String("to", next.String()),
	)
}
