// internal/bridge/circuit.go
package bridge

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrCircuitOpen is returned by Allow while the circuit is open.
var ErrCircuitOpen = errors.New("bridge: circuit breaker is open")

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // normal operation
	StateOpen                  // failing, calls blocked
	StateHalfOpen              // one trial call allowed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Breaker protects the analysis backend from being hammered while it is
// down. The caller decides what counts as a failure: schema mismatches are
// reported to the caller but never recorded here.
//
// Transitions: Closed -> Open after failureThreshold consecutive transport
// failures inside the observation period; Open -> HalfOpen once the cooldown
// elapses, releasing exactly one trial call; HalfOpen -> Closed on trial
// success, HalfOpen -> Open on trial failure (cooldown restarts).
type Breaker struct {
	mu sync.Mutex

	failureThreshold  int
	observationPeriod time.Duration
	cooldown          time.Duration

	state         State
	failures      int
	runStarted    time.Time // start of the current consecutive-failure run
	openedAt      time.Time
	trialInFlight bool

	logger *zap.Logger
	now    func() time.Time
}

// BreakerOption configures the breaker.
type BreakerOption func(*Breaker)

// WithFailureThreshold sets consecutive failures before opening.
func WithFailureThreshold(n int) BreakerOption {
	return func(b *Breaker) { b.failureThreshold = n }
}

// WithObservationPeriod sets the sliding period a failure run must fall in.
func WithObservationPeriod(d time.Duration) BreakerOption {
	return func(b *Breaker) { b.observationPeriod = d }
}

// WithCooldown sets how long the circuit stays open before a trial call.
func WithCooldown(d time.Duration) BreakerOption {
	return func(b *Breaker) { b.cooldown = d }
}

// WithBreakerLogger adds logging.
func WithBreakerLogger(logger *zap.Logger) BreakerOption {
	return func(b *Breaker) { b.logger = logger }
}

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) { b.now = now }
}

// NewBreaker creates a breaker with the documented defaults.
func NewBreaker(opts ...BreakerOption) *Breaker {
	b := &Breaker{
		failureThreshold:  5,
		observationPeriod: 2 * time.Minute,
		cooldown:          60 * time.Second,
		state:             StateClosed,
		logger:            zap.NewNop(),
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Allow reports whether a call may proceed. While open it fails immediately
// with ErrCircuitOpen until the cooldown elapses, at which point it moves to
// half-open and releases a single trial; further callers keep getting
// ErrCircuitOpen until the trial is resolved.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return ErrCircuitOpen
		}
		b.transition(StateHalfOpen)
		b.trialInFlight = true
		return nil
	default: // StateHalfOpen
		if b.trialInFlight {
			return ErrCircuitOpen
		}
		b.trialInFlight = true
		return nil
	}
}

// OnSuccess records a successful call.
func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.trialInFlight = false
	if b.state != StateClosed {
		b.transition(StateClosed)
	}
}

// OnFailure records a transport failure.
func (b *Breaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()

	if b.state == StateHalfOpen {
		b.trialInFlight = false
		b.openedAt = now
		b.transition(StateOpen)
		return
	}

	if b.failures == 0 || now.Sub(b.runStarted) > b.observationPeriod {
		b.failures = 1
		b.runStarted = now
	} else {
		b.failures++
	}

	if b.state == StateClosed && b.failures >= b.failureThreshold {
		b.openedAt = now
		b.transition(StateOpen)
	}
}

// ProbeSuccess is reported by the health-check loop. A healthy probe closes
// a half-open circuit, and closes an open one once the cooldown has elapsed,
// so recovery is discovered without request traffic.
func (b *Breaker) ProbeSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.failures = 0
		b.trialInFlight = false
		b.transition(StateClosed)
	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.cooldown {
			b.failures = 0
			b.transition(StateClosed)
		}
	}
}

// ProbeFailure keeps an open circuit asserted by restarting its cooldown,
// and sends a half-open circuit back to open.
func (b *Breaker) ProbeFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.trialInFlight = false
		b.openedAt = b.now()
		b.transition(StateOpen)
	case StateOpen:
		b.openedAt = b.now()
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// transition is called with the lock held.
func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	circuitState.Set(float64(to))
	b.logger.Info("circuit breaker state change",
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.Int("failures", b.failures))
}
