// Package breaker implements a per-provider circuit breaker. Each upstream
// bridge gets its own instance, so one provider's degradation never slows
// down the rest of the fan-out.
package breaker

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"bridgequotes-service/internal/clock"
	"go.uber.org/zap"
)

type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

var (
	// ErrOpen is returned without any upstream call while the breaker is open.
	ErrOpen = errors.New("circuit breaker is open")
	// ErrTooManyTrials is returned when the half-open trial quota is taken.
	ErrTooManyTrials = errors.New("circuit breaker is testing, retry shortly")
)

// Metrics are lifetime counters for observability; they never influence
// state transitions.
type Metrics struct {
	TotalRequests  int64     `json:"totalRequests"`
	TotalFailures  int64     `json:"totalFailures"`
	TotalSuccesses int64     `json:"totalSuccesses"`
	LastFailure    time.Time `json:"lastFailure"`
	LastSuccess    time.Time `json:"lastSuccess"`
}

type Options struct {
	// Threshold is the number of consecutive failures that opens the breaker.
	Threshold int
	// Timeout is how long the breaker stays open before permitting a trial.
	Timeout time.Duration
	// HalfOpenRequests caps concurrent trial calls in half-open state.
	HalfOpenRequests int

	Clock clock.Clock
	Log   *zap.Logger
}

type Breaker struct {
	name      string
	threshold int
	timeout   time.Duration
	halfOpen  int
	clock     clock.Clock
	log       *zap.Logger

	mu               sync.Mutex
	state            State
	failures         int
	halfOpenInFlight int
	nextAttempt      time.Time
	metrics          Metrics
}

func New(name string, opts Options) *Breaker {
	if opts.Threshold <= 0 {
		opts.Threshold = 5
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Minute
	}
	if opts.HalfOpenRequests <= 0 {
		opts.HalfOpenRequests = 1
	}
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	return &Breaker{
		name:      name,
		threshold: opts.Threshold,
		timeout:   opts.Timeout,
		halfOpen:  opts.HalfOpenRequests,
		clock:     opts.Clock,
		log:       opts.Log,
		state:     StateClosed,
	}
}

// Execute runs one upstream call through the breaker. fn must represent the
// terminal outcome of the whole call (retries included): the breaker counts
// one success or one failure per Execute.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := fn(ctx)
	b.record(err == nil)
	return err
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics.TotalRequests++

	if b.state == StateOpen {
		if b.clock.Now().Before(b.nextAttempt) {
			return ErrOpen
		}
		b.toHalfOpen()
	}
	if b.state == StateHalfOpen {
		if b.halfOpenInFlight >= b.halfOpen {
			return ErrTooManyTrials
		}
		b.halfOpenInFlight++
	}
	return nil
}

func (b *Breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	trial := b.state == StateHalfOpen
	if trial && b.halfOpenInFlight > 0 {
		b.halfOpenInFlight--
	}
	now := b.clock.Now()

	if success {
		b.failures = 0
		b.metrics.TotalSuccesses++
		b.metrics.LastSuccess = now
		if trial {
			b.toClosed()
		}
		return
	}

	b.failures++
	b.metrics.TotalFailures++
	b.metrics.LastFailure = now
	if trial || b.failures >= b.threshold {
		b.toOpen(now)
	}
}

func (b *Breaker) toOpen(now time.Time) {
	b.state = StateOpen
	b.nextAttempt = now.Add(b.timeout)
	b.halfOpenInFlight = 0
	b.log.Warn("circuit breaker opened",
		zap.String("provider", b.name),
		zap.Int("failures", b.failures),
		zap.Time("next_attempt", b.nextAttempt))
}

func (b *Breaker) toHalfOpen() {
	b.state = StateHalfOpen
	b.halfOpenInFlight = 0
	b.log.Info("circuit breaker half-open", zap.String("provider", b.name))
}

func (b *Breaker) toClosed() {
	b.state = StateClosed
	b.failures = 0
	b.log.Info("circuit breaker closed", zap.String("provider", b.name))
}

func (b *Breaker) Name() string { return b.name }

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// RetryAfter returns whole seconds until the next permitted attempt,
// 0 when the breaker is not open.
func (b *Breaker) RetryAfter() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen {
		return 0
	}
	rem := b.nextAttempt.Sub(b.clock.Now())
	if rem <= 0 {
		return 0
	}
	return int(math.Ceil(rem.Seconds()))
}

// Snapshot returns the current state and lifetime counters.
func (b *Breaker) Snapshot() (State, Metrics) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, b.metrics
}

// Reset forces the breaker back to closed, clearing counters. Intended for
// operational use, not for the normal state machine.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.halfOpenInFlight = 0
	b.nextAttempt = b.clock.Now()
	b.log.Info("circuit breaker reset", zap.String("provider", b.name))
}
