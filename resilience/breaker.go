package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/use-agent/casefinder/metrics"
)

// State is the mode of a Breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// CircuitOpenError is returned by Allow while the circuit rejects calls.
type CircuitOpenError struct {
	Name string
	// RetryAfter is the remaining cool-down; zero while a half-open probe is in flight.
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("circuit %q is open, retry after %s", e.Name, e.RetryAfter.Round(time.Millisecond))
	}
	return fmt.Sprintf("circuit %q is half-open with a probe in flight", e.Name)
}

// BreakerConfig holds the tunables of a Breaker.
type BreakerConfig struct {
	Name             string
	FailureThreshold int           // default: 5
	Cooldown         time.Duration // default: 60s
}

// Breaker gates calls to one target. All state is guarded by mu; metric
// events are emitted after the lock is released.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	rec       metrics.Recorder
	now       func() time.Time

	mu             sync.Mutex
	state          State
	failures       int
	lastTransition time.Time
	probeInFlight  bool
}

// NewBreaker creates a closed Breaker.
func NewBreaker(cfg BreakerConfig, sink metrics.Sink) *Breaker {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 60 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = "target"
	}
	b := &Breaker{
		name:      cfg.Name,
		threshold: cfg.FailureThreshold,
		cooldown:  cfg.Cooldown,
		rec:       metrics.NewRecorder(sink).With("circuit", cfg.Name),
		now:       time.Now,
	}
	b.lastTransition = b.now()
	return b
}

// Snapshot is a point-in-time copy of the breaker state.
type Snapshot struct {
	State               State
	ConsecutiveFailures int
	LastTransition      time.Time
}

// Snapshot returns the current state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{State: b.state, ConsecutiveFailures: b.failures, LastTransition: b.lastTransition}
}

// State returns the current mode.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// recorderFor labels events with the correlation id carried by ctx.
func (b *Breaker) recorderFor(ctx context.Context) (metrics.Recorder, string) {
	id := metrics.CorrelationID(ctx)
	if id == "" {
		return b.rec, ""
	}
	return b.rec.With(metrics.LabelCorrelationID, id), id
}

// Allow grants a Permit or fails with *CircuitOpenError. An OPEN circuit
// whose cool-down has elapsed moves to HALF_OPEN and the caller becomes the
// single probe. Events caused by this call, and by the permit's outcome,
// carry the correlation id of ctx.
func (b *Breaker) Allow(ctx context.Context) (*Permit, error) {
	rec, id := b.recorderFor(ctx)

	var (
		events []string
		err    error
		probe  bool
	)

	b.mu.Lock()
	switch b.state {
	case StateClosed:
	case StateOpen:
		elapsed := b.now().Sub(b.lastTransition)
		if elapsed < b.cooldown {
			err = &CircuitOpenError{Name: b.name, RetryAfter: b.cooldown - elapsed}
			break
		}
		b.transitionLocked(StateHalfOpen)
		b.failures = 0
		b.probeInFlight = true
		probe = true
		events = append(events, metrics.EventCircuitHalfOpen)
	case StateHalfOpen:
		if b.probeInFlight {
			err = &CircuitOpenError{Name: b.name}
			break
		}
		b.probeInFlight = true
		probe = true
	}
	state := b.state
	b.mu.Unlock()

	emit(rec, events, state)
	if err != nil {
		rec.Count(metrics.EventCircuitRejected)
		return nil, err
	}
	return &Permit{b: b, probe: probe, rec: rec, id: id}, nil
}

// RecordSuccess reports a call that reached the target and got an answer.
func (b *Breaker) RecordSuccess() { b.success(b.rec, "", true) }

// RecordFailure reports a call that failed against the target.
func (b *Breaker) RecordFailure() { b.failure(b.rec, "", true) }

// success applies a successful outcome. Outcomes of permits granted before
// the circuit opened (probe=false) never decide a half-open trial.
func (b *Breaker) success(rec metrics.Recorder, id string, probe bool) {
	var events []string

	b.mu.Lock()
	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		if !probe {
			break
		}
		b.transitionLocked(StateClosed)
		b.failures = 0
		b.probeInFlight = false
		events = append(events, metrics.EventCircuitClosed)
	case StateOpen:
		// A call admitted before the circuit opened; the open window stands.
	}
	state := b.state
	b.mu.Unlock()

	if len(events) > 0 {
		slog.Info("circuit closed", "circuit", b.name, metrics.LabelCorrelationID, id)
	}
	emit(rec, events, state)
}

func (b *Breaker) failure(rec metrics.Recorder, id string, probe bool) {
	var events []string

	b.mu.Lock()
	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.threshold {
			b.transitionLocked(StateOpen)
			events = append(events, metrics.EventCircuitOpened)
		}
	case StateHalfOpen:
		if !probe {
			break
		}
		b.failures++
		b.probeInFlight = false
		b.transitionLocked(StateOpen)
		events = append(events, metrics.EventCircuitOpened)
	case StateOpen:
		b.failures++
	}
	state, failures := b.state, b.failures
	b.mu.Unlock()

	if len(events) > 0 {
		slog.Warn("circuit opened",
			"circuit", b.name,
			"failures", failures,
			"cooldown", b.cooldown,
			metrics.LabelCorrelationID, id,
		)
	}
	emit(rec, events, state)
}

// release frees a half-open probe slot without counting an outcome.
func (b *Breaker) release(probe bool) {
	if !probe {
		return
	}
	b.mu.Lock()
	if b.state == StateHalfOpen {
		b.probeInFlight = false
	}
	b.mu.Unlock()
}

// transitionLocked changes the mode. Caller must hold b.mu.
func (b *Breaker) transitionLocked(to State) {
	b.state = to
	b.lastTransition = b.now()
}

func emit(rec metrics.Recorder, events []string, state State) {
	if len(events) == 0 {
		return
	}
	for _, name := range events {
		rec.Count(name)
	}
	rec.Gauge(metrics.EventCircuitState, float64(state))
}

// Permit is a grant to make one call. Exactly one of Success, Failure or
// Release takes effect; later calls are no-ops.
type Permit struct {
	b     *Breaker
	probe bool
	rec   metrics.Recorder
	id    string
	done  atomic.Bool
}

// Probe reports whether this permit is the half-open trial call.
func (p *Permit) Probe() bool { return p.probe }

// Success records a successful call.
func (p *Permit) Success() {
	if p.done.CompareAndSwap(false, true) {
		p.b.success(p.rec, p.id, p.probe)
	}
}

// Failure records a failed call.
func (p *Permit) Failure() {
	if p.done.CompareAndSwap(false, true) {
		p.b.failure(p.rec, p.id, p.probe)
	}
}

// Release gives the permit back without an outcome, e.g. when the caller
// abandoned the request before the target answered.
func (p *Permit) Release() {
	if p.done.CompareAndSwap(false, true) {
		p.b.release(p.probe)
	}
}
