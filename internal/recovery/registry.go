package recovery

import (
	"sync"
	"time"

	"github.com/vietddude/rescue/internal/core/domain"
	"github.com/vietddude/rescue/internal/metrics"
)

// circuit is the mutable breaker state for one operation name.
type circuit struct {
	failures    int
	lastFailure time.Time
	state       domain.CircuitState
}

// Registry owns the per-operation circuit breaker map. One entry exists per
// distinct operation name for the lifetime of the process; nothing is
// persisted across restarts. All methods are safe for concurrent use.
//
// State machine per circuit:
//
//	CLOSED    — calls proceed; failures increment a counter, any success
//	            resets it to zero.
//	OPEN      — entered at threshold failures; calls short-circuit until
//	            the reset window elapses after the last failure.
//	HALF_OPEN — the first call after the window is admitted as a probe;
//	            its success closes the circuit, its failure re-opens it.
//	            Calls arriving while the probe is in flight short-circuit.
type Registry struct {
	mu       sync.Mutex
	circuits map[string]*circuit
	now      func() time.Time
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryClock overrides the registry's clock.
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates an empty circuit breaker registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		circuits: make(map[string]*circuit),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Allow reports whether a call to the named operation may proceed, given
// the reset window, and returns the circuit state the decision was based
// on. An OPEN circuit whose window has elapsed flips to HALF_OPEN and
// admits exactly the caller that flipped it.
func (r *Registry) Allow(name string, resetAfter time.Duration) (bool, domain.CircuitState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.circuits[name]
	if !ok {
		return true, domain.CircuitClosed
	}

	switch c.state {
	case domain.CircuitOpen:
		if r.now().Sub(c.lastFailure) >= resetAfter {
			r.transition(name, c, domain.CircuitHalfOpen)
			return true, domain.CircuitHalfOpen
		}
		return false, domain.CircuitOpen
	case domain.CircuitHalfOpen:
		// A probe is already in flight.
		return false, domain.CircuitHalfOpen
	default:
		return true, domain.CircuitClosed
	}
}

// RecordSuccess resets the named circuit to CLOSED with zero failures.
func (r *Registry) RecordSuccess(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.circuits[name]
	if !ok {
		return
	}
	c.failures = 0
	if c.state != domain.CircuitClosed {
		r.transition(name, c, domain.CircuitClosed)
	}
}

// RecordFailure counts a failure against the named circuit. The circuit
// opens when the failure count reaches the threshold, and re-opens
// immediately when a HALF_OPEN probe fails.
func (r *Registry) RecordFailure(name string, threshold int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.circuits[name]
	if !ok {
		c = &circuit{state: domain.CircuitClosed}
		r.circuits[name] = c
	}

	c.failures++
	c.lastFailure = r.now()

	if c.state == domain.CircuitHalfOpen {
		r.transition(name, c, domain.CircuitOpen)
		return
	}
	if c.state == domain.CircuitClosed && c.failures >= threshold {
		r.transition(name, c, domain.CircuitOpen)
	}
}

// Snapshot returns a point-in-time copy of every circuit.
func (r *Registry) Snapshot() map[string]domain.CircuitSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]domain.CircuitSnapshot, len(r.circuits))
	for name, c := range r.circuits {
		out[name] = domain.CircuitSnapshot{
			Operation:   name,
			Failures:    c.failures,
			LastFailure: c.lastFailure,
			State:       c.state,
		}
	}
	return out
}

// Reset clears every circuit back to CLOSED with zero failures.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, c := range r.circuits {
		c.failures = 0
		if c.state != domain.CircuitClosed {
			r.transition(name, c, domain.CircuitClosed)
		}
	}
}

// ResetOp clears one named circuit.
func (r *Registry) ResetOp(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.circuits[name]
	if !ok {
		return
	}
	c.failures = 0
	if c.state != domain.CircuitClosed {
		r.transition(name, c, domain.CircuitClosed)
	}
}

// transition flips a circuit's state and records the change in metrics.
// Callers must hold r.mu.
func (r *Registry) transition(name string, c *circuit, to domain.CircuitState) {
	c.state = to
	metrics.CircuitTransitions.WithLabelValues(name, string(to)).Inc()
	metrics.CircuitState.WithLabelValues(name).Set(stateGaugeValue(to))
}

func stateGaugeValue(s domain.CircuitState) float64 {
	switch s {
	case domain.CircuitOpen:
		return 2
	case domain.CircuitHalfOpen:
		return 1
	default:
		return 0
	}
}
