package resilience

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// State is a circuit breaker's position in its lifecycle.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// ErrCircuitOpen is returned when a call is refused without attempting the
// collaborator.
var ErrCircuitOpen = errors.New("circuit open")

const (
	DefaultFailureThreshold = 5
	DefaultResetTimeout     = 60 * time.Second
)

// Breaker tracks consecutive failures for one external component.
// CLOSED moves to OPEN at the failure threshold; OPEN moves to HALF_OPEN
// once the reset timeout has elapsed since the last failure; HALF_OPEN
// closes on the next success or reopens on the next failure.
type Breaker struct {
	name       string
	threshold  int
	resetAfter time.Duration
	now        func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
}

func newBreaker(name string, threshold int, resetAfter time.Duration, now func() time.Time) *Breaker {
	return &Breaker{
		name:       name,
		threshold:  threshold,
		resetAfter: resetAfter,
		now:        now,
		state:      StateClosed,
	}
}

// Allow reports whether a call may proceed. While OPEN it fails fast with
// ErrCircuitOpen; once the reset timeout has elapsed it admits a single
// probe by moving to HALF_OPEN.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return nil
	}
	if b.now().Sub(b.lastFailure) >= b.resetAfter {
		b.state = StateHalfOpen
		return nil
	}
	return fmt.Errorf("%s: %w", b.name, ErrCircuitOpen)
}

// RecordSuccess resets the breaker to CLOSED.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
}

// RecordFailure counts a failed attempt. A failure during the HALF_OPEN
// probe reopens immediately regardless of the threshold.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.now()
	if b.state == StateHalfOpen || b.failures >= b.threshold {
		b.state = StateOpen
	}
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// BreakerStatus is a point-in-time snapshot for ops endpoints.
type BreakerStatus struct {
	Component   string    `json:"component"`
	State       State     `json:"state"`
	Failures    int       `json:"failures"`
	LastFailure time.Time `json:"last_failure"`
}

func (b *Breaker) status() BreakerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStatus{
		Component:   b.name,
		State:       b.state,
		Failures:    b.failures,
		LastFailure: b.lastFailure,
	}
}

// Config tunes breaker and retry behavior. Zero values take the defaults.
type Config struct {
	FailureThreshold int
	ResetTimeout     time.Duration
	Retry            RetryPolicy
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = DefaultResetTimeout
	}
	c.Retry = c.Retry.withDefaults()
	return c
}

// Registry hands out one breaker per component name. It is safe for
// concurrent use and meant to be injected, not shared globally.
type Registry struct {
	cfg Config
	now func() time.Time

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry builds a breaker registry with the given tuning.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		breakers: make(map[string]*Breaker),
	}
}

// Breaker returns the breaker for component, creating it on first use.
func (r *Registry) Breaker(component string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[component]
	if !ok {
		b = newBreaker(component, r.cfg.FailureThreshold, r.cfg.ResetTimeout, r.now)
		r.breakers[component] = b
	}
	return b
}

// Snapshot returns the status of every known breaker, ordered by component.
func (r *Registry) Snapshot() []BreakerStatus {
	r.mu.Lock()
	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	breakers := make([]*Breaker, 0, len(names))
	sort.Strings(names)
	for _, name := range names {
		breakers = append(breakers, r.breakers[name])
	}
	r.mu.Unlock()

	out := make([]BreakerStatus, 0, len(breakers))
	for _, b := range breakers {
		out = append(out, b.status())
	}
	return out
}
