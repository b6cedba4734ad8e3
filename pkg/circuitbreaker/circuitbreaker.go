// Package circuitbreaker implements a consecutive-failure circuit breaker for
// outbound calls to the affiliate API.
//
// The breaker has two observable states. It opens after FailureThreshold
// consecutive failures and fails fast until Cooldown has elapsed since the
// last failure. When the cooldown elapses the breaker resets completely
// (failures=0, closed) and the next call goes to the network. There is no
// single-trial half-open phase: a failing dependency needs another full run
// of FailureThreshold failures to reopen the circuit.
package circuitbreaker

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// State represents the current state of the circuit breaker.
type State int

const (
	// StateClosed is the normal state - requests are allowed through.
	StateClosed State = iota
	// StateOpen is the failure state - requests are rejected without a call.
	StateOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is matched by every OpenError.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// OpenError is returned while the circuit is open.
// RetryAfter is the remaining cooldown.
type OpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open, retry after %s", e.Name, e.RetryAfter.Round(time.Second))
}

// Is makes errors.Is(err, ErrCircuitOpen) work.
func (e *OpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// Config holds circuit breaker configuration.
type Config struct {
	// Name identifies this circuit breaker (for logging).
	Name string

	// FailureThreshold is the number of consecutive failures that opens the circuit.
	// Default: 5
	FailureThreshold int

	// Cooldown is how long the circuit stays open after the last failure.
	// Default: 120s
	Cooldown time.Duration

	// OnStateChange is called (outside the lock) when the circuit opens or resets.
	OnStateChange func(name string, from, to State)

	// Now is the clock. Default: time.Now
	Now func() time.Time
}

// DefaultConfig returns a Config with the affiliate API defaults.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 5,
		Cooldown:         120 * time.Second,
		Now:              time.Now,
	}
}

// Option is a functional option for configuring the circuit breaker.
type Option func(*Config)

// WithFailureThreshold sets the failure threshold.
func WithFailureThreshold(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.FailureThreshold = n
		}
	}
}

// WithCooldown sets the open-state duration.
func WithCooldown(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.Cooldown = d
		}
	}
}

// WithOnStateChange sets the state change callback.
func WithOnStateChange(fn func(name string, from, to State)) Option {
	return func(c *Config) {
		c.OnStateChange = fn
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Config) {
		if now != nil {
			c.Now = now
		}
	}
}

// Status is a snapshot of the breaker, safe to serialize.
type Status struct {
	Name          string        `json:"name"`
	State         string        `json:"state"`
	Failures      int           `json:"failures"`
	LastFailureAt time.Time     `json:"last_failure_at,omitempty"`
	RetryAfter    time.Duration `json:"retry_after,omitempty"`
}

// Breaker tracks consecutive failures of one dependency.
// A Breaker is owned by the client that calls the dependency; it is never global.
type Breaker struct {
	config Config

	mu            sync.Mutex
	open          bool
	failures      int
	lastFailureAt time.Time
}

// New creates a new Breaker with the given name and options.
func New(name string, opts ...Option) *Breaker {
	config := DefaultConfig(name)
	for _, opt := range opts {
		opt(&config)
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Breaker{config: config}
}

// Allow reports whether a call may proceed. While open it returns *OpenError
// and no call must be made. Once the cooldown has elapsed the breaker resets.
func (b *Breaker) Allow() error {
	b.mu.Lock()

	if !b.open {
		b.mu.Unlock()
		return nil
	}

	elapsed := b.config.Now().Sub(b.lastFailureAt)
	if elapsed < b.config.Cooldown {
		retryAfter := b.config.Cooldown - elapsed
		b.mu.Unlock()
		return &OpenError{Name: b.config.Name, RetryAfter: retryAfter}
	}

	b.open = false
	b.failures = 0
	b.mu.Unlock()

	b.notify(StateOpen, StateClosed)
	return nil
}

// RecordSuccess resets the consecutive failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	b.failures = 0
	b.mu.Unlock()
}

// RecordFailure counts a failure and opens the circuit at the threshold.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()

	b.failures++
	b.lastFailureAt = b.config.Now()

	opened := false
	if !b.open && b.failures >= b.config.FailureThreshold {
		b.open = true
		opened = true
	}
	b.mu.Unlock()

	if opened {
		b.notify(StateClosed, StateOpen)
	}
}

func (b *Breaker) notify(from, to State) {
	if b.config.OnStateChange != nil {
		b.config.OnStateChange(b.config.Name, from, to)
	}
}

// State returns the current state. An open breaker whose cooldown has
// elapsed still reports open until the next Allow.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.open {
		return StateOpen
	}
	return StateClosed
}

// Status returns a snapshot of the breaker.
func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := Status{
		Name:          b.config.Name,
		State:         StateClosed.String(),
		Failures:      b.failures,
		LastFailureAt: b.lastFailureAt,
	}
	if b.open {
		st.State = StateOpen.String()
		if remaining := b.config.Cooldown - b.config.Now().Sub(b.lastFailureAt); remaining > 0 {
			st.RetryAfter = remaining
		}
	}
	return st
}
