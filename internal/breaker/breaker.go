// Package breaker implements a keyed circuit breaker. The HTTP client keys it
// by host; the publish scheduler keys it by source.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// State represents the state of one circuit.
type State int

const (
	// Closed is the normal state where calls are allowed.
	Closed State = iota
	// Open is the state where calls fail fast.
	Open
	// HalfOpen is the testing state where a limited number of calls is allowed.
	HalfOpen
)

// String returns the string representation of a circuit state.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

const (
	// DefaultFailureThreshold is the number of consecutive failures to open the circuit.
	DefaultFailureThreshold = 5
	// DefaultRecoveryTimeout is how long the circuit stays open before testing.
	DefaultRecoveryTimeout = 30 * time.Second
	// DefaultHalfOpenMaxRequests is the number of test calls allowed in half-open state.
	DefaultHalfOpenMaxRequests = 1
	// NoRecovery keeps an opened circuit open until Reset.
	NoRecovery time.Duration = -1
)

// ErrOpen is returned when the circuit for a key is open.
var ErrOpen = errors.New("circuit breaker is open")

// Config configures breaker behavior.
type Config struct {
	// FailureThreshold is the number of consecutive failures to open the circuit.
	// Default: 5
	FailureThreshold int
	// RecoveryTimeout is how long the circuit stays open before turning half-open.
	// Zero means DefaultRecoveryTimeout; NoRecovery disables recovery.
	RecoveryTimeout time.Duration
	// HalfOpenMaxRequests is the number of test calls allowed in half-open state.
	// Default: 1
	HalfOpenMaxRequests int
	// Counts decides whether an error counts toward opening the circuit.
	// If nil, every error counts.
	Counts func(error) bool
}

// DefaultConfig returns the default breaker configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:    DefaultFailureThreshold,
		RecoveryTimeout:     DefaultRecoveryTimeout,
		HalfOpenMaxRequests: DefaultHalfOpenMaxRequests,
	}
}

type circuit struct {
	state             State
	consecutiveErrors int
	lastError         time.Time
	lastStateChange   time.Time
	halfOpenRequests  int
}

// Breaker tracks consecutive failures per key and opens a key's circuit once
// the threshold is reached. A nil *Breaker allows everything.
type Breaker struct {
	mu       sync.Mutex
	circuits map[string]*circuit
	config   Config
	now      func() time.Time
}

// New creates a breaker with the given configuration.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.RecoveryTimeout == 0 {
		cfg.RecoveryTimeout = DefaultRecoveryTimeout
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = DefaultHalfOpenMaxRequests
	}
	return &Breaker{
		circuits: make(map[string]*circuit),
		config:   cfg,
		now:      time.Now,
	}
}

func (b *Breaker) recovered(c *circuit) bool {
	return b.config.RecoveryTimeout > 0 && b.now().Sub(c.lastStateChange) >= b.config.RecoveryTimeout
}

// Allow returns nil if a call for key may proceed, or ErrOpen.
func (b *Breaker) Allow(key string) error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.get(key)
	switch c.state {
	case Open:
		if b.recovered(c) {
			c.state = HalfOpen
			c.lastStateChange = b.now()
			c.halfOpenRequests = 1
			return nil
		}
		return ErrOpen
	case HalfOpen:
		if c.halfOpenRequests < b.config.HalfOpenMaxRequests {
			c.halfOpenRequests++
			return nil
		}
		return ErrOpen
	default:
		return nil
	}
}

// RecordSuccess resets the failure streak for key and closes a half-open circuit.
func (b *Breaker) RecordSuccess(key string) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.get(key)
	switch c.state {
	case HalfOpen:
		c.state = Closed
		c.lastStateChange = b.now()
		c.consecutiveErrors = 0
		c.halfOpenRequests = 0
	case Closed:
		c.consecutiveErrors = 0
	}
}

// RecordFailure counts a failure for key and reports whether the circuit is
// open afterwards. Errors rejected by Config.Counts leave the state unchanged.
func (b *Breaker) RecordFailure(key string, err error) bool {
	if b == nil {
		return false
	}
	if b.config.Counts != nil && !b.config.Counts(err) {
		return b.State(key) == Open
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.get(key)
	switch c.state {
	case Closed:
		c.consecutiveErrors++
		c.lastError = b.now()
		if c.consecutiveErrors >= b.config.FailureThreshold {
			c.state = Open
			c.lastStateChange = b.now()
		}
	case HalfOpen:
		c.state = Open
		c.lastStateChange = b.now()
		c.consecutiveErrors++
	}
	return c.state == Open
}

// State returns the current state of the circuit for key.
func (b *Breaker) State(key string) State {
	return b.Stats(key).State
}

// Stats contains statistics about one circuit.
type Stats struct {
	State             State
	ConsecutiveErrors int
	LastError         time.Time
	LastStateChange   time.Time
}

// Stats returns statistics for the circuit of key.
func (b *Breaker) Stats(key string) Stats {
	if b == nil {
		return Stats{State: Closed}
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		return Stats{State: Closed}
	}
	state := c.state
	if state == Open && b.recovered(c) {
		state = HalfOpen
	}
	return Stats{
		State:             state,
		ConsecutiveErrors: c.consecutiveErrors,
		LastError:         c.lastError,
		LastStateChange:   c.lastStateChange,
	}
}

// Reset closes the circuit for key.
func (b *Breaker) Reset(key string) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.circuits, key)
}

// ResetAll closes every circuit.
func (b *Breaker) ResetAll() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.circuits = make(map[string]*circuit)
}

// get returns the circuit for key, creating it. Must be called with mu held.
func (b *Breaker) get(key string) *circuit {
	c, ok := b.circuits[key]
	if !ok {
		c = &circuit{state: Closed, lastStateChange: b.now()}
		b.circuits[key] = c
	}
	return c
}
