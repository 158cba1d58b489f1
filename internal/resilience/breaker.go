// Package resilience provides reliability patterns for external service calls.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker is open and rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State of the circuit.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Breaker guards the model and knowledge backends. It opens after a run of
// consecutive failures and, once the cooldown passes, lets exactly one probe
// through; the probe's outcome decides whether the circuit closes or reopens.
type Breaker struct {
	maxFailures int
	cooldown    time.Duration

	mu      sync.Mutex
	state   State
	strikes int
	until   time.Time
	probing bool
	clock   func() time.Time
}

// NewBreaker creates a Breaker that opens after maxFailures consecutive
// failures and waits cooldown before probing the backend again.
func NewBreaker(maxFailures int, cooldown time.Duration) *Breaker {
	return &Breaker{
		maxFailures: maxFailures,
		cooldown:    cooldown,
		clock:       time.Now,
	}
}

// Execute runs fn unless the circuit is open or a half-open probe is
// already in flight, in which case it returns ErrCircuitOpen.
func (b *Breaker) Execute(fn func() error) error {
	if !b.admit() {
		return ErrCircuitOpen
	}
	err := fn()
	b.settle(err)
	return err
}

// Status reports the circuit state for health endpoints.
func (b *Breaker) Status() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.String()
}

func (b *Breaker) admit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if b.clock().Before(b.until) {
			return false
		}
		b.state = HalfOpen
		b.probing = true
		return true
	case HalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return true
	}
}

func (b *Breaker) settle(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	if err == nil {
		b.strikes = 0
		b.state = Closed
		return
	}

	b.strikes++
	if b.state == HalfOpen || b.strikes >= b.maxFailures {
		b.state = Open
		b.until = b.clock().Add(b.cooldown)
		b.strikes = 0
	}
}
