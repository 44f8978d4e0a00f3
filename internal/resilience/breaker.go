// Package resilience guards broker appends with a circuit breaker so an
// unreachable JetStream surfaces fast instead of stacking timeouts on
// every dispatch.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker is rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// circuit is the breaker's current disposition toward new calls.
type circuit int

const (
	circuitClosed   circuit = iota // calls flow, failures counted
	circuitOpen                    // calls rejected until the cooldown passes
	circuitHalfOpen                // one trial call checks whether the target recovered
)

// Breaker trips after a streak of consecutive failures and rejects calls
// for a cooldown period. The first call after the cooldown goes through;
// its outcome decides whether the circuit closes again or reopens.
type Breaker struct {
	mu        sync.Mutex
	circuit   circuit
	streak    int // consecutive failures
	threshold int
	cooldown  time.Duration
	openedAt  time.Time
	now       func() time.Time // for testing
}

// NewBreaker creates a breaker that opens after threshold consecutive
// failures and cools down for the given duration before probing.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Execute runs fn unless the circuit is open, in which case it returns
// ErrCircuitOpen without calling fn. fn's error is returned unchanged.
func (b *Breaker) Execute(fn func() error) error {
	if !b.allow() {
		return ErrCircuitOpen
	}

	err := fn()
	b.record(err == nil)
	return err
}

// allow reports whether a call may proceed, moving an expired open circuit
// to half-open.
func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.circuit == circuitOpen {
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.circuit = circuitHalfOpen
	}
	return true
}

// record folds one call outcome into the circuit state. A half-open
// failure reopens immediately; the streak threshold only applies while
// closed.
func (b *Breaker) record(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ok {
		b.streak = 0
		b.circuit = circuitClosed
		return
	}

	b.streak++
	if b.circuit == circuitHalfOpen || b.streak >= b.threshold {
		b.circuit = circuitOpen
		b.openedAt = b.now()
	}
}
