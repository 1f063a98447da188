package redis

import (
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen is returned when the breaker is open and the call was not
// attempted.
var ErrBreakerOpen = errors.New("redis breaker open")

// BreakerState is the breaker's position.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // normal operation
	BreakerOpen                         // tripped, calls rejected
	BreakerHalfOpen                     // probing with a single call
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker trips after maxFailures consecutive failures and rejects calls for
// resetAfter. Then one probe call is let through: success closes the breaker,
// failure reopens it. Guards cache writes so a flapping Redis cannot stall
// the enforcement cycle.
type Breaker struct {
	mu          sync.Mutex
	state       BreakerState
	failures    int
	maxFailures int
	resetAfter  time.Duration
	trippedAt   time.Time

	OnStateChange func(from, to BreakerState)
}

func NewBreaker(maxFailures int, resetAfter time.Duration) *Breaker {
	return &Breaker{
		maxFailures: maxFailures,
		resetAfter:  resetAfter,
		state:       BreakerClosed,
	}
}

// Do runs fn unless the breaker is open.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	if b.state == BreakerOpen {
		if time.Since(b.trippedAt) > b.resetAfter {
			b.transition(BreakerHalfOpen)
		} else {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.failures++
		b.trippedAt = time.Now()
		if b.state == BreakerHalfOpen || b.failures >= b.maxFailures {
			b.transition(BreakerOpen)
		}
		return err
	}

	if b.state == BreakerHalfOpen {
		b.transition(BreakerClosed)
	}
	b.failures = 0
	return nil
}

// State returns the current breaker position.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) transition(to BreakerState) {
	from := b.state
	b.state = to
	if to == BreakerClosed {
		b.failures = 0
	}
	if b.OnStateChange != nil {
		b.OnStateChange(from, to)
	}
}
