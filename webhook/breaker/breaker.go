package breaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Execute while the breaker rejects calls
var ErrOpen = errors.New("circuit breaker is open")

// State of a circuit breaker
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

/* Breaker guards a single destination.
 * Consecutive failures reaching the threshold open it. After the timeout the
 * next call is let through as a trial; its outcome closes or reopens it.
 */
type Breaker struct {
	mu              sync.Mutex
	state           State
	failures        int
	lastFailureTime time.Time
	threshold       int
	timeout         time.Duration
	now             func() time.Time
}

// New creates a closed breaker. A nil now uses time.Now.
func New(threshold int, timeout time.Duration, now func() time.Time) *Breaker {
	if threshold < 1 {
		threshold = 1
	}
	if now == nil {
		now = time.Now
	}
	return &Breaker{
		state:     Closed,
		threshold: threshold,
		timeout:   timeout,
		now:       now,
	}
}

// Execute runs fn unless the breaker is open. ErrOpen is returned without
// calling fn.
func (b *Breaker) Execute(fn func() error) error {
	if !b.allow() {
		return ErrOpen
	}

	err := fn()
	if err != nil {
		b.onFailure()
		return err
	}
	b.onSuccess()
	return nil
}

// State reports the current state without triggering the open to half-open
// transition.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures reports the consecutive failure count
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Open {
		if b.now().Sub(b.lastFailureTime) <= b.timeout {
			return false
		}
		b.state = HalfOpen
	}
	return true
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.state = Closed
}

func (b *Breaker) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailureTime = b.now()
	if b.state == HalfOpen || b.failures >= b.threshold {
		b.state = Open
	}
}
