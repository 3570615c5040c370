package breaker

import (
	"errors"
	"sync"
	"time"
)

// State identifies the failure-containment state of the breaker.
type State int

const (
	// Closed passes requests through; failures increment the counter.
	Closed State = iota
	// Open rejects all requests without attempting I/O.
	Open
	// HalfOpen lets exactly one probe request through after the cooldown.
	HalfOpen
)

// String returns the state name used in logs and metrics.
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

// ErrOpen signals that the breaker rejected a request without attempting it.
var ErrOpen = errors.New("circuit open")

// Option customizes a breaker.
type Option func(*Breaker)

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		b.now = now
	}
}

// WithStateChange installs a hook invoked after every state transition. The
// hook runs with the breaker lock held and must not call back into it.
func WithStateChange(fn func(State)) Option {
	return func(b *Breaker) {
		b.onChange = fn
	}
}

// Breaker is the failure-containment state machine for one remote dependency.
//
// It performs no I/O; callers gate every attempt on Allow and report the
// outcome via RecordSuccess / RecordFailure. It is the sole owner of the
// failure counter; nothing else inspects raw failure counts.
type Breaker struct {
	mu           sync.Mutex
	threshold    int
	resetTimeout time.Duration
	now          func() time.Time
	onChange     func(State)

	state         State
	failures      int
	openedAt      time.Time
	probeInFlight bool
}

// New creates a closed breaker that opens after threshold consecutive
// failures and probes again once resetTimeout has elapsed.
func New(threshold int, resetTimeout time.Duration, opts ...Option) *Breaker {
	b := &Breaker{
		threshold:    threshold,
		resetTimeout: resetTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Allow reports whether a request may be attempted. In the open state the
// cooldown is checked first; once it has elapsed the breaker moves to
// half-open and admits exactly one probe until its outcome is recorded.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Closed:
		return true
	case Open:
		if b.now().Sub(b.openedAt) < b.resetTimeout {
			return false
		}
		b.transition(HalfOpen)
		b.probeInFlight = true
		return true
	case HalfOpen:
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true
	default:
		return false
	}
}

// RecordSuccess resets the failure counter; a half-open probe success closes
// the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.probeInFlight = false
	if b.state != Closed {
		b.transition(Closed)
	}
}

// RecordFailure increments the counter; reaching the threshold opens the
// breaker, and a half-open probe failure reopens it and restarts the timer.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probeInFlight = false
	switch b.state {
	case HalfOpen:
		b.openedAt = b.now()
		b.transition(Open)
	case Closed:
		b.failures++
		if b.failures >= b.threshold {
			b.openedAt = b.now()
			b.transition(Open)
		}
	case Open:
		// Late failure reports while open do not restart the timer.
	}
}

func (b *Breaker) transition(next State) {
	b.state = next
	if b.onChange != nil {
		b.onChange(next)
	}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
