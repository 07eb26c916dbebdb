// Package sqlexec implements the Query Executor (C2, spec §4.2).
//
// breaker.go adapts gomind's resilience.CircuitBreaker: the same
// three-state model (closed/open/half-open), with the teacher's
// volume+error-rate trip condition and sliding-window/orphan-token
// bookkeeping replaced by a count of consecutive failures (reset on any
// success), since a single dataset connection only ever has one query
// in flight at a time (spec §5 — engine queries on one connection are
// serialized). It guards query execution on an already-open connection,
// so a dataset whose queries keep failing fails fast instead of running
// the same doomed query on every turn; failed connection opens are not
// counted.
package sqlexec

import (
	"sync"
	"time"
)

type circuitState int

const (
	stateClosed circuitState = iota
	stateOpen
	stateHalfOpen
)

func (s circuitState) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// breaker guards one dataset's engine connection.
type breaker struct {
	mu             sync.Mutex
	state          circuitState
	failures       int
	threshold      int
	sleepWindow    time.Duration
	openedAt       time.Time
	halfOpenTrying bool
}

func newBreaker(threshold int, sleepWindow time.Duration) *breaker {
	return &breaker{threshold: threshold, sleepWindow: sleepWindow}
}

// allow reports whether a call may proceed, flipping open->half-open
// once the sleep window has elapsed.
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		return true
	case stateOpen:
		if time.Since(b.openedAt) >= b.sleepWindow {
			b.state = stateHalfOpen
			b.halfOpenTrying = true
			return true
		}
		return false
	case stateHalfOpen:
		if b.halfOpenTrying {
			return false // one trial at a time
		}
		b.halfOpenTrying = true
		return true
	}
	return true
}

func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.state = stateClosed
	b.halfOpenTrying = false
}

func (b *breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.halfOpenTrying = false

	if b.state == stateHalfOpen {
		b.state = stateOpen
		b.openedAt = time.Now()
		return
	}

	b.failures++
	if b.failures >= b.threshold {
		b.state = stateOpen
		b.openedAt = time.Now()
	}
}

func (b *breaker) currentState() circuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
