package health

import (
	"sync"
	"time"
)

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// breaker is a per-probe circuit breaker. Consecutive failures open
// it; after the cooldown it admits trial invocations, and a run of
// consecutive successes closes it again.
type breaker struct {
	mu               sync.Mutex
	state            breakerState
	failures         int
	successes        int
	openedAt         time.Time
	failureThreshold int
	cooldown         time.Duration
	halfOpenRetries  int
}

func newBreaker(failureThreshold int, cooldown time.Duration, halfOpenRetries int) *breaker {
	return &breaker{
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		halfOpenRetries:  halfOpenRetries,
	}
}

// blocked reports whether the probe must be skipped, and the cooldown
// remaining when it is. An elapsed cooldown moves open to half_open.
func (b *breaker) blocked() (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != stateOpen {
		return 0, false
	}
	elapsed := time.Since(b.openedAt)
	if elapsed >= b.cooldown {
		b.state = stateHalfOpen
		b.successes = 0
		return 0, false
	}
	return b.cooldown - elapsed, true
}

// observe records one invocation outcome.
func (b *breaker) observe(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		if success {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.failureThreshold {
			b.open()
		}
	case stateHalfOpen:
		if !success {
			b.open()
			return
		}
		b.successes++
		if b.successes >= b.halfOpenRetries {
			b.state = stateClosed
			b.failures = 0
			b.successes = 0
		}
	}
}

func (b *breaker) open() {
	b.state = stateOpen
	b.openedAt = time.Now()
	b.failures = 0
	b.successes = 0
}

func (b *breaker) stateCode() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int(b.state)
}
