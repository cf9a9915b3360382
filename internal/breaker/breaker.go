// Package breaker implements the per-service circuit breaker used by
// analyzer clients: consecutive transport failures open the circuit,
// cooldowns double on repeated trips, and exactly one probe call is
// admitted while half-open.
package breaker

import (
	"sync"
	"time"
)

// State is the breaker state.
type State string

// Breaker states.
const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Defaults.
const (
	// DefaultThreshold is the consecutive-failure count that opens the
	// circuit.
	DefaultThreshold = 5
	// DefaultCooldown is the initial open interval.
	DefaultCooldown = 30 * time.Second
	// DefaultMaxCooldown caps the doubling of the open interval.
	DefaultMaxCooldown = 240 * time.Second
)

// Breaker is a consecutive-failure circuit breaker with half-open
// recovery. The caller decides which outcomes count as failures; remote
// errors reported by a live worker must be recorded as successes.
type Breaker struct {
	mu sync.Mutex

	threshold   int
	cooldown    time.Duration
	maxCooldown time.Duration

	state       State
	consecutive int
	openedAt    time.Time
	curCooldown time.Duration
	probing     bool

	// now is swapped in tests to drive cooldown expiry.
	now func() time.Time
}

// New creates a closed breaker. Non-positive arguments fall back to the
// package defaults.
func New(threshold int, cooldown, maxCooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}

	if maxCooldown < cooldown {
		maxCooldown = DefaultMaxCooldown
	}

	return &Breaker{
		threshold:   threshold,
		cooldown:    cooldown,
		maxCooldown: maxCooldown,
		state:       StateClosed,
		curCooldown: cooldown,
		now:         time.Now,
	}
}

// Allow reports whether a call may proceed. While open it fast-fails
// until the cooldown elapses, then admits exactly one half-open probe;
// further calls are rejected until that probe resolves via RecordSuccess
// or RecordFailure.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.curCooldown {
			return false
		}

		b.state = StateHalfOpen
		b.probing = true

		return true
	case StateHalfOpen:
		if b.probing {
			return false
		}

		b.probing = true

		return true
	default:
		return false
	}
}

// RecordSuccess resets the failure streak and closes the circuit after a
// successful half-open probe.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutive = 0
	b.probing = false
	b.state = StateClosed
	b.curCooldown = b.cooldown
}

// RecordFailure counts a transport-class failure. Reaching the threshold
// while closed opens the circuit; a failed half-open probe reopens it
// with the cooldown doubled up to the cap.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.probing = false
		b.openCircuit(b.curCooldown * 2)
	case StateClosed:
		b.consecutive++
		if b.consecutive >= b.threshold {
			b.openCircuit(b.cooldown)
		}
	case StateOpen:
		// Failures recorded while already open (races between Allow and
		// the transition) keep the current cooldown.
	}
}

// ReleaseProbe abandons an in-flight half-open probe without a verdict,
// for exchanges that ended cancelled or garbled. The next Allow may probe
// again.
func (b *Breaker) ReleaseProbe() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.probing = false
	}
}

// openCircuit transitions to open with the given cooldown, capped.
// Caller must hold the lock.
func (b *Breaker) openCircuit(cooldown time.Duration) {
	if cooldown > b.maxCooldown {
		cooldown = b.maxCooldown
	}

	b.state = StateOpen
	b.curCooldown = cooldown
	b.openedAt = b.now()
	b.consecutive = 0
}

// State returns the current state, accounting for an elapsed cooldown.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.curCooldown {
		return StateHalfOpen
	}

	return b.state
}
