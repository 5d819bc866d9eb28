package risk

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// BreakerState represents the circuit breaker state
type BreakerState string

const (
	StateClosed BreakerState = "closed" // Normal operation
	StateOpen   BreakerState = "open"   // All trading halted
)

// Breaker is the two-state trading circuit breaker. A severe latency
// sample (or an operator) opens it; it stays open for a fixed cooldown and
// auto-resets on the first check after the cooldown elapses.
type Breaker struct {
	cooldown time.Duration

	mu        sync.Mutex
	state     BreakerState
	reason    string
	trippedAt time.Time
}

// NewBreaker creates a closed breaker with the given cooldown.
func NewBreaker(cooldown time.Duration) *Breaker {
	return &Breaker{
		cooldown: cooldown,
		state:    StateClosed,
	}
}

// Allow reports whether trading may proceed. When the breaker is open and
// the cooldown has elapsed, it resets to closed and allows the call.
func (b *Breaker) Allow() (bool, string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateClosed {
		return true, ""
	}

	if time.Since(b.trippedAt) >= b.cooldown {
		b.reset()
		return true, ""
	}

	return false, b.reason
}

// Trip opens the breaker. Subsequent trips refresh the cooldown window.
func (b *Breaker) Trip(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateOpen
	b.reason = reason
	b.trippedAt = time.Now()

	log.Warn().Str("component", "circuit_breaker").
		Str("reason", reason).
		Dur("cooldown", b.cooldown).
		Msg("circuit breaker opened, all trading halted")
}

// ForceClose resets the breaker regardless of cooldown. Operator action.
func (b *Breaker) ForceClose() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		b.reset()
	}
}

// State returns the current state, reason and trip time.
func (b *Breaker) State() (BreakerState, string, time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, b.reason, b.trippedAt
}

// CooldownRemaining returns how long until an open breaker auto-resets.
func (b *Breaker) CooldownRemaining() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return 0
	}
	remaining := b.cooldown - time.Since(b.trippedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// reset requires b.mu held.
func (b *Breaker) reset() {
	b.state = StateClosed
	b.reason = ""
	b.trippedAt = time.Time{}

	log.Info().Str("component", "circuit_breaker").
		Msg("circuit breaker closed, trading resumed")
}
