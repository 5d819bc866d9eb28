package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// InflightSet tracks idempotency keys for execution requests that have
// been published but not yet resolved. A key already present blocks a
// duplicate publish; a background sweep evicts keys older than the TTL so
// a lost downstream acknowledgment cannot wedge a game forever.
type InflightSet struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]time.Time
}

func NewInflightSet(ttl time.Duration) *InflightSet {
	return &InflightSet{
		ttl:     ttl,
		entries: make(map[string]time.Time),
	}
}

// TryAdd records the key and returns true, or returns false when the key
// is already in flight and not yet expired.
func (s *InflightSet) TryAdd(key string) bool {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if added, ok := s.entries[key]; ok && now.Sub(added) < s.ttl {
		return false
	}
	s.entries[key] = now
	return true
}

// Remove drops a key once the downstream resolution arrives.
func (s *InflightSet) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// Len returns the current number of tracked keys.
func (s *InflightSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// StartSweep evicts expired keys on an interval until the context is
// cancelled. It blocks, so callers run it in its own goroutine.
func (s *InflightSet) StartSweep(ctx context.Context, interval time.Duration) {
	logger := log.With().Str("component", "inflight_sweep").Logger()
	logger.Info().Dur("interval", interval).Msg("starting in-flight sweep")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down in-flight sweep")
			return
		case <-ticker.C:
			if evicted := s.sweep(); evicted > 0 {
				logger.Debug().Int("evicted", evicted).Msg("evicted stale in-flight keys")
			}
		}
	}
}

func (s *InflightSet) sweep() int {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for key, added := range s.entries {
		if now.Sub(added) >= s.ttl {
			delete(s.entries, key)
			evicted++
		}
	}
	return evicted
}

// IdempotencyKey derives the deterministic key for one logical decision.
// It is stable across retries of the same signal, never per attempt.
func IdempotencyKey(signalID, gameID, team string) string {
	sum := sha256.Sum256([]byte(signalID + "|" + gameID + "|" + team))
	return hex.EncodeToString(sum[:])[:32]
}
