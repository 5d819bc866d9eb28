package pipeline

import (
	"sync"
	"time"
)

type cooldownEntry struct {
	lastTrade time.Time
	wasWin    bool
}

// CooldownRegistry blocks re-entry into a game for a fixed window after a
// position there closes. Wins cool down shorter than losses. Entries are
// self-expiring: an elapsed entry is treated as absent and removed on read.
type CooldownRegistry struct {
	winWindow  time.Duration
	lossWindow time.Duration

	mu      sync.Mutex
	entries map[string]cooldownEntry
}

func NewCooldownRegistry(winWindow, lossWindow time.Duration) *CooldownRegistry {
	return &CooldownRegistry{
		winWindow:  winWindow,
		lossWindow: lossWindow,
		entries:    make(map[string]cooldownEntry),
	}
}

// Record notes a closed position for the game.
func (r *CooldownRegistry) Record(gameID string, wasWin bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[gameID] = cooldownEntry{lastTrade: time.Now(), wasWin: wasWin}
}

// Active reports whether the game is inside its cooldown window and, if
// so, how long remains.
func (r *CooldownRegistry) Active(gameID string) (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[gameID]
	if !ok {
		return false, 0
	}

	window := r.lossWindow
	if entry.wasWin {
		window = r.winWindow
	}

	elapsed := time.Since(entry.lastTrade)
	if elapsed >= window {
		delete(r.entries, gameID)
		return false, 0
	}

	return true, window - elapsed
}
