package risk

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// metricsCache holds the dashboard figures (daily P&L, total open
// exposure) behind a short TTL. Decision-time checks never read from here;
// this only bounds query load from the stats endpoint and heartbeat loop.
type metricsCache struct {
	db  *Database
	ttl time.Duration

	mu           sync.Mutex
	dailyPnL     float64
	openExposure float64
	fetchedAt    time.Time
}

func newMetricsCache(db *Database, ttl time.Duration) *metricsCache {
	return &metricsCache{db: db, ttl: ttl}
}

// Snapshot returns the cached figures, refreshing them when stale.
func (m *metricsCache) Snapshot() (dailyPnL, openExposure float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if time.Since(m.fetchedAt) < m.ttl {
		return m.dailyPnL, m.openExposure
	}

	pnl, err := m.db.DailyPnL()
	if err != nil {
		log.Error().Err(err).Str("component", "risk_metrics").Msg("failed to refresh daily pnl")
		return m.dailyPnL, m.openExposure
	}

	exposure, err := m.db.TotalOpenExposure()
	if err != nil {
		log.Error().Err(err).Str("component", "risk_metrics").Msg("failed to refresh open exposure")
		return m.dailyPnL, m.openExposure
	}

	m.dailyPnL = pnl
	m.openExposure = exposure
	m.fetchedAt = time.Now()

	return m.dailyPnL, m.openExposure
}
