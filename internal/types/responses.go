package types

import "time"

// StatsResponse is the heartbeat snapshot served to operators: admission
// counters by reason plus the risk picture used for dashboards.
type StatsResponse struct {
	Processed     int64            `json:"processed"`
	Approved      int64            `json:"approved"`
	Rejections    map[string]int64 `json:"rejections"`
	BreakerState  string           `json:"breaker_state"`
	BreakerReason string           `json:"breaker_reason,omitempty"`
	DailyPnL      float64          `json:"daily_pnl"`
	OpenExposure  float64          `json:"open_exposure"`
	ActiveRules   int              `json:"active_rules"`
	GeneratedAt   time.Time        `json:"generated_at"`
}

// BreakerResponse describes the circuit breaker state for operators.
type BreakerResponse struct {
	State      string     `json:"state"` // closed or open
	Reason     string     `json:"reason,omitempty"`
	TrippedAt  *time.Time `json:"tripped_at,omitempty"`
	CooldownMS int64      `json:"cooldown_remaining_ms"`
}
