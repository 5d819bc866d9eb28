package feedback

import (
	"time"

	"gorm.io/gorm"
)

// Loss root causes, in classification priority order.
const (
	CauseEdgeTooThin       = "edge_too_thin"
	CauseModelError        = "model_error"
	CauseMarketSpeed       = "market_speed"
	CauseLiquidityIssue    = "liquidity_issue"
	CauseTimingPattern     = "timing_pattern"
	CauseSportUnderperform = "sport_underperformance"
	CauseNotALoss          = "not_a_loss"
)

// Suggested actions on a detected pattern.
const (
	ActionBlockPattern = "block_pattern"
	ActionMonitor      = "monitor"
)

// Pattern dimensions.
const (
	DimensionSportSignal = "sport_signal_type"
	DimensionEdgeBucket  = "edge_bucket"
	DimensionGamePeriod  = "game_period"
	DimensionRootCause   = "root_cause"
)

// LossClassification is one analyzed losing trade, append-only.
type LossClassification struct {
	gorm.Model `json:"-"`
	TradeID    string    `gorm:"index" json:"trade_id"`
	RootCause  string    `gorm:"index" json:"root_cause"`
	SubCause   string    `json:"sub_cause,omitempty"`
	Confidence float64   `json:"confidence"`
	Details    string    `json:"details,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// DetectedPattern is a statistically-significant underperforming group,
// upserted by pattern key and refreshed each detection cycle.
type DetectedPattern struct {
	gorm.Model       `json:"-"`
	PatternKey       string    `gorm:"uniqueIndex" json:"pattern_key"`
	Dimension        string    `json:"dimension"`
	ConditionsJSON   string    `json:"-"`
	SampleSize       int       `json:"sample_size"`
	LossCount        int       `json:"loss_count"`
	WinRate          float64   `json:"win_rate"`
	WilsonLowerBound float64   `json:"wilson_lower_bound"`
	SuggestedAction  string    `json:"suggested_action"`
	SuggestedMinEdge *float64  `json:"suggested_min_edge,omitempty"`
	Confidence       float64   `json:"confidence"`
	LastSeenAt       time.Time `json:"last_seen_at"`
}
