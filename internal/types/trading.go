package types

import (
	"time"

	"gorm.io/gorm"
)

// Trade statuses
const (
	TradeStatusOpen   = "OPEN"
	TradeStatusClosed = "CLOSED"
)

// Trade outcomes
const (
	OutcomeWin  = "WIN"
	OutcomeLoss = "LOSS"
	OutcomePush = "PUSH"
)

// Signal sides
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Signal is a probability-edge signal received from the signal bus.
// EdgePct is derived from ModelProb/MarketProb at the source; the
// pipeline treats it as given.
type Signal struct {
	SignalID      string     `json:"signal_id"`
	GameID        string     `json:"game_id"`
	Sport         string     `json:"sport"`
	Side          string     `json:"side"` // BUY or SELL
	Team          string     `json:"team"`
	SignalType    string     `json:"signal_type"`
	ModelProb     float64    `json:"model_prob"`
	MarketProb    *float64   `json:"market_prob,omitempty"`
	EdgePct       float64    `json:"edge_pct"`
	KellyFraction float64    `json:"kelly_fraction"`
	Reason        string     `json:"reason"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

// ExecutionRequest is the pipeline's sole output: an instruction for the
// downstream executor. RequestID is fresh per attempt; IdempotencyKey is
// stable across retries of the same logical decision.
type ExecutionRequest struct {
	RequestID      string    `json:"request_id"`
	IdempotencyKey string    `json:"idempotency_key"`
	SignalID       string    `json:"signal_id"`
	GameID         string    `json:"game_id"`
	Sport          string    `json:"sport"`
	Team           string    `json:"team"`
	Side           string    `json:"side"`
	LimitPrice     float64   `json:"limit_price"`
	Size           float64   `json:"size"`
	EdgePct        float64   `json:"edge_pct"`
	ModelProb      float64   `json:"model_prob"`
	MarketProb     *float64  `json:"market_prob,omitempty"`
	Reason         string    `json:"reason"`
	CreatedAt      time.Time `json:"created_at"`
}

// TradeClosedEvent is published on the bus when a position closes.
// ClosedAt is Unix milliseconds; decode with time.UnixMilli.
type TradeClosedEvent struct {
	TradeID  string  `json:"trade_id"`
	GameID   string  `json:"game_id"`
	Outcome  string  `json:"outcome"` // WIN, LOSS or PUSH
	PnL      float64 `json:"pnl"`
	ClosedAt int64   `json:"closed_at"` // Unix milliseconds
}

// Trade is a position held (or previously held) by the system. Open trades
// are the exposure base the risk controller sums over; closed trades feed
// the feedback loop.
type Trade struct {
	gorm.Model     `json:"-"`
	TradeID        string     `gorm:"uniqueIndex" json:"trade_id"`
	SignalID       string     `json:"signal_id"`
	GameID         string     `gorm:"index" json:"game_id"`
	Sport          string     `gorm:"index" json:"sport"`
	Team           string     `json:"team"`
	Side           string     `json:"side"` // BUY or SELL
	Platform       string     `json:"platform"`
	MarketID       string     `json:"market_id"`
	MarketTitle    string     `json:"market_title"`
	SignalType     string     `json:"signal_type"`
	Status         string     `gorm:"index" json:"status"` // OPEN or CLOSED
	Outcome        string     `json:"outcome"`             // WIN, LOSS or PUSH
	Size           float64    `json:"size"`
	EntryPrice     float64    `json:"entry_price"`
	ExitPrice      float64    `json:"exit_price"`
	PnL            float64    `gorm:"column:pnl" json:"pnl"`
	EdgeAtEntry    float64    `json:"edge_at_entry"`
	EntryModelProb float64    `json:"entry_model_prob"`
	Fees           float64    `json:"fees"`
	ExitLiquidity  float64    `json:"exit_liquidity"`
	GamePeriod     string     `json:"game_period"`
	OpenedAt       time.Time  `json:"opened_at"`
	ClosedAt       *time.Time `gorm:"index" json:"closed_at,omitempty"`
}

// HoldDuration returns how long the position was held before closing.
// Zero for trades that are still open.
func (t *Trade) HoldDuration() time.Duration {
	if t.ClosedAt == nil {
		return 0
	}
	return t.ClosedAt.Sub(t.OpenedAt)
}

// MarketPrice is a best-available bid/ask snapshot for a market+team,
// written by the scrapers and read here within a short recency window.
type MarketPrice struct {
	gorm.Model `json:"-"`
	GameID     string    `gorm:"index" json:"game_id"`
	Platform   string    `json:"platform"`
	MarketID   string    `json:"market_id"`
	Team       string    `json:"team"`
	Bid        float64   `json:"bid"`
	Ask        float64   `json:"ask"`
	Timestamp  time.Time `gorm:"index" json:"timestamp"`
}
