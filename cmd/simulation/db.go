package main

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/edgegate/edgegate/internal/types"
)

// gamePeriods weighted toward late-game, where losing patterns tend to
// cluster in the historical data.
var gamePeriods = []string{"Q1", "Q2", "Q3", "Q4", "Q4", "H2", "OT"}

// dbWriter stands in for the scrapers and the downstream executor: it
// seeds market prices and records fills and settlements.
type dbWriter struct {
	db *gorm.DB
}

// seedPrice writes a fresh bid/ask snapshot for the game and team
func (w *dbWriter) seedPrice(gameID, team string, marketProb float64) {
	spread := rand.Float64() * 0.02
	price := types.MarketPrice{
		GameID:    gameID,
		Platform:  "simulated",
		MarketID:  fmt.Sprintf("MKT_%s", gameID),
		Team:      team,
		Bid:       marketProb - spread/2,
		Ask:       marketProb + spread/2,
		Timestamp: time.Now(),
	}
	if err := w.db.Create(&price).Error; err != nil {
		log.Error().Err(err).Str("game_id", gameID).Msg("Failed to seed market price")
	}
}

// openTrade records a fill for an approved execution request
func (w *dbWriter) openTrade(req types.ExecutionRequest) *types.Trade {
	trade := types.Trade{
		TradeID:        uuid.New().String(),
		SignalID:       req.SignalID,
		GameID:         req.GameID,
		Sport:          req.Sport,
		Team:           req.Team,
		Side:           req.Side,
		Platform:       "simulated",
		MarketID:       fmt.Sprintf("MKT_%s", req.GameID),
		MarketTitle:    fmt.Sprintf("%s moneyline", req.Team),
		SignalType:     "model_edge_yes",
		Status:         types.TradeStatusOpen,
		Size:           req.Size,
		EntryPrice:     req.LimitPrice,
		EdgeAtEntry:    req.EdgePct,
		EntryModelProb: req.ModelProb,
		Fees:           req.Size * 0.02,
		GamePeriod:     gamePeriods[rand.Intn(len(gamePeriods))],
		OpenedAt:       time.Now(),
	}
	if err := w.db.Create(&trade).Error; err != nil {
		log.Error().Err(err).Str("signal_id", req.SignalID).Msg("Failed to record fill")
		return nil
	}
	return &trade
}

// settleTrade closes the position with the given outcome
func (w *dbWriter) settleTrade(trade *types.Trade, outcome string, pnl float64) error {
	now := time.Now()
	exitPrice := trade.EntryPrice
	if trade.Size > 0 {
		exitPrice = trade.EntryPrice + pnl/trade.Size
	}

	return w.db.Model(&types.Trade{}).
		Where("trade_id = ?", trade.TradeID).
		Updates(map[string]interface{}{
			"status":         types.TradeStatusClosed,
			"outcome":        outcome,
			"exit_price":     exitPrice,
			"pnl":            pnl,
			"exit_liquidity": rand.Float64() * 500,
			"closed_at":      now,
		}).Error
}
