package pipeline

import (
	"time"

	"gorm.io/gorm"

	"github.com/edgegate/edgegate/internal/types"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// OpenPositionExists reports whether any open position holds the given
// direction on the game. Used for the game-granularity duplicate check
// when hedging is disabled.
func (d *Database) OpenPositionExists(gameID, side string) (bool, error) {
	var count int64
	err := d.db.Model(&types.Trade{}).
		Where("game_id = ? AND side = ? AND status = ?", gameID, side, types.TradeStatusOpen).
		Count(&count).Error
	return count > 0, err
}

// ExactPositionExists reports whether an open position already holds the
// identical (platform, market, side). The hedging-enabled duplicate check.
func (d *Database) ExactPositionExists(platform, marketID, side string) (bool, error) {
	var count int64
	err := d.db.Model(&types.Trade{}).
		Where("platform = ? AND market_id = ? AND side = ? AND status = ?",
			platform, marketID, side, types.TradeStatusOpen).
		Count(&count).Error
	return count > 0, err
}

// GetTrade retrieves a trade by its trade id.
func (d *Database) GetTrade(tradeID string) (*types.Trade, error) {
	var trade types.Trade
	if err := d.db.Where("trade_id = ?", tradeID).First(&trade).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &trade, nil
}

// CloseTrade marks an open trade closed with its outcome. Returns false
// with no error when no OPEN row matched, meaning the executor already
// settled the row; callers must not treat that as a failed close.
func (d *Database) CloseTrade(tradeID, outcome string, pnl float64, closedAt time.Time) (bool, error) {
	result := d.db.Model(&types.Trade{}).
		Where("trade_id = ? AND status = ?", tradeID, types.TradeStatusOpen).
		Updates(map[string]interface{}{
			"status":    types.TradeStatusClosed,
			"outcome":   outcome,
			"pnl":       pnl,
			"closed_at": closedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
