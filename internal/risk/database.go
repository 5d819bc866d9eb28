package risk

import (
	"time"

	"gorm.io/gorm"

	"github.com/edgegate/edgegate/internal/types"
)

// Haircut applied to every open position when estimating today's loss:
// each is treated as if 2% adverse from entry.
const openPositionHaircut = 0.02

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// GameExposure returns the summed open size for one game. Always read at
// decision time: exposure changes continuously and caching it across a
// decision would break the caps.
func (d *Database) GameExposure(gameID string) (float64, error) {
	var total float64
	err := d.db.Model(&types.Trade{}).
		Where("game_id = ? AND status = ?", gameID, types.TradeStatusOpen).
		Select("COALESCE(SUM(size), 0)").
		Scan(&total).Error
	return total, err
}

// SportExposure returns the summed open size across a sport.
func (d *Database) SportExposure(sport string) (float64, error) {
	var total float64
	err := d.db.Model(&types.Trade{}).
		Where("sport = ? AND status = ?", sport, types.TradeStatusOpen).
		Select("COALESCE(SUM(size), 0)").
		Scan(&total).Error
	return total, err
}

// TotalOpenExposure returns the summed size of all open positions.
func (d *Database) TotalOpenExposure() (float64, error) {
	var total float64
	err := d.db.Model(&types.Trade{}).
		Where("status = ?", types.TradeStatusOpen).
		Select("COALESCE(SUM(size), 0)").
		Scan(&total).Error
	return total, err
}

// DailyPnL returns realized P&L of trades closed today plus a conservative
// haircut on open positions. "Today" starts at local midnight, not the
// UTC day boundary.
func (d *Database) DailyPnL() (float64, error) {
	now := time.Now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	var realized float64
	err := d.db.Model(&types.Trade{}).
		Where("status = ? AND closed_at >= ?", types.TradeStatusClosed, startOfDay).
		Select("COALESCE(SUM(pnl), 0)").
		Scan(&realized).Error
	if err != nil {
		return 0, err
	}

	var openSize float64
	err = d.db.Model(&types.Trade{}).
		Where("status = ?", types.TradeStatusOpen).
		Select("COALESCE(SUM(size), 0)").
		Scan(&openSize).Error
	if err != nil {
		return 0, err
	}

	return realized - openSize*openPositionHaircut, nil
}

// OpenTradesForGame returns all open positions on a game, used by the
// correlation check.
func (d *Database) OpenTradesForGame(gameID string) ([]types.Trade, error) {
	var trades []types.Trade
	err := d.db.
		Where("game_id = ? AND status = ?", gameID, types.TradeStatusOpen).
		Find(&trades).Error
	return trades, err
}
