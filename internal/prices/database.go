package prices

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/edgegate/edgegate/internal/types"
)

// Database is the read-only surface over market price snapshots. Prices are
// written by the scrapers; this core only reads recent ones.
type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// RecentForGame returns all price snapshots for a game observed within
// maxAge, newest first.
func (d *Database) RecentForGame(gameID string, maxAge time.Duration) ([]types.MarketPrice, error) {
	var snapshots []types.MarketPrice
	cutoff := time.Now().Add(-maxAge)
	err := d.db.
		Where("game_id = ? AND timestamp >= ?", gameID, cutoff).
		Order("timestamp DESC").
		Find(&snapshots).Error
	if err != nil {
		return nil, err
	}
	return snapshots, nil
}

// LatestForGame returns the single most recent snapshot for a game within
// maxAge, or nil when none exists. This is the legacy path for signals that
// carry no team name.
func (d *Database) LatestForGame(gameID string, maxAge time.Duration) (*types.MarketPrice, error) {
	var snapshot types.MarketPrice
	cutoff := time.Now().Add(-maxAge)
	err := d.db.
		Where("game_id = ? AND timestamp >= ?", gameID, cutoff).
		Order("timestamp DESC").
		First(&snapshot).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &snapshot, nil
}

// Record stores a price snapshot. Used by the simulation harness and tests;
// production snapshots arrive through the scraper's own writer.
func (d *Database) Record(snapshot *types.MarketPrice) error {
	return d.db.Create(snapshot).Error
}
