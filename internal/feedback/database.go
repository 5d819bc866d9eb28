package feedback

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/edgegate/edgegate/internal/types"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// CreateClassification appends one loss classification.
func (d *Database) CreateClassification(c *LossClassification) error {
	return d.db.Create(c).Error
}

// ClosedTradesSince returns trades closed within the lookback window.
func (d *Database) ClosedTradesSince(since time.Time) ([]types.Trade, error) {
	var trades []types.Trade
	err := d.db.
		Where("status = ? AND closed_at >= ?", types.TradeStatusClosed, since).
		Find(&trades).Error
	return trades, err
}

// ClassificationsSince returns the latest root cause per trade id for
// classifications recorded within the window.
func (d *Database) ClassificationsSince(since time.Time) (map[string]string, error) {
	var rows []LossClassification
	err := d.db.
		Where("created_at >= ?", since).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	causes := make(map[string]string, len(rows))
	for _, row := range rows {
		causes[row.TradeID] = row.RootCause
	}
	return causes, nil
}

// UpsertPattern refreshes a detected pattern keyed by pattern key.
func (d *Database) UpsertPattern(pattern *DetectedPattern) error {
	return d.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "pattern_key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"sample_size", "loss_count", "win_rate", "wilson_lower_bound",
			"suggested_action", "suggested_min_edge", "confidence", "last_seen_at",
		}),
	}).Create(pattern).Error
}

// GetPatterns returns all detected patterns, most recently seen first.
func (d *Database) GetPatterns() ([]DetectedPattern, error) {
	var patterns []DetectedPattern
	err := d.db.Order("last_seen_at DESC").Find(&patterns).Error
	return patterns, err
}
