package rules

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// CreateRule persists a new rule, serializing its conditions.
func (d *Database) CreateRule(rule *TradingRule) error {
	raw, err := MarshalConditions(rule.Conditions)
	if err != nil {
		return err
	}
	rule.ConditionsJSON = raw
	return d.db.Create(rule).Error
}

// GetRule retrieves a rule by its rule id.
func (d *Database) GetRule(ruleID string) (*TradingRule, error) {
	var rule TradingRule
	if err := d.db.Where("rule_id = ?", ruleID).First(&rule).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if err := hydrate(&rule); err != nil {
		return nil, err
	}
	return &rule, nil
}

// GetActiveRules returns all rules in active status that have not expired.
func (d *Database) GetActiveRules() ([]TradingRule, error) {
	var list []TradingRule
	err := d.db.
		Where("status = ? AND expires_at > ?", StatusActive, time.Now()).
		Find(&list).Error
	if err != nil {
		return nil, err
	}
	for i := range list {
		if err := hydrate(&list[i]); err != nil {
			return nil, err
		}
	}
	return list, nil
}

// GetRulesByStatus returns rules in the given status, newest first.
func (d *Database) GetRulesByStatus(status string) ([]TradingRule, error) {
	var list []TradingRule
	err := d.db.
		Where("status = ?", status).
		Order("created_at DESC").
		Find(&list).Error
	if err != nil {
		return nil, err
	}
	for i := range list {
		if err := hydrate(&list[i]); err != nil {
			return nil, err
		}
	}
	return list, nil
}

// UpdateStatus moves a rule to a new status.
func (d *Database) UpdateStatus(ruleID, status string) error {
	return d.db.Model(&TradingRule{}).
		Where("rule_id = ?", ruleID).
		Update("status", status).Error
}

// ExpireStaleRules marks active rules past their expiry as expired and
// returns how many were transitioned.
func (d *Database) ExpireStaleRules() (int64, error) {
	result := d.db.Model(&TradingRule{}).
		Where("status = ? AND expires_at <= ?", StatusActive, time.Now()).
		Update("status", StatusExpired)
	return result.RowsAffected, result.Error
}

// IncrementMatchCount bumps the audit counter for a rule that matched a
// signal during evaluation.
func (d *Database) IncrementMatchCount(ruleID string) error {
	return d.db.Model(&TradingRule{}).
		Where("rule_id = ?", ruleID).
		Update("match_count", gorm.Expr("match_count + 1")).Error
}

// RuleExistsForPattern reports whether any non-expired rule was already
// generated from the given pattern key.
func (d *Database) RuleExistsForPattern(patternKey string) (bool, error) {
	var count int64
	err := d.db.Model(&TradingRule{}).
		Where("source_pattern = ? AND status IN ?", patternKey,
			[]string{StatusActive, StatusPendingApproval}).
		Count(&count).Error
	return count > 0, err
}

func hydrate(rule *TradingRule) error {
	conditions, err := ParseConditions(rule.ConditionsJSON)
	if err != nil {
		return err
	}
	rule.Conditions = conditions
	return nil
}
