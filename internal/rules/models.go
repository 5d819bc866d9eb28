package rules

import (
	"time"

	"gorm.io/gorm"
)

// Rule types
const (
	TypeBlock             = "block"
	TypeThresholdOverride = "threshold_override"
)

// Rule statuses
const (
	StatusActive          = "active"
	StatusPendingApproval = "pending_approval"
	StatusInactive        = "inactive"
	StatusExpired         = "expired"
)

// TradingRule is an adaptive rule produced by the feedback loop and
// consumed by the evaluator. Expiry transitions a rule out of the active
// set without deleting it, so the audit trail survives.
type TradingRule struct {
	gorm.Model     `json:"-"`
	RuleID         string      `gorm:"uniqueIndex" json:"rule_id"`
	RuleType       string      `json:"rule_type"` // block or threshold_override
	ConditionsJSON string      `json:"-"`
	Conditions     []Condition `gorm:"-" json:"conditions"`
	MinEdgePct     float64     `json:"min_edge_pct,omitempty"`  // threshold_override action
	RejectReason   string      `json:"reject_reason,omitempty"` // block action
	Status         string      `gorm:"index" json:"status"`
	Confidence     float64     `json:"confidence"`
	SampleSize     int         `json:"sample_size"`
	MatchCount     int64       `json:"match_count"`
	SourcePattern  string      `gorm:"index" json:"source_pattern,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	ExpiresAt      time.Time   `json:"expires_at"`
}

// Expired reports whether the rule is past its expiry.
func (r *TradingRule) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}
