package feedback

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/edgegate/edgegate/internal/config"
	"github.com/edgegate/edgegate/internal/rules"
)

// Generator turns actionable detected patterns into trading rules.
type Generator struct {
	cfg config.FeedbackConfig
}

func NewGenerator(cfg config.FeedbackConfig) *Generator {
	return &Generator{cfg: cfg}
}

// FromPattern builds a rule for a pattern, or nil when the pattern is not
// actionable. Edge-bucket patterns with a suggested minimum edge become
// threshold overrides; everything else becomes a block rule.
func (g *Generator) FromPattern(pattern DetectedPattern) (*rules.TradingRule, error) {
	if pattern.SuggestedAction != ActionBlockPattern {
		return nil, nil
	}

	conditions, err := rules.ParseConditions(pattern.ConditionsJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pattern conditions: %w", err)
	}
	if len(conditions) == 0 {
		log.Debug().Str("component", "rule_generator").
			Str("pattern_key", pattern.PatternKey).
			Msg("pattern has no admission-time conditions, skipping")
		return nil, nil
	}

	rule := &rules.TradingRule{
		RuleID:        uuid.New().String(),
		Conditions:    conditions,
		Status:        g.initialStatus(pattern, conditions),
		Confidence:    pattern.Confidence,
		SampleSize:    pattern.SampleSize,
		SourcePattern: pattern.PatternKey,
		CreatedAt:     time.Now(),
		ExpiresAt:     time.Now().Add(expiryFor(pattern.Confidence)),
	}

	if pattern.SuggestedMinEdge != nil {
		rule.RuleType = rules.TypeThresholdOverride
		rule.MinEdgePct = *pattern.SuggestedMinEdge
	} else {
		rule.RuleType = rules.TypeBlock
		rule.RejectReason = fmt.Sprintf("pattern %s: win rate %.0f%% over %d trades",
			pattern.PatternKey, pattern.WinRate*100, pattern.SampleSize)
	}

	return rule, nil
}

// initialStatus decides whether a rule self-activates. Broad rules and
// low-evidence rules wait for a human; learning mode never auto-activates.
func (g *Generator) initialStatus(pattern DetectedPattern, conditions []rules.Condition) string {
	if g.cfg.LearningMode() {
		return rules.StatusPendingApproval
	}
	if isBroad(conditions) {
		return rules.StatusPendingApproval
	}
	if pattern.SampleSize < g.cfg.MinAutoSamples || pattern.Confidence < g.cfg.MinAutoConfidence {
		return rules.StatusPendingApproval
	}
	return rules.StatusActive
}

// isBroad reports whether the conditions would sweep in an entire sport
// (or more) rather than a specific pattern.
func isBroad(conditions []rules.Condition) bool {
	if len(conditions) > 1 {
		return false
	}
	return len(conditions) == 1 && conditions[0].Field == "sport"
}

// expiryFor scales rule lifetime with confidence: higher-confidence rules
// are less likely to be noise, so they persist longer.
func expiryFor(confidence float64) time.Duration {
	switch {
	case confidence >= 0.9:
		return 7 * 24 * time.Hour
	case confidence >= 0.7:
		return 3 * 24 * time.Hour
	case confidence >= 0.5:
		return 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}
