package feedback

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgegate/edgegate/internal/config"
	"github.com/edgegate/edgegate/internal/rules"
)

func generatorConfig(mode string) config.FeedbackConfig {
	return config.FeedbackConfig{
		Mode:              mode,
		MinAutoConfidence: 0.70,
		MinAutoSamples:    10,
	}
}

func actionablePattern(t *testing.T) DetectedPattern {
	t.Helper()

	raw, err := rules.MarshalConditions([]rules.Condition{
		{Field: "sport", Op: rules.OpEq, Value: "NFL"},
		{Field: "signal_type", Op: rules.OpEq, Value: "model_edge_yes"},
	})
	require.NoError(t, err)

	return DetectedPattern{
		PatternKey:       "sport_signal:NFL:model_edge_yes",
		Dimension:        DimensionSportSignal,
		ConditionsJSON:   raw,
		SampleSize:       12,
		LossCount:        9,
		WinRate:          0.25,
		WilsonLowerBound: 0.089,
		SuggestedAction:  ActionBlockPattern,
		Confidence:       0.78,
		LastSeenAt:       time.Now(),
	}
}

func TestFromPatternBuildsBlockRule(t *testing.T) {
	generator := NewGenerator(generatorConfig("auto"))

	rule, err := generator.FromPattern(actionablePattern(t))
	require.NoError(t, err)
	require.NotNil(t, rule)

	assert.Equal(t, rules.TypeBlock, rule.RuleType)
	assert.NotEmpty(t, rule.RejectReason)
	assert.Equal(t, "sport_signal:NFL:model_edge_yes", rule.SourcePattern)
	assert.Len(t, rule.Conditions, 2)

	// Auto mode, enough samples, enough confidence: self-activates
	assert.Equal(t, rules.StatusActive, rule.Status)

	// Confidence 0.78 maps to the 3-day tier
	assert.WithinDuration(t, time.Now().Add(3*24*time.Hour), rule.ExpiresAt, time.Minute)
}

func TestFromPatternLearningModeStaysPending(t *testing.T) {
	generator := NewGenerator(generatorConfig("learning"))

	rule, err := generator.FromPattern(actionablePattern(t))
	require.NoError(t, err)
	require.NotNil(t, rule)
	assert.Equal(t, rules.StatusPendingApproval, rule.Status)
}

func TestFromPatternBroadRuleNeedsApproval(t *testing.T) {
	generator := NewGenerator(generatorConfig("auto"))

	pattern := actionablePattern(t)
	raw, err := rules.MarshalConditions([]rules.Condition{
		{Field: "sport", Op: rules.OpEq, Value: "NFL"},
	})
	require.NoError(t, err)
	pattern.ConditionsJSON = raw

	rule, err := generator.FromPattern(pattern)
	require.NoError(t, err)
	require.NotNil(t, rule)
	assert.Equal(t, rules.StatusPendingApproval, rule.Status,
		"a rule sweeping an entire sport must not self-activate")
}

func TestFromPatternLowEvidenceNeedsApproval(t *testing.T) {
	generator := NewGenerator(generatorConfig("auto"))

	pattern := actionablePattern(t)
	pattern.SampleSize = 7
	rule, err := generator.FromPattern(pattern)
	require.NoError(t, err)
	require.NotNil(t, rule)
	assert.Equal(t, rules.StatusPendingApproval, rule.Status)

	pattern = actionablePattern(t)
	pattern.Confidence = 0.5
	rule, err = generator.FromPattern(pattern)
	require.NoError(t, err)
	require.NotNil(t, rule)
	assert.Equal(t, rules.StatusPendingApproval, rule.Status)
}

func TestFromPatternThresholdOverride(t *testing.T) {
	generator := NewGenerator(generatorConfig("auto"))

	pattern := actionablePattern(t)
	pattern.PatternKey = "edge_bucket:2-3"
	pattern.Dimension = DimensionEdgeBucket
	minEdge := 3.0
	pattern.SuggestedMinEdge = &minEdge
	raw, err := rules.MarshalConditions([]rules.Condition{
		{Field: "edge", Op: rules.OpLT, Num: 3.0},
	})
	require.NoError(t, err)
	pattern.ConditionsJSON = raw

	rule, err := generator.FromPattern(pattern)
	require.NoError(t, err)
	require.NotNil(t, rule)
	assert.Equal(t, rules.TypeThresholdOverride, rule.RuleType)
	assert.Equal(t, 3.0, rule.MinEdgePct)
	assert.Empty(t, rule.RejectReason)
}

func TestFromPatternSkipsMonitorPatterns(t *testing.T) {
	generator := NewGenerator(generatorConfig("auto"))

	pattern := actionablePattern(t)
	pattern.SuggestedAction = ActionMonitor

	rule, err := generator.FromPattern(pattern)
	require.NoError(t, err)
	assert.Nil(t, rule)
}

func TestFromPatternSkipsEmptyConditions(t *testing.T) {
	generator := NewGenerator(generatorConfig("auto"))

	pattern := actionablePattern(t)
	pattern.ConditionsJSON = ""

	rule, err := generator.FromPattern(pattern)
	require.NoError(t, err)
	assert.Nil(t, rule)
}

func TestExpiryTiers(t *testing.T) {
	assert.Equal(t, 7*24*time.Hour, expiryFor(0.95))
	assert.Equal(t, 3*24*time.Hour, expiryFor(0.78))
	assert.Equal(t, 24*time.Hour, expiryFor(0.55))
	assert.Equal(t, 24*time.Hour, expiryFor(0.2))
}
