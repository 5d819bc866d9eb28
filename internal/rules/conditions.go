package rules

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/edgegate/edgegate/internal/types"
)

// Operator is the comparison applied between a signal field and a
// condition value.
type Operator string

const (
	OpEq  Operator = "eq"
	OpLT  Operator = "lt"
	OpLTE Operator = "lte"
	OpGT  Operator = "gt"
	OpGTE Operator = "gte"
)

// Condition is one match predicate of a rule. String fields only support
// OpEq; numeric fields support the full operator set, which is what lets a
// rule express ranges such as "edge below 3".
type Condition struct {
	Field string   `json:"field"`
	Op    Operator `json:"op"`
	Value string   `json:"value,omitempty"`
	Num   float64  `json:"num,omitempty"`
}

// Matches evaluates the condition against a signal. Unknown fields never
// match, so a malformed rule can only ever be too narrow, not too broad.
func (c Condition) Matches(sig types.Signal) bool {
	if num, ok := numericField(sig, c.Field); ok {
		switch c.Op {
		case OpEq:
			return num == c.Num
		case OpLT:
			return num < c.Num
		case OpLTE:
			return num <= c.Num
		case OpGT:
			return num > c.Num
		case OpGTE:
			return num >= c.Num
		}
		return false
	}

	if str, ok := stringField(sig, c.Field); ok {
		return c.Op == OpEq && strings.EqualFold(str, c.Value)
	}

	return false
}

func numericField(sig types.Signal, field string) (float64, bool) {
	switch field {
	case "edge", "edge_pct":
		return sig.EdgePct, true
	case "model_prob":
		return sig.ModelProb, true
	case "market_prob":
		if sig.MarketProb == nil {
			return 0, false
		}
		return *sig.MarketProb, true
	case "kelly_fraction":
		return sig.KellyFraction, true
	}
	return 0, false
}

func stringField(sig types.Signal, field string) (string, bool) {
	switch field {
	case "sport":
		return sig.Sport, true
	case "side":
		return sig.Side, true
	case "team":
		return sig.Team, true
	case "signal_type":
		return sig.SignalType, true
	case "game_id":
		return sig.GameID, true
	}
	return "", false
}

// MarshalConditions serializes conditions for storage on the rule row.
func MarshalConditions(conditions []Condition) (string, error) {
	payload, err := json.Marshal(conditions)
	if err != nil {
		return "", fmt.Errorf("failed to marshal rule conditions: %w", err)
	}
	return string(payload), nil
}

// ParseConditions deserializes the stored condition list.
func ParseConditions(raw string) ([]Condition, error) {
	if raw == "" {
		return nil, nil
	}
	var conditions []Condition
	if err := json.Unmarshal([]byte(raw), &conditions); err != nil {
		return nil, fmt.Errorf("failed to parse rule conditions: %w", err)
	}
	return conditions, nil
}
