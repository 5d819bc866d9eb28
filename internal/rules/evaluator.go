package rules

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edgegate/edgegate/internal/bus"
	"github.com/edgegate/edgegate/internal/types"
)

// Verdict is the evaluator's answer for one signal. When more than one
// threshold-override rule matches, OverrideMinEdge carries the highest
// threshold: the most conservative rule wins.
type Verdict struct {
	Allowed         bool
	BlockingRule    *TradingRule
	OverrideMinEdge *float64
}

// Evaluator is the in-memory mirror of the active rule set. It is loaded
// wholesale from storage at startup and wholesale-replaced on every rule
// update broadcast; there is no incremental patching.
type Evaluator struct {
	db *Database

	mu    sync.RWMutex
	rules map[string]TradingRule
}

// NewEvaluator creates an evaluator backed by the given rule store.
func NewEvaluator(db *Database) *Evaluator {
	return &Evaluator{
		db:    db,
		rules: make(map[string]TradingRule),
	}
}

// Refresh reloads the active rule set from storage.
func (e *Evaluator) Refresh() error {
	active, err := e.db.GetActiveRules()
	if err != nil {
		return err
	}
	e.replace(active)
	return nil
}

// Start consumes rule update broadcasts until the context is cancelled.
func (e *Evaluator) Start(ctx context.Context, b *bus.Bus) {
	b.Listen(ctx, bus.ChannelRuleUpdates, e.HandleUpdate)
}

// HandleUpdate replaces the cached rule set from a broadcast payload.
// Broadcasts carry the complete active set, so out-of-order delivery only
// risks a momentarily stale cache, never corruption.
func (e *Evaluator) HandleUpdate(payload []byte) {
	var active []TradingRule
	if err := json.Unmarshal(payload, &active); err != nil {
		log.Warn().Err(err).Str("component", "rule_evaluator").
			Msg("dropping malformed rule update broadcast")
		return
	}
	e.replace(active)
	log.Info().Str("component", "rule_evaluator").
		Int("rules", len(active)).
		Msg("rule cache replaced from broadcast")
}

// Evaluate runs the signal against every cached rule. A matching block
// rule denies the signal; matching threshold-override rules raise the
// effective minimum edge. Expired entries are purged as they are seen.
func (e *Evaluator) Evaluate(sig types.Signal) Verdict {
	now := time.Now()

	e.mu.Lock()
	var blocking *TradingRule
	var overrideMinEdge *float64
	var matched []string

	for id, rule := range e.rules {
		if rule.Expired(now) {
			delete(e.rules, id)
			continue
		}
		if !ruleMatches(rule, sig) {
			continue
		}
		matched = append(matched, rule.RuleID)

		switch rule.RuleType {
		case TypeBlock:
			if blocking == nil {
				r := rule
				blocking = &r
			}
		case TypeThresholdOverride:
			if overrideMinEdge == nil || rule.MinEdgePct > *overrideMinEdge {
				edge := rule.MinEdgePct
				overrideMinEdge = &edge
			}
		}
	}
	e.mu.Unlock()

	for _, ruleID := range matched {
		if err := e.db.IncrementMatchCount(ruleID); err != nil {
			log.Error().Err(err).Str("component", "rule_evaluator").
				Str("rule_id", ruleID).
				Msg("failed to record rule match")
		}
	}

	if blocking != nil {
		return Verdict{Allowed: false, BlockingRule: blocking}
	}
	return Verdict{Allowed: true, OverrideMinEdge: overrideMinEdge}
}

// ActiveCount returns the number of rules currently cached.
func (e *Evaluator) ActiveCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

func (e *Evaluator) replace(active []TradingRule) {
	fresh := make(map[string]TradingRule, len(active))
	for _, rule := range active {
		fresh[rule.RuleID] = rule
	}

	e.mu.Lock()
	e.rules = fresh
	e.mu.Unlock()
}

func ruleMatches(rule TradingRule, sig types.Signal) bool {
	if len(rule.Conditions) == 0 {
		return false
	}
	for _, cond := range rule.Conditions {
		if !cond.Matches(sig) {
			return false
		}
	}
	return true
}
