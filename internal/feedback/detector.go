package feedback

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edgegate/edgegate/internal/config"
	"github.com/edgegate/edgegate/internal/rules"
	"github.com/edgegate/edgegate/internal/types"
)

// edgeBuckets partition trades by edge at entry; upper is +Inf for the
// open-ended top bucket.
var edgeBuckets = []struct {
	label string
	lower float64
	upper float64
}{
	{"0-2", 0, 2},
	{"2-3", 2, 3},
	{"3-5", 3, 5},
	{"5-10", 5, 10},
	{"10+", 10, math.Inf(1)},
}

type group struct {
	dimension  string
	key        string
	conditions []rules.Condition
	minEdge    *float64
	wins       int
	losses     int
}

func (g *group) samples() int {
	return g.wins + g.losses
}

// Detector aggregates recent closed trades along four independent
// dimensions and flags groups whose Wilson lower-bound win rate is still
// below the acceptable floor.
type Detector struct {
	cfg config.FeedbackConfig
	db  *Database
}

func NewDetector(db *Database, cfg config.FeedbackConfig) *Detector {
	return &Detector{cfg: cfg, db: db}
}

// DetectAll runs one detection pass over the lookback window.
func (d *Detector) DetectAll(lookback time.Duration) ([]DetectedPattern, error) {
	since := time.Now().Add(-lookback)

	trades, err := d.db.ClosedTradesSince(since)
	if err != nil {
		return nil, fmt.Errorf("failed to load closed trades: %w", err)
	}
	causes, err := d.db.ClassificationsSince(since)
	if err != nil {
		return nil, fmt.Errorf("failed to load loss classifications: %w", err)
	}

	groups := make(map[string]*group)
	for _, trade := range trades {
		if trade.Outcome != types.OutcomeWin && trade.Outcome != types.OutcomeLoss {
			continue
		}
		for _, g := range d.groupsForTrade(trade, causes) {
			existing, ok := groups[g.key]
			if !ok {
				existing = g
				groups[g.key] = existing
			}
			if trade.Outcome == types.OutcomeWin {
				existing.wins++
			} else {
				existing.losses++
			}
		}
	}

	var patterns []DetectedPattern
	now := time.Now()
	for _, g := range groups {
		if g.samples() < d.cfg.MinSamplesDetect {
			continue
		}

		winRate := float64(g.wins) / float64(g.samples())
		lower := wilsonLowerBound(g.wins, g.samples(), defaultZ)
		if lower >= d.cfg.MinWinRate {
			continue
		}

		action := ActionMonitor
		if g.samples() >= d.cfg.MinSamplesAct && g.dimension != DimensionGamePeriod {
			// Game-period groups stay monitor-only: the period is not known
			// at admission time, so no rule can act on it.
			action = ActionBlockPattern
		}

		conditionsJSON, err := rules.MarshalConditions(g.conditions)
		if err != nil {
			log.Error().Err(err).Str("component", "pattern_detector").
				Str("pattern_key", g.key).
				Msg("failed to serialize pattern conditions")
			continue
		}

		patterns = append(patterns, DetectedPattern{
			PatternKey:       g.key,
			Dimension:        g.dimension,
			ConditionsJSON:   conditionsJSON,
			SampleSize:       g.samples(),
			LossCount:        g.losses,
			WinRate:          winRate,
			WilsonLowerBound: lower,
			SuggestedAction:  action,
			SuggestedMinEdge: g.minEdge,
			Confidence:       patternConfidence(lower, d.cfg.MinWinRate),
			LastSeenAt:       now,
		})
	}

	return patterns, nil
}

// groupsForTrade returns the group memberships of one closed trade across
// the four detection dimensions.
func (d *Detector) groupsForTrade(trade types.Trade, causes map[string]string) []*group {
	var memberships []*group

	if trade.Sport != "" && trade.SignalType != "" {
		memberships = append(memberships, &group{
			dimension: DimensionSportSignal,
			key:       fmt.Sprintf("sport_signal:%s:%s", trade.Sport, trade.SignalType),
			conditions: []rules.Condition{
				{Field: "sport", Op: rules.OpEq, Value: trade.Sport},
				{Field: "signal_type", Op: rules.OpEq, Value: trade.SignalType},
			},
		})
	}

	for _, bucket := range edgeBuckets {
		if trade.EdgeAtEntry >= bucket.lower && trade.EdgeAtEntry < bucket.upper {
			g := &group{
				dimension: DimensionEdgeBucket,
				key:       fmt.Sprintf("edge_bucket:%s", bucket.label),
			}
			if math.IsInf(bucket.upper, 1) {
				g.conditions = []rules.Condition{
					{Field: "edge", Op: rules.OpGTE, Num: bucket.lower},
				}
			} else {
				g.conditions = []rules.Condition{
					{Field: "edge", Op: rules.OpLT, Num: bucket.upper},
				}
				upper := bucket.upper
				g.minEdge = &upper
			}
			memberships = append(memberships, g)
			break
		}
	}

	if trade.GamePeriod != "" {
		memberships = append(memberships, &group{
			dimension:  DimensionGamePeriod,
			key:        fmt.Sprintf("period:%s", trade.GamePeriod),
			conditions: nil,
		})
	}

	if cause, ok := causes[trade.TradeID]; ok && trade.Sport != "" && trade.SignalType != "" {
		memberships = append(memberships, &group{
			dimension: DimensionRootCause,
			key:       fmt.Sprintf("cause:%s:%s:%s", cause, trade.Sport, trade.SignalType),
			conditions: []rules.Condition{
				{Field: "sport", Op: rules.OpEq, Value: trade.Sport},
				{Field: "signal_type", Op: rules.OpEq, Value: trade.SignalType},
			},
		})
	}

	return memberships
}

// patternConfidence scales with how far the conservative win-rate bound
// sits below the acceptable floor.
func patternConfidence(lowerBound, minWinRate float64) float64 {
	if minWinRate <= 0 {
		return 0
	}
	confidence := (minWinRate - lowerBound) / minWinRate
	if confidence < 0 {
		return 0
	}
	if confidence > 0.99 {
		return 0.99
	}
	return confidence
}
