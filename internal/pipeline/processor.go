package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/edgegate/edgegate/internal/bus"
	"github.com/edgegate/edgegate/internal/config"
	"github.com/edgegate/edgegate/internal/matcher"
	"github.com/edgegate/edgegate/internal/prices"
	"github.com/edgegate/edgegate/internal/risk"
	"github.com/edgegate/edgegate/internal/rules"
	"github.com/edgegate/edgegate/internal/types"
)

// Rejection reasons produced by the static filters. Risk controller
// reasons pass through unchanged.
const (
	ReasonNoMarketData     = "no_market_data"
	ReasonEdge             = "edge"
	ReasonProbabilityBound = "probability_bounds"
	ReasonDuplicate        = "duplicate_position"
	ReasonCooldown         = "cooldown"
	ReasonRuleBlocked      = "rule_blocked"
	ReasonRuleThreshold    = "rule_threshold"
	ReasonNoPrice          = "no_price"
	ReasonMatchFailed      = "team_match_failed"
	ReasonLowConfidence    = "low_match_confidence"
	ReasonExactDuplicate   = "exact_duplicate_position"
	ReasonInFlight         = "in_flight_duplicate"
)

// Rejection is a policy outcome, not an error: expected, counted by
// reason, and logged at debug.
type Rejection struct {
	Reason string
	Detail string
}

// TeamMatcher resolves whether two team names refer to the same team.
type TeamMatcher interface {
	Match(ctx context.Context, target, candidate, sport string) (matcher.Result, error)
}

// Publisher is the bus surface the processor needs to emit execution
// requests.
type Publisher interface {
	Publish(ctx context.Context, channel string, v interface{}) error
}

// Processor is the signal filter pipeline: static filters, price
// resolution, adaptive rule check, risk gate and idempotent publish.
type Processor struct {
	cfg        config.TradingConfig
	matchFloor float64
	db         *Database
	prices     *prices.Database
	riskCtl    *risk.Controller
	evaluator  *rules.Evaluator
	matcher    TeamMatcher
	publisher  Publisher
	inflight   *InflightSet
	cooldowns  *CooldownRegistry
	stats      *Stats
}

// NewProcessor wires the pipeline. The in-flight set and cooldown registry
// are owned here; their background loops are started by the caller.
func NewProcessor(
	gormDB *gorm.DB,
	cfg config.TradingConfig,
	matcherCfg config.MatcherConfig,
	riskCtl *risk.Controller,
	evaluator *rules.Evaluator,
	teamMatcher TeamMatcher,
	publisher Publisher,
) *Processor {
	return &Processor{
		cfg:        cfg,
		matchFloor: matcherCfg.ConfidenceFloor,
		db:         NewDatabase(gormDB),
		prices:     prices.NewDatabase(gormDB),
		riskCtl:    riskCtl,
		evaluator:  evaluator,
		matcher:    teamMatcher,
		publisher:  publisher,
		inflight:   NewInflightSet(time.Duration(cfg.InflightTTLMinutes) * time.Minute),
		cooldowns: NewCooldownRegistry(
			time.Duration(cfg.WinCooldownMinutes)*time.Minute,
			time.Duration(cfg.LossCooldownMinutes)*time.Minute,
		),
		stats: NewStats(),
	}
}

// Inflight exposes the in-flight dedupe set so its sweep loop can be run.
func (p *Processor) Inflight() *InflightSet {
	return p.inflight
}

// Cooldowns exposes the cooldown registry for trade-close wiring.
func (p *Processor) Cooldowns() *CooldownRegistry {
	return p.cooldowns
}

// Stats exposes the admission counters.
func (p *Processor) Stats() *Stats {
	return p.stats
}

// Admit runs one signal through the full filter chain. It returns exactly
// one of an execution request or a rejection; an error means an
// infrastructure failure, and the caller decides whether to retry the
// signal.
func (p *Processor) Admit(ctx context.Context, sig types.Signal) (*types.ExecutionRequest, *Rejection, error) {
	logger := log.With().
		Str("component", "signal_processor").
		Str("signal_id", sig.SignalID).
		Str("game_id", sig.GameID).
		Str("side", sig.Side).
		Logger()

	p.Stats().recordProcessed()

	// 1. No market data
	if sig.MarketProb == nil {
		return nil, p.rejected(logger, ReasonNoMarketData, "signal carries no market probability"), nil
	}

	// 2. Edge threshold
	if sig.EdgePct < p.cfg.MinEdgePct {
		return nil, p.rejected(logger, ReasonEdge,
			fmt.Sprintf("edge %.2f below minimum %.2f", sig.EdgePct, p.cfg.MinEdgePct)), nil
	}

	// 3. Probability sanity: paying near-certain prices buys near-zero
	// marginal edge.
	if sig.Side == types.SideBuy && *sig.MarketProb > p.cfg.MaxBuyProb {
		return nil, p.rejected(logger, ReasonProbabilityBound,
			fmt.Sprintf("buy at prob %.3f above ceiling %.3f", *sig.MarketProb, p.cfg.MaxBuyProb)), nil
	}
	if sig.Side == types.SideSell && *sig.MarketProb < p.cfg.MinSellProb {
		return nil, p.rejected(logger, ReasonProbabilityBound,
			fmt.Sprintf("sell at prob %.3f below floor %.3f", *sig.MarketProb, p.cfg.MinSellProb)), nil
	}

	// 4. Duplicate position at game granularity. With hedging enabled the
	// check moves to (platform, market, side) granularity after price
	// resolution.
	if !p.cfg.AllowHedging {
		exists, err := p.db.OpenPositionExists(sig.GameID, sig.Side)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to check open positions: %w", err)
		}
		if exists {
			return nil, p.rejected(logger, ReasonDuplicate,
				fmt.Sprintf("open %s position on game %s", sig.Side, sig.GameID)), nil
		}
	}

	// 5. Cooldown
	if active, remaining := p.cooldowns.Active(sig.GameID); active {
		return nil, p.rejected(logger, ReasonCooldown,
			fmt.Sprintf("game in cooldown for %s", remaining.Round(time.Second))), nil
	}

	// 6. Adaptive rule check
	verdict := p.evaluator.Evaluate(sig)
	if !verdict.Allowed {
		detail := "blocked by adaptive rule"
		if verdict.BlockingRule != nil {
			detail = fmt.Sprintf("rule %s: %s", verdict.BlockingRule.RuleID, verdict.BlockingRule.RejectReason)
		}
		return nil, p.rejected(logger, ReasonRuleBlocked, detail), nil
	}
	if verdict.OverrideMinEdge != nil && sig.EdgePct < *verdict.OverrideMinEdge {
		return nil, p.rejected(logger, ReasonRuleThreshold,
			fmt.Sprintf("edge %.2f below rule threshold %.2f", sig.EdgePct, *verdict.OverrideMinEdge)), nil
	}

	// 7. Price resolution
	price, rej, err := p.resolvePrice(ctx, sig, logger)
	if err != nil {
		return nil, nil, err
	}
	if rej != nil {
		return nil, p.rejected(logger, rej.Reason, rej.Detail), nil
	}

	// 8. Exact-position duplicate (hedging-enabled path)
	if p.cfg.AllowHedging {
		exists, err := p.db.ExactPositionExists(price.Platform, price.MarketID, sig.Side)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to check exact positions: %w", err)
		}
		if exists {
			return nil, p.rejected(logger, ReasonExactDuplicate,
				fmt.Sprintf("open %s position on %s/%s", sig.Side, price.Platform, price.MarketID)), nil
		}
	}

	// 9. Position sizing
	size := positionSize(sig, p.cfg)

	// 10. Risk controller
	decision := p.riskCtl.Evaluate(risk.EvaluationRequest{
		GameID:       sig.GameID,
		Sport:        sig.Sport,
		Team:         sig.Team,
		Side:         sig.Side,
		ProposedSize: size,
		SignalTime:   sig.CreatedAt,
	})
	if !decision.Approved {
		return nil, p.rejected(logger, decision.Reason, decision.Detail), nil
	}

	// 11. Idempotency / in-flight dedupe
	key := IdempotencyKey(sig.SignalID, sig.GameID, sig.Team)
	if !p.inflight.TryAdd(key) {
		return nil, p.rejected(logger, ReasonInFlight, "execution request already in flight"), nil
	}

	req := &types.ExecutionRequest{
		RequestID:      uuid.New().String(),
		IdempotencyKey: key,
		SignalID:       sig.SignalID,
		GameID:         sig.GameID,
		Sport:          sig.Sport,
		Team:           sig.Team,
		Side:           sig.Side,
		LimitPrice:     limitPrice(sig.Side, price),
		Size:           size,
		EdgePct:        sig.EdgePct,
		ModelProb:      sig.ModelProb,
		MarketProb:     sig.MarketProb,
		Reason:         sig.Reason,
		CreatedAt:      time.Now(),
	}

	if err := p.publisher.Publish(ctx, bus.ChannelExecutions, req); err != nil {
		// The request never left, so the key must not linger and block the
		// retry.
		p.inflight.Remove(key)
		return nil, nil, fmt.Errorf("failed to publish execution request: %w", err)
	}

	p.Stats().recordApproved()
	logger.Info().
		Str("request_id", req.RequestID).
		Float64("limit_price", req.LimitPrice).
		Float64("size", req.Size).
		Float64("edge_pct", req.EdgePct).
		Msg("signal approved, execution request published")

	return req, nil, nil
}

// resolvePrice locates a recent quote for the signal's named team via
// confidence-scored matching. Ambiguous, low-confidence or failed matches
// reject the signal: trading the wrong side of a game is worse than
// missing an edge.
func (p *Processor) resolvePrice(ctx context.Context, sig types.Signal, logger zerolog.Logger) (*types.MarketPrice, *Rejection, error) {
	maxAge := time.Duration(p.cfg.PriceMaxAgeSeconds) * time.Second

	if sig.Team == "" {
		// Legacy path: most recent price for the game.
		latest, err := p.prices.LatestForGame(sig.GameID, maxAge)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load latest price: %w", err)
		}
		if latest == nil {
			return nil, &Rejection{Reason: ReasonNoPrice, Detail: "no recent price for game"}, nil
		}
		return latest, nil, nil
	}

	candidates, err := p.prices.RecentForGame(sig.GameID, maxAge)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load candidate prices: %w", err)
	}
	if len(candidates) == 0 {
		return nil, &Rejection{Reason: ReasonNoPrice, Detail: "no recent prices for game"}, nil
	}

	var best *types.MarketPrice
	bestConfidence := 0.0

	for i := range candidates {
		candidate := &candidates[i]
		if candidate.Team == "" {
			continue
		}
		if strings.EqualFold(candidate.Team, sig.Team) {
			// Exact name, no RPC needed.
			return candidate, nil, nil
		}

		result, err := p.matcher.Match(ctx, sig.Team, candidate.Team, sig.Sport)
		if err != nil {
			logger.Debug().Err(err).
				Str("candidate_team", candidate.Team).
				Msg("team match failed, rejecting signal")
			return nil, &Rejection{Reason: ReasonMatchFailed, Detail: err.Error()}, nil
		}
		if result.IsMatch && result.Confidence > bestConfidence {
			best = candidate
			bestConfidence = result.Confidence
		}
	}

	if best == nil {
		return nil, &Rejection{Reason: ReasonNoPrice,
			Detail: fmt.Sprintf("no candidate quote matched team %q", sig.Team)}, nil
	}
	if bestConfidence < p.matchFloor {
		return nil, &Rejection{Reason: ReasonLowConfidence,
			Detail: fmt.Sprintf("best match confidence %.2f below floor %.2f", bestConfidence, p.matchFloor)}, nil
	}

	return best, nil, nil
}

func (p *Processor) rejected(logger zerolog.Logger, reason, detail string) *Rejection {
	p.Stats().recordRejection(reason)
	logger.Debug().
		Str("reason", reason).
		Str("detail", detail).
		Msg("signal rejected")
	return &Rejection{Reason: reason, Detail: detail}
}

func limitPrice(side string, price *types.MarketPrice) float64 {
	if side == types.SideBuy {
		return price.Ask
	}
	return price.Bid
}
