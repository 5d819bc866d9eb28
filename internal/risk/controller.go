package risk

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/edgegate/edgegate/internal/config"
)

// Rejection reasons returned by the controller.
const (
	ReasonBreakerOpen        = "circuit_breaker_open"
	ReasonSignalTooOld       = "signal_too_old"
	ReasonDailyLossLimit     = "daily_loss_limit_reached"
	ReasonGameExposure       = "game_exposure_exceeded"
	ReasonSportExposure      = "sport_exposure_exceeded"
	ReasonCorrelatedConflict = "correlated_position"
)

// EvaluationRequest carries everything the controller needs to gate one
// proposed trade.
type EvaluationRequest struct {
	GameID       string
	Sport        string
	Team         string
	Side         string
	ProposedSize float64
	SignalTime   time.Time
}

// ExposureSnapshot is the exposure picture the decision was reached on.
type ExposureSnapshot struct {
	DailyPnL      float64 `json:"daily_pnl"`
	GameExposure  float64 `json:"game_exposure"`
	SportExposure float64 `json:"sport_exposure"`
}

// Decision is the controller's verdict. Never persisted; computed fresh
// from live exposure queries plus in-process breaker state.
type Decision struct {
	Approved bool             `json:"approved"`
	Reason   string           `json:"reason,omitempty"`
	Detail   string           `json:"detail,omitempty"`
	Exposure ExposureSnapshot `json:"exposure"`
}

// Controller is the stateful risk gate: daily loss limit, per-game and
// per-sport exposure caps, anti-correlation check, and the latency
// circuit breaker.
type Controller struct {
	cfg     config.RiskConfig
	db      *Database
	breaker *Breaker
	metrics *metricsCache
}

// NewController creates a risk controller with a closed breaker.
func NewController(gormDB *gorm.DB, cfg config.RiskConfig) *Controller {
	db := NewDatabase(gormDB)
	return &Controller{
		cfg:     cfg,
		db:      db,
		breaker: NewBreaker(time.Duration(cfg.BreakerCooldownMinutes) * time.Minute),
		metrics: newMetricsCache(db, 5*time.Second),
	}
}

// Breaker exposes the circuit breaker for operator endpoints.
func (c *Controller) Breaker() *Breaker {
	return c.breaker
}

// Metrics exposes the cached dashboard figures.
func (c *Controller) Metrics() *metricsCache {
	return c.metrics
}

// Evaluate runs the ordered risk checks, short-circuiting on the first
// failure. The breaker check comes first so a halted system rejects
// without touching the database.
func (c *Controller) Evaluate(req EvaluationRequest) Decision {
	logger := log.With().
		Str("component", "risk_controller").
		Str("game_id", req.GameID).
		Str("side", req.Side).
		Logger()

	if ok, reason := c.breaker.Allow(); !ok {
		return reject(ReasonBreakerOpen, reason, ExposureSnapshot{})
	}

	latency := time.Since(req.SignalTime)
	if latency > time.Duration(c.cfg.EmergencyLatencyMS)*time.Millisecond {
		// A signal this stale means the whole feed is lagging, not just one
		// message. Halt everything, not just this signal.
		c.breaker.Trip(fmt.Sprintf("signal latency %s exceeded emergency threshold", latency.Round(time.Millisecond)))
		return reject(ReasonSignalTooOld, latency.String(), ExposureSnapshot{})
	}
	if latency > time.Duration(c.cfg.MaxSignalAgeMS)*time.Millisecond {
		return reject(ReasonSignalTooOld, latency.String(), ExposureSnapshot{})
	}

	dailyPnL, err := c.db.DailyPnL()
	if err != nil {
		logger.Error().Err(err).Msg("failed to read daily pnl")
		return reject(ReasonDailyLossLimit, "daily pnl unavailable", ExposureSnapshot{})
	}
	snapshot := ExposureSnapshot{DailyPnL: dailyPnL}
	if dailyPnL <= -c.cfg.MaxDailyLoss {
		return reject(ReasonDailyLossLimit,
			fmt.Sprintf("daily pnl %.2f at limit %.2f", dailyPnL, -c.cfg.MaxDailyLoss), snapshot)
	}

	gameExposure, err := c.db.GameExposure(req.GameID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to read game exposure")
		return reject(ReasonGameExposure, "exposure unavailable", snapshot)
	}
	snapshot.GameExposure = gameExposure
	if gameExposure+req.ProposedSize > c.cfg.MaxGameExposure {
		return reject(ReasonGameExposure,
			fmt.Sprintf("%.2f + %.2f exceeds cap %.2f", gameExposure, req.ProposedSize, c.cfg.MaxGameExposure), snapshot)
	}

	sportExposure, err := c.db.SportExposure(req.Sport)
	if err != nil {
		logger.Error().Err(err).Msg("failed to read sport exposure")
		return reject(ReasonSportExposure, "exposure unavailable", snapshot)
	}
	snapshot.SportExposure = sportExposure
	if sportExposure+req.ProposedSize > c.cfg.MaxSportExposure {
		return reject(ReasonSportExposure,
			fmt.Sprintf("%.2f + %.2f exceeds cap %.2f", sportExposure, req.ProposedSize, c.cfg.MaxSportExposure), snapshot)
	}

	if conflict, detail := c.correlationConflict(req, logger); conflict {
		return reject(ReasonCorrelatedConflict, detail, snapshot)
	}

	return Decision{Approved: true, Exposure: snapshot}
}

// correlationConflict rejects a position that would hold the same direction
// on opposing teams of one head-to-head game: two BUYs (or two SELLs) on
// opposite teams are mutually exclusive outcomes. Opposite-side positions
// on the same team are an intentional close and tolerated.
//
// Team inference for legacy rows falls back to substring matching against
// the free-text market title. That is a heuristic and can misfire on
// ambiguous titles; divergences here should be flagged, not silently fixed.
func (c *Controller) correlationConflict(req EvaluationRequest, logger zerolog.Logger) (bool, string) {
	if req.Team == "" {
		return false, ""
	}

	open, err := c.db.OpenTradesForGame(req.GameID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to read open trades for correlation check")
		return true, "open positions unavailable"
	}

	for _, trade := range open {
		if trade.Side != req.Side {
			continue
		}
		if trade.Team != "" {
			if !strings.EqualFold(trade.Team, req.Team) {
				return true, fmt.Sprintf("open %s on %s conflicts with %s", trade.Side, trade.Team, req.Team)
			}
			continue
		}
		if trade.MarketTitle != "" &&
			!strings.Contains(strings.ToLower(trade.MarketTitle), strings.ToLower(req.Team)) {
			return true, fmt.Sprintf("open %s on market %q appears to oppose %s", trade.Side, trade.MarketTitle, req.Team)
		}
	}

	return false, ""
}

func reject(reason, detail string, snapshot ExposureSnapshot) Decision {
	return Decision{Approved: false, Reason: reason, Detail: detail, Exposure: snapshot}
}
