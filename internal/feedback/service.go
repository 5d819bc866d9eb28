package feedback

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/edgegate/edgegate/internal/bus"
	"github.com/edgegate/edgegate/internal/config"
	"github.com/edgegate/edgegate/internal/rules"
	"github.com/edgegate/edgegate/internal/types"
)

// Service closes the loop from realized losses back into the admission
// filter: it classifies losing trades as they close, runs pattern
// detection on a timer, generates rules from actionable patterns and
// republishes the active rule set.
type Service struct {
	cfg       config.FeedbackConfig
	db        *Database
	tradeDB   *gorm.DB
	ruleSvc   *rules.Service
	detector  *Detector
	generator *Generator
	bus       *bus.Bus
}

// NewService creates the feedback orchestrator.
func NewService(gormDB *gorm.DB, cfg config.FeedbackConfig, ruleSvc *rules.Service, b *bus.Bus) *Service {
	db := NewDatabase(gormDB)
	return &Service{
		cfg:       cfg,
		db:        db,
		tradeDB:   gormDB,
		ruleSvc:   ruleSvc,
		detector:  NewDetector(db, cfg),
		generator: NewGenerator(cfg),
		bus:       b,
	}
}

// GetDB returns the underlying feedback store.
func (s *Service) GetDB() *Database {
	return s.db
}

// Start expires stale rules, warms downstream caches with the current
// active set, then runs the detection timer until the context is
// cancelled. The trade-close subscription runs as its own goroutine.
func (s *Service) Start(ctx context.Context) {
	logger := log.With().Str("component", "feedback_service").Logger()

	expired, err := s.ruleSvc.GetDB().ExpireStaleRules()
	if err != nil {
		logger.Error().Err(err).Msg("failed to expire stale rules")
	} else if expired > 0 {
		logger.Info().Int64("expired", expired).Msg("expired stale rules at startup")
	}

	if err := s.ruleSvc.BroadcastActiveSet(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to publish initial active rule set")
	}

	go s.bus.Listen(ctx, bus.ChannelTradeClosed, func(payload []byte) {
		s.handleTradeClosed(ctx, payload)
	})

	interval := time.Duration(s.cfg.DetectionIntervalMinutes) * time.Minute
	logger.Info().
		Dur("interval", interval).
		Str("mode", s.cfg.Mode).
		Msg("starting pattern detection loop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down feedback service")
			return
		case <-ticker.C:
			if err := s.RunDetection(ctx); err != nil {
				logger.Error().Err(err).Msg("pattern detection pass failed")
			}
		}
	}
}

// handleTradeClosed classifies a losing trade the moment it closes.
// Critical root causes trigger an out-of-band detection pass instead of
// waiting for the timer.
//
// The pipeline consumer subscribes to the same channel and may still be
// writing the close when this fires, so classification only proceeds
// from a row whose status is CLOSED; loadClosedTrade waits for that.
func (s *Service) handleTradeClosed(ctx context.Context, payload []byte) {
	logger := log.With().Str("component", "feedback_service").Logger()

	var event types.TradeClosedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		logger.Error().Err(err).Msg("dropping malformed trade close event")
		return
	}
	if event.Outcome != types.OutcomeLoss {
		return
	}

	trade, err := s.loadClosedTrade(event.TradeID)
	if err != nil {
		logger.Error().Err(err).
			Str("trade_id", event.TradeID).
			Msg("failed to load losing trade for classification")
		return
	}
	if trade == nil {
		logger.Warn().
			Str("trade_id", event.TradeID).
			Msg("close write never landed, dropping classification")
		return
	}

	classification := Classify(*trade)
	if err := s.db.CreateClassification(&LossClassification{
		TradeID:    classification.TradeID,
		RootCause:  classification.RootCause,
		SubCause:   classification.SubCause,
		Confidence: classification.Confidence,
		Details:    classification.Details,
		CreatedAt:  time.Now(),
	}); err != nil {
		logger.Error().Err(err).
			Str("trade_id", event.TradeID).
			Msg("failed to persist loss classification")
		return
	}

	logger.Info().
		Str("trade_id", event.TradeID).
		Str("root_cause", classification.RootCause).
		Str("sub_cause", classification.SubCause).
		Msg("losing trade classified")

	if CriticalCause(classification.RootCause) {
		logger.Info().
			Str("root_cause", classification.RootCause).
			Msg("critical root cause, running out-of-band detection")
		if err := s.RunDetection(ctx); err != nil {
			logger.Error().Err(err).Msg("out-of-band detection pass failed")
		}
	}
}

const (
	closeReadRetries = 5
	closeReadBackoff = 100 * time.Millisecond
)

// loadClosedTrade fetches the trade row once its close write has landed,
// retrying briefly while the pipeline consumer is still writing it.
// Returns nil when the row never reaches CLOSED within the retry budget.
func (s *Service) loadClosedTrade(tradeID string) (*types.Trade, error) {
	var trade types.Trade
	for attempt := 0; ; attempt++ {
		if err := s.tradeDB.Where("trade_id = ?", tradeID).First(&trade).Error; err != nil {
			return nil, err
		}
		if trade.Status == types.TradeStatusClosed {
			return &trade, nil
		}
		if attempt >= closeReadRetries {
			return nil, nil
		}
		time.Sleep(closeReadBackoff)
	}
}

// RunDetection runs one full detection pass: detect, persist, generate
// rules for newly-actionable patterns, and rebroadcast the active set if
// anything new was produced.
func (s *Service) RunDetection(ctx context.Context) error {
	logger := log.With().Str("component", "feedback_service").Logger()

	lookback := time.Duration(s.cfg.LookbackDays) * 24 * time.Hour
	patterns, err := s.detector.DetectAll(lookback)
	if err != nil {
		return err
	}

	newRules := 0
	for i := range patterns {
		pattern := &patterns[i]
		if err := s.db.UpsertPattern(pattern); err != nil {
			logger.Error().Err(err).
				Str("pattern_key", pattern.PatternKey).
				Msg("failed to persist detected pattern")
			continue
		}

		if err := s.bus.Publish(ctx, bus.ChannelPatterns, pattern); err != nil {
			logger.Error().Err(err).
				Str("pattern_key", pattern.PatternKey).
				Msg("failed to publish pattern event")
		}

		if pattern.SuggestedAction != ActionBlockPattern {
			continue
		}

		exists, err := s.ruleSvc.GetDB().RuleExistsForPattern(pattern.PatternKey)
		if err != nil {
			logger.Error().Err(err).
				Str("pattern_key", pattern.PatternKey).
				Msg("failed to check for existing rule")
			continue
		}
		if exists {
			continue
		}

		rule, err := s.generator.FromPattern(*pattern)
		if err != nil {
			logger.Error().Err(err).
				Str("pattern_key", pattern.PatternKey).
				Msg("failed to generate rule from pattern")
			continue
		}
		if rule == nil {
			continue
		}

		if err := s.ruleSvc.GetDB().CreateRule(rule); err != nil {
			logger.Error().Err(err).
				Str("pattern_key", pattern.PatternKey).
				Msg("failed to persist generated rule")
			continue
		}

		newRules++
		logger.Info().
			Str("rule_id", rule.RuleID).
			Str("rule_type", rule.RuleType).
			Str("status", rule.Status).
			Str("pattern_key", pattern.PatternKey).
			Msg("rule generated from pattern")
	}

	logger.Info().
		Int("patterns", len(patterns)).
		Int("new_rules", newRules).
		Msg("detection pass complete")

	if newRules > 0 {
		if err := s.ruleSvc.BroadcastActiveSet(ctx); err != nil {
			logger.Error().Err(err).Msg("failed to rebroadcast active rule set")
		}
	}

	return nil
}
