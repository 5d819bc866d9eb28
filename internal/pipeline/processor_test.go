package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/edgegate/edgegate/internal/bus"
	"github.com/edgegate/edgegate/internal/config"
	"github.com/edgegate/edgegate/internal/matcher"
	"github.com/edgegate/edgegate/internal/risk"
	"github.com/edgegate/edgegate/internal/rules"
	"github.com/edgegate/edgegate/internal/types"
)

type stubMatcher struct {
	result matcher.Result
	err    error
	calls  int
}

func (m *stubMatcher) Match(_ context.Context, _, _, _ string) (matcher.Result, error) {
	m.calls++
	return m.result, m.err
}

type stubPublisher struct {
	err       error
	published []interface{}
	channels  []string
}

func (p *stubPublisher) Publish(_ context.Context, channel string, v interface{}) error {
	if p.err != nil {
		return p.err
	}
	p.channels = append(p.channels, channel)
	p.published = append(p.published, v)
	return nil
}

type pipelineFixture struct {
	processor *Processor
	db        *gorm.DB
	matcher   *stubMatcher
	publisher *stubPublisher
}

func setupPipeline(t *testing.T, mutate func(*config.TradingConfig)) *pipelineFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "pipeline.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&types.Trade{}, &types.MarketPrice{}, &rules.TradingRule{}))

	cfg := config.TradingConfig{
		MinEdgePct:          2.0,
		MaxBuyProb:          0.95,
		MinSellProb:         0.05,
		KellyMultiplier:     0.25,
		MaxPositionPct:      5.0,
		InitialBankroll:     1000,
		WinCooldownMinutes:  15,
		LossCooldownMinutes: 60,
		PriceMaxAgeSeconds:  120,
		InflightTTLMinutes:  5,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	riskCtl := risk.NewController(db, config.RiskConfig{
		MaxDailyLoss:           100,
		MaxGameExposure:        50,
		MaxSportExposure:       200,
		MaxSignalAgeMS:         5000,
		EmergencyLatencyMS:     30000,
		BreakerCooldownMinutes: 15,
	})

	evaluator := rules.NewEvaluator(rules.NewDatabase(db))
	require.NoError(t, evaluator.Refresh())

	teamMatcher := &stubMatcher{result: matcher.Result{IsMatch: true, Confidence: 0.95}}
	publisher := &stubPublisher{}

	processor := NewProcessor(db, cfg, config.MatcherConfig{
		ConfidenceFloor: 0.85,
		TimeoutSeconds:  2,
		CacheTTLMinutes: 5,
	}, riskCtl, evaluator, teamMatcher, publisher)

	return &pipelineFixture{
		processor: processor,
		db:        db,
		matcher:   teamMatcher,
		publisher: publisher,
	}
}

func buySignal() types.Signal {
	marketProb := 0.55
	return types.Signal{
		SignalID:      "sig-1",
		GameID:        "NBA_GAME_1",
		Sport:         "NBA",
		Side:          types.SideBuy,
		Team:          "Los Angeles Lakers",
		SignalType:    "model_edge_yes",
		ModelProb:     0.62,
		MarketProb:    &marketProb,
		EdgePct:       7.0,
		KellyFraction: 0.1,
		CreatedAt:     time.Now(),
	}
}

func seedPrice(t *testing.T, db *gorm.DB, team string, age time.Duration) {
	t.Helper()
	require.NoError(t, db.Create(&types.MarketPrice{
		GameID:    "NBA_GAME_1",
		Platform:  "polyfair",
		MarketID:  "MKT_1",
		Team:      team,
		Bid:       0.54,
		Ask:       0.56,
		Timestamp: time.Now().Add(-age),
	}).Error)
}

func TestAdmitApprovesAndPublishes(t *testing.T) {
	f := setupPipeline(t, nil)
	seedPrice(t, f.db, "Los Angeles Lakers", time.Second)

	req, rej, err := f.processor.Admit(context.Background(), buySignal())
	require.NoError(t, err)
	require.Nil(t, rej)
	require.NotNil(t, req)

	// BUY crosses the ask
	assert.Equal(t, 0.56, req.LimitPrice)
	assert.Equal(t, 25.0, req.Size)
	assert.NotEmpty(t, req.RequestID)
	assert.Equal(t, IdempotencyKey("sig-1", "NBA_GAME_1", "Los Angeles Lakers"), req.IdempotencyKey)

	// The request went out on the execution channel
	require.Len(t, f.publisher.channels, 1)
	assert.Equal(t, bus.ChannelExecutions, f.publisher.channels[0])

	// Exact team name short-circuits the matching RPC
	assert.Equal(t, 0, f.matcher.calls)

	processed, approved, _ := f.processor.Stats().Snapshot()
	assert.Equal(t, int64(1), processed)
	assert.Equal(t, int64(1), approved)
}

func TestAdmitRejectsThinEdge(t *testing.T) {
	f := setupPipeline(t, nil)

	sig := buySignal()
	sig.EdgePct = 1.0

	req, rej, err := f.processor.Admit(context.Background(), sig)
	require.NoError(t, err)
	assert.Nil(t, req)
	require.NotNil(t, rej)
	assert.Equal(t, ReasonEdge, rej.Reason)

	_, _, rejections := f.processor.Stats().Snapshot()
	assert.Equal(t, int64(1), rejections[ReasonEdge])
}

func TestAdmitRejectsMissingMarketData(t *testing.T) {
	f := setupPipeline(t, nil)

	sig := buySignal()
	sig.MarketProb = nil

	_, rej, err := f.processor.Admit(context.Background(), sig)
	require.NoError(t, err)
	require.NotNil(t, rej)
	assert.Equal(t, ReasonNoMarketData, rej.Reason)
}

func TestAdmitRejectsProbabilityBounds(t *testing.T) {
	f := setupPipeline(t, nil)

	sig := buySignal()
	high := 0.97
	sig.MarketProb = &high
	_, rej, err := f.processor.Admit(context.Background(), sig)
	require.NoError(t, err)
	require.NotNil(t, rej)
	assert.Equal(t, ReasonProbabilityBound, rej.Reason)

	sig = buySignal()
	sig.Side = types.SideSell
	low := 0.03
	sig.MarketProb = &low
	_, rej, err = f.processor.Admit(context.Background(), sig)
	require.NoError(t, err)
	require.NotNil(t, rej)
	assert.Equal(t, ReasonProbabilityBound, rej.Reason)
}

func TestAdmitRejectsDuplicateOpenPosition(t *testing.T) {
	f := setupPipeline(t, nil)
	require.NoError(t, f.db.Create(&types.Trade{
		TradeID:  "t-open",
		GameID:   "NBA_GAME_1",
		Sport:    "NBA",
		Team:     "Los Angeles Lakers",
		Side:     types.SideBuy,
		Status:   types.TradeStatusOpen,
		Size:     10,
		OpenedAt: time.Now(),
	}).Error)

	_, rej, err := f.processor.Admit(context.Background(), buySignal())
	require.NoError(t, err)
	require.NotNil(t, rej)
	assert.Equal(t, ReasonDuplicate, rej.Reason)
}

func TestAdmitRejectsDuringCooldown(t *testing.T) {
	f := setupPipeline(t, nil)
	f.processor.Cooldowns().Record("NBA_GAME_1", false)

	_, rej, err := f.processor.Admit(context.Background(), buySignal())
	require.NoError(t, err)
	require.NotNil(t, rej)
	assert.Equal(t, ReasonCooldown, rej.Reason)
}

func TestAdmitRejectsNoRecentPrice(t *testing.T) {
	f := setupPipeline(t, nil)
	seedPrice(t, f.db, "Los Angeles Lakers", 10*time.Minute)

	_, rej, err := f.processor.Admit(context.Background(), buySignal())
	require.NoError(t, err)
	require.NotNil(t, rej)
	assert.Equal(t, ReasonNoPrice, rej.Reason)
}

func TestAdmitMatchesAliasedTeamName(t *testing.T) {
	f := setupPipeline(t, nil)
	seedPrice(t, f.db, "LA Lakers", time.Second)

	req, rej, err := f.processor.Admit(context.Background(), buySignal())
	require.NoError(t, err)
	require.Nil(t, rej)
	require.NotNil(t, req)
	assert.Equal(t, 1, f.matcher.calls)
}

func TestAdmitFailsClosedOnMatcherError(t *testing.T) {
	f := setupPipeline(t, nil)
	seedPrice(t, f.db, "LA Lakers", time.Second)
	f.matcher.err = matcher.ErrMatchTimeout

	_, rej, err := f.processor.Admit(context.Background(), buySignal())
	require.NoError(t, err)
	require.NotNil(t, rej)
	assert.Equal(t, ReasonMatchFailed, rej.Reason)
}

func TestAdmitRejectsLowMatchConfidence(t *testing.T) {
	f := setupPipeline(t, nil)
	seedPrice(t, f.db, "LA Lakers", time.Second)
	f.matcher.result = matcher.Result{IsMatch: true, Confidence: 0.5}

	_, rej, err := f.processor.Admit(context.Background(), buySignal())
	require.NoError(t, err)
	require.NotNil(t, rej)
	assert.Equal(t, ReasonLowConfidence, rej.Reason)
}

func TestAdmitBlocksInFlightDuplicate(t *testing.T) {
	f := setupPipeline(t, nil)
	seedPrice(t, f.db, "Los Angeles Lakers", time.Second)

	req, rej, err := f.processor.Admit(context.Background(), buySignal())
	require.NoError(t, err)
	require.Nil(t, rej)
	require.NotNil(t, req)

	// Same logical decision again before any resolution arrives
	_, rej, err = f.processor.Admit(context.Background(), buySignal())
	require.NoError(t, err)
	require.NotNil(t, rej)
	assert.Equal(t, ReasonInFlight, rej.Reason)
	assert.Len(t, f.publisher.published, 1)
}

func TestAdmitReleasesKeyOnPublishFailure(t *testing.T) {
	f := setupPipeline(t, nil)
	seedPrice(t, f.db, "Los Angeles Lakers", time.Second)
	f.publisher.err = errors.New("bus down")

	_, _, err := f.processor.Admit(context.Background(), buySignal())
	require.Error(t, err)

	// The retry must not collide with a phantom in-flight key
	f.publisher.err = nil
	req, rej, err := f.processor.Admit(context.Background(), buySignal())
	require.NoError(t, err)
	require.Nil(t, rej)
	require.NotNil(t, req)
}

func TestAdmitEnforcesRuleThresholdOverride(t *testing.T) {
	f := setupPipeline(t, nil)
	seedPrice(t, f.db, "Los Angeles Lakers", time.Second)

	ruleDB := rules.NewDatabase(f.db)
	minEdge := 8.0
	require.NoError(t, ruleDB.CreateRule(&rules.TradingRule{
		RuleID:     "r-threshold",
		RuleType:   rules.TypeThresholdOverride,
		Conditions: []rules.Condition{{Field: "sport", Op: rules.OpEq, Value: "NBA"}},
		MinEdgePct: minEdge,
		Status:     rules.StatusActive,
		CreatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(time.Hour),
	}))

	evaluator := rules.NewEvaluator(ruleDB)
	require.NoError(t, evaluator.Refresh())
	f.processor.evaluator = evaluator

	// Edge 7.0 clears the config minimum 2.0 but not the rule's 8.0
	_, rej, err := f.processor.Admit(context.Background(), buySignal())
	require.NoError(t, err)
	require.NotNil(t, rej)
	assert.Equal(t, ReasonRuleThreshold, rej.Reason)
}

func TestAdmitHonorsBlockRule(t *testing.T) {
	f := setupPipeline(t, nil)
	seedPrice(t, f.db, "Los Angeles Lakers", time.Second)

	ruleDB := rules.NewDatabase(f.db)
	require.NoError(t, ruleDB.CreateRule(&rules.TradingRule{
		RuleID:       "r-block",
		RuleType:     rules.TypeBlock,
		Conditions:   []rules.Condition{{Field: "signal_type", Op: rules.OpEq, Value: "model_edge_yes"}},
		RejectReason: "signal type underperforming",
		Status:       rules.StatusActive,
		CreatedAt:    time.Now(),
		ExpiresAt:    time.Now().Add(time.Hour),
	}))

	evaluator := rules.NewEvaluator(ruleDB)
	require.NoError(t, evaluator.Refresh())
	f.processor.evaluator = evaluator

	_, rej, err := f.processor.Admit(context.Background(), buySignal())
	require.NoError(t, err)
	require.NotNil(t, rej)
	assert.Equal(t, ReasonRuleBlocked, rej.Reason)
}

func TestAdmitLegacySignalWithoutTeam(t *testing.T) {
	f := setupPipeline(t, nil)
	seedPrice(t, f.db, "Los Angeles Lakers", time.Second)

	sig := buySignal()
	sig.Team = ""

	req, rej, err := f.processor.Admit(context.Background(), sig)
	require.NoError(t, err)
	require.Nil(t, rej)
	require.NotNil(t, req)
	assert.Equal(t, 0, f.matcher.calls)
}

func TestAdmitSellUsesBid(t *testing.T) {
	f := setupPipeline(t, nil)
	seedPrice(t, f.db, "Los Angeles Lakers", time.Second)

	sig := buySignal()
	sig.Side = types.SideSell

	req, rej, err := f.processor.Admit(context.Background(), sig)
	require.NoError(t, err)
	require.Nil(t, rej)
	require.NotNil(t, req)
	assert.Equal(t, 0.54, req.LimitPrice)
}
