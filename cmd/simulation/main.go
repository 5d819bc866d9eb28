package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/edgegate/edgegate/internal/auth"
	"github.com/edgegate/edgegate/internal/bus"
	"github.com/edgegate/edgegate/internal/config"
	"github.com/edgegate/edgegate/internal/database"
	"github.com/edgegate/edgegate/internal/matcher"
	"github.com/edgegate/edgegate/internal/types"
)

const (
	minSignals    = 25
	maxSignals    = 200
	numWorkers    = 5
	serverAddress = "http://localhost:8080"
	drainWait     = 5 * time.Second
)

var sports = []string{"NBA", "NFL", "MLB", "NHL"}

var signalTypes = []string{"model_edge_yes", "model_edge_no", "line_move", "steam"}

// Team names keyed by sport. The second form mimics how scrapers report
// the same team, so a share of price lookups has to go through the
// matching service instead of the exact-name shortcut.
var teams = map[string][][2]string{
	"NBA": {{"Los Angeles Lakers", "LA Lakers"}, {"Boston Celtics", "Celtics"}, {"Golden State Warriors", "GS Warriors"}},
	"NFL": {{"Kansas City Chiefs", "KC Chiefs"}, {"Buffalo Bills", "Bills"}, {"Dallas Cowboys", "Cowboys"}},
	"MLB": {{"New York Yankees", "NY Yankees"}, {"Los Angeles Dodgers", "LA Dodgers"}, {"Houston Astros", "Astros"}},
	"NHL": {{"Toronto Maple Leafs", "Maple Leafs"}, {"Colorado Avalanche", "Avalanche"}, {"Boston Bruins", "Bruins"}},
}

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	// Configure pretty logging
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// latencyStats tracks signal-to-decision latency for one stage
type latencyStats struct {
	name       string
	mu         sync.Mutex
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the stage
func (ls *latencyStats) addDuration(d time.Duration) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.durations = append(ls.durations, d)
	ls.totalCalls++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (ls *latencyStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if len(ls.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	// Sort durations for percentile calculations
	sort.Slice(ls.durations, func(i, j int) bool {
		return ls.durations[i] < ls.durations[j]
	})

	min = ls.durations[0]
	max = ls.durations[len(ls.durations)-1]

	// Calculate mean
	var sum time.Duration
	for _, d := range ls.durations {
		sum += d
	}
	mean = sum / time.Duration(len(ls.durations))

	// Calculate median
	median = ls.durations[len(ls.durations)/2]

	// Calculate percentiles
	p95idx := int(math.Ceil(float64(len(ls.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(ls.durations))*0.99)) - 1
	p95 = ls.durations[p95idx]
	p99 = ls.durations[p99idx]

	return
}

// simulator drives the gateway end to end: it publishes synthetic
// signals, stands in for the team-matching service, fills approved
// execution requests and closes the resulting positions.
type simulator struct {
	cfg       config.Config
	bus       *bus.Bus
	db        *dbWriter
	authToken string
	client    *http.Client

	mu        sync.Mutex
	sentAt    map[string]time.Time // signal_id -> publish time
	approvals int
	closed    int
	wins      int

	decisionLatency *latencyStats
	matchLatency    *latencyStats
}

func newSimulator(cfg config.Config, b *bus.Bus, db *dbWriter) *simulator {
	return &simulator{
		cfg:             cfg,
		bus:             b,
		db:              db,
		client:          &http.Client{Timeout: 10 * time.Second},
		sentAt:          make(map[string]time.Time),
		decisionLatency: &latencyStats{name: "Signal To Decision"},
		matchLatency:    &latencyStats{name: "Team Match Reply"},
	}
}

// authenticate performs API authentication and returns a JWT token
func (s *simulator) authenticate() error {
	credentials := map[string]string{
		"api_key":    auth.TestAPIKey,
		"api_secret": auth.TestAPISecret,
	}

	body, err := json.Marshal(credentials)
	if err != nil {
		return err
	}

	resp, err := s.client.Post(
		fmt.Sprintf("%s/api/v1/auth/token", serverAddress),
		"application/json",
		bytes.NewBuffer(body),
	)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("authentication failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Success bool `json:"success"`
		Data    struct {
			Token string `json:"jwt_token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return err
	}

	s.authToken = result.Data.Token
	return nil
}

// fetchStats retrieves the gateway's admission counters
func (s *simulator) fetchStats() (*types.StatsResponse, error) {
	req, err := http.NewRequest(
		"GET",
		fmt.Sprintf("%s/api/v1/stats", serverAddress),
		nil,
	)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", s.authToken))

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("stats request failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Success bool                `json:"success"`
		Data    types.StatsResponse `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}

	return &result.Data, nil
}

// runMatcherService answers team-match requests the way the external
// matching service would: normalized comparison plus an alias table.
func (s *simulator) runMatcherService(ctx context.Context) {
	s.bus.Listen(ctx, bus.ChannelMatchRequests, func(payload []byte) {
		start := time.Now()

		var req matcher.Request
		if err := json.Unmarshal(payload, &req); err != nil {
			log.Error().Err(err).Msg("Dropping malformed match request")
			return
		}

		isMatch, confidence, method := resolveTeams(req.Sport, req.TargetTeam, req.CandidateTeam)
		result := matcher.Result{
			CorrelationID: req.CorrelationID,
			IsMatch:       isMatch,
			Confidence:    confidence,
			Method:        method,
		}
		if !isMatch {
			result.Reason = "no alias relation found"
		}

		if err := s.bus.Publish(ctx, bus.ChannelMatchReplies, result); err != nil {
			log.Error().Err(err).Msg("Failed to publish match reply")
			return
		}
		s.matchLatency.addDuration(time.Since(start))
	})
}

// resolveTeams decides whether two names refer to the same team
func resolveTeams(sport, target, candidate string) (bool, float64, string) {
	a := strings.ToLower(strings.TrimSpace(target))
	b := strings.ToLower(strings.TrimSpace(candidate))

	if a == b {
		return true, 1.0, "exact"
	}

	for _, pair := range teams[sport] {
		canonical := strings.ToLower(pair[0])
		alias := strings.ToLower(pair[1])
		if (a == canonical || a == alias) && (b == canonical || b == alias) {
			return true, 0.93, "alias"
		}
	}

	return false, 0.0, "none"
}

// runExecutionListener consumes approved execution requests, opens the
// position and schedules a close with a random outcome. Filling the
// order and settling the position is what the downstream executor does
// in production.
func (s *simulator) runExecutionListener(ctx context.Context) {
	s.bus.Listen(ctx, bus.ChannelExecutions, func(payload []byte) {
		var req types.ExecutionRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			log.Error().Err(err).Msg("Dropping malformed execution request")
			return
		}

		s.mu.Lock()
		if sent, ok := s.sentAt[req.SignalID]; ok {
			s.decisionLatency.addDuration(time.Since(sent))
		}
		s.approvals++
		s.mu.Unlock()

		log.Info().
			Str("signal_id", req.SignalID).
			Str("game_id", req.GameID).
			Str("side", req.Side).
			Float64("size", req.Size).
			Float64("limit_price", req.LimitPrice).
			Msg("Execution request approved")

		trade := s.db.openTrade(req)
		if trade == nil {
			return
		}

		// Close the position after a short random hold
		go func() {
			hold := time.Duration(rand.Intn(2000)+500) * time.Millisecond
			select {
			case <-ctx.Done():
				return
			case <-time.After(hold):
			}
			s.closeTrade(ctx, trade)
		}()
	})
}

// closeTrade settles a position with a random outcome and announces it
func (s *simulator) closeTrade(ctx context.Context, trade *types.Trade) {
	outcome := types.OutcomeWin
	pnl := trade.Size * (rand.Float64()*0.4 + 0.1)
	if rand.Float64() < 0.45 {
		outcome = types.OutcomeLoss
		pnl = -trade.Size * (rand.Float64()*0.6 + 0.2)
	}

	if err := s.db.settleTrade(trade, outcome, pnl); err != nil {
		log.Error().Err(err).Str("trade_id", trade.TradeID).Msg("Failed to close trade")
		return
	}

	event := types.TradeClosedEvent{
		TradeID:  trade.TradeID,
		GameID:   trade.GameID,
		Outcome:  outcome,
		PnL:      pnl,
		ClosedAt: time.Now().UnixMilli(),
	}
	if err := s.bus.Publish(ctx, bus.ChannelTradeClosed, event); err != nil {
		log.Error().Err(err).Str("trade_id", trade.TradeID).Msg("Failed to publish trade close")
		return
	}

	s.mu.Lock()
	s.closed++
	if outcome == types.OutcomeWin {
		s.wins++
	}
	s.mu.Unlock()

	log.Info().
		Str("trade_id", trade.TradeID).
		Str("outcome", outcome).
		Float64("pnl", pnl).
		Msg("Trade closed")
}

// publishSignals generates and publishes random signals to the gateway
// Runs as a worker goroutine
func (s *simulator) publishSignals(ctx context.Context, workerID, numSignals int) {
	for i := 0; i < numSignals; i++ {
		sport := sports[rand.Intn(len(sports))]
		pair := teams[sport][rand.Intn(len(teams[sport]))]
		gameID := fmt.Sprintf("%s_GAME_%d", sport, rand.Intn(40))

		modelProb := rand.Float64()*0.5 + 0.45
		marketProb := modelProb - (rand.Float64()*0.08 - 0.02)
		edge := (modelProb - marketProb) * 100

		side := types.SideBuy
		if rand.Float64() < 0.3 {
			side = types.SideSell
		}

		// Half the signals carry the scraper's alias form of the team
		// name so the price lookup exercises the matching service.
		team := pair[0]
		priceTeam := pair[0]
		if rand.Float64() < 0.5 {
			priceTeam = pair[1]
		}

		s.db.seedPrice(gameID, priceTeam, marketProb)

		signal := types.Signal{
			SignalID:      uuid.New().String(),
			GameID:        gameID,
			Sport:         sport,
			Side:          side,
			Team:          team,
			SignalType:    signalTypes[rand.Intn(len(signalTypes))],
			ModelProb:     modelProb,
			MarketProb:    &marketProb,
			EdgePct:       edge,
			KellyFraction: rand.Float64() * 0.1,
			Reason:        "simulated divergence",
			CreatedAt:     time.Now(),
		}

		s.mu.Lock()
		s.sentAt[signal.SignalID] = time.Now()
		s.mu.Unlock()

		if err := s.bus.Publish(ctx, bus.ChannelSignals, signal); err != nil {
			log.Error().Err(err).
				Int("worker_id", workerID).
				Str("signal_id", signal.SignalID).
				Msg("Failed to publish signal")
			continue
		}

		log.Info().
			Int("worker_id", workerID).
			Str("signal_id", signal.SignalID).
			Str("game_id", gameID).
			Str("sport", sport).
			Str("side", side).
			Float64("edge_pct", edge).
			Msg("Signal published")

		// Random sleep between signals
		time.Sleep(time.Duration(rand.Intn(500)) * time.Millisecond)
	}
}

// printLatencyStats outputs formatted latency statistics for all stages
func (s *simulator) printLatencyStats() {
	fmt.Println("\nLatency Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Stage", "Samples", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, stats := range []*latencyStats{s.decisionLatency, s.matchLatency} {
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// main runs the gateway simulation against a running server
// It plays every external role: signal source, matching service,
// execution engine and settlement feed
func main() {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	db, err := database.NewDatabase(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}

	messageBus, err := bus.NewBus(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to message bus")
	}
	defer messageBus.Close()

	sim := newSimulator(cfg, messageBus, &dbWriter{db: db})

	if err := sim.authenticate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to authenticate against gateway")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sim.runMatcherService(ctx)
	go sim.runExecutionListener(ctx)

	// Generate random number of signals to publish
	targetSignals := rand.Intn(maxSignals-minSignals) + minSignals
	log.Info().Int("target_signals", targetSignals).Msg("Starting simulation")

	startTime := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			sim.publishSignals(ctx, workerID, targetSignals/numWorkers)
		}(i)
	}
	wg.Wait()

	// Let in-flight decisions and trade closes drain
	time.Sleep(drainWait)

	stats, err := sim.fetchStats()
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch gateway stats")
	}

	duration := time.Since(startTime)
	sim.mu.Lock()
	approvals, closed, wins := sim.approvals, sim.closed, sim.wins
	sim.mu.Unlock()

	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("ADMISSION SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf(`
Signals Published: %d
Approved:          %d
Trades Closed:     %d
Wins:              %d
Duration:          %v
`, targetSignals, approvals, closed, wins, duration.Round(time.Millisecond))

	if stats != nil {
		fmt.Println("\nRejection Reasons")
		fmt.Println("-----------------")
		maxCount := int64(0)
		for _, count := range stats.Rejections {
			if count > maxCount {
				maxCount = count
			}
		}
		for reason, count := range stats.Rejections {
			barLength := 0
			if maxCount > 0 {
				barLength = int(float64(count) / float64(maxCount) * 20)
			}
			fmt.Printf("%-28s: %s (%d)\n", reason, strings.Repeat("#", barLength), count)
		}

		fmt.Printf("\nBreaker: %s   Daily PnL: %.2f   Open Exposure: %.2f   Active Rules: %d\n",
			stats.BreakerState, stats.DailyPnL, stats.OpenExposure, stats.ActiveRules)
	}

	fmt.Println("\n" + strings.Repeat("=", 80))

	sim.printLatencyStats()

	log.Info().
		Int("signals", targetSignals).
		Int("approved", approvals).
		Int("closed", closed).
		Dur("duration", duration).
		Msg("Simulation completed")
}
