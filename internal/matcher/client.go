package matcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/edgegate/edgegate/internal/bus"
	"github.com/edgegate/edgegate/internal/config"
)

var (
	// ErrMatchTimeout is returned when the matching service does not reply
	// within the per-call deadline. Callers treat it as "no match".
	ErrMatchTimeout = errors.New("team match request timed out")
)

// Request is the payload published on the match-request channel.
type Request struct {
	CorrelationID string `json:"correlation_id"`
	TargetTeam    string `json:"target_team"`
	CandidateTeam string `json:"candidate_team"`
	Sport         string `json:"sport"`
}

// Result is the reply from the team-matching service.
type Result struct {
	CorrelationID string  `json:"correlation_id"`
	IsMatch       bool    `json:"is_match"`
	Confidence    float64 `json:"confidence"`
	Method        string  `json:"method"`
	Reason        string  `json:"reason"`
}

type cachedResult struct {
	result    Result
	expiresAt time.Time
}

// Publisher is the bus surface the client needs to send requests.
type Publisher interface {
	Publish(ctx context.Context, channel string, v interface{}) error
}

// Client is the request/response client for the external team-matching
// service. Replies arrive on a shared channel and are routed to the waiting
// caller by correlation id. Both hits and misses are cached per
// (sport, target, candidate) for a short TTL to bound RPC volume.
type Client struct {
	publisher Publisher
	timeout   time.Duration
	cacheTTL  time.Duration

	mu      sync.Mutex
	pending map[string]chan Result
	cache   map[string]cachedResult
}

// NewClient creates a team-matching client. Start must be called (or
// HandleReply wired to the reply channel) before Match can complete.
func NewClient(publisher Publisher, cfg config.MatcherConfig) *Client {
	return &Client{
		publisher: publisher,
		timeout:   time.Duration(cfg.TimeoutSeconds) * time.Second,
		cacheTTL:  time.Duration(cfg.CacheTTLMinutes) * time.Minute,
		pending:   make(map[string]chan Result),
		cache:     make(map[string]cachedResult),
	}
}

// Start consumes the reply channel until the context is cancelled.
func (c *Client) Start(ctx context.Context, b *bus.Bus) {
	b.Listen(ctx, bus.ChannelMatchReplies, c.HandleReply)
}

// Match resolves whether candidate names the same team as target. A timeout
// or publish failure returns an error; the caller must fail closed rather
// than guess.
func (c *Client) Match(ctx context.Context, target, candidate, sport string) (Result, error) {
	key := cacheKey(sport, target, candidate)

	c.mu.Lock()
	if cached, ok := c.cache[key]; ok {
		if time.Now().Before(cached.expiresAt) {
			c.mu.Unlock()
			return cached.result, nil
		}
		delete(c.cache, key)
	}

	correlationID := uuid.New().String()
	replyCh := make(chan Result, 1)
	c.pending[correlationID] = replyCh
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, correlationID)
		c.mu.Unlock()
	}()

	req := Request{
		CorrelationID: correlationID,
		TargetTeam:    target,
		CandidateTeam: candidate,
		Sport:         sport,
	}

	if err := c.publisher.Publish(ctx, bus.ChannelMatchRequests, req); err != nil {
		return Result{}, fmt.Errorf("failed to publish match request: %w", err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-timer.C:
		return Result{}, ErrMatchTimeout
	case result := <-replyCh:
		c.mu.Lock()
		c.cache[key] = cachedResult{result: result, expiresAt: time.Now().Add(c.cacheTTL)}
		c.mu.Unlock()
		return result, nil
	}
}

// HandleReply routes a raw reply payload to the caller waiting on its
// correlation id. Unknown or late correlation ids are dropped.
func (c *Client) HandleReply(payload []byte) {
	result, err := decodeResult(payload)
	if err != nil {
		log.Warn().Err(err).Str("component", "matcher").Msg("dropping malformed match reply")
		return
	}

	c.mu.Lock()
	replyCh, ok := c.pending[result.CorrelationID]
	c.mu.Unlock()

	if !ok {
		return
	}

	select {
	case replyCh <- result:
	default:
	}
}

func cacheKey(sport, target, candidate string) string {
	return strings.ToLower(sport) + "|" + strings.ToLower(target) + "|" + strings.ToLower(candidate)
}

func decodeResult(payload []byte) (Result, error) {
	var result Result
	if err := json.Unmarshal(payload, &result); err != nil {
		return Result{}, fmt.Errorf("failed to decode match reply: %w", err)
	}
	if result.CorrelationID == "" {
		return Result{}, errors.New("match reply missing correlation id")
	}
	return result, nil
}
