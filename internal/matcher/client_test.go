package matcher

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgegate/edgegate/internal/bus"
	"github.com/edgegate/edgegate/internal/config"
)

// replyingPublisher simulates the matching service: it captures each
// request and immediately feeds a reply back through HandleReply.
type replyingPublisher struct {
	client   *Client
	reply    func(Request) Result
	requests []Request
	silent   bool
}

func (p *replyingPublisher) Publish(_ context.Context, channel string, v interface{}) error {
	req, ok := v.(Request)
	if !ok {
		return nil
	}
	p.requests = append(p.requests, req)

	if p.silent {
		return nil
	}

	payload, err := json.Marshal(p.reply(req))
	if err != nil {
		return err
	}
	go p.client.HandleReply(payload)
	return nil
}

func matcherConfig() config.MatcherConfig {
	return config.MatcherConfig{
		ConfidenceFloor: 0.85,
		TimeoutSeconds:  1,
		CacheTTLMinutes: 5,
	}
}

func newTestClient(reply func(Request) Result) (*Client, *replyingPublisher) {
	publisher := &replyingPublisher{reply: reply}
	client := NewClient(publisher, matcherConfig())
	publisher.client = client
	return client, publisher
}

func TestMatchRoutesReplyByCorrelationID(t *testing.T) {
	client, publisher := newTestClient(func(req Request) Result {
		return Result{
			CorrelationID: req.CorrelationID,
			IsMatch:       true,
			Confidence:    0.93,
			Method:        "alias",
		}
	})

	result, err := client.Match(context.Background(), "Los Angeles Lakers", "LA Lakers", "NBA")
	require.NoError(t, err)
	assert.True(t, result.IsMatch)
	assert.Equal(t, 0.93, result.Confidence)

	require.Len(t, publisher.requests, 1)
	assert.Equal(t, "Los Angeles Lakers", publisher.requests[0].TargetTeam)
	assert.Equal(t, "LA Lakers", publisher.requests[0].CandidateTeam)
	assert.Equal(t, "NBA", publisher.requests[0].Sport)
}

func TestMatchCachesHitsAndMisses(t *testing.T) {
	client, publisher := newTestClient(func(req Request) Result {
		return Result{CorrelationID: req.CorrelationID, IsMatch: false}
	})

	_, err := client.Match(context.Background(), "Bills", "Cowboys", "NFL")
	require.NoError(t, err)

	// Second identical lookup is served from cache, no new RPC
	result, err := client.Match(context.Background(), "Bills", "Cowboys", "NFL")
	require.NoError(t, err)
	assert.False(t, result.IsMatch)
	assert.Len(t, publisher.requests, 1)

	// Case differences share the cache entry
	_, err = client.Match(context.Background(), "bills", "COWBOYS", "nfl")
	require.NoError(t, err)
	assert.Len(t, publisher.requests, 1)
}

func TestMatchTimesOutWithoutReply(t *testing.T) {
	publisher := &replyingPublisher{silent: true}
	client := NewClient(publisher, config.MatcherConfig{
		ConfidenceFloor: 0.85,
		TimeoutSeconds:  0, // expire immediately
		CacheTTLMinutes: 5,
	})
	publisher.client = client

	_, err := client.Match(context.Background(), "Bills", "Cowboys", "NFL")
	assert.ErrorIs(t, err, ErrMatchTimeout)
}

func TestMatchHonorsContextCancellation(t *testing.T) {
	publisher := &replyingPublisher{silent: true}
	client := NewClient(publisher, matcherConfig())
	publisher.client = client

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Match(ctx, "Bills", "Cowboys", "NFL")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHandleReplyDropsMalformedAndUnknown(t *testing.T) {
	client, _ := newTestClient(nil)

	// Neither may panic or wedge anything
	client.HandleReply([]byte("not json"))
	client.HandleReply([]byte(`{"correlation_id":"unknown","is_match":true}`))
}

func TestPublishedChannelIsMatchRequests(t *testing.T) {
	var channel string
	publisher := &channelCapture{channel: &channel}
	client := NewClient(publisher, config.MatcherConfig{TimeoutSeconds: 0, CacheTTLMinutes: 1})

	_, _ = client.Match(context.Background(), "a", "b", "NBA")
	assert.Equal(t, bus.ChannelMatchRequests, channel)
}

type channelCapture struct {
	channel *string
}

func (c *channelCapture) Publish(_ context.Context, channel string, _ interface{}) error {
	*c.channel = channel
	return nil
}
