package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/edgegate/edgegate/internal/config"
)

// Channel names for the pub/sub bus. Delivery is at-least-once from the
// consumer's point of view; every handler must tolerate duplicates.
const (
	ChannelSignals       = "edgegate:signals"
	ChannelExecutions    = "edgegate:executions"
	ChannelTradeClosed   = "edgegate:trades:closed"
	ChannelRuleUpdates   = "edgegate:rules:updates"
	ChannelPatterns      = "edgegate:patterns"
	ChannelMatchRequests = "edgegate:match:requests"
	ChannelMatchReplies  = "edgegate:match:replies"
)

// Bus wraps the Redis pub/sub connection used to exchange structured
// messages between the pipeline, the feedback loop and external services.
type Bus struct {
	client *redis.Client
}

// NewBus connects to Redis and verifies connectivity.
func NewBus(cfg config.RedisConfig) (*Bus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Address, err)
	}

	return &Bus{client: client}, nil
}

// Publish marshals v as JSON and publishes it on the given channel.
func (b *Bus) Publish(ctx context.Context, channel string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message for %s: %w", channel, err)
	}

	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}

	return nil
}

// Listen subscribes to a channel and invokes handler for every message
// until the context is cancelled. It blocks, so callers run it in its own
// goroutine.
func (b *Bus) Listen(ctx context.Context, channel string, handler func(payload []byte)) {
	logger := log.With().Str("component", "bus").Str("channel", channel).Logger()

	pubsub := b.client.Subscribe(ctx, channel)
	defer pubsub.Close()

	logger.Info().Msg("subscribed")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("subscription stopping")
			return
		case msg, ok := <-ch:
			if !ok {
				logger.Warn().Msg("subscription channel closed")
				return
			}
			handler([]byte(msg.Payload))
		}
	}
}

// Close releases the underlying Redis connection.
func (b *Bus) Close() error {
	return b.client.Close()
}
