package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edgegate/edgegate/internal/bus"
	"github.com/edgegate/edgegate/internal/types"
)

// Consumer drives the processor from the signal channel and keeps the
// cooldown registry in sync with closed trades. Each loop runs as its own
// goroutine; they share nothing but the processor.
type Consumer struct {
	processor *Processor
	bus       *bus.Bus
}

func NewConsumer(processor *Processor, b *bus.Bus) *Consumer {
	return &Consumer{processor: processor, bus: b}
}

// Run consumes inbound signals until the context is cancelled. Signals are
// processed in arrival order within this consumer instance.
func (c *Consumer) Run(ctx context.Context) {
	logger := log.With().Str("component", "signal_consumer").Logger()
	logger.Info().Msg("starting signal consumer")

	c.bus.Listen(ctx, bus.ChannelSignals, func(payload []byte) {
		var sig types.Signal
		if err := json.Unmarshal(payload, &sig); err != nil {
			logger.Error().Err(err).Msg("dropping malformed signal")
			return
		}

		if _, _, err := c.processor.Admit(ctx, sig); err != nil {
			logger.Error().Err(err).
				Str("signal_id", sig.SignalID).
				Msg("signal processing failed")
		}
	})
}

// RunTradeCloseListener keeps the gateway in sync with closed trades:
// it persists the close when the executor only reported it, records the
// game cooldown and releases the idempotency key. The executor may have
// settled the shared store before its event arrives, so an already-closed
// row is the normal case here. A close for a trade that was never opened
// is an invariant violation: logged, dropped, and processing continues.
func (c *Consumer) RunTradeCloseListener(ctx context.Context) {
	logger := log.With().Str("component", "trade_close_listener").Logger()
	logger.Info().Msg("starting trade close listener")

	c.bus.Listen(ctx, bus.ChannelTradeClosed, c.handleTradeClose)
}

func (c *Consumer) handleTradeClose(payload []byte) {
	logger := log.With().Str("component", "trade_close_listener").Logger()

	var event types.TradeClosedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		logger.Error().Err(err).Msg("dropping malformed trade close event")
		return
	}

	trade, err := c.processor.db.GetTrade(event.TradeID)
	if err != nil {
		logger.Error().Err(err).
			Str("trade_id", event.TradeID).
			Msg("failed to load trade for close event")
		return
	}
	if trade == nil {
		logger.Error().
			Str("trade_id", event.TradeID).
			Msg("close event for unknown trade, dropping")
		return
	}

	closed, err := c.processor.db.CloseTrade(event.TradeID, event.Outcome, event.PnL, time.UnixMilli(event.ClosedAt))
	if err != nil {
		logger.Error().Err(err).
			Str("trade_id", event.TradeID).
			Msg("failed to close trade")
		return
	}

	// closed == false means the row was no longer OPEN at write time:
	// the executor settled it first. Cooldown and key release still
	// belong to us either way.
	c.processor.cooldowns.Record(event.GameID, event.Outcome == types.OutcomeWin)
	c.processor.inflight.Remove(IdempotencyKey(trade.SignalID, trade.GameID, trade.Team))

	logger.Info().
		Str("trade_id", event.TradeID).
		Str("outcome", event.Outcome).
		Float64("pnl", event.PnL).
		Bool("settled_upstream", !closed).
		Msg("trade closed")
}

// RunHeartbeat logs an admission snapshot on an interval so operators can
// see rejection counters without hitting the API.
func (c *Consumer) RunHeartbeat(ctx context.Context, interval time.Duration) {
	logger := log.With().Str("component", "heartbeat").Logger()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down heartbeat")
			return
		case <-ticker.C:
			processed, approved, rejections := c.processor.Stats().Snapshot()
			logger.Info().
				Int64("processed", processed).
				Int64("approved", approved).
				Interface("rejections", rejections).
				Int("inflight", c.processor.inflight.Len()).
				Msg("pipeline heartbeat")
		}
	}
}
