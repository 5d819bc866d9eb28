package pipeline

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/edgegate/edgegate/internal/types"
)

func openTestTrade(t *testing.T, db *gorm.DB) types.Trade {
	t.Helper()
	trade := types.Trade{
		TradeID:  "trade-1",
		SignalID: "sig-1",
		GameID:   "NBA_GAME_1",
		Sport:    "NBA",
		Team:     "Los Angeles Lakers",
		Side:     types.SideBuy,
		Status:   types.TradeStatusOpen,
		Size:     25,
		OpenedAt: time.Now(),
	}
	require.NoError(t, db.Create(&trade).Error)
	return trade
}

func closeEventPayload(t *testing.T, trade types.Trade, outcome string, pnl float64) []byte {
	t.Helper()
	payload, err := json.Marshal(types.TradeClosedEvent{
		TradeID:  trade.TradeID,
		GameID:   trade.GameID,
		Outcome:  outcome,
		PnL:      pnl,
		ClosedAt: time.Now().UnixMilli(),
	})
	require.NoError(t, err)
	return payload
}

// The executor settles the shared store before its close event arrives.
// The close write finds no OPEN row, but the cooldown and the idempotency
// key release must still happen.
func TestTradeCloseAfterExecutorSettlement(t *testing.T) {
	f := setupPipeline(t, nil)
	trade := openTestTrade(t, f.db)

	key := IdempotencyKey(trade.SignalID, trade.GameID, trade.Team)
	require.True(t, f.processor.inflight.TryAdd(key))

	now := time.Now()
	require.NoError(t, f.db.Model(&types.Trade{}).
		Where("trade_id = ?", trade.TradeID).
		Updates(map[string]interface{}{
			"status":    types.TradeStatusClosed,
			"outcome":   types.OutcomeLoss,
			"pnl":       -10.0,
			"closed_at": now,
		}).Error)

	consumer := NewConsumer(f.processor, nil)
	consumer.handleTradeClose(closeEventPayload(t, trade, types.OutcomeLoss, -10.0))

	active, _ := f.processor.cooldowns.Active(trade.GameID)
	assert.True(t, active, "cooldown must fire even for an upstream-settled close")
	assert.True(t, f.processor.inflight.TryAdd(key), "idempotency key must be released")
}

// The executor only reported the close; the listener owns the write.
func TestTradeClosePersistsReportedClose(t *testing.T) {
	f := setupPipeline(t, nil)
	trade := openTestTrade(t, f.db)

	consumer := NewConsumer(f.processor, nil)
	consumer.handleTradeClose(closeEventPayload(t, trade, types.OutcomeWin, 12.5))

	var persisted types.Trade
	require.NoError(t, f.db.Where("trade_id = ?", trade.TradeID).First(&persisted).Error)
	assert.Equal(t, types.TradeStatusClosed, persisted.Status)
	assert.Equal(t, types.OutcomeWin, persisted.Outcome)
	assert.Equal(t, 12.5, persisted.PnL)
	require.NotNil(t, persisted.ClosedAt)
	assert.WithinDuration(t, time.Now(), *persisted.ClosedAt, time.Minute)

	active, _ := f.processor.cooldowns.Active(trade.GameID)
	assert.True(t, active)
}

func TestTradeCloseUnknownTradeDropped(t *testing.T) {
	f := setupPipeline(t, nil)

	payload, err := json.Marshal(types.TradeClosedEvent{
		TradeID:  "no-such-trade",
		GameID:   "NBA_GAME_9",
		Outcome:  types.OutcomeLoss,
		PnL:      -5,
		ClosedAt: time.Now().UnixMilli(),
	})
	require.NoError(t, err)

	consumer := NewConsumer(f.processor, nil)
	consumer.handleTradeClose(payload)

	active, _ := f.processor.cooldowns.Active("NBA_GAME_9")
	assert.False(t, active)
}
