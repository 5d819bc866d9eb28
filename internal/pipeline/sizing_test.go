package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/edgegate/edgegate/internal/config"
	"github.com/edgegate/edgegate/internal/types"
)

func sizingConfig() config.TradingConfig {
	return config.TradingConfig{
		KellyMultiplier: 0.25,
		MaxPositionPct:  5.0,
		InitialBankroll: 1000,
	}
}

func TestPositionSizeFractionalKelly(t *testing.T) {
	sig := types.Signal{KellyFraction: 0.1}

	// 0.1 * 0.25 * 1000 = 25
	assert.Equal(t, 25.0, positionSize(sig, sizingConfig()))
}

func TestPositionSizeCappedAtMaxPct(t *testing.T) {
	sig := types.Signal{KellyFraction: 0.5}

	// Uncapped would be 125; 5% of bankroll caps it at 50
	assert.Equal(t, 50.0, positionSize(sig, sizingConfig()))
}

func TestPositionSizeFlooredAtOne(t *testing.T) {
	assert.Equal(t, 1.0, positionSize(types.Signal{KellyFraction: 0.001}, sizingConfig()))
	assert.Equal(t, 1.0, positionSize(types.Signal{KellyFraction: -0.2}, sizingConfig()))
}
