package pipeline

import (
	"github.com/edgegate/edgegate/internal/config"
	"github.com/edgegate/edgegate/internal/types"
)

// positionSize computes the proposed stake from a fractional-Kelly
// calculation: the signal's Kelly fraction scaled by the configured
// multiplier, capped at a maximum percent of bankroll, floored at 1 unit.
func positionSize(sig types.Signal, cfg config.TradingConfig) float64 {
	kelly := sig.KellyFraction * cfg.KellyMultiplier
	if kelly < 0 {
		kelly = 0
	}

	size := cfg.InitialBankroll * kelly

	maxSize := cfg.InitialBankroll * cfg.MaxPositionPct / 100.0
	if size > maxSize {
		size = maxSize
	}

	if size < 1 {
		size = 1
	}
	return size
}
