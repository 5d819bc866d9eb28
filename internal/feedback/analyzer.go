package feedback

import (
	"fmt"
	"strings"
	"time"

	"github.com/edgegate/edgegate/internal/types"
)

// Classification thresholds. Tuned against historical losing trades; the
// pattern detector picks up whatever slips through to the residual bucket.
const (
	feeEdgeFraction    = 0.5             // fees at half the entry edge make the trade uneconomic
	highConfidenceProb = 0.75            // a loss from here implicates the model itself
	rapidReversalHold  = 5 * time.Minute // losses faster than this are market speed
	thinBookLiquidity  = 100.0           // exit-side depth below this is a liquidity problem
)

var latePeriods = map[string]bool{
	"Q4":  true,
	"4TH": true,
	"OT":  true,
	"H2":  true,
	"2H":  true,
	"P3":  true,
	"9TH": true,
}

// Classification is the analyzer's verdict on one closed trade.
type Classification struct {
	TradeID    string
	RootCause  string
	SubCause   string
	Confidence float64
	Details    string
}

// Classify assigns a losing trade its root cause. This is a
// priority-ordered decision list: the first matching rule wins, there is
// no score blending. Non-losses short-circuit.
func Classify(trade types.Trade) Classification {
	if trade.Outcome != types.OutcomeLoss {
		return Classification{
			TradeID:    trade.TradeID,
			RootCause:  CauseNotALoss,
			Confidence: 1.0,
		}
	}

	entryEdgeValue := trade.EdgeAtEntry / 100.0 * trade.Size
	if entryEdgeValue > 0 && trade.Fees >= entryEdgeValue*feeEdgeFraction {
		return Classification{
			TradeID:    trade.TradeID,
			RootCause:  CauseEdgeTooThin,
			SubCause:   "fees_consumed_edge",
			Confidence: 0.9,
			Details:    fmt.Sprintf("fees %.2f against edge value %.2f", trade.Fees, entryEdgeValue),
		}
	}

	if trade.EntryModelProb >= highConfidenceProb {
		return Classification{
			TradeID:    trade.TradeID,
			RootCause:  CauseModelError,
			SubCause:   "high_confidence_loss",
			Confidence: 0.8,
			Details:    fmt.Sprintf("model prob %.3f at entry yet lost", trade.EntryModelProb),
		}
	}

	if hold := trade.HoldDuration(); hold > 0 && hold < rapidReversalHold {
		return Classification{
			TradeID:    trade.TradeID,
			RootCause:  CauseMarketSpeed,
			SubCause:   "rapid_reversal",
			Confidence: 0.7,
			Details:    fmt.Sprintf("held %s before loss", hold.Round(time.Second)),
		}
	}

	if trade.ExitLiquidity > 0 && trade.ExitLiquidity < thinBookLiquidity {
		return Classification{
			TradeID:    trade.TradeID,
			RootCause:  CauseLiquidityIssue,
			SubCause:   "thin_exit_book",
			Confidence: 0.7,
			Details:    fmt.Sprintf("exit liquidity %.0f", trade.ExitLiquidity),
		}
	}

	if latePeriods[strings.ToUpper(trade.GamePeriod)] {
		return Classification{
			TradeID:    trade.TradeID,
			RootCause:  CauseTimingPattern,
			SubCause:   "late_game_entry",
			Confidence: 0.6,
			Details:    fmt.Sprintf("entered during %s", trade.GamePeriod),
		}
	}

	// Nothing trade-local explains it; defer to pattern analysis.
	return Classification{
		TradeID:    trade.TradeID,
		RootCause:  CauseSportUnderperform,
		SubCause:   "deferred_to_patterns",
		Confidence: 0.4,
	}
}

// CriticalCause reports whether the root cause warrants an out-of-band
// detection pass instead of waiting for the timer.
func CriticalCause(rootCause string) bool {
	return rootCause == CauseModelError || rootCause == CauseEdgeTooThin
}
