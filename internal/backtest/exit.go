package backtest

import (
	"math"
	"time"

	"github.com/newthinker/tpsl/internal/core"
)

// Thresholds are the take-profit and stop-loss price levels of one entry.
type Thresholds struct {
	TakeProfit float64
	StopLoss   float64
}

// NewThresholds derives price levels from percentage offsets around entryPrice.
func NewThresholds(entryPrice, tpPct, slPct float64) Thresholds {
	return Thresholds{
		TakeProfit: entryPrice * (1 + tpPct),
		StopLoss:   entryPrice * (1 - slPct),
	}
}

// classify tests one bar against the thresholds. The take-profit check runs
// first, so a bar that crosses both levels reports a take-profit.
func (th Thresholds) classify(b core.Bar) (core.ExitReason, float64, bool) {
	switch {
	case b.High >= th.TakeProfit:
		return core.ExitTakeProfit, th.TakeProfit, true
	case b.Low <= th.StopLoss:
		return core.ExitStopLoss, th.StopLoss, true
	default:
		return "", 0, false
	}
}

// Resolve scans the forward window in order and returns the first exit hit.
// If no bar reaches either threshold the position times out at the last
// bar's close. An empty window is a dispatch error.
func Resolve(entryTime time.Time, entryPrice, tpPct, slPct float64, window []core.Bar) (ExitOutcome, error) {
	if len(window) == 0 {
		return ExitOutcome{}, core.Errorf(core.ErrEmptyWindow, "entry at %s", entryTime.Format(time.RFC3339))
	}
	if math.IsNaN(entryPrice) || entryPrice <= 0 {
		return ExitOutcome{}, core.Errorf(core.ErrSchemaInvalid, "entry price must be positive, got %v", entryPrice)
	}

	th := NewThresholds(entryPrice, tpPct, slPct)

	last := window[len(window)-1]
	outcome := ExitOutcome{Reason: core.ExitTimeout, Price: last.Close, Time: last.Time, BarsHeld: len(window)}
	for i, b := range window {
		if reason, price, hit := th.classify(b); hit {
			outcome = ExitOutcome{Reason: reason, Price: price, Time: b.Time, BarsHeld: i + 1}
			break
		}
	}
	return outcome, nil
}
