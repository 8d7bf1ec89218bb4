package backtest

import (
	"math"

	"github.com/newthinker/tpsl/internal/core"
)

// OverlayConfig is a fixed-unit execution-cost model applied after simulation.
type OverlayConfig struct {
	TickSize      float64 `json:"tick_size" mapstructure:"tick_size"`
	SlippageTicks float64 `json:"slippage_ticks" mapstructure:"slippage_ticks"`
	FeePctPerSide float64 `json:"fee_pct_per_side" mapstructure:"fee_pct_per_side"`
	PositionSize  float64 `json:"position_size" mapstructure:"position_size"`
}

// DefaultOverlayConfig returns 2 ticks of 0.5 slippage per side and a 0.05% fee.
func DefaultOverlayConfig() OverlayConfig {
	return OverlayConfig{
		TickSize:      0.5,
		SlippageTicks: 2,
		FeePctPerSide: 0.0005,
		PositionSize:  1,
	}
}

// Validate checks the overlay parameters.
func (c OverlayConfig) Validate() error {
	if !(c.TickSize >= 0) || math.IsInf(c.TickSize, 0) {
		return core.Errorf(core.ErrConfigInvalid, "tick_size must be >= 0, got %v", c.TickSize)
	}
	if !(c.SlippageTicks >= 0) || math.IsInf(c.SlippageTicks, 0) {
		return core.Errorf(core.ErrConfigInvalid, "slippage_ticks must be >= 0, got %v", c.SlippageTicks)
	}
	if !(c.FeePctPerSide >= 0) {
		return core.Errorf(core.ErrConfigInvalid, "fee_pct_per_side must be >= 0, got %v", c.FeePctPerSide)
	}
	if !(c.PositionSize > 0) {
		return core.Errorf(core.ErrConfigInvalid, "position_size must be > 0, got %v", c.PositionSize)
	}
	return nil
}

// Reprice re-evaluates every trade of ledger under the overlay's costs,
// ignoring the original sizing. Entry is filled worse by the slippage, exit
// likewise. The input ledger is not modified.
func Reprice(ledger Ledger, cfg OverlayConfig) (Ledger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	slip := cfg.SlippageTicks * cfg.TickSize

	out := make(Ledger, len(ledger))
	for i, t := range ledger {
		entry := t.EntryPrice + slip
		exit := t.ExitPrice - slip
		gross := (exit - entry) / entry
		net := gross - 2*cfg.FeePctPerSide

		out[i] = Trade{
			EntryTime:   t.EntryTime,
			ExitTime:    t.ExitTime,
			EntryPrice:  entry,
			ExitPrice:   exit,
			Reason:      t.Reason,
			GrossReturn: gross,
			NetReturn:   net,
			PnL:         net * cfg.PositionSize,
			Leverage:    1,
		}
	}
	return out, nil
}
