package backtest

import (
	"math"

	"github.com/newthinker/tpsl/internal/core"
)

// CapitalConfig parameterises leveraged sizing.
type CapitalConfig struct {
	InitialCapital  float64
	Leverage        float64
	CapitalFraction float64
	FeePct          float64 // Per side, charged on entry and exit notional
}

// Validate enforces the sizing invariants. Violations are rejected, never clamped.
func (c CapitalConfig) Validate() error {
	if !(c.Leverage > 0) || math.IsInf(c.Leverage, 0) {
		return core.Errorf(core.ErrConfigInvalid, "leverage must be > 0, got %v", c.Leverage)
	}
	if !(c.CapitalFraction > 0 && c.CapitalFraction <= 1) {
		return core.Errorf(core.ErrConfigInvalid, "capital_fraction must be in (0, 1], got %v", c.CapitalFraction)
	}
	if !(c.InitialCapital > 0) || math.IsInf(c.InitialCapital, 0) {
		return core.Errorf(core.ErrConfigInvalid, "initial_capital must be > 0, got %v", c.InitialCapital)
	}
	if !(c.FeePct >= 0) {
		return core.Errorf(core.ErrConfigInvalid, "fee_pct must be >= 0, got %v", c.FeePct)
	}
	return nil
}

// StepCapital sizes one trade against capitalBefore and books its result.
// Capital after the trade is floored at zero.
func StepCapital(capitalBefore, entryPrice, exitPrice, leverage, capitalFraction, feePct float64) Sizing {
	margin := capitalBefore * capitalFraction
	notional := margin * leverage
	quantity := notional / entryPrice
	exitNotional := math.Abs(quantity * exitPrice)

	grossPnL := (exitPrice - entryPrice) * quantity
	entryFee := notional * feePct
	exitFee := exitNotional * feePct
	fees := feePct * (notional + exitNotional)
	netPnL := grossPnL - fees

	return Sizing{
		MarginUsed:    margin,
		Notional:      notional,
		Quantity:      quantity,
		ExitNotional:  exitNotional,
		GrossPnL:      grossPnL,
		EntryFee:      entryFee,
		ExitFee:       exitFee,
		Fees:          fees,
		NetPnL:        netPnL,
		CapitalBefore: capitalBefore,
		CapitalAfter:  math.Max(capitalBefore+netPnL, 0),
	}
}

// CapitalLedger threads running capital through a run's trades in order.
// It is owned by a single run and is not safe for concurrent use.
type CapitalLedger struct {
	cfg     CapitalConfig
	capital float64
	trades  int
}

// NewCapitalLedger validates cfg and starts at the initial capital.
func NewCapitalLedger(cfg CapitalConfig) (*CapitalLedger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &CapitalLedger{cfg: cfg, capital: cfg.InitialCapital}, nil
}

// Capital returns the current running capital.
func (c *CapitalLedger) Capital() float64 {
	return c.capital
}

// Trades returns how many trades have been booked.
func (c *CapitalLedger) Trades() int {
	return c.trades
}

// Exhausted reports whether no further trade may be sized.
func (c *CapitalLedger) Exhausted() bool {
	return c.capital <= 0
}

// Step books one trade. It refuses to size against exhausted capital.
func (c *CapitalLedger) Step(entryPrice, exitPrice float64) (Sizing, error) {
	if c.Exhausted() {
		return Sizing{}, core.Errorf(core.ErrCapitalExhausted, "after %d trades", c.trades)
	}
	s := StepCapital(c.capital, entryPrice, exitPrice, c.cfg.Leverage, c.cfg.CapitalFraction, c.cfg.FeePct)
	c.capital = s.CapitalAfter
	c.trades++
	return s, nil
}
