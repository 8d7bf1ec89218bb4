package backtest

import "math"

// EquityCurve compounds the ledger's pnl column in order. equity[i] is the
// product of (1+pnl) over trades 0..i; drawdown is measured from the running peak.
func EquityCurve(ledger Ledger) []EquityPoint {
	curve := make([]EquityPoint, len(ledger))
	equity, peak := 1.0, math.Inf(-1)
	for i, t := range ledger {
		equity *= 1 + t.PnL
		if equity > peak {
			peak = equity
		}
		curve[i] = EquityPoint{
			Time:     t.ExitTime,
			Equity:   equity,
			Peak:     peak,
			Drawdown: drawdown(equity, peak),
		}
	}
	return curve
}

// drawdown is 0 at a new peak. A curve whose peak has fallen to zero or below
// has lost everything.
func drawdown(equity, peak float64) float64 {
	if equity >= peak {
		return 0
	}
	if peak <= 0 {
		return -1
	}
	return equity/peak - 1
}

// Evaluate reduces a ledger to its summary metrics. An empty ledger yields the
// identity metrics with final equity 1.
func Evaluate(ledger Ledger) Metrics {
	return EvaluateWithHint(ledger, 0)
}

// EvaluateWithHint is Evaluate, reporting leverageHint as the leverage used
// when the ledger carries none of its own (for example an empty run).
func EvaluateWithHint(ledger Ledger, leverageHint float64) Metrics {
	m := Metrics{FinalEquity: 1}
	if len(ledger) == 0 {
		if leverageHint > 0 {
			m.Leverage = LeverageUsed{Values: []float64{leverageHint}}
		}
		return m
	}

	var wins int
	var grossProfit, grossLoss, sum float64
	leverages := make([]float64, 0, len(ledger))
	for _, t := range ledger {
		switch {
		case t.IsWin():
			wins++
			grossProfit += t.PnL
		case t.PnL < 0:
			grossLoss += t.PnL
		}
		sum += t.PnL
		if t.Leverage > 0 {
			leverages = append(leverages, t.Leverage)
		}
	}
	grossLoss = math.Abs(grossLoss)

	n := float64(len(ledger))
	m.TotalTrades = len(ledger)
	m.WinRate = float64(wins) / n
	m.Expectancy = sum / n
	if grossLoss == 0 {
		m.ProfitFactor = math.Inf(1)
	} else {
		m.ProfitFactor = grossProfit / grossLoss
	}

	curve := EquityCurve(ledger)
	m.FinalEquity = curve[len(curve)-1].Equity
	for _, p := range curve {
		m.MaxDrawdown = math.Min(m.MaxDrawdown, p.Drawdown)
	}

	m.Leverage = distinctLeverage(leverages)
	if len(m.Leverage.Values) == 0 && leverageHint > 0 {
		m.Leverage = LeverageUsed{Values: []float64{leverageHint}}
	}
	return m
}
