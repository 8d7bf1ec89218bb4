package report

import (
	"fmt"
	"io"
	"os"

	"github.com/olekukonko/tablewriter"

	"github.com/newthinker/tpsl/internal/backtest"
	"github.com/newthinker/tpsl/internal/sweep"
)

// Console prints results as tables.
type Console struct {
	out io.Writer
}

// NewConsole writes to stdout.
func NewConsole() *Console {
	return &Console{out: os.Stdout}
}

// NewConsoleWriter writes to w.
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w}
}

// PrintMetrics prints the summary block for one ledger.
func (c *Console) PrintMetrics(label string, m backtest.Metrics) {
	fmt.Fprintln(c.out, "===== BACKTEST RESULTS =====")
	if label != "" {
		fmt.Fprintf(c.out, "Mode: %s\n", label)
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Metric", "Value")
	table.Append("Leverage used", m.Leverage.String())
	table.Append("Total trades", fmt.Sprintf("%d", m.TotalTrades))
	table.Append("Win rate", Fixed(m.WinRate, 3))
	table.Append("Profit factor", Fixed(m.ProfitFactor, 2))
	table.Append("Expectancy", Fixed(m.Expectancy, 5))
	table.Append("Final equity", Fixed(m.FinalEquity, 4))
	table.Append("Max drawdown", Fixed(m.MaxDrawdown, 4))
	table.Render()
}

// PrintResult prints a backtest's headline, metrics, and overlay metrics.
func (c *Console) PrintResult(r *backtest.Result) {
	fmt.Fprintf(c.out, "\n%s  %s -> %s  run %s\n", r.Symbol,
		r.StartDate.Format("2006-01-02 15:04"), r.EndDate.Format("2006-01-02 15:04"), r.ID)
	fmt.Fprintf(c.out, "signals=%d accepted=%d skipped=%d\n", r.Signals, r.Accepted, r.Skipped)
	if r.Params.Mode == backtest.ModeLeveraged {
		fmt.Fprintf(c.out, "capital %s -> %s", Money(r.Params.InitialCapital), Money(r.FinalCapital))
		if r.Halted {
			fmt.Fprint(c.out, " (capital exhausted, trading halted)")
		}
		fmt.Fprintln(c.out)
	}

	label := "No Leverage"
	if r.Params.Mode == backtest.ModeLeveraged {
		label = fmt.Sprintf("With Leverage (%gx)", r.Params.Leverage)
	}
	c.PrintMetrics(label, r.Metrics)

	if r.Realistic != nil {
		c.PrintMetrics("Realistic execution", r.Realistic.Metrics)
	}
}

// PrintTrades prints up to limit trades; limit <= 0 prints all.
func (c *Console) PrintTrades(ledger backtest.Ledger, limit int) {
	if len(ledger) == 0 {
		fmt.Fprintln(c.out, "no trades")
		return
	}
	rows := ledger
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Entry", "Exit", "Reason", "Entry px", "Exit px", "Gross", "Net", "PnL", "Capital after")
	for i, t := range rows {
		capital := "-"
		if t.Sizing != nil {
			capital = Money(t.Sizing.CapitalAfter)
		}
		table.Append(
			fmt.Sprintf("%d", i+1),
			t.EntryTime.Format("01-02 15:04"),
			t.ExitTime.Format("01-02 15:04"),
			string(t.Reason),
			Fixed(t.EntryPrice, 2),
			Fixed(t.ExitPrice, 2),
			Percent(t.GrossReturn),
			Percent(t.NetReturn),
			Percent(t.PnL),
			capital,
		)
	}
	table.Render()

	if len(rows) < len(ledger) {
		fmt.Fprintf(c.out, "  ... %d more\n", len(ledger)-len(rows))
	}
}

// PrintSweep prints one row per sweep cell in grid order.
func (c *Console) PrintSweep(rows []sweep.Row) {
	table := tablewriter.NewWriter(c.out)
	table.Header("Mode", "Leverage", "TP", "Prob", "Trades", "Win rate", "PF", "Expectancy", "Final equity", "Max DD")
	for _, r := range rows {
		m := r.Metrics
		table.Append(
			r.Label(),
			m.Leverage.String(),
			Float(r.TakeProfit),
			Float(r.Probability),
			fmt.Sprintf("%d", m.TotalTrades),
			Fixed(m.WinRate, 3),
			Fixed(m.ProfitFactor, 2),
			Fixed(m.Expectancy, 5),
			Fixed(m.FinalEquity, 4),
			Fixed(m.MaxDrawdown, 4),
		)
	}
	table.Render()
}
