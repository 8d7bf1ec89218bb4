package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/newthinker/tpsl/internal/backtest"
	"github.com/newthinker/tpsl/internal/core"
	"github.com/newthinker/tpsl/internal/sweep"
)

var ledgerHeader = []string{
	"entry_time", "exit_time", "entry_price", "exit_price", "reason",
	"gross_return", "net_return", "pnl", "leverage",
	"margin_used", "notional", "quantity", "exit_notional", "gross_pnl",
	"entry_fee", "exit_fee", "fees", "net_pnl", "capital_before", "capital_after",
}

// sizingColumns is the index of the first currency column.
const sizingColumns = 9

func sizingFields(s *backtest.Sizing) []*float64 {
	return []*float64{
		&s.MarginUsed, &s.Notional, &s.Quantity, &s.ExitNotional, &s.GrossPnL,
		&s.EntryFee, &s.ExitFee, &s.Fees, &s.NetPnL, &s.CapitalBefore, &s.CapitalAfter,
	}
}

// WriteLedgerCSV writes one row per trade. Currency columns are blank for
// unit-mode trades.
func WriteLedgerCSV(w io.Writer, ledger backtest.Ledger) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ledgerHeader); err != nil {
		return err
	}
	for _, t := range ledger {
		rec := []string{
			t.EntryTime.Format(time.RFC3339Nano),
			t.ExitTime.Format(time.RFC3339Nano),
			Float(t.EntryPrice),
			Float(t.ExitPrice),
			string(t.Reason),
			Float(t.GrossReturn),
			Float(t.NetReturn),
			Float(t.PnL),
			Float(t.Leverage),
		}
		if t.Sizing != nil {
			for _, f := range sizingFields(t.Sizing) {
				rec = append(rec, Float(*f))
			}
		} else {
			rec = append(rec, make([]string, len(ledgerHeader)-sizingColumns)...)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadLedgerCSV parses the format written by WriteLedgerCSV.
func ReadLedgerCSV(r io.Reader) (backtest.Ledger, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(ledgerHeader)

	head, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, core.Errorf(core.ErrNoData, "empty ledger csv")
	}
	if err != nil {
		return nil, core.WrapError(core.ErrSchemaInvalid, err)
	}
	if strings.Join(head, ",") != strings.Join(ledgerHeader, ",") {
		return nil, core.Errorf(core.ErrSchemaInvalid, "unexpected ledger header %v", head)
	}

	ledger := backtest.Ledger{}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, core.WrapError(core.ErrSchemaInvalid, err)
		}
		t, err := parseTrade(rec)
		if err != nil {
			return nil, core.Errorf(core.ErrSchemaInvalid, "line %d: %v", line, err)
		}
		ledger = append(ledger, t)
	}
	return ledger, nil
}

func parseTrade(rec []string) (backtest.Trade, error) {
	var t backtest.Trade
	var err error
	if t.EntryTime, err = time.Parse(time.RFC3339Nano, rec[0]); err != nil {
		return t, err
	}
	if t.ExitTime, err = time.Parse(time.RFC3339Nano, rec[1]); err != nil {
		return t, err
	}
	if t.Reason, err = core.ParseExitReason(rec[4]); err != nil {
		return t, err
	}
	floats := []struct {
		i   int
		dst *float64
	}{{2, &t.EntryPrice}, {3, &t.ExitPrice}, {5, &t.GrossReturn}, {6, &t.NetReturn}, {7, &t.PnL}, {8, &t.Leverage}}
	for _, f := range floats {
		if *f.dst, err = ParseFloat(rec[f.i]); err != nil {
			return t, fmt.Errorf("%s: %w", ledgerHeader[f.i], err)
		}
	}

	if rec[sizingColumns] == "" {
		return t, nil
	}
	s := &backtest.Sizing{}
	for i, f := range sizingFields(s) {
		col := sizingColumns + i
		if *f, err = ParseFloat(rec[col]); err != nil {
			return t, fmt.Errorf("%s: %w", ledgerHeader[col], err)
		}
	}
	t.Sizing = s
	return t, nil
}

// SaveLedgerCSV writes the ledger to path, replacing any existing file.
func SaveLedgerCSV(path string, ledger backtest.Ledger) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: create %s: %w", path, err)
	}
	if err := WriteLedgerCSV(f, ledger); err != nil {
		f.Close()
		return fmt.Errorf("report: write %s: %w", path, err)
	}
	return f.Close()
}

// LoadLedgerCSV reads a ledger saved by SaveLedgerCSV.
func LoadLedgerCSV(path string) (backtest.Ledger, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("report: open %s: %w", path, err)
	}
	defer f.Close()
	return ReadLedgerCSV(f)
}

// RenderSweepCSV renders sweep rows with the same columns as the console table.
func RenderSweepCSV(rows []sweep.Row) string {
	var sb strings.Builder
	sb.WriteString("mode,leverage,take_profit,probability,total_trades,win_rate,profit_factor,expectancy,final_equity,max_drawdown\n")
	for _, r := range rows {
		m := r.Metrics
		sb.WriteString(strings.Join([]string{
			r.Label(),
			strconv.Quote(m.Leverage.String()),
			Float(r.TakeProfit),
			Float(r.Probability),
			strconv.Itoa(m.TotalTrades),
			Float(m.WinRate),
			Float(m.ProfitFactor),
			Float(m.Expectancy),
			Float(m.FinalEquity),
			Float(m.MaxDrawdown),
		}, ","))
		sb.WriteByte('\n')
	}
	return sb.String()
}
