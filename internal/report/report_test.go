package report

import (
	"bytes"
	"encoding/csv"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newthinker/tpsl/internal/backtest"
	"github.com/newthinker/tpsl/internal/core"
	"github.com/newthinker/tpsl/internal/sweep"
)

var t0 = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

func ledger() backtest.Ledger {
	sz := backtest.StepCapital(1000, 100, 101, 3, 0.5, 0.0004)
	return backtest.Ledger{
		{
			EntryTime: t0, ExitTime: t0.Add(2 * time.Minute), EntryPrice: 100, ExitPrice: 101,
			Reason: core.ExitTakeProfit, GrossReturn: 0.01, NetReturn: sz.NetPnL / 1000, PnL: sz.NetPnL / 1000,
			Leverage: 3, Sizing: &sz,
		},
		{
			EntryTime: t0.Add(5 * time.Minute), ExitTime: t0.Add(10 * time.Minute), EntryPrice: 101, ExitPrice: 100.9,
			Reason: core.ExitTimeout, GrossReturn: -0.1 / 101, NetReturn: -0.1/101 - 0.0008, PnL: -0.1/101 - 0.0008,
			Leverage: 1,
		},
	}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "1013.79", Money(1013.794))
	assert.Equal(t, "-0.61", Money(-0.606))
	assert.Equal(t, "inf", Fixed(math.Inf(1), 2))
	assert.Equal(t, "1.25", Fixed(1.2468, 2))
	assert.Equal(t, "0.23%", Percent(0.0023))

	v, err := ParseFloat(Float(math.Inf(1)))
	require.NoError(t, err)
	assert.True(t, math.IsInf(v, 1))
}

func TestLedgerCSV_RoundTrip(t *testing.T) {
	in := ledger()
	var buf bytes.Buffer
	require.NoError(t, WriteLedgerCSV(&buf, in))

	out, err := ReadLedgerCSV(&buf)
	require.NoError(t, err)
	require.Len(t, out, 2)
	for i := range in {
		assert.True(t, in[i].EntryTime.Equal(out[i].EntryTime))
		in[i].EntryTime, in[i].ExitTime = out[i].EntryTime, out[i].ExitTime
	}
	assert.Equal(t, in, out)
	assert.Nil(t, out[1].Sizing)
}

func TestLedgerCSV_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.csv")
	require.NoError(t, SaveLedgerCSV(path, ledger()))

	out, err := LoadLedgerCSV(path)
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestReadLedgerCSV_Errors(t *testing.T) {
	_, err := ReadLedgerCSV(strings.NewReader(""))
	assert.ErrorIs(t, err, core.ErrNoData)

	_, err = ReadLedgerCSV(strings.NewReader("a,b\n"))
	assert.True(t, core.IsSchemaError(err), "got %v", err)

	var buf bytes.Buffer
	require.NoError(t, WriteLedgerCSV(&buf, ledger()[:1]))
	bad := strings.Replace(buf.String(), ",tp,", ",moon,", 1)
	_, err = ReadLedgerCSV(strings.NewReader(bad))
	assert.True(t, core.IsSchemaError(err), "got %v", err)
}

func TestConsole_PrintMetrics(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleWriter(&buf)

	c.PrintMetrics("With Leverage (3x)", backtest.Evaluate(ledger()))
	out := buf.String()
	assert.Contains(t, out, "BACKTEST RESULTS")
	assert.Contains(t, out, "With Leverage (3x)")
	assert.Contains(t, out, "mixed(1x,3x)")
	assert.Contains(t, out, "0.500") // win rate
}

func TestConsole_PrintTrades(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleWriter(&buf)

	c.PrintTrades(ledger(), 1)
	out := buf.String()
	assert.Contains(t, out, "1013.79")
	assert.Contains(t, out, "1 more")

	buf.Reset()
	c.PrintTrades(nil, 0)
	assert.Contains(t, buf.String(), "no trades")
}

func TestSweepCSV(t *testing.T) {
	rows := []sweep.Row{
		{Mode: backtest.ModeUnit, TakeProfit: 0.002, Probability: 0.65, Metrics: backtest.EvaluateWithHint(nil, 1)},
		{Mode: backtest.ModeLeveraged, TakeProfit: 0.002, Probability: 0.65, Metrics: backtest.Evaluate(ledger())},
	}
	out := RenderSweepCSV(rows)

	recs, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "No Leverage", recs[1][0])
	assert.Equal(t, "1", recs[1][1])
	assert.Equal(t, "1", recs[1][8])
	assert.Equal(t, "mixed(1x,3x)", recs[2][1])

	var buf bytes.Buffer
	NewConsoleWriter(&buf).PrintSweep(rows)
	assert.Contains(t, buf.String(), "With Leverage")
}
