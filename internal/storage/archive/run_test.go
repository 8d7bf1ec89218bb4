package archive

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newthinker/tpsl/internal/backtest"
	"github.com/newthinker/tpsl/internal/core"
	"github.com/newthinker/tpsl/internal/sweep"
)

func sampleRun(id string) *backtest.Result {
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	ledger := backtest.Ledger{{
		EntryTime: t0, ExitTime: t0.Add(time.Minute), EntryPrice: 100, ExitPrice: 99.92,
		Reason: core.ExitStopLoss, GrossReturn: -0.0008, NetReturn: -0.0016, PnL: -0.0016, Leverage: 1,
	}}
	repriced, _ := backtest.Reprice(ledger, backtest.DefaultOverlayConfig())
	return &backtest.Result{
		ID:        id,
		Symbol:    "BTCUSDT",
		Params:    backtest.DefaultParams().Unit(),
		Ledger:    ledger,
		Metrics:   backtest.Evaluate(ledger),
		Realistic: &backtest.OverlayResult{Config: backtest.DefaultOverlayConfig(), Ledger: repriced, Metrics: backtest.Evaluate(repriced)},
		CreatedAt: t0,
	}
}

func TestRunArchive_SaveLoad(t *testing.T) {
	fs, err := NewLocalFS(t.TempDir())
	require.NoError(t, err)
	a := NewRunArchive(fs)
	ctx := context.Background()

	written, err := a.SaveRun(ctx, sampleRun("r1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"runs/r1/result.json", "runs/r1/trades.csv", "runs/r1/trades_realistic.csv"}, written)

	got, err := a.LoadRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", got.Symbol)
	assert.Equal(t, 0.0, got.Metrics.ProfitFactor)
	require.NotNil(t, got.Realistic)

	ledger, err := a.LoadLedger(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, core.ExitStopLoss, ledger[0].Reason)

	_, err = a.SaveRun(ctx, sampleRun("r2"))
	require.NoError(t, err)
	ids, err := a.ListRuns(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r2"}, ids)

	require.NoError(t, a.DeleteRun(ctx, "r1"))
	_, err = a.LoadRun(ctx, "r1")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestRunArchive_SaveSweep(t *testing.T) {
	fs, err := NewLocalFS(t.TempDir())
	require.NoError(t, err)
	a := NewRunArchive(fs)

	p, err := a.SaveSweep(context.Background(), "s1", []sweep.Row{{Mode: backtest.ModeUnit, Metrics: backtest.Evaluate(nil)}})
	require.NoError(t, err)
	assert.Equal(t, "sweeps/s1.csv", p)

	data, err := fs.Read(context.Background(), p)
	require.NoError(t, err)
	assert.Contains(t, string(data), "No Leverage")
}

func TestRunArchive_RequiresID(t *testing.T) {
	fs, _ := NewLocalFS(t.TempDir())
	_, err := NewRunArchive(fs).SaveRun(context.Background(), &backtest.Result{})
	assert.Error(t, err)
}
