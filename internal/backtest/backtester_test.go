package backtest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newthinker/tpsl/internal/core"
	"github.com/newthinker/tpsl/internal/signal"
)

// mockProvider implements BarProvider for testing
type mockProvider struct {
	data []core.Bar
	err  error
}

func (m *mockProvider) FetchBars(ctx context.Context, symbol string) ([]core.Bar, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.data, nil
}

type mockRecorder struct {
	mu     sync.Mutex
	runs   int
	trades int
	exits  map[core.ExitReason]int
}

func (m *mockRecorder) RecordRun(mode string, trades int, halted bool, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs++
	m.trades += trades
}

func (m *mockRecorder) RecordExits(reasons map[core.ExitReason]int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exits = reasons
}

// regimeBars is flat and quiet for the first 30 bars, then turns volatile.
func regimeBars() []core.Bar {
	var out []core.Bar
	for i := 0; i < 40; i++ {
		spread := 0.05
		if i >= 30 {
			spread = 0.6
		}
		out = append(out, bar(i, 100, 100+spread, 100-spread, 100))
	}
	return out
}

func regimeFilter() signal.FilterConfig {
	return signal.FilterConfig{Threshold: 0.6, Multiplier: 1.2, ATRPeriod: 3, MedianWindow: 10}
}

func TestBacktester_Run(t *testing.T) {
	bars := regimeBars()
	var probs []core.ProbabilityPoint
	for _, b := range bars {
		probs = append(probs, core.ProbabilityPoint{Time: b.Time, Probability: 0.9})
	}

	rec := &mockRecorder{}
	bt := New(&mockProvider{data: bars}, signal.StaticSource{Points: probs}, WithRecorder(rec))

	overlay := DefaultOverlayConfig()
	result, err := bt.Run(context.Background(), Request{
		Symbol:  "BTCUSDT",
		Params:  DefaultParams(),
		Filter:  regimeFilter(),
		Overlay: &overlay,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, result.ID)
	assert.Equal(t, "BTCUSDT", result.Symbol)
	assert.Equal(t, len(bars), result.Signals)
	assert.Positive(t, result.Accepted)
	assert.Len(t, result.Ledger, result.Metrics.TotalTrades)
	assert.Len(t, result.Equity, len(result.Ledger))
	for _, tr := range result.Ledger {
		assert.False(t, tr.EntryTime.Before(bars[30].Time), "entry %v before the volatile regime", tr.EntryTime)
		// Wide bars cross both levels, take-profit wins.
		assert.Equal(t, core.ExitTakeProfit, tr.Reason)
	}

	require.NotNil(t, result.Realistic)
	assert.Len(t, result.Realistic.Ledger, len(result.Ledger))
	assert.Equal(t, "1", result.Realistic.Metrics.Leverage.String())

	assert.Equal(t, 1, rec.runs)
	assert.Equal(t, len(result.Ledger), rec.exits[core.ExitTakeProfit])
}

func constantProbs(bars []core.Bar, p float64) []core.ProbabilityPoint {
	out := make([]core.ProbabilityPoint, len(bars))
	for i, b := range bars {
		out[i] = core.ProbabilityPoint{Time: b.Time, Probability: p}
	}
	return out
}

func TestBacktester_UnknownProbabilityTimestamp(t *testing.T) {
	bars := regimeBars()[:5]
	probs := []core.ProbabilityPoint{
		{Time: bars[1].Time, Probability: 0.9},
		{Time: t0.Add(time.Hour), Probability: 0.9},
	}
	bt := New(&mockProvider{data: bars}, signal.StaticSource{Points: probs})

	_, err := bt.Run(context.Background(), Request{Symbol: "BTCUSDT", Params: DefaultParams(), Filter: regimeFilter()})
	assert.ErrorIs(t, err, core.ErrTimestampUnknown)
}

func TestBacktester_WindowWarmsUpOnEarlierBars(t *testing.T) {
	bars := regimeBars()
	bt := New(&mockProvider{data: bars}, signal.StaticSource{Points: constantProbs(bars, 0.9)})

	// The window holds only 10 bars, fewer than ATR plus its regime median
	// need; the bars before it supply that history.
	result, err := bt.Run(context.Background(), Request{
		Symbol: "BTCUSDT",
		Start:  bars[30].Time,
		Params: DefaultParams(),
		Filter: regimeFilter(),
	})
	require.NoError(t, err)

	assert.Equal(t, 10, result.Signals)
	assert.Equal(t, bars[30].Time, result.StartDate)
	assert.Equal(t, bars[39].Time, result.EndDate)
	require.NotEmpty(t, result.Ledger)
	assert.Equal(t, bars[30].Time, result.Ledger[0].EntryTime)
}

func TestBacktester_WindowEndKeepsForwardBars(t *testing.T) {
	bars := regimeBars()
	bt := New(&mockProvider{data: bars}, signal.StaticSource{Points: constantProbs(bars, 0.9)})

	result, err := bt.Run(context.Background(), Request{
		Symbol: "BTCUSDT",
		Start:  bars[30].Time,
		End:    bars[33].Time,
		Params: DefaultParams(),
		Filter: regimeFilter(),
	})
	require.NoError(t, err)

	assert.Equal(t, 4, result.Signals)
	assert.Equal(t, bars[33].Time, result.EndDate)
	require.NotEmpty(t, result.Ledger)
	last := result.Ledger[len(result.Ledger)-1]
	assert.Equal(t, bars[33].Time, last.EntryTime)
	assert.Equal(t, bars[34].Time, last.ExitTime, "exit resolves on the bar after the window")
}

func TestBacktester_EmptyWindow(t *testing.T) {
	bars := regimeBars()
	bt := New(&mockProvider{data: bars}, signal.StaticSource{})

	_, err := bt.Run(context.Background(), Request{
		Symbol: "BTCUSDT",
		Start:  bars[39].Time.Add(time.Hour),
		Params: DefaultParams(),
		Filter: regimeFilter(),
	})
	assert.ErrorIs(t, err, core.ErrNoData)
}

func TestBacktester_RunNoSignals(t *testing.T) {
	bt := New(&mockProvider{data: regimeBars()}, signal.StaticSource{})

	result, err := bt.Run(context.Background(), Request{Symbol: "BTCUSDT", Params: DefaultParams(), Filter: regimeFilter()})
	require.NoError(t, err)

	assert.Empty(t, result.Ledger)
	assert.Equal(t, 1.0, result.Metrics.FinalEquity)
	assert.Equal(t, "3", result.Metrics.Leverage.String())
	assert.Nil(t, result.Realistic)
}

func TestBacktester_NoData(t *testing.T) {
	bt := New(&mockProvider{}, signal.StaticSource{})
	_, err := bt.Run(context.Background(), Request{Symbol: "X", Params: DefaultParams(), Filter: regimeFilter()})
	assert.ErrorIs(t, err, core.ErrNoData)
}

func TestBacktester_ProviderError(t *testing.T) {
	boom := errors.New("exchange down")
	bt := New(&mockProvider{err: boom}, signal.StaticSource{})
	_, err := bt.Run(context.Background(), Request{Symbol: "X", Params: DefaultParams(), Filter: regimeFilter()})
	assert.ErrorIs(t, err, boom)
}

func TestBacktester_ConfigCheckedFirst(t *testing.T) {
	provider := &mockProvider{err: errors.New("must not be called")}
	bt := New(provider, signal.StaticSource{})

	p := DefaultParams()
	p.Leverage = -1
	_, err := bt.Run(context.Background(), Request{Symbol: "X", Params: p, Filter: regimeFilter()})
	assert.True(t, core.IsConfigError(err), "got %v", err)
}

func TestBacktester_InvalidBars(t *testing.T) {
	bars := regimeBars()
	bars[3].Low = -1
	bt := New(&mockProvider{data: bars}, signal.StaticSource{})
	_, err := bt.Run(context.Background(), Request{Symbol: "X", Params: DefaultParams(), Filter: regimeFilter()})
	assert.True(t, core.IsSchemaError(err), "got %v", err)
}

func TestExitCounts(t *testing.T) {
	l := Ledger{{Reason: core.ExitTakeProfit}, {Reason: core.ExitTimeout}, {Reason: core.ExitTakeProfit}}
	c := ExitCounts(l)
	assert.Equal(t, 2, c[core.ExitTakeProfit])
	assert.Equal(t, 1, c[core.ExitTimeout])
	assert.Zero(t, c[core.ExitStopLoss])
}
