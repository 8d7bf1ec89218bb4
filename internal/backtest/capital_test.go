package backtest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newthinker/tpsl/internal/core"
)

func TestStepCapital_Sizing(t *testing.T) {
	s := StepCapital(1000, 100, 101, 3, 0.5, 0.0004)

	assert.InDelta(t, 500, s.MarginUsed, 1e-9)
	assert.InDelta(t, 1500, s.Notional, 1e-9)
	assert.InDelta(t, 15, s.Quantity, 1e-9)
	assert.InDelta(t, 1515, s.ExitNotional, 1e-9)
	assert.InDelta(t, 15, s.GrossPnL, 1e-9)
	assert.InDelta(t, 1.206, s.Fees, 1e-9)
	assert.InDelta(t, 0.6, s.EntryFee, 1e-9)
	assert.InDelta(t, 0.606, s.ExitFee, 1e-9)
	assert.InDelta(t, 13.794, s.NetPnL, 1e-9)
	assert.InDelta(t, 1013.794, s.CapitalAfter, 1e-9)
	assert.Equal(t, 1000.0, s.CapitalBefore)
}

func TestStepCapital_FloorsAtZero(t *testing.T) {
	// 10x on full capital, price halves: loss far exceeds capital.
	s := StepCapital(100, 100, 50, 10, 1, 0)

	assert.Less(t, s.NetPnL, -100.0)
	assert.Equal(t, 0.0, s.CapitalAfter)
}

func TestCapitalConfig_Validate(t *testing.T) {
	valid := CapitalConfig{InitialCapital: 1000, Leverage: 3, CapitalFraction: 1, FeePct: 0.0004}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*CapitalConfig)
	}{
		{"zero leverage", func(c *CapitalConfig) { c.Leverage = 0 }},
		{"negative leverage", func(c *CapitalConfig) { c.Leverage = -2 }},
		{"zero fraction", func(c *CapitalConfig) { c.CapitalFraction = 0 }},
		{"fraction above one", func(c *CapitalConfig) { c.CapitalFraction = 1.01 }},
		{"zero capital", func(c *CapitalConfig) { c.InitialCapital = 0 }},
		{"negative fee", func(c *CapitalConfig) { c.FeePct = -0.1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			assert.True(t, errors.Is(err, core.ErrConfigInvalid), "got %v", err)
		})
	}
}

func TestCapitalLedger_StepThreadsCapital(t *testing.T) {
	l, err := NewCapitalLedger(CapitalConfig{InitialCapital: 1000, Leverage: 3, CapitalFraction: 0.5, FeePct: 0.0004})
	require.NoError(t, err)

	first, err := l.Step(100, 101)
	require.NoError(t, err)
	second, err := l.Step(100, 99)
	require.NoError(t, err)

	assert.Equal(t, first.CapitalAfter, second.CapitalBefore)
	assert.InDelta(t, first.CapitalAfter*0.5, second.MarginUsed, 1e-9)
	assert.Equal(t, second.CapitalAfter, l.Capital())
	assert.Equal(t, 2, l.Trades())
}

func TestCapitalLedger_RefusesExhaustedCapital(t *testing.T) {
	l, err := NewCapitalLedger(CapitalConfig{InitialCapital: 100, Leverage: 10, CapitalFraction: 1})
	require.NoError(t, err)

	_, err = l.Step(100, 50)
	require.NoError(t, err)
	require.True(t, l.Exhausted())

	_, err = l.Step(100, 101)
	assert.ErrorIs(t, err, core.ErrCapitalExhausted)
	assert.Equal(t, 1, l.Trades())
}
