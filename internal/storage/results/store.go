// Package results persists backtest runs and sweep rows.
package results

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/newthinker/tpsl/internal/backtest"
	"github.com/newthinker/tpsl/internal/core"
	"github.com/newthinker/tpsl/internal/sweep"
)

// Store defines the interface for result persistence.
type Store interface {
	// SaveRun persists a run with its ledger. Saving an existing ID replaces it.
	SaveRun(ctx context.Context, r *backtest.Result) error

	// GetRun retrieves a run by its ID, or core.ErrNotFound.
	GetRun(ctx context.Context, id string) (*backtest.Result, error)

	// ListRuns returns run summaries matching the filter, newest first.
	ListRuns(ctx context.Context, filter ListFilter) ([]RunSummary, error)

	// CountRuns returns the number of runs matching the filter.
	CountRuns(ctx context.Context, filter ListFilter) (int, error)

	// SaveSweep persists sweep rows under sweepID, in order.
	SaveSweep(ctx context.Context, sweepID string, rows []sweep.Row) error

	// GetSweep returns the rows of a sweep in the order they were saved.
	GetSweep(ctx context.Context, sweepID string) ([]sweep.Row, error)

	Close() error
}

// ListFilter defines criteria for listing runs.
type ListFilter struct {
	Symbol string
	Mode   backtest.Mode
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

// RunSummary is the queryable projection of a run.
type RunSummary struct {
	ID            string        `json:"id"`
	Symbol        string        `json:"symbol"`
	Mode          backtest.Mode `json:"mode"`
	TPPct         float64       `json:"tp_pct"`
	ProbThreshold float64       `json:"prob_threshold"`
	Leverage      string        `json:"leverage"`
	TotalTrades   int           `json:"total_trades"`
	WinRate       float64       `json:"win_rate"`
	ProfitFactor  float64       `json:"profit_factor"`
	Expectancy    float64       `json:"expectancy"`
	FinalEquity   float64       `json:"final_equity"`
	MaxDrawdown   float64       `json:"max_drawdown"`
	Halted        bool          `json:"halted"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Summarize projects a result onto its summary.
func Summarize(r *backtest.Result) RunSummary {
	return RunSummary{
		ID:            r.ID,
		Symbol:        r.Symbol,
		Mode:          r.Params.Mode,
		TPPct:         r.Params.TPPct,
		ProbThreshold: r.Filter.Threshold,
		Leverage:      r.Metrics.Leverage.String(),
		TotalTrades:   r.Metrics.TotalTrades,
		WinRate:       r.Metrics.WinRate,
		ProfitFactor:  r.Metrics.ProfitFactor,
		Expectancy:    r.Metrics.Expectancy,
		FinalEquity:   r.Metrics.FinalEquity,
		MaxDrawdown:   r.Metrics.MaxDrawdown,
		Halted:        r.Halted,
		CreatedAt:     r.CreatedAt,
	}
}

// MarshalJSON encodes an infinite profit factor as "inf".
func (s RunSummary) MarshalJSON() ([]byte, error) {
	type plain RunSummary
	aux := struct {
		plain
		ProfitFactor any `json:"profit_factor"`
	}{plain: plain(s), ProfitFactor: s.ProfitFactor}
	if math.IsInf(s.ProfitFactor, 1) {
		aux.ProfitFactor = "inf"
	}
	return json.Marshal(aux)
}

// nullableFloat maps +Inf to SQL NULL.
func nullableFloat(v float64) *float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return &v
}

// fromNullable maps SQL NULL back to +Inf.
func fromNullable(v *float64) float64 {
	if v == nil {
		return math.Inf(1)
	}
	return *v
}

func storageErr(op string, err error) error {
	return core.WrapError(core.ErrStorageFailed, fmt.Errorf("%s: %w", op, err))
}

func notFound(kind, id string) error {
	return core.Errorf(core.ErrNotFound, "%s %q", kind, id)
}

func encodeResult(r *backtest.Result) ([]byte, error) {
	return json.Marshal(r)
}

func decodeResult(data []byte) (*backtest.Result, error) {
	var r backtest.Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// decodeRow rebuilds a sweep row from its stored columns.
func decodeRow(mode, leverage string, tp, prob float64, trades int, winRate float64, pf *float64, expectancy, equity, dd float64) (sweep.Row, error) {
	lev, err := backtest.ParseLeverage(leverage)
	if err != nil {
		return sweep.Row{}, err
	}
	return sweep.Row{
		Mode:        backtest.Mode(mode),
		TakeProfit:  tp,
		Probability: prob,
		Metrics: backtest.Metrics{
			TotalTrades:  trades,
			WinRate:      winRate,
			ProfitFactor: fromNullable(pf),
			Expectancy:   expectancy,
			FinalEquity:  equity,
			MaxDrawdown:  dd,
			Leverage:     lev,
		},
	}, nil
}
