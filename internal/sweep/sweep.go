// Package sweep runs the simulation over a grid of take-profit and
// probability-threshold values, in both sizing modes.
package sweep

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/newthinker/tpsl/internal/backtest"
	"github.com/newthinker/tpsl/internal/core"
	"github.com/newthinker/tpsl/internal/series"
	"github.com/newthinker/tpsl/internal/signal"
)

// Grid is the parameter space of a sweep.
type Grid struct {
	TPValues   []float64 `json:"tp_values" mapstructure:"tp_values"`
	ProbValues []float64 `json:"prob_values" mapstructure:"prob_values"`
}

// DefaultGrid covers TP 0.16%..0.25% against thresholds 0.65, 0.70, 0.75.
func DefaultGrid() Grid {
	return Grid{
		TPValues:   []float64{0.0016, 0.0017, 0.0018, 0.0019, 0.0020, 0.0021, 0.0022, 0.0023, 0.0024, 0.0025},
		ProbValues: []float64{0.65, 0.70, 0.75},
	}
}

// Validate checks the grid is non-empty and every value is usable.
func (g Grid) Validate() error {
	if len(g.TPValues) == 0 || len(g.ProbValues) == 0 {
		return core.Errorf(core.ErrConfigInvalid, "sweep grid needs at least one tp and one prob value")
	}
	for _, tp := range g.TPValues {
		if !(tp > 0) {
			return core.Errorf(core.ErrConfigInvalid, "tp value must be > 0, got %v", tp)
		}
	}
	for _, p := range g.ProbValues {
		if !(p >= 0 && p <= 1) {
			return core.Errorf(core.ErrConfigInvalid, "prob value must be in [0,1], got %v", p)
		}
	}
	return nil
}

// Row is one cell of the sweep in one mode.
type Row struct {
	Mode        backtest.Mode    `json:"mode"`
	TakeProfit  float64          `json:"take_profit"`
	Probability float64          `json:"probability"`
	Metrics     backtest.Metrics `json:"metrics"`
}

// Label returns the human mode name used in reports.
func (r Row) Label() string {
	if r.Mode == backtest.ModeLeveraged {
		return "With Leverage"
	}
	return "No Leverage"
}

// Recorder receives one observation per evaluated row.
type Recorder interface {
	RecordSweepCell(mode string, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordSweepCell(string, time.Duration) {}

// Runner executes sweeps. Each cell owns its own simulator and capital
// ledger, so cells run concurrently.
type Runner struct {
	base     backtest.Params
	filter   signal.FilterConfig
	workers  int
	logger   *zap.Logger
	recorder Recorder
}

// Option configures a Runner.
type Option func(*Runner)

// WithWorkers bounds how many cells run at once.
func WithWorkers(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithLogger sets the runner logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithRecorder sets where cell observations go.
func WithRecorder(rec Recorder) Option {
	return func(r *Runner) {
		if rec != nil {
			r.recorder = rec
		}
	}
}

// NewRunner returns a Runner whose cells start from base and filter, with
// TP and threshold replaced per cell.
func NewRunner(base backtest.Params, filter signal.FilterConfig, opts ...Option) *Runner {
	r := &Runner{
		base:     base,
		filter:   filter,
		workers:  runtime.GOMAXPROCS(0),
		logger:   zap.NewNop(),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run evaluates every grid cell. Rows come back in grid order: for each TP,
// for each threshold, the unit row then the leveraged row.
func (r *Runner) Run(ctx context.Context, bars *series.Series, probs []core.ProbabilityPoint, grid Grid) ([]Row, error) {
	if err := grid.Validate(); err != nil {
		return nil, err
	}

	// Decisions depend only on the threshold, so compute them once per value.
	decisions := make([][]signal.Decision, len(grid.ProbValues))
	for i, p := range grid.ProbValues {
		cfg := r.filter
		cfg.Threshold = p
		f, err := signal.NewFilter(cfg)
		if err != nil {
			return nil, err
		}
		if decisions[i], err = f.Evaluate(bars, probs); err != nil {
			return nil, err
		}
	}

	modes := []backtest.Mode{backtest.ModeUnit, backtest.ModeLeveraged}
	rows := make([]Row, len(grid.TPValues)*len(grid.ProbValues)*len(modes))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for ti, tp := range grid.TPValues {
		for pi, prob := range grid.ProbValues {
			for mi, mode := range modes {
				idx := (ti*len(grid.ProbValues)+pi)*len(modes) + mi
				g.Go(func() error {
					row, err := r.cell(ctx, bars, decisions[pi], tp, prob, mode)
					if err != nil {
						return fmt.Errorf("sweep tp=%g prob=%g mode=%s: %w", tp, prob, mode, err)
					}
					rows[idx] = row
					return nil
				})
			}
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	r.logger.Info("sweep complete", zap.Int("rows", len(rows)))
	return rows, nil
}

func (r *Runner) cell(ctx context.Context, bars *series.Series, decisions []signal.Decision, tp, prob float64, mode backtest.Mode) (Row, error) {
	started := time.Now()

	params := r.base
	params.TPPct = tp
	params.Mode = mode
	hint := params.Leverage
	if mode == backtest.ModeUnit {
		hint = 1
	}

	sim, err := backtest.NewSimulator(params, backtest.WithLogger(r.logger), backtest.WithWorkers(1))
	if err != nil {
		return Row{}, err
	}
	run, err := sim.Simulate(ctx, bars, decisions)
	if err != nil {
		return Row{}, err
	}

	r.recorder.RecordSweepCell(string(mode), time.Since(started))
	r.logger.Debug("sweep cell",
		zap.Float64("tp", tp),
		zap.Float64("prob", prob),
		zap.String("mode", string(mode)),
		zap.Int("trades", len(run.Ledger)),
	)
	return Row{
		Mode:        mode,
		TakeProfit:  tp,
		Probability: prob,
		Metrics:     backtest.EvaluateWithHint(run.Ledger, hint),
	}, nil
}
