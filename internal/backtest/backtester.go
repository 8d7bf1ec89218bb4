package backtest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/newthinker/tpsl/internal/core"
	"github.com/newthinker/tpsl/internal/series"
	"github.com/newthinker/tpsl/internal/signal"
)

// BarProvider returns the full bar history held for a symbol. Run applies the
// request window itself so indicators always warm up on the earlier bars.
type BarProvider interface {
	FetchBars(ctx context.Context, symbol string) ([]core.Bar, error)
}

// Recorder receives per-run observations. metrics.Registry implements it.
type Recorder interface {
	RecordRun(mode string, trades int, halted bool, duration time.Duration)
	RecordExits(reasons map[core.ExitReason]int)
}

type nopRecorder struct{}

func (nopRecorder) RecordRun(string, int, bool, time.Duration) {}
func (nopRecorder) RecordExits(map[core.ExitReason]int)        {}

// Request describes one backtest.
type Request struct {
	Symbol string `json:"symbol"`
	// Start and End bound the signals that are evaluated. Zero is open.
	// ATR, its regime median and exit windows still read bars outside them.
	Start   time.Time           `json:"start,omitempty"`
	End     time.Time           `json:"end,omitempty"`
	Params  Params              `json:"params"`
	Filter  signal.FilterConfig `json:"filter"`
	Overlay *OverlayConfig      `json:"overlay,omitempty"` // nil skips the realistic re-pricing
}

// OverlayResult is the cost-overlay view of a run.
type OverlayResult struct {
	Config  OverlayConfig `json:"config"`
	Ledger  Ledger        `json:"ledger"`
	Equity  []EquityPoint `json:"equity"`
	Metrics Metrics       `json:"metrics"`
}

// Result contains the complete results of a backtest run
type Result struct {
	ID           string              `json:"id"`
	Symbol       string              `json:"symbol"`
	StartDate    time.Time           `json:"start_date"`
	EndDate      time.Time           `json:"end_date"`
	Params       Params              `json:"params"`
	Filter       signal.FilterConfig `json:"filter"`
	Signals      int                 `json:"signals"`  // Probability points evaluated
	Accepted     int                 `json:"accepted"` // Decisions that entered
	Skipped      int                 `json:"skipped"`
	Halted       bool                `json:"halted"`
	FinalCapital float64             `json:"final_capital,omitempty"`
	Ledger       Ledger              `json:"ledger"`
	Equity       []EquityPoint       `json:"equity"`
	Metrics      Metrics             `json:"metrics"`
	Realistic    *OverlayResult      `json:"realistic,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
}

// Backtester runs the filter, simulator, aggregator and overlay over
// historical data pulled from its collaborators.
type Backtester struct {
	provider BarProvider
	source   signal.ProbabilitySource
	logger   *zap.Logger
	recorder Recorder
}

// BacktesterOption configures a Backtester.
type BacktesterOption func(*Backtester)

// WithBacktestLogger sets the logger passed down to each simulation.
func WithBacktestLogger(l *zap.Logger) BacktesterOption {
	return func(b *Backtester) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithRecorder sets where run observations are reported.
func WithRecorder(r Recorder) BacktesterOption {
	return func(b *Backtester) {
		if r != nil {
			b.recorder = r
		}
	}
}

// New creates a new Backtester with the given bar provider and probability source
func New(provider BarProvider, source signal.ProbabilitySource, opts ...BacktesterOption) *Backtester {
	b := &Backtester{
		provider: provider,
		source:   source,
		logger:   zap.NewNop(),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run executes one backtest. Configuration is validated before any data is fetched.
func (b *Backtester) Run(ctx context.Context, req Request) (*Result, error) {
	started := time.Now()

	filter, err := signal.NewFilter(req.Filter)
	if err != nil {
		return nil, err
	}
	sim, err := NewSimulator(req.Params, WithLogger(b.logger.With(zap.String("symbol", req.Symbol))))
	if err != nil {
		return nil, err
	}
	if req.Overlay != nil {
		if err := req.Overlay.Validate(); err != nil {
			return nil, err
		}
	}

	raw, err := b.provider.FetchBars(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, core.Errorf(core.ErrNoData, "no bars for %s", req.Symbol)
	}
	bars, err := series.New(raw)
	if err != nil {
		return nil, err
	}
	window := bars.Between(req.Start, req.End)
	if len(window) == 0 {
		return nil, core.Errorf(core.ErrNoData, "no bars for %s between %s and %s",
			req.Symbol, req.Start.Format(time.RFC3339), req.End.Format(time.RFC3339))
	}

	probs, err := b.source.Probabilities(ctx, req.Symbol, bars)
	if err != nil {
		return nil, err
	}
	decisions, err := filter.Evaluate(bars, inWindow(probs, req.Start, req.End))
	if err != nil {
		return nil, err
	}

	run, err := sim.Simulate(ctx, bars, decisions)
	if err != nil {
		return nil, err
	}

	hint := 1.0
	if req.Params.Mode == ModeLeveraged {
		hint = req.Params.Leverage
	}
	result := &Result{
		ID:           uuid.NewString(),
		Symbol:       req.Symbol,
		StartDate:    window[0].Time,
		EndDate:      window[len(window)-1].Time,
		Params:       req.Params,
		Filter:       req.Filter,
		Signals:      len(decisions),
		Accepted:     run.Accepted,
		Skipped:      run.Skipped,
		Halted:       run.Halted,
		FinalCapital: run.FinalCapital,
		Ledger:       run.Ledger,
		Equity:       EquityCurve(run.Ledger),
		Metrics:      EvaluateWithHint(run.Ledger, hint),
		CreatedAt:    time.Now().UTC(),
	}

	if req.Overlay != nil {
		repriced, err := Reprice(run.Ledger, *req.Overlay)
		if err != nil {
			return nil, err
		}
		result.Realistic = &OverlayResult{
			Config:  *req.Overlay,
			Ledger:  repriced,
			Equity:  EquityCurve(repriced),
			Metrics: EvaluateWithHint(repriced, 1),
		}
	}

	b.recorder.RecordRun(string(req.Params.Mode), len(run.Ledger), run.Halted, time.Since(started))
	b.recorder.RecordExits(ExitCounts(run.Ledger))

	b.logger.Info("backtest complete",
		zap.String("id", result.ID),
		zap.String("symbol", req.Symbol),
		zap.Int("trades", result.Metrics.TotalTrades),
		zap.Float64("final_equity", result.Metrics.FinalEquity),
		zap.Duration("elapsed", time.Since(started)),
	)
	return result, nil
}

// inWindow keeps the points inside [start, end]. With both bounds zero every
// point is kept, so ones the bars do not cover reach Evaluate and fail there.
func inWindow(points []core.ProbabilityPoint, start, end time.Time) []core.ProbabilityPoint {
	if start.IsZero() && end.IsZero() {
		return points
	}
	out := make([]core.ProbabilityPoint, 0, len(points))
	for _, p := range points {
		if !start.IsZero() && p.Time.Before(start) {
			continue
		}
		if !end.IsZero() && p.Time.After(end) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// ExitCounts tallies trades by exit reason.
func ExitCounts(ledger Ledger) map[core.ExitReason]int {
	counts := make(map[core.ExitReason]int, 3)
	for _, t := range ledger {
		counts[t.Reason]++
	}
	return counts
}
