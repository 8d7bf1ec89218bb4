package backtest

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/newthinker/tpsl/internal/core"
	"github.com/newthinker/tpsl/internal/series"
	"github.com/newthinker/tpsl/internal/signal"
)

// Params configures one simulation run.
type Params struct {
	Mode            Mode    `json:"mode" mapstructure:"mode"`
	TPPct           float64 `json:"tp_pct" mapstructure:"tp_pct"`
	SLPct           float64 `json:"sl_pct" mapstructure:"sl_pct"`
	MaxHold         int     `json:"max_hold" mapstructure:"max_hold"`
	Leverage        float64 `json:"leverage" mapstructure:"leverage"`
	CapitalFraction float64 `json:"capital_fraction" mapstructure:"capital_fraction"`
	InitialCapital  float64 `json:"initial_capital" mapstructure:"initial_capital"`
	FeePct          float64 `json:"fee_pct" mapstructure:"fee_pct"`
}

// DefaultParams returns the leveraged defaults: TP 0.23%, SL 0.08%, 5-bar
// hold, 3x leverage on full capital of 1000, 0.04% fee per side.
func DefaultParams() Params {
	return Params{
		Mode:            ModeLeveraged,
		TPPct:           0.0023,
		SLPct:           0.0008,
		MaxHold:         DefaultMaxHold,
		Leverage:        3,
		CapitalFraction: 1,
		InitialCapital:  1000,
		FeePct:          0.0004,
	}
}

// Validate checks the run parameters before any simulation step runs.
func (p Params) Validate() error {
	switch p.Mode {
	case ModeUnit, ModeLeveraged:
	default:
		return core.Errorf(core.ErrConfigInvalid, "unknown mode %q", p.Mode)
	}
	if !(p.TPPct > 0) || math.IsInf(p.TPPct, 0) {
		return core.Errorf(core.ErrConfigInvalid, "tp_pct must be > 0, got %v", p.TPPct)
	}
	if !(p.SLPct > 0 && p.SLPct < 1) {
		return core.Errorf(core.ErrConfigInvalid, "sl_pct must be in (0, 1), got %v", p.SLPct)
	}
	if p.MaxHold <= 0 {
		return core.Errorf(core.ErrConfigInvalid, "max_hold must be > 0, got %d", p.MaxHold)
	}
	if p.Mode == ModeUnit {
		if !(p.FeePct >= 0) {
			return core.Errorf(core.ErrConfigInvalid, "fee_pct must be >= 0, got %v", p.FeePct)
		}
		return nil
	}
	return p.capital().Validate()
}

func (p Params) capital() CapitalConfig {
	return CapitalConfig{
		InitialCapital:  p.InitialCapital,
		Leverage:        p.Leverage,
		CapitalFraction: p.CapitalFraction,
		FeePct:          p.FeePct,
	}
}

// Unit returns a copy of p in unit mode.
func (p Params) Unit() Params {
	p.Mode = ModeUnit
	return p
}

// Run is the output of one simulation.
type Run struct {
	Ledger       Ledger
	Accepted     int  // Entry decisions seen
	Skipped      int  // Entries dropped for lack of forward bars
	Halted       bool // Capital reached zero before all entries were processed
	FinalCapital float64
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithLogger sets the simulator logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Simulator) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithWorkers bounds the exit-resolution fan-out.
func WithWorkers(n int) Option {
	return func(s *Simulator) {
		if n > 0 {
			s.workers = n
		}
	}
}

// Simulator resolves exits for accepted entries and folds them through the
// capital ledger in time order.
type Simulator struct {
	params  Params
	logger  *zap.Logger
	workers int
}

// NewSimulator validates params and returns a Simulator.
func NewSimulator(params Params, opts ...Option) (*Simulator, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	s := &Simulator{
		params:  params,
		logger:  zap.NewNop(),
		workers: runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Params returns the run parameters.
func (s *Simulator) Params() Params {
	return s.params
}

// entry is an accepted decision located in the bar series.
type entry struct {
	time  time.Time
	price float64
	index int
}

// Simulate runs the pipeline over decisions, which must be in time order.
// Exits are resolved concurrently; capital is folded sequentially afterwards.
func (s *Simulator) Simulate(ctx context.Context, bars *series.Series, decisions []signal.Decision) (*Run, error) {
	entries, err := s.locate(bars, decisions)
	if err != nil {
		return nil, err
	}

	run := &Run{Accepted: len(entries), Ledger: Ledger{}}

	// Entries at the end of the series have nothing to resolve against.
	dispatch := entries[:0:0]
	for _, e := range entries {
		if e.index >= bars.Len()-1 {
			run.Skipped++
			s.logger.Debug("entry skipped, no forward bars", zap.Time("entry_time", e.time))
			continue
		}
		dispatch = append(dispatch, e)
	}

	outcomes, err := s.resolveAll(ctx, bars, dispatch)
	if err != nil {
		return nil, err
	}

	if s.params.Mode == ModeUnit {
		for i, e := range dispatch {
			run.Ledger = append(run.Ledger, s.unitTrade(e, outcomes[i]))
		}
		s.logger.Info("simulation complete",
			zap.String("mode", string(s.params.Mode)),
			zap.Int("accepted", run.Accepted),
			zap.Int("trades", len(run.Ledger)),
		)
		return run, nil
	}

	ledger, err := NewCapitalLedger(s.params.capital())
	if err != nil {
		return nil, err
	}
	for i, e := range dispatch {
		if ledger.Exhausted() {
			run.Halted = true
			s.logger.Info("capital exhausted, halting",
				zap.Time("entry_time", e.time),
				zap.Int("trades", len(run.Ledger)),
				zap.Int("remaining_entries", len(dispatch)-i),
			)
			break
		}
		sizing, err := ledger.Step(e.price, outcomes[i].Price)
		if err != nil {
			return nil, err
		}
		run.Ledger = append(run.Ledger, s.leveragedTrade(e, outcomes[i], sizing))
	}
	run.FinalCapital = ledger.Capital()

	s.logger.Info("simulation complete",
		zap.String("mode", string(s.params.Mode)),
		zap.Int("accepted", run.Accepted),
		zap.Int("trades", len(run.Ledger)),
		zap.Float64("final_capital", run.FinalCapital),
		zap.Bool("halted", run.Halted),
	)
	return run, nil
}

// locate validates decisions against the series and keeps accepted ones.
func (s *Simulator) locate(bars *series.Series, decisions []signal.Decision) ([]entry, error) {
	for i, d := range decisions {
		if i > 0 && !d.Time.After(decisions[i-1].Time) {
			return nil, core.Errorf(core.ErrSchemaInvalid, "decision %d at %s is not after previous", i, d.Time.Format(time.RFC3339))
		}
		if _, ok := bars.IndexOf(d.Time); !ok {
			return nil, core.WrapError(core.ErrTimestampUnknown, fmt.Errorf("decision at %s", d.Time.Format(time.RFC3339)))
		}
	}

	accepted := signal.Accepted(decisions)
	entries := make([]entry, 0, len(accepted))
	for _, d := range accepted {
		idx, _ := bars.IndexOf(d.Time)
		entries = append(entries, entry{time: d.Time, price: bars.At(idx).Close, index: idx})
	}
	return entries, nil
}

// resolveAll resolves every entry's exit. Each resolution is pure, so they
// run in parallel; results keep the input order.
func (s *Simulator) resolveAll(ctx context.Context, bars *series.Series, entries []entry) ([]ExitOutcome, error) {
	outcomes := make([]ExitOutcome, len(entries))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, e := range entries {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out, err := Resolve(e.time, e.price, s.params.TPPct, s.params.SLPct, bars.Forward(e.index, s.params.MaxHold))
			if err != nil {
				return err
			}
			outcomes[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

func (s *Simulator) unitTrade(e entry, out ExitOutcome) Trade {
	gross := (out.Price - e.price) / e.price
	net := gross - 2*s.params.FeePct
	return Trade{
		EntryTime:   e.time,
		ExitTime:    out.Time,
		EntryPrice:  e.price,
		ExitPrice:   out.Price,
		Reason:      out.Reason,
		GrossReturn: gross,
		NetReturn:   net,
		PnL:         net,
		Leverage:    1,
	}
}

func (s *Simulator) leveragedTrade(e entry, out ExitOutcome, sz Sizing) Trade {
	s.logger.Debug("trade booked",
		zap.Time("entry_time", e.time),
		zap.String("reason", string(out.Reason)),
		zap.Float64("net_pnl", sz.NetPnL),
		zap.Float64("capital_after", sz.CapitalAfter),
	)
	return Trade{
		EntryTime:   e.time,
		ExitTime:    out.Time,
		EntryPrice:  e.price,
		ExitPrice:   out.Price,
		Reason:      out.Reason,
		GrossReturn: (out.Price - e.price) / e.price,
		NetReturn:   sz.NetPnL / sz.CapitalBefore,
		PnL:         (sz.CapitalAfter - sz.CapitalBefore) / sz.CapitalBefore,
		Leverage:    s.params.Leverage,
		Sizing:      &sz,
	}
}

// Simulate is the one-shot form of Simulator.Simulate.
func Simulate(ctx context.Context, bars *series.Series, decisions []signal.Decision, params Params) (Ledger, error) {
	sim, err := NewSimulator(params)
	if err != nil {
		return nil, err
	}
	run, err := sim.Simulate(ctx, bars, decisions)
	if err != nil {
		return nil, err
	}
	return run.Ledger, nil
}
