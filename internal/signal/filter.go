// Package signal turns model probabilities into per-bar entry decisions.
package signal

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/newthinker/tpsl/internal/core"
	"github.com/newthinker/tpsl/internal/indicator"
	"github.com/newthinker/tpsl/internal/series"
)

// ProbabilitySource is the predictive-model collaborator. Implementations
// return one probability per bar timestamp they produced a value for.
type ProbabilitySource interface {
	Probabilities(ctx context.Context, symbol string, bars *series.Series) ([]core.ProbabilityPoint, error)
}

// FilterConfig parameterises the entry predicate.
type FilterConfig struct {
	Threshold    float64 `json:"prob_threshold" mapstructure:"prob_threshold"`
	Multiplier   float64 `json:"multiplier" mapstructure:"multiplier"`
	ATRPeriod    int     `json:"atr_period" mapstructure:"atr_period"`
	MedianWindow int     `json:"median_window" mapstructure:"median_window"`
}

// DefaultFilterConfig returns the production regime filter: ATR(14) above
// 1.2x its 100-bar rolling median, probability above 0.65.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		Threshold:    0.65,
		Multiplier:   1.2,
		ATRPeriod:    14,
		MedianWindow: 100,
	}
}

// Validate checks the filter parameters.
func (c FilterConfig) Validate() error {
	if math.IsNaN(c.Threshold) || c.Threshold < 0 || c.Threshold > 1 {
		return core.Errorf(core.ErrConfigInvalid, "prob_threshold must be in [0,1], got %v", c.Threshold)
	}
	if !(c.Multiplier > 0) {
		return core.Errorf(core.ErrConfigInvalid, "multiplier must be positive, got %v", c.Multiplier)
	}
	if c.ATRPeriod <= 0 {
		return core.Errorf(core.ErrConfigInvalid, "atr_period must be positive, got %d", c.ATRPeriod)
	}
	if c.MedianWindow <= 0 {
		return core.Errorf(core.ErrConfigInvalid, "median_window must be positive, got %d", c.MedianWindow)
	}
	return nil
}

// Decision is the filter's verdict for one timestamp.
type Decision struct {
	Time        time.Time `json:"time"`
	Probability float64   `json:"probability"`
	Volatility  float64   `json:"volatility"`
	Regime      float64   `json:"regime"`
	Enter       bool      `json:"enter"`
}

// Filter evaluates the entry predicate row by row. It holds no state between calls.
type Filter struct {
	cfg FilterConfig
}

// NewFilter validates cfg and returns a Filter.
func NewFilter(cfg FilterConfig) (*Filter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Filter{cfg: cfg}, nil
}

// Config returns the filter parameters.
func (f *Filter) Config() FilterConfig {
	return f.cfg
}

// Enter is the per-row predicate. Rows without enough history for the
// volatility measure (NaN inputs) never enter.
func (f *Filter) Enter(probability, volatility, regime float64) bool {
	if math.IsNaN(volatility) || math.IsNaN(regime) {
		return false
	}
	return probability > f.cfg.Threshold && volatility > f.cfg.Multiplier*regime
}

// Evaluate produces one Decision per probability point, in time order.
// Points must be strictly increasing and every timestamp must exist in bars.
func (f *Filter) Evaluate(bars *series.Series, probs []core.ProbabilityPoint) ([]Decision, error) {
	atr := indicator.ATR(bars.Highs(), bars.Lows(), bars.Closes(), f.cfg.ATRPeriod)
	regime := indicator.RollingMedian(atr, f.cfg.MedianWindow)

	decisions := make([]Decision, 0, len(probs))
	for i, p := range probs {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if i > 0 && !p.Time.After(probs[i-1].Time) {
			return nil, core.WrapError(core.ErrSchemaInvalid,
				fmt.Errorf("probability %d at %s is not after previous", i, p.Time.Format(time.RFC3339)))
		}
		idx, ok := bars.IndexOf(p.Time)
		if !ok {
			return nil, core.WrapError(core.ErrTimestampUnknown,
				fmt.Errorf("probability at %s", p.Time.Format(time.RFC3339)))
		}

		decisions = append(decisions, Decision{
			Time:        p.Time,
			Probability: p.Probability,
			Volatility:  atr[idx],
			Regime:      regime[idx],
			Enter:       f.Enter(p.Probability, atr[idx], regime[idx]),
		})
	}
	return decisions, nil
}

// Accepted returns only the decisions that enter.
func Accepted(decisions []Decision) []Decision {
	var out []Decision
	for _, d := range decisions {
		if d.Enter {
			out = append(out, d)
		}
	}
	return out
}
