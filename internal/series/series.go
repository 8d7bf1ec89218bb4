// Package series holds the immutable, time-ordered bar sequence the simulator reads from.
package series

import (
	"time"

	"github.com/newthinker/tpsl/internal/core"
)

// Series is a validated, strictly increasing sequence of bars.
// It is safe for concurrent reads; nothing mutates it after New returns.
type Series struct {
	bars  []core.Bar
	index map[int64]int
}

// New validates bars and builds a Series. The input slice is copied.
func New(bars []core.Bar) (*Series, error) {
	if len(bars) == 0 {
		return nil, core.WrapError(core.ErrNoData, nil)
	}

	s := &Series{
		bars:  make([]core.Bar, len(bars)),
		index: make(map[int64]int, len(bars)),
	}
	copy(s.bars, bars)

	for i, b := range s.bars {
		if err := b.Validate(); err != nil {
			return nil, err
		}
		if i > 0 && !b.Time.After(s.bars[i-1].Time) {
			return nil, core.Errorf(core.ErrSchemaInvalid,
				"bar %d at %s is not after %s", i, b.Time.Format(time.RFC3339), s.bars[i-1].Time.Format(time.RFC3339))
		}
		s.index[b.Time.UnixNano()] = i
	}

	return s, nil
}

// Len returns the number of bars.
func (s *Series) Len() int {
	return len(s.bars)
}

// At returns the bar at position i.
func (s *Series) At(i int) core.Bar {
	return s.bars[i]
}

// First and Last bound the series in time.
func (s *Series) First() core.Bar { return s.bars[0] }
func (s *Series) Last() core.Bar  { return s.bars[len(s.bars)-1] }

// IndexOf finds the position of the bar stamped exactly t.
func (s *Series) IndexOf(t time.Time) (int, bool) {
	i, ok := s.index[t.UnixNano()]
	return i, ok
}

// Forward returns up to n bars strictly after position i. The window is
// truncated at the end of the series and may be empty.
func (s *Series) Forward(i, n int) []core.Bar {
	if n <= 0 || i < 0 || i >= len(s.bars)-1 {
		return nil
	}
	end := min(i+1+n, len(s.bars))
	window := make([]core.Bar, end-i-1)
	copy(window, s.bars[i+1:end])
	return window
}

// Between returns the bars with from <= Time <= to. Zero bounds are open.
func (s *Series) Between(from, to time.Time) []core.Bar {
	var out []core.Bar
	for _, b := range s.bars {
		if !from.IsZero() && b.Time.Before(from) {
			continue
		}
		if !to.IsZero() && b.Time.After(to) {
			break
		}
		out = append(out, b)
	}
	return out
}

// Highs, Lows and Closes project one column for indicator input.
func (s *Series) Highs() []float64  { return s.column(func(b core.Bar) float64 { return b.High }) }
func (s *Series) Lows() []float64   { return s.column(func(b core.Bar) float64 { return b.Low }) }
func (s *Series) Closes() []float64 { return s.column(func(b core.Bar) float64 { return b.Close }) }

func (s *Series) column(f func(core.Bar) float64) []float64 {
	out := make([]float64, len(s.bars))
	for i, b := range s.bars {
		out[i] = f(b)
	}
	return out
}
