package indicator

import "math"

// TrueRange returns max(high-low, |high-prevClose|, |low-prevClose|) per bar.
// The first bar has no previous close and uses high-low.
func TrueRange(highs, lows, closes []float64) []float64 {
	n := len(closes)
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		tr := highs[i] - lows[i]
		if i > 0 {
			prev := closes[i-1]
			tr = math.Max(tr, math.Abs(highs[i]-prev))
			tr = math.Max(tr, math.Abs(lows[i]-prev))
		}
		out[i] = tr
	}
	return out
}

// ATR is the rolling mean of the true range over period bars, aligned to the
// input. The first period-1 positions are NaN.
func ATR(highs, lows, closes []float64, period int) []float64 {
	return RollingMean(TrueRange(highs, lows, closes), period)
}
