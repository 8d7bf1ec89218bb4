package indicator

import (
	"math"
	"sort"
)

// RollingMedian returns the median of each trailing window of size window,
// aligned to the input. A window containing NaN yields NaN, so a series with
// warm-up NaNs stays undefined until window valid values have accumulated.
func RollingMedian(values []float64, window int) []float64 {
	out := nanSlice(len(values))
	if window <= 0 {
		return out
	}

	buf := make([]float64, window)
	nans := 0
	for i, v := range values {
		if math.IsNaN(v) {
			nans++
		}
		if i >= window && math.IsNaN(values[i-window]) {
			nans--
		}
		if i < window-1 || nans > 0 {
			continue
		}
		copy(buf, values[i-window+1:i+1])
		out[i] = median(buf)
	}
	return out
}

// median sorts xs in place.
func median(xs []float64) float64 {
	sort.Float64s(xs)
	n := len(xs)
	if n%2 == 1 {
		return xs[n/2]
	}
	return (xs[n/2-1] + xs[n/2]) / 2
}
