package indicator

import "math"

// SMA calculates Simple Moving Average
// Returns slice of length: len(values) - period + 1
func SMA(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return []float64{}
	}

	result := make([]float64, 0, len(values)-period+1)

	var sum float64
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	result = append(result, sum/float64(period))

	// Rolling calculation
	for i := period; i < len(values); i++ {
		sum = sum - values[i-period] + values[i]
		result = append(result, sum/float64(period))
	}

	return result
}

// RollingMean is SMA aligned to its input: out[i] covers values[i-period+1..i]
// and positions without a full window hold NaN.
func RollingMean(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	for j, v := range SMA(values, period) {
		out[j+period-1] = v
	}
	return out
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
