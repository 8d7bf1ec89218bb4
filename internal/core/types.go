package core

import (
	"fmt"
	"math"
	"time"
)

// Bar represents one OHLCV candle
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Validate checks that prices are positive finite numbers and volume is non-negative.
func (b Bar) Validate() error {
	if b.Time.IsZero() {
		return Errorf(ErrSchemaInvalid, "bar has no timestamp")
	}
	prices := [...]struct {
		name string
		v    float64
	}{{"open", b.Open}, {"high", b.High}, {"low", b.Low}, {"close", b.Close}}
	for _, p := range prices {
		if math.IsNaN(p.v) || math.IsInf(p.v, 0) || p.v <= 0 {
			return Errorf(ErrSchemaInvalid, "bar %s: %s must be positive, got %v", b.Time.Format(time.RFC3339), p.name, p.v)
		}
	}
	if math.IsNaN(b.Volume) || b.Volume < 0 {
		return Errorf(ErrSchemaInvalid, "bar %s: volume must be non-negative, got %v", b.Time.Format(time.RFC3339), b.Volume)
	}
	if b.High < b.Low {
		return Errorf(ErrSchemaInvalid, "bar %s: high %v below low %v", b.Time.Format(time.RFC3339), b.High, b.Low)
	}
	return nil
}

// ProbabilityPoint is the model's win-probability estimate at one bar timestamp
type ProbabilityPoint struct {
	Time        time.Time `json:"time"`
	Probability float64   `json:"probability"`
}

// Validate checks the probability lies in [0,1].
func (p ProbabilityPoint) Validate() error {
	if p.Time.IsZero() {
		return Errorf(ErrSchemaInvalid, "probability has no timestamp")
	}
	if math.IsNaN(p.Probability) || p.Probability < 0 || p.Probability > 1 {
		return Errorf(ErrSchemaInvalid, "probability at %s must be in [0,1], got %v",
			p.Time.Format(time.RFC3339), p.Probability)
	}
	return nil
}

// ExitReason tags how a position was closed
type ExitReason string

const (
	ExitTakeProfit ExitReason = "tp"
	ExitStopLoss   ExitReason = "sl"
	ExitTimeout    ExitReason = "timeout"
)

// ParseExitReason converts a stored reason back to an ExitReason.
func ParseExitReason(s string) (ExitReason, error) {
	switch r := ExitReason(s); r {
	case ExitTakeProfit, ExitStopLoss, ExitTimeout:
		return r, nil
	}
	return "", WrapError(ErrSchemaInvalid, fmt.Errorf("unknown exit reason %q", s))
}
