package backtest

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/newthinker/tpsl/internal/core"
)

// DefaultMaxHold is the number of bars a position may stay open before timing out.
const DefaultMaxHold = 5

// Mode selects how trades are sized
type Mode string

const (
	// ModeUnit prices every trade as a fixed unit-notional percentage return.
	ModeUnit Mode = "unit"
	// ModeLeveraged sizes each trade from the running capital.
	ModeLeveraged Mode = "leveraged"
)

// ExitOutcome is the resolved exit of one entry
type ExitOutcome struct {
	Reason   core.ExitReason `json:"reason"`
	Price    float64         `json:"price"`
	Time     time.Time       `json:"time"`
	BarsHeld int             `json:"bars_held"`
}

// Sizing holds the currency accounting of a leveraged trade
type Sizing struct {
	MarginUsed    float64 `json:"margin_used"`
	Notional      float64 `json:"notional"`
	Quantity      float64 `json:"quantity"`
	ExitNotional  float64 `json:"exit_notional"`
	GrossPnL      float64 `json:"gross_pnl"`
	EntryFee      float64 `json:"entry_fee"`
	ExitFee       float64 `json:"exit_fee"`
	Fees          float64 `json:"fees"`
	NetPnL        float64 `json:"net_pnl"`
	CapitalBefore float64 `json:"capital_before"`
	CapitalAfter  float64 `json:"capital_after"`
}

// Trade represents one realized position from entry to exit
type Trade struct {
	EntryTime   time.Time       `json:"entry_time"`
	ExitTime    time.Time       `json:"exit_time"`
	EntryPrice  float64         `json:"entry_price"`
	ExitPrice   float64         `json:"exit_price"`
	Reason      core.ExitReason `json:"reason"`
	GrossReturn float64         `json:"gross_return"` // Price return, unlevered, before fees
	NetReturn   float64         `json:"net_return"`   // After fees; relative to capital_before when leveraged
	PnL         float64         `json:"pnl"`          // Per-trade return the equity curve compounds
	Leverage    float64         `json:"leverage"`
	Sizing      *Sizing         `json:"sizing,omitempty"` // nil in unit mode
}

// IsWin reports a strictly positive pnl; flat trades are not wins.
func (t Trade) IsWin() bool {
	return t.PnL > 0
}

// Ledger is the append-only, entry-time-ordered sequence of realized trades.
type Ledger []Trade

// EquityPoint is the compounded equity and drawdown after one trade
type EquityPoint struct {
	Time     time.Time `json:"time"`
	Equity   float64   `json:"equity"`
	Peak     float64   `json:"peak"`
	Drawdown float64   `json:"drawdown"`
}

// LeverageUsed describes the leverage values present in a ledger.
type LeverageUsed struct {
	Values []float64
}

// Uniform returns the single leverage value when every trade used the same one.
func (l LeverageUsed) Uniform() (float64, bool) {
	if len(l.Values) != 1 {
		return 0, false
	}
	return l.Values[0], true
}

// String renders "3" for a uniform ledger and "mixed(2x,3x)" otherwise.
func (l LeverageUsed) String() string {
	switch len(l.Values) {
	case 0:
		return "n/a"
	case 1:
		return strconv.FormatFloat(l.Values[0], 'g', -1, 64)
	}
	parts := make([]string, len(l.Values))
	for i, v := range l.Values {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64) + "x"
	}
	return "mixed(" + strings.Join(parts, ",") + ")"
}

// MarshalJSON encodes a uniform leverage as a number and a mixed one as its descriptor.
func (l LeverageUsed) MarshalJSON() ([]byte, error) {
	if v, ok := l.Uniform(); ok {
		return json.Marshal(v)
	}
	if len(l.Values) == 0 {
		return []byte("null"), nil
	}
	return json.Marshal(l.String())
}

// UnmarshalJSON accepts the forms produced by MarshalJSON.
func (l *LeverageUsed) UnmarshalJSON(data []byte) error {
	l.Values = nil
	if string(data) == "null" {
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err == nil {
		l.Values = []float64{v}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("leverage: %w", err)
	}
	parsed, err := ParseLeverage(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseLeverage reads a descriptor produced by String.
func ParseLeverage(s string) (LeverageUsed, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "n/a" {
		return LeverageUsed{}, nil
	}
	if inner, ok := strings.CutPrefix(s, "mixed("); ok {
		inner = strings.TrimSuffix(inner, ")")
		var vals []float64
		for _, part := range strings.Split(inner, ",") {
			v, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(part), "x"), 64)
			if err != nil {
				return LeverageUsed{}, core.WrapError(core.ErrSchemaInvalid, fmt.Errorf("leverage %q: %w", s, err))
			}
			vals = append(vals, v)
		}
		return distinctLeverage(vals), nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return LeverageUsed{}, core.WrapError(core.ErrSchemaInvalid, fmt.Errorf("leverage %q: %w", s, err))
	}
	return LeverageUsed{Values: []float64{v}}, nil
}

func distinctLeverage(vals []float64) LeverageUsed {
	seen := make(map[float64]struct{}, len(vals))
	var out []float64
	for _, v := range vals {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Float64s(out)
	return LeverageUsed{Values: out}
}

// Metrics holds the scalar performance summary of a ledger
type Metrics struct {
	TotalTrades  int          `json:"total_trades"`
	WinRate      float64      `json:"win_rate"`      // Fraction of trades with pnl > 0
	ProfitFactor float64      `json:"profit_factor"` // +Inf when there are no losing trades
	Expectancy   float64      `json:"expectancy"`    // Mean per-trade pnl
	FinalEquity  float64      `json:"final_equity"`
	MaxDrawdown  float64      `json:"max_drawdown"` // Most negative drawdown, <= 0
	Leverage     LeverageUsed `json:"leverage_used"`
}

// infinity is the JSON token for an unbounded profit factor.
const infinity = "inf"

// MarshalJSON encodes an infinite profit factor as the string "inf".
func (m Metrics) MarshalJSON() ([]byte, error) {
	type plain Metrics
	aux := struct {
		plain
		ProfitFactor any `json:"profit_factor"`
	}{plain: plain(m), ProfitFactor: m.ProfitFactor}
	if math.IsInf(m.ProfitFactor, 1) {
		aux.ProfitFactor = infinity
	}
	return json.Marshal(aux)
}

// UnmarshalJSON reverses MarshalJSON.
func (m *Metrics) UnmarshalJSON(data []byte) error {
	type plain Metrics
	aux := struct {
		*plain
		ProfitFactor json.RawMessage `json:"profit_factor"`
	}{plain: (*plain)(m)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.ProfitFactor) == 0 {
		return nil
	}
	if string(aux.ProfitFactor) == `"`+infinity+`"` {
		m.ProfitFactor = math.Inf(1)
		return nil
	}
	return json.Unmarshal(aux.ProfitFactor, &m.ProfitFactor)
}
