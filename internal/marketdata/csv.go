// Package marketdata loads bars and model probabilities from CSV files and
// validates them at the boundary.
package marketdata

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/newthinker/tpsl/internal/core"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseTimestamp accepts epoch milliseconds, RFC 3339, or a space separated
// date-time. Values without a zone are UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// header maps required column names to their positions.
type header map[string]int

func readHeader(r *csv.Reader, required []string, aliases map[string]string) (header, error) {
	rec, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, core.Errorf(core.ErrNoData, "empty csv")
	}
	if err != nil {
		return nil, core.WrapError(core.ErrSchemaInvalid, err)
	}
	h := make(header, len(rec))
	for i, name := range rec {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if alias, ok := aliases[name]; ok {
			name = alias
		}
		h[name] = i
	}
	for _, col := range required {
		if _, ok := h[col]; !ok {
			return nil, core.Errorf(core.ErrSchemaInvalid, "missing column %q", col)
		}
	}
	return h, nil
}

func (h header) float(rec []string, col string, line int) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(rec[h[col]]), 64)
	if err != nil {
		return 0, core.Errorf(core.ErrSchemaInvalid, "line %d: %s: %v", line, col, err)
	}
	return v, nil
}

func (h header) time(rec []string, line int) (time.Time, error) {
	t, err := ParseTimestamp(rec[h["timestamp"]])
	if err != nil {
		return time.Time{}, core.Errorf(core.ErrSchemaInvalid, "line %d: %v", line, err)
	}
	return t, nil
}

var barColumns = []string{"timestamp", "open", "high", "low", "close", "volume"}

// ReadBars parses OHLCV rows. Columns are matched by header name, so order
// and extra columns do not matter. Each bar is validated; ordering is left
// to series.New.
func ReadBars(r io.Reader) ([]core.Bar, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	h, err := readHeader(cr, barColumns, map[string]string{"time": "timestamp", "open_time": "timestamp"})
	if err != nil {
		return nil, err
	}

	var bars []core.Bar
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, core.WrapError(core.ErrSchemaInvalid, err)
		}

		var b core.Bar
		if b.Time, err = h.time(rec, line); err != nil {
			return nil, err
		}
		fields := [...]struct {
			col string
			dst *float64
		}{{"open", &b.Open}, {"high", &b.High}, {"low", &b.Low}, {"close", &b.Close}, {"volume", &b.Volume}}
		for _, f := range fields {
			if *f.dst, err = h.float(rec, f.col, line); err != nil {
				return nil, err
			}
		}
		if err := b.Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		bars = append(bars, b)
	}
	if len(bars) == 0 {
		return nil, core.Errorf(core.ErrNoData, "no bars")
	}
	return bars, nil
}

// ReadProbabilities parses timestamp/probability rows. Rows with an empty
// probability are dropped, matching a model that produced no value there.
func ReadProbabilities(r io.Reader) ([]core.ProbabilityPoint, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	h, err := readHeader(cr, []string{"timestamp", "probability"}, map[string]string{"time": "timestamp", "prob": "probability"})
	if err != nil {
		return nil, err
	}

	var out []core.ProbabilityPoint
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, core.WrapError(core.ErrSchemaInvalid, err)
		}
		if strings.TrimSpace(rec[h["probability"]]) == "" {
			continue
		}

		var p core.ProbabilityPoint
		if p.Time, err = h.time(rec, line); err != nil {
			return nil, err
		}
		if p.Probability, err = h.float(rec, "probability", line); err != nil {
			return nil, err
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// LoadBars reads a bar CSV from disk.
func LoadBars(path string) ([]core.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("marketdata: open %s: %w", path, err)
	}
	defer f.Close()
	return ReadBars(f)
}

// LoadProbabilities reads a probability CSV from disk.
func LoadProbabilities(path string) ([]core.ProbabilityPoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("marketdata: open %s: %w", path, err)
	}
	defer f.Close()
	return ReadProbabilities(f)
}

// WriteBars writes bars with the header ReadBars expects. Timestamps are
// RFC 3339 in UTC.
func WriteBars(w io.Writer, bars []core.Bar) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(barColumns); err != nil {
		return err
	}
	for _, b := range bars {
		rec := []string{
			b.Time.UTC().Format(time.RFC3339),
			strconv.FormatFloat(b.Open, 'f', -1, 64),
			strconv.FormatFloat(b.High, 'f', -1, 64),
			strconv.FormatFloat(b.Low, 'f', -1, 64),
			strconv.FormatFloat(b.Close, 'f', -1, 64),
			strconv.FormatFloat(b.Volume, 'f', -1, 64),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// SaveBars writes a bar CSV to disk.
func SaveBars(path string, bars []core.Bar) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("marketdata: create dir for %s: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("marketdata: create %s: %w", path, err)
	}
	if err := WriteBars(f, bars); err != nil {
		f.Close()
		return fmt.Errorf("marketdata: write %s: %w", path, err)
	}
	return f.Close()
}
