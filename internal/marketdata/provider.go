package marketdata

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/newthinker/tpsl/internal/core"
	"github.com/newthinker/tpsl/internal/series"
)

// CSVProvider serves bars from <Dir>/<symbol>.csv, as written by
// `tpsl download`.
type CSVProvider struct {
	Dir string
}

// FetchBars loads the symbol's whole file.
func (p CSVProvider) FetchBars(ctx context.Context, symbol string) ([]core.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return LoadBars(p.Path(symbol))
}

// Path is the file FetchBars reads for symbol.
func (p CSVProvider) Path(symbol string) string {
	return filepath.Join(p.Dir, fileName(symbol)+".csv")
}

// StaticProvider serves an in-memory bar set regardless of symbol.
type StaticProvider struct {
	Bars []core.Bar
}

// FetchBars implements backtest.BarProvider.
func (p StaticProvider) FetchBars(ctx context.Context, symbol string) ([]core.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.Bars, nil
}

// FileSource is a ProbabilitySource backed by a probability CSV, read on
// each call. Every point in the file is returned.
type FileSource struct {
	Path string
}

// Probabilities implements signal.ProbabilitySource.
func (s FileSource) Probabilities(ctx context.Context, symbol string, bars *series.Series) ([]core.ProbabilityPoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return LoadProbabilities(s.Path)
}

// fileName turns "BTC/USDT" into "btcusdt".
func fileName(symbol string) string {
	r := strings.NewReplacer("/", "", ":", "", "-", "")
	return strings.ToLower(r.Replace(symbol))
}
