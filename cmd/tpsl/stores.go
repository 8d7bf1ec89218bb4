package main

import (
	"context"
	"fmt"

	"github.com/newthinker/tpsl/internal/backtest"
	"github.com/newthinker/tpsl/internal/core"
	"github.com/newthinker/tpsl/internal/marketdata"
	"github.com/newthinker/tpsl/internal/storage/archive"
	"github.com/newthinker/tpsl/internal/storage/results"
)

// openResults opens the configured results store.
func openResults(ctx context.Context) (results.Store, error) {
	store, err := results.Open(ctx, cfg.Storage.Results.Driver, cfg.Storage.Results.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening results store: %w", err)
	}
	return store, nil
}

// openArchive opens the configured artifact archive.
func openArchive() (*archive.RunArchive, error) {
	backend, err := archive.New(cfg.Storage.Archive)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	return archive.NewRunArchive(backend), nil
}

// barProvider serves bars from an explicit CSV file, or from the symbol's
// file under --data-dir.
func barProvider(barsPath string) (backtest.BarProvider, error) {
	switch {
	case barsPath != "":
		bars, err := marketdata.LoadBars(barsPath)
		if err != nil {
			return nil, err
		}
		return marketdata.StaticProvider{Bars: bars}, nil
	case dataDir != "":
		return marketdata.CSVProvider{Dir: dataDir}, nil
	default:
		return nil, core.Errorf(core.ErrConfigMissing, "either --bars or --data-dir is required")
	}
}
