package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/newthinker/tpsl/internal/backtest"
	"github.com/newthinker/tpsl/internal/report"
	"github.com/newthinker/tpsl/internal/sweep"
)

const (
	runsPrefix   = "runs"
	sweepsPrefix = "sweeps"
	resultFile   = "result.json"
	tradesFile   = "trades.csv"
	realFile     = "trades_realistic.csv"
)

// RunArchive lays out run artifacts as runs/<id>/{result.json,trades.csv}.
type RunArchive struct {
	store Storage
}

// NewRunArchive wraps a storage backend.
func NewRunArchive(store Storage) *RunArchive {
	return &RunArchive{store: store}
}

// SaveRun writes the result document and its ledger CSVs. It returns the
// paths written.
func (a *RunArchive) SaveRun(ctx context.Context, r *backtest.Result) ([]string, error) {
	if r.ID == "" {
		return nil, fmt.Errorf("archive: run has no id")
	}
	dir := path.Join(runsPrefix, r.ID)

	doc, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("archive: encode result: %w", err)
	}
	files := map[string][]byte{path.Join(dir, resultFile): doc}

	var buf bytes.Buffer
	if err := report.WriteLedgerCSV(&buf, r.Ledger); err != nil {
		return nil, fmt.Errorf("archive: encode ledger: %w", err)
	}
	files[path.Join(dir, tradesFile)] = buf.Bytes()

	if r.Realistic != nil {
		var realistic bytes.Buffer
		if err := report.WriteLedgerCSV(&realistic, r.Realistic.Ledger); err != nil {
			return nil, fmt.Errorf("archive: encode realistic ledger: %w", err)
		}
		files[path.Join(dir, realFile)] = realistic.Bytes()
	}

	written := make([]string, 0, len(files))
	for p := range files {
		written = append(written, p)
	}
	sort.Strings(written)
	for _, p := range written {
		if err := a.store.Write(ctx, p, files[p]); err != nil {
			return nil, fmt.Errorf("archive: write %s: %w", p, err)
		}
	}
	return written, nil
}

// LoadRun reads a result document back.
func (a *RunArchive) LoadRun(ctx context.Context, id string) (*backtest.Result, error) {
	data, err := a.store.Read(ctx, path.Join(runsPrefix, id, resultFile))
	if err != nil {
		return nil, err
	}
	var r backtest.Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("archive: decode result %s: %w", id, err)
	}
	return &r, nil
}

// LoadLedger reads a run's trade CSV.
func (a *RunArchive) LoadLedger(ctx context.Context, id string) (backtest.Ledger, error) {
	data, err := a.store.Read(ctx, path.Join(runsPrefix, id, tradesFile))
	if err != nil {
		return nil, err
	}
	return report.ReadLedgerCSV(bytes.NewReader(data))
}

// ListRuns returns the IDs of archived runs, sorted.
func (a *RunArchive) ListRuns(ctx context.Context) ([]string, error) {
	paths, err := a.store.List(ctx, runsPrefix)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, p := range paths {
		rest := strings.TrimPrefix(p, runsPrefix+"/")
		id, file, ok := strings.Cut(rest, "/")
		if ok && file == resultFile {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// DeleteRun removes every artifact of a run.
func (a *RunArchive) DeleteRun(ctx context.Context, id string) error {
	paths, err := a.store.List(ctx, path.Join(runsPrefix, id)+"/")
	if err != nil {
		return err
	}
	for _, p := range paths {
		if err := a.store.Delete(ctx, p); err != nil {
			return fmt.Errorf("archive: delete %s: %w", p, err)
		}
	}
	return nil
}

// SaveSweep writes sweep rows as sweeps/<id>.csv.
func (a *RunArchive) SaveSweep(ctx context.Context, id string, rows []sweep.Row) (string, error) {
	p := path.Join(sweepsPrefix, id+".csv")
	if err := a.store.Write(ctx, p, []byte(report.RenderSweepCSV(rows))); err != nil {
		return "", fmt.Errorf("archive: write %s: %w", p, err)
	}
	return p, nil
}
