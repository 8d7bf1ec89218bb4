package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/newthinker/tpsl/internal/marketdata"
	"github.com/newthinker/tpsl/internal/report"
	"github.com/newthinker/tpsl/internal/series"
	"github.com/newthinker/tpsl/internal/sweep"
)

var (
	sweepBars    string
	sweepSymbol  string
	sweepProbs   string
	sweepTPs     []float64
	sweepProbVal []float64
	sweepWorkers int
	sweepOut     string
	sweepSave    bool
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run the take-profit x probability grid in unit and leveraged modes",
	RunE:  runSweep,
}

func init() {
	f := sweepCmd.Flags()
	f.StringVar(&sweepBars, "bars", "", "bars CSV; defaults to the symbol's file under --data-dir")
	f.StringVar(&sweepSymbol, "symbol", "BTCUSDT", "symbol whose bars are read from --data-dir")
	f.StringVar(&sweepProbs, "probs", "", "probabilities CSV")
	f.Float64SliceVar(&sweepTPs, "tp", nil, "take-profit values (default from config)")
	f.Float64SliceVar(&sweepProbVal, "prob", nil, "probability thresholds (default from config)")
	f.IntVar(&sweepWorkers, "workers", 0, "concurrent cells (0 uses config, then GOMAXPROCS)")
	f.StringVar(&sweepOut, "out", "", "write the sweep CSV here")
	f.BoolVar(&sweepSave, "save", false, "persist the sweep to the results store and archive")

	sweepCmd.MarkFlagRequired("probs")

	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	grid := cfg.Sweep.Grid
	if len(sweepTPs) > 0 {
		grid.TPValues = sweepTPs
	}
	if len(sweepProbVal) > 0 {
		grid.ProbValues = sweepProbVal
	}
	if err := grid.Validate(); err != nil {
		return err
	}
	workers := cfg.Sweep.Workers
	if sweepWorkers > 0 {
		workers = sweepWorkers
	}

	provider, err := barProvider(sweepBars)
	if err != nil {
		return err
	}
	raw, err := provider.FetchBars(ctx, sweepSymbol)
	if err != nil {
		return err
	}
	bars, err := series.New(raw)
	if err != nil {
		return err
	}
	probs, err := marketdata.LoadProbabilities(sweepProbs)
	if err != nil {
		return err
	}

	runner := sweep.NewRunner(cfg.Simulation, cfg.Filter,
		sweep.WithWorkers(workers),
		sweep.WithLogger(log),
	)
	rows, err := runner.Run(ctx, bars, probs, grid)
	if err != nil {
		return err
	}

	report.NewConsoleWriter(cmd.OutOrStdout()).PrintSweep(rows)

	csvText := report.RenderSweepCSV(rows)
	if sweepOut != "" {
		if err := os.WriteFile(sweepOut, []byte(csvText), 0o644); err != nil {
			return fmt.Errorf("writing sweep csv: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "sweep written to %s\n", sweepOut)
	}

	if !sweepSave {
		return nil
	}

	id := uuid.NewString()
	store, err := openResults(ctx)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.SaveSweep(ctx, id, rows); err != nil {
		return err
	}
	arch, err := openArchive()
	if err != nil {
		return err
	}
	path, err := arch.SaveSweep(ctx, id, rows)
	if err != nil {
		return err
	}
	log.Info("sweep saved", zap.String("id", id), zap.String("artifact", path), zap.Int("rows", len(rows)))
	fmt.Fprintf(cmd.OutOrStdout(), "sweep %s saved\n", id)
	return nil
}
