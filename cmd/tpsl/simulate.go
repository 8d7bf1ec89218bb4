package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/newthinker/tpsl/internal/backtest"
	"github.com/newthinker/tpsl/internal/marketdata"
	"github.com/newthinker/tpsl/internal/report"
)

var (
	simBars      string
	simProbs     string
	simSymbol    string
	simFrom      string
	simTo        string
	simUnit      bool
	simTP        float64
	simSL        float64
	simLeverage  float64
	simMaxHold   int
	simThreshold float64
	simRealistic bool
	simTrades    int
	simOut       string
	simSave      bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Simulate trades from bars and probabilities",
	Long: `Filter probability signals by the volatility regime, resolve each accepted
entry by take-profit, stop-loss or timeout, and print performance metrics.`,
	RunE: runSimulate,
}

func init() {
	f := simulateCmd.Flags()
	f.StringVar(&simBars, "bars", "", "bars CSV (timestamp,open,high,low,close,volume); defaults to the symbol's file under --data-dir")
	f.StringVar(&simProbs, "probs", "", "probabilities CSV (timestamp,probability)")
	f.StringVar(&simSymbol, "symbol", "BTCUSDT", "symbol label for the run")
	f.StringVar(&simFrom, "from", "", "first signal to evaluate (earlier bars still warm up indicators)")
	f.StringVar(&simTo, "to", "", "last signal to evaluate")
	f.BoolVar(&simUnit, "unit", false, "unit mode (no leverage, no capital)")
	f.Float64Var(&simTP, "tp", 0, "take-profit fraction, e.g. 0.0023")
	f.Float64Var(&simSL, "sl", 0, "stop-loss fraction, e.g. 0.0008")
	f.Float64Var(&simLeverage, "leverage", 0, "leverage multiple")
	f.IntVar(&simMaxHold, "max-hold", 0, "bars to hold before timeout")
	f.Float64Var(&simThreshold, "threshold", 0, "probability threshold")
	f.BoolVar(&simRealistic, "realistic", true, "also re-price with slippage and fees")
	f.IntVar(&simTrades, "trades", 10, "trades to print (0 for none, -1 for all)")
	f.StringVar(&simOut, "out", "", "write the ledger CSV here")
	f.BoolVar(&simSave, "save", false, "persist the run to the results store and archive")

	simulateCmd.MarkFlagRequired("probs")

	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	flags := cmd.Flags()

	params := cfg.Simulation
	if simUnit {
		params = params.Unit()
	}
	if flags.Changed("tp") {
		params.TPPct = simTP
	}
	if flags.Changed("sl") {
		params.SLPct = simSL
	}
	if flags.Changed("leverage") {
		params.Leverage = simLeverage
	}
	if flags.Changed("max-hold") {
		params.MaxHold = simMaxHold
	}
	filter := cfg.Filter
	if flags.Changed("threshold") {
		filter.Threshold = simThreshold
	}

	req := backtest.Request{
		Symbol: simSymbol,
		Params: params,
		Filter: filter,
	}
	if simRealistic {
		overlay := cfg.Overlay.OverlayConfig
		req.Overlay = &overlay
	}
	var err error
	if req.Start, err = parseBound(simFrom); err != nil {
		return err
	}
	if req.End, err = parseBound(simTo); err != nil {
		return err
	}

	provider, err := barProvider(simBars)
	if err != nil {
		return err
	}

	bt := backtest.New(
		provider,
		marketdata.FileSource{Path: simProbs},
		backtest.WithBacktestLogger(log),
	)
	result, err := bt.Run(ctx, req)
	if err != nil {
		return err
	}

	console := report.NewConsoleWriter(cmd.OutOrStdout())
	console.PrintResult(result)
	if simTrades != 0 {
		console.PrintTrades(result.Ledger, simTrades)
	}

	if simOut != "" {
		if err := report.SaveLedgerCSV(simOut, result.Ledger); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ledger written to %s\n", simOut)
	}

	if simSave {
		return saveRun(cmd, result)
	}
	return nil
}

func saveRun(cmd *cobra.Command, result *backtest.Result) error {
	ctx := cmd.Context()

	store, err := openResults(ctx)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.SaveRun(ctx, result); err != nil {
		return err
	}

	arch, err := openArchive()
	if err != nil {
		return err
	}
	paths, err := arch.SaveRun(ctx, result)
	if err != nil {
		return err
	}

	log.Info("run saved", zap.String("id", result.ID), zap.Strings("artifacts", paths))
	fmt.Fprintf(cmd.OutOrStdout(), "run %s saved\n", result.ID)
	return nil
}

func parseBound(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return marketdata.ParseTimestamp(s)
}
