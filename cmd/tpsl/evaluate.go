package main

import (
	"github.com/spf13/cobra"

	"github.com/newthinker/tpsl/internal/backtest"
	"github.com/newthinker/tpsl/internal/report"
)

var (
	evalLedger   string
	evalLeverage float64
	evalTrades   int
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Compute performance metrics for a saved ledger CSV",
	RunE:  runEvaluate,
}

func init() {
	evaluateCmd.Flags().StringVar(&evalLedger, "ledger", "", "ledger CSV written by simulate --out")
	evaluateCmd.Flags().Float64Var(&evalLeverage, "leverage", 0, "leverage to report when the ledger is empty")
	evaluateCmd.Flags().IntVar(&evalTrades, "trades", 0, "trades to print (-1 for all)")
	evaluateCmd.MarkFlagRequired("ledger")

	rootCmd.AddCommand(evaluateCmd)
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	ledger, err := report.LoadLedgerCSV(evalLedger)
	if err != nil {
		return err
	}

	console := report.NewConsoleWriter(cmd.OutOrStdout())
	console.PrintMetrics("", backtest.EvaluateWithHint(ledger, evalLeverage))
	if evalTrades != 0 {
		console.PrintTrades(ledger, evalTrades)
	}
	return nil
}
