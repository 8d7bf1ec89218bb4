package main

import (
	"fmt"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/newthinker/tpsl/internal/backtest"
	"github.com/newthinker/tpsl/internal/report"
	"github.com/newthinker/tpsl/internal/storage/results"
)

var (
	runsSymbol string
	runsMode   string
	runsLimit  int
	runsTrades int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect persisted runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved runs, newest first",
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show a saved run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

func init() {
	runsListCmd.Flags().StringVar(&runsSymbol, "symbol", "", "only runs for this symbol")
	runsListCmd.Flags().StringVar(&runsMode, "mode", "", "only runs in this mode (unit, leveraged)")
	runsListCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum runs to list")
	runsShowCmd.Flags().IntVar(&runsTrades, "trades", 10, "trades to print (-1 for all)")

	runsCmd.AddCommand(runsListCmd, runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}

func runRunsList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store, err := openResults(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(ctx, results.ListFilter{
		Symbol: runsSymbol,
		Mode:   backtest.Mode(runsMode),
		Limit:  runsLimit,
	})
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no runs")
		return nil
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.Header("ID", "Created", "Symbol", "Mode", "Leverage", "TP", "Prob", "Trades", "Win rate", "PF", "Final equity")
	for _, r := range runs {
		table.Append(
			r.ID,
			r.CreatedAt.Format("2006-01-02 15:04"),
			r.Symbol,
			string(r.Mode),
			r.Leverage,
			report.Float(r.TPPct),
			report.Float(r.ProbThreshold),
			fmt.Sprintf("%d", r.TotalTrades),
			report.Fixed(r.WinRate, 3),
			report.Fixed(r.ProfitFactor, 2),
			report.Fixed(r.FinalEquity, 4),
		)
	}
	table.Render()
	return nil
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store, err := openResults(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	result, err := store.GetRun(ctx, args[0])
	if err != nil {
		return err
	}

	console := report.NewConsoleWriter(cmd.OutOrStdout())
	console.PrintResult(result)
	if runsTrades != 0 {
		console.PrintTrades(result.Ledger, runsTrades)
	}
	return nil
}
