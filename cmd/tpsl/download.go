package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/newthinker/tpsl/internal/core"
	"github.com/newthinker/tpsl/internal/marketdata"
)

var (
	dlSymbol   string
	dlInterval string
	dlFrom     string
	dlTo       string
	dlMonths   int
	dlSpot     bool
	dlOut      string
)

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download historical klines from Binance into a bar CSV",
	RunE:  runDownload,
}

func init() {
	f := downloadCmd.Flags()
	f.StringVar(&dlSymbol, "symbol", "BTCUSDT", "trading pair")
	f.StringVar(&dlInterval, "interval", "1m", "kline interval")
	f.StringVar(&dlFrom, "from", "", "first bar (defaults to --months before --to)")
	f.StringVar(&dlTo, "to", "", "last bar (defaults to now)")
	f.IntVar(&dlMonths, "months", 6, "history length when --from is not set")
	f.BoolVar(&dlSpot, "spot", false, "use the spot market instead of USDT-margined futures")
	f.StringVar(&dlOut, "out", "", "output CSV path (defaults to the symbol's file under --data-dir)")

	rootCmd.AddCommand(downloadCmd)
}

func runDownload(cmd *cobra.Command, args []string) error {
	out := dlOut
	if out == "" {
		if dataDir == "" {
			return core.Errorf(core.ErrConfigMissing, "either --out or --data-dir is required")
		}
		out = marketdata.CSVProvider{Dir: dataDir}.Path(dlSymbol)
	}

	end := time.Now().UTC()
	if dlTo != "" {
		t, err := marketdata.ParseTimestamp(dlTo)
		if err != nil {
			return err
		}
		end = t
	}
	start := end.AddDate(0, -dlMonths, 0)
	if dlFrom != "" {
		t, err := marketdata.ParseTimestamp(dlFrom)
		if err != nil {
			return err
		}
		start = t
	}

	opts := []marketdata.BinanceOption{
		marketdata.WithInterval(dlInterval),
		marketdata.WithBinanceLogger(log),
	}
	if dlSpot {
		opts = append(opts, marketdata.WithSpot())
	}
	provider, err := marketdata.NewBinanceProvider(opts...)
	if err != nil {
		return err
	}

	bars, err := provider.FetchBars(cmd.Context(), dlSymbol, start, end)
	if err != nil {
		return err
	}
	if err := marketdata.SaveBars(out, bars); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%d bars written to %s\n", len(bars), out)
	if missing := marketdata.MissingBars(bars, provider.Step()); missing > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "warning: %d bars missing from the range\n", missing)
	}
	return nil
}
