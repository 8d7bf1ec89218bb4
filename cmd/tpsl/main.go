package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/newthinker/tpsl/internal/config"
	"github.com/newthinker/tpsl/internal/logger"
)

var (
	cfgFile string
	debug   bool
	dataDir string

	cfg *config.Config
	log *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "tpsl",
	Short: "TPSL - take-profit / stop-loss trade simulator",
	Long: `TPSL replays probability-filtered entries against historical bars,
resolves each trade by take-profit, stop-loss or timeout, and reports
unit, leveraged and cost-adjusted performance.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			_ = log.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug mode")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "directory of <symbol>.csv bar files")
}

// setup loads .env, the config file and the logger before any command runs.
func setup(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()

	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	opts := logger.Options{
		Development: cfg.Log.Development,
		Level:       cfg.Log.Level,
		Encoding:    cfg.Log.Encoding,
	}
	if debug {
		opts.Development = true
		opts.Level = "debug"
	}
	log, err = logger.New(opts)
	return err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
