package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/newthinker/tpsl/internal/api"
	handler "github.com/newthinker/tpsl/internal/api/handler/api"
	"github.com/newthinker/tpsl/internal/api/job"
	"github.com/newthinker/tpsl/internal/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the backtest API server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	store, err := openResults(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	arch, err := openArchive()
	if err != nil {
		return err
	}

	deps := api.Dependencies{
		Jobs: job.NewStore(cfg.Server.MaxJobs, time.Duration(cfg.Server.JobTTLHours)*time.Hour),
		Backtest: handler.BacktestConfig{
			Params:  cfg.Simulation,
			Filter:  cfg.Filter,
			Overlay: cfg.OverlayPtr(),
			Archive: arch,
		},
		Results: store,
	}
	metricsPath := ""
	if cfg.Metrics.Enabled {
		deps.Metrics = metrics.NewRegistry()
		metricsPath = cfg.Metrics.Path
	}

	log.Info("starting tpsl server",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("results", cfg.Storage.Results.Driver),
		zap.String("archive", cfg.Storage.Archive.Type),
	)

	server, err := api.NewServer(api.Config{
		Host:        cfg.Server.Host,
		Port:        cfg.Server.Port,
		APIKey:      cfg.Server.APIKey,
		MetricsPath: metricsPath,
	}, deps, log)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	log.Info("shutting down tpsl server")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return server.Shutdown(shutdownCtx)
}
