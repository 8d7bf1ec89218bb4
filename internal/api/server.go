// internal/api/server.go
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	handler "github.com/newthinker/tpsl/internal/api/handler/api"
	"github.com/newthinker/tpsl/internal/api/job"
	"github.com/newthinker/tpsl/internal/api/middleware"
	"github.com/newthinker/tpsl/internal/metrics"
	"github.com/newthinker/tpsl/internal/storage/results"
)

const healthPath = "/api/health"

// Server represents the HTTP server for the backtest API
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
	mux        *http.ServeMux
	handler    http.Handler
}

// Config holds server configuration
type Config struct {
	Host        string
	Port        int
	APIKey      string
	MetricsPath string // empty disables the metrics endpoint
}

// Dependencies are the collaborators the routes are served from. Results
// and Metrics are optional.
type Dependencies struct {
	Jobs     *job.Store
	Backtest handler.BacktestConfig
	Results  results.Store
	Metrics  *metrics.Registry
}

// NewServer creates a new HTTP server
func NewServer(cfg Config, deps Dependencies, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Jobs == nil {
		return nil, fmt.Errorf("api: job store is required")
	}

	mux := http.NewServeMux()
	s := &Server{
		logger: logger,
		mux:    mux,
	}
	s.setupRoutes(cfg, deps)

	public := []string{healthPath}
	if cfg.MetricsPath != "" {
		public = append(public, cfg.MetricsPath)
	}
	var h http.Handler = middleware.APIKeyAuth(cfg.APIKey, public...)(mux)
	h = metrics.LoggingMiddleware(logger)(h)
	if deps.Metrics != nil {
		h = metrics.HTTPMiddleware(deps.Metrics)(h)
	}
	s.handler = h

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes(cfg Config, deps Dependencies) {
	s.mux.HandleFunc("GET "+healthPath, s.handleHealth)

	bt := deps.Backtest
	if bt.Results == nil {
		bt.Results = deps.Results
	}
	if bt.Recorder == nil && deps.Metrics != nil {
		bt.Recorder = deps.Metrics
	}
	if bt.Gauge == nil && deps.Metrics != nil {
		bt.Gauge = deps.Metrics
	}
	if bt.Logger == nil {
		bt.Logger = s.logger
	}
	backtests := handler.NewBacktestHandler(deps.Jobs, bt)
	s.mux.HandleFunc("POST /api/v1/backtests", backtests.Create)
	s.mux.HandleFunc("GET /api/v1/backtests/{id}", func(w http.ResponseWriter, r *http.Request) {
		backtests.GetStatus(w, r, r.PathValue("id"))
	})

	if deps.Results != nil {
		runs := handler.NewRunsHandler(deps.Results)
		s.mux.HandleFunc("GET /api/v1/runs", runs.List)
		s.mux.HandleFunc("GET /api/v1/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
			runs.GetByID(w, r, r.PathValue("id"))
		})
		s.mux.HandleFunc("GET /api/v1/sweeps/{id}", func(w http.ResponseWriter, r *http.Request) {
			runs.GetSweep(w, r, r.PathValue("id"))
		})
	}

	if cfg.MetricsPath != "" && deps.Metrics != nil {
		s.mux.Handle("GET "+cfg.MetricsPath, promhttp.HandlerFor(deps.Metrics, promhttp.HandlerOpts{}))
	}
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}
