// internal/api/handler/api/backtest.go
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/newthinker/tpsl/internal/api/job"
	"github.com/newthinker/tpsl/internal/api/response"
	"github.com/newthinker/tpsl/internal/backtest"
	"github.com/newthinker/tpsl/internal/core"
	"github.com/newthinker/tpsl/internal/marketdata"
	"github.com/newthinker/tpsl/internal/signal"
	"github.com/newthinker/tpsl/internal/storage/archive"
	"github.com/newthinker/tpsl/internal/storage/results"
)

const (
	backtestTimeout = 5 * time.Minute
	jobTypeBacktest = "backtest"
)

// BacktestRequest is the request body for starting a backtest. Omitted
// params, filter and overlay fields fall back to the server defaults.
type BacktestRequest struct {
	Symbol        string                  `json:"symbol"`
	Bars          []core.Bar              `json:"bars"`
	Probabilities []core.ProbabilityPoint `json:"probabilities"`
	Params        *backtest.Params        `json:"params,omitempty"`
	Filter        *signal.FilterConfig    `json:"filter,omitempty"`
	Overlay       *backtest.OverlayConfig `json:"overlay,omitempty"`
}

// JobGauge receives the number of in-flight jobs per type.
type JobGauge interface {
	SetJobsActive(jobType string, count int)
}

// BacktestConfig wires a BacktestHandler. Results, Archive, Recorder and
// Gauge are optional.
type BacktestConfig struct {
	Params   backtest.Params
	Filter   signal.FilterConfig
	Overlay  *backtest.OverlayConfig
	Results  results.Store
	Archive  *archive.RunArchive
	Recorder backtest.Recorder
	Gauge    JobGauge
	Logger   *zap.Logger
}

// BacktestHandler handles backtest API requests.
type BacktestHandler struct {
	jobStore *job.Store
	cfg      BacktestConfig
	logger   *zap.Logger
}

// NewBacktestHandler creates a new backtest handler.
func NewBacktestHandler(jobStore *job.Store, cfg BacktestConfig) *BacktestHandler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BacktestHandler{
		jobStore: jobStore,
		cfg:      cfg,
		logger:   logger,
	}
}

// Create validates the request and starts a backtest job.
func (h *BacktestHandler) Create(w http.ResponseWriter, r *http.Request) {
	req := h.seededRequest()
	if err := response.Decode(r, &req); err != nil {
		response.Fail(w, err)
		return
	}

	if req.Symbol == "" {
		response.Error(w, http.StatusBadRequest,
			core.Errorf(core.ErrConfigMissing, "symbol is required"))
		return
	}
	if len(req.Bars) == 0 {
		response.Error(w, http.StatusBadRequest,
			core.Errorf(core.ErrNoData, "bars are required"))
		return
	}

	btReq := h.buildRequest(req)

	// Reject bad configuration before a job exists
	if err := btReq.Params.Validate(); err != nil {
		response.Error(w, http.StatusBadRequest, err)
		return
	}
	if err := btReq.Filter.Validate(); err != nil {
		response.Error(w, http.StatusBadRequest, err)
		return
	}
	if btReq.Overlay != nil {
		if err := btReq.Overlay.Validate(); err != nil {
			response.Error(w, http.StatusBadRequest, err)
			return
		}
	}

	j := h.jobStore.Create(jobTypeBacktest)
	h.reportActive()

	// Copy values before starting goroutine to avoid race
	jobID := j.ID
	status := j.Status

	go h.runBacktest(jobID, btReq, req.Bars, req.Probabilities)

	response.JSON(w, http.StatusAccepted, map[string]any{
		"job_id": jobID,
		"status": status,
	})
}

// seededRequest points params, filter and overlay at copies of the server
// defaults so a partial JSON object overrides only the fields it names.
func (h *BacktestHandler) seededRequest() BacktestRequest {
	params := h.cfg.Params
	filter := h.cfg.Filter
	req := BacktestRequest{Params: &params, Filter: &filter}
	if h.cfg.Overlay != nil {
		overlay := *h.cfg.Overlay
		req.Overlay = &overlay
	}
	return req
}

func (h *BacktestHandler) buildRequest(req BacktestRequest) backtest.Request {
	out := backtest.Request{
		Symbol:  req.Symbol,
		Params:  h.cfg.Params,
		Filter:  h.cfg.Filter,
		Overlay: h.cfg.Overlay,
	}
	if req.Params != nil {
		out.Params = *req.Params
	}
	if req.Filter != nil {
		out.Filter = *req.Filter
	}
	if req.Overlay != nil {
		out.Overlay = req.Overlay
	}
	return out
}

// runBacktest executes the backtest, persists the result and updates job status.
func (h *BacktestHandler) runBacktest(jobID string, req backtest.Request, bars []core.Bar, probs []core.ProbabilityPoint) {
	defer h.reportActive()

	h.jobStore.Update(jobID, func(j *job.Job) {
		j.Status = job.StatusRunning
	})
	h.reportActive()

	ctx, cancel := context.WithTimeout(context.Background(), backtestTimeout)
	defer cancel()

	bt := backtest.New(
		marketdata.StaticProvider{Bars: bars},
		signal.StaticSource{Points: probs},
		backtest.WithBacktestLogger(h.logger),
		backtest.WithRecorder(h.cfg.Recorder),
	)
	result, err := bt.Run(ctx, req)
	if err != nil {
		h.logger.Warn("backtest job failed", zap.String("job_id", jobID), zap.Error(err))
		h.jobStore.Update(jobID, func(j *job.Job) {
			j.Status = job.StatusFailed
			j.Error = asCoreError(err)
		})
		return
	}

	h.persist(ctx, jobID, result)

	h.jobStore.Update(jobID, func(j *job.Job) {
		j.Status = job.StatusComplete
		j.Progress = 100
		j.Result = result
	})
}

// persist stores the run; failures are logged and do not fail the job.
func (h *BacktestHandler) persist(ctx context.Context, jobID string, result *backtest.Result) {
	if h.cfg.Results != nil {
		if err := h.cfg.Results.SaveRun(ctx, result); err != nil {
			h.logger.Warn("saving run failed",
				zap.String("job_id", jobID), zap.String("run_id", result.ID), zap.Error(err))
		}
	}
	if h.cfg.Archive != nil {
		if _, err := h.cfg.Archive.SaveRun(ctx, result); err != nil {
			h.logger.Warn("archiving run failed",
				zap.String("job_id", jobID), zap.String("run_id", result.ID), zap.Error(err))
		}
	}
}

func (h *BacktestHandler) reportActive() {
	if h.cfg.Gauge != nil {
		h.cfg.Gauge.SetJobsActive(jobTypeBacktest, h.jobStore.Active())
	}
}

// GetStatus returns the status of a backtest job.
func (h *BacktestHandler) GetStatus(w http.ResponseWriter, r *http.Request, jobID string) {
	j, err := h.jobStore.Get(jobID)
	if err != nil {
		response.Fail(w, err)
		return
	}

	resp := map[string]any{
		"job_id":   j.ID,
		"status":   j.Status,
		"progress": j.Progress,
	}

	if j.Status == job.StatusComplete {
		resp["result"] = j.Result
	}
	if j.Status == job.StatusFailed && j.Error != nil {
		errBody := map[string]string{
			"code":    j.Error.Code,
			"message": j.Error.Message,
		}
		if j.Error.Cause != nil {
			errBody["cause"] = j.Error.Cause.Error()
		}
		resp["error"] = errBody
	}

	response.JSON(w, http.StatusOK, resp)
}

func asCoreError(err error) *core.Error {
	var ce *core.Error
	if errors.As(err, &ce) {
		return ce
	}
	return core.WrapError(core.ErrSimulationFailed, err)
}
