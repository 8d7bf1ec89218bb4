// internal/api/handler/api/backtest_test.go
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newthinker/tpsl/internal/api/job"
	"github.com/newthinker/tpsl/internal/api/response"
	"github.com/newthinker/tpsl/internal/backtest"
	"github.com/newthinker/tpsl/internal/core"
	"github.com/newthinker/tpsl/internal/signal"
	"github.com/newthinker/tpsl/internal/storage/archive"
	"github.com/newthinker/tpsl/internal/storage/results"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

// regimeRequest has a calm stretch followed by wide bars, with every
// probability above threshold.
func regimeRequest() BacktestRequest {
	req := BacktestRequest{Symbol: "BTCUSDT"}
	for i := 0; i < 40; i++ {
		spread := 0.05
		if i >= 30 {
			spread = 0.6
		}
		ts := t0.Add(time.Duration(i) * time.Minute)
		req.Bars = append(req.Bars, core.Bar{Time: ts, Open: 100, High: 100 + spread, Low: 100 - spread, Close: 100, Volume: 1})
		req.Probabilities = append(req.Probabilities, core.ProbabilityPoint{Time: ts, Probability: 0.9})
	}
	filter := signal.FilterConfig{Threshold: 0.6, Multiplier: 1.2, ATRPeriod: 3, MedianWindow: 10}
	req.Filter = &filter
	return req
}

type gaugeSpy struct {
	mu   sync.Mutex
	last map[string]int
}

func (g *gaugeSpy) SetJobsActive(jobType string, count int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.last == nil {
		g.last = map[string]int{}
	}
	g.last[jobType] = count
}

func (g *gaugeSpy) get(jobType string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last[jobType]
}

func newTestHandler(t *testing.T, store results.Store, arch *archive.RunArchive, gauge JobGauge) (*BacktestHandler, *job.Store) {
	t.Helper()
	jobStore := job.NewStore(100, time.Hour)
	overlay := backtest.DefaultOverlayConfig()
	return NewBacktestHandler(jobStore, BacktestConfig{
		Params:  backtest.DefaultParams(),
		Filter:  signal.DefaultFilterConfig(),
		Overlay: &overlay,
		Results: store,
		Archive: arch,
		Gauge:   gauge,
	}), jobStore
}

func post(t *testing.T, h *BacktestHandler, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest("POST", "/api/v1/backtests", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.Create(w, req)
	return w
}

func waitDone(t *testing.T, jobStore *job.Store, id string) *job.Job {
	t.Helper()
	var j *job.Job
	require.Eventually(t, func() bool {
		got, err := jobStore.Get(id)
		if err != nil {
			return false
		}
		j = got
		return got.Done()
	}, 5*time.Second, 10*time.Millisecond)
	return j
}

func TestBacktestHandler_Create(t *testing.T) {
	store := results.NewMemoryStore(10)
	localFS, err := archive.NewLocalFS(t.TempDir())
	require.NoError(t, err)
	arch := archive.NewRunArchive(localFS)
	gauge := &gaugeSpy{}

	handler, jobStore := newTestHandler(t, store, arch, gauge)

	w := post(t, handler, regimeRequest())
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp response.SuccessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp.Data.(map[string]any)
	jobID, _ := data["job_id"].(string)
	require.NotEmpty(t, jobID)
	assert.Equal(t, "pending", data["status"])

	j := waitDone(t, jobStore, jobID)
	require.Equal(t, job.StatusComplete, j.Status, "job error: %v", j.Error)

	result, ok := j.Result.(*backtest.Result)
	require.True(t, ok)
	assert.Equal(t, "BTCUSDT", result.Symbol)
	assert.NotEmpty(t, result.Ledger)
	require.NotNil(t, result.Realistic)

	saved, err := store.GetRun(context.Background(), result.ID)
	require.NoError(t, err)
	assert.Len(t, saved.Ledger, len(result.Ledger))

	ids, err := arch.ListRuns(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{result.ID}, ids)

	assert.Eventually(t, func() bool { return gauge.get("backtest") == 0 }, time.Second, 5*time.Millisecond)
}

func TestBacktestHandler_Create_MissingFields(t *testing.T) {
	handler, _ := newTestHandler(t, nil, nil, nil)

	w := post(t, handler, map[string]any{"bars": regimeRequest().Bars})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = post(t, handler, map[string]any{"symbol": "BTCUSDT"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBacktestHandler_Create_InvalidBody(t *testing.T) {
	handler, _ := newTestHandler(t, nil, nil, nil)

	req := httptest.NewRequest("POST", "/api/v1/backtests", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	handler.Create(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var resp response.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "SCHEMA_INVALID", resp.Error.Code)
}

func TestBacktestHandler_Create_InvalidParams(t *testing.T) {
	handler, jobStore := newTestHandler(t, nil, nil, nil)

	req := regimeRequest()
	params := backtest.DefaultParams()
	params.Leverage = 0
	req.Params = &params

	w := post(t, handler, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp response.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "CONFIG_INVALID", resp.Error.Code)
	assert.Empty(t, jobStore.List(), "no job is created for rejected configuration")
}

func TestBacktestHandler_Create_PartialParamsKeepDefaults(t *testing.T) {
	handler, jobStore := newTestHandler(t, nil, nil, nil)

	req := regimeRequest()
	w := post(t, handler, map[string]any{
		"symbol":        req.Symbol,
		"bars":          req.Bars,
		"probabilities": req.Probabilities,
		"params":        map[string]any{"tp_pct": 0.003},
		"filter":        map[string]any{"atr_period": 3, "median_window": 10},
		"overlay":       map[string]any{"fee_pct_per_side": 0.001},
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp response.SuccessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	jobID, _ := resp.Data.(map[string]any)["job_id"].(string)
	require.NotEmpty(t, jobID)

	j := waitDone(t, jobStore, jobID)
	require.Equal(t, job.StatusComplete, j.Status, "job error: %v", j.Error)
	result, ok := j.Result.(*backtest.Result)
	require.True(t, ok)

	defaults := backtest.DefaultParams()
	assert.Equal(t, 0.003, result.Params.TPPct)
	assert.Equal(t, defaults.MaxHold, result.Params.MaxHold)
	assert.Equal(t, defaults.Leverage, result.Params.Leverage)
	assert.Equal(t, defaults.SLPct, result.Params.SLPct)
	assert.Equal(t, 3, result.Filter.ATRPeriod)
	assert.Equal(t, signal.DefaultFilterConfig().Threshold, result.Filter.Threshold)
	require.NotNil(t, result.Realistic)
	assert.Equal(t, 0.001, result.Realistic.Config.FeePctPerSide)
	assert.Equal(t, backtest.DefaultOverlayConfig().TickSize, result.Realistic.Config.TickSize)
}

func TestBacktestHandler_SeededRequestDoesNotShareDefaults(t *testing.T) {
	handler, _ := newTestHandler(t, nil, nil, nil)

	req := handler.seededRequest()
	req.Params.TPPct = 0.5
	req.Filter.Threshold = 0.99
	req.Overlay.FeePctPerSide = 0.1

	assert.Equal(t, backtest.DefaultParams().TPPct, handler.cfg.Params.TPPct)
	assert.Equal(t, signal.DefaultFilterConfig().Threshold, handler.cfg.Filter.Threshold)
	assert.Equal(t, backtest.DefaultOverlayConfig().FeePctPerSide, handler.cfg.Overlay.FeePctPerSide)

	bare := NewBacktestHandler(job.NewStore(1, time.Hour), BacktestConfig{Params: backtest.DefaultParams()})
	assert.Nil(t, bare.seededRequest().Overlay, "no overlay unless the server or client enables one")
}

func TestBacktestHandler_FailedJob(t *testing.T) {
	handler, jobStore := newTestHandler(t, nil, nil, nil)

	req := regimeRequest()
	// duplicate timestamp makes the bar series invalid
	req.Bars[1].Time = req.Bars[0].Time

	w := post(t, handler, req)
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp response.SuccessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	jobID := resp.Data.(map[string]any)["job_id"].(string)

	j := waitDone(t, jobStore, jobID)
	assert.Equal(t, job.StatusFailed, j.Status)
	require.NotNil(t, j.Error)
	assert.Equal(t, "SCHEMA_INVALID", j.Error.Code)

	sw := httptest.NewRecorder()
	handler.GetStatus(sw, httptest.NewRequest("GET", "/api/v1/backtests/"+jobID, nil), jobID)
	require.Equal(t, http.StatusOK, sw.Code)
	var status response.SuccessResponse
	require.NoError(t, json.Unmarshal(sw.Body.Bytes(), &status))
	errBody := status.Data.(map[string]any)["error"].(map[string]any)
	assert.Equal(t, "SCHEMA_INVALID", errBody["code"])
}

func TestBacktestHandler_GetStatus(t *testing.T) {
	handler, jobStore := newTestHandler(t, nil, nil, nil)

	// Create a job directly
	j := jobStore.Create("backtest")

	req := httptest.NewRequest("GET", "/api/v1/backtests/"+j.ID, nil)
	w := httptest.NewRecorder()

	handler.GetStatus(w, req, j.ID)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var resp response.SuccessResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	data := resp.Data.(map[string]any)
	if data["job_id"] != j.ID {
		t.Errorf("expected job_id %s, got %s", j.ID, data["job_id"])
	}
}

func TestBacktestHandler_GetStatus_NotFound(t *testing.T) {
	handler, _ := newTestHandler(t, nil, nil, nil)

	req := httptest.NewRequest("GET", "/api/v1/backtests/nonexistent", nil)
	w := httptest.NewRecorder()

	handler.GetStatus(w, req, "nonexistent")

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}
