// internal/api/server_test.go
package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	handler "github.com/newthinker/tpsl/internal/api/handler/api"
	"github.com/newthinker/tpsl/internal/api/job"
	"github.com/newthinker/tpsl/internal/api/response"
	"github.com/newthinker/tpsl/internal/backtest"
	"github.com/newthinker/tpsl/internal/core"
	"github.com/newthinker/tpsl/internal/metrics"
	"github.com/newthinker/tpsl/internal/signal"
	"github.com/newthinker/tpsl/internal/storage/results"
)

func testDeps() Dependencies {
	return Dependencies{
		Jobs: job.NewStore(100, time.Hour),
		Backtest: handler.BacktestConfig{
			Params: backtest.DefaultParams(),
			Filter: signal.DefaultFilterConfig(),
		},
		Results: results.NewMemoryStore(10),
		Metrics: metrics.NewRegistry(),
	}
}

func newTestServer(t *testing.T, cfg Config, deps Dependencies) *Server {
	t.Helper()
	srv, err := NewServer(cfg, deps, zap.NewNop())
	require.NoError(t, err)
	return srv
}

func serve(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestServer_Health(t *testing.T) {
	srv := newTestServer(t, Config{Host: "localhost"}, testDeps())

	w := serve(srv, httptest.NewRequest("GET", "/api/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected request id header")
	}
}

func TestServer_RequiresJobStore(t *testing.T) {
	_, err := NewServer(Config{}, Dependencies{}, nil)
	if err == nil {
		t.Fatal("expected error without job store")
	}
}

func TestServer_APIAuth_Required(t *testing.T) {
	srv := newTestServer(t, Config{Host: "localhost", APIKey: "test-key"}, testDeps())

	w := serve(srv, httptest.NewRequest("GET", "/api/v1/runs", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without key, got %d", w.Code)
	}

	// health stays public
	w = serve(srv, httptest.NewRequest("GET", "/api/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 for health, got %d", w.Code)
	}
}

func TestServer_APIAuth_ValidKey(t *testing.T) {
	srv := newTestServer(t, Config{Host: "localhost", APIKey: "test-key"}, testDeps())

	req := httptest.NewRequest("GET", "/api/v1/runs", nil)
	req.Header.Set("X-API-Key", "test-key")
	w := serve(srv, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 with key, got %d", w.Code)
	}
}

func TestServer_APIAuth_Disabled(t *testing.T) {
	srv := newTestServer(t, Config{Host: "localhost"}, testDeps())

	w := serve(srv, httptest.NewRequest("GET", "/api/v1/runs", nil))
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 with disabled auth, got %d", w.Code)
	}
}

func TestServer_MethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, Config{Host: "localhost"}, testDeps())

	w := serve(srv, httptest.NewRequest("GET", "/api/v1/backtests", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestServer_BacktestRoundTrip(t *testing.T) {
	deps := testDeps()
	srv := newTestServer(t, Config{Host: "localhost", MetricsPath: "/metrics"}, deps)

	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	req := handler.BacktestRequest{
		Symbol: "BTCUSDT",
		Filter: &signal.FilterConfig{Threshold: 0.6, Multiplier: 1.2, ATRPeriod: 3, MedianWindow: 10},
	}
	for i := 0; i < 40; i++ {
		spread := 0.05
		if i >= 30 {
			spread = 0.6
		}
		ts := t0.Add(time.Duration(i) * time.Minute)
		req.Bars = append(req.Bars, core.Bar{Time: ts, Open: 100, High: 100 + spread, Low: 100 - spread, Close: 100})
		req.Probabilities = append(req.Probabilities, core.ProbabilityPoint{Time: ts, Probability: 0.9})
	}
	body, err := json.Marshal(req)
	require.NoError(t, err)

	w := serve(srv, httptest.NewRequest("POST", "/api/v1/backtests", bytes.NewReader(body)))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var created response.SuccessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	jobID := created.Data.(map[string]any)["job_id"].(string)

	var status map[string]any
	require.Eventually(t, func() bool {
		w := serve(srv, httptest.NewRequest("GET", "/api/v1/backtests/"+jobID, nil))
		if w.Code != http.StatusOK {
			return false
		}
		var resp response.SuccessResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			return false
		}
		status = resp.Data.(map[string]any)
		return status["status"] == "complete" || status["status"] == "failed"
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, "complete", status["status"], "status: %v", status)

	runID := status["result"].(map[string]any)["id"].(string)
	w = serve(srv, httptest.NewRequest("GET", "/api/v1/runs/"+runID, nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(srv, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	text := w.Body.String()
	assert.True(t, strings.Contains(text, "tpsl_runs_total"), "metrics output lacks run counter")
	assert.True(t, strings.Contains(text, "http_requests_total"), "metrics output lacks http counter")
}
