package metrics

import (
	"strconv"
	"time"

	"github.com/newthinker/tpsl/internal/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry holds all Prometheus metrics.
type Registry struct {
	*prometheus.Registry

	// HTTP metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Simulation metrics
	runsTotal     *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	tradesTotal   *prometheus.CounterVec
	exitsTotal    *prometheus.CounterVec
	sweepCells    *prometheus.CounterVec
	sweepCellTime prometheus.Histogram
	jobsActive    *prometheus.GaugeVec
}

// NewRegistry creates a new metrics registry with all metrics registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	// Register Go runtime metrics
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Registry{
		Registry: reg,

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		httpRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently in flight",
			},
		),
	}

	reg.MustRegister(r.httpRequestsTotal)
	reg.MustRegister(r.httpRequestDuration)
	reg.MustRegister(r.httpRequestsInFlight)

	r.runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tpsl_runs_total",
			Help: "Total number of simulation runs",
		},
		[]string{"mode", "halted"},
	)
	r.runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tpsl_run_duration_seconds",
			Help:    "Simulation run duration in seconds",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"mode"},
	)
	r.tradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tpsl_trades_total",
			Help: "Total number of simulated trades",
		},
		[]string{"mode"},
	)
	r.exitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tpsl_exits_total",
			Help: "Total number of trade exits by reason",
		},
		[]string{"reason"},
	)
	r.sweepCells = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tpsl_sweep_cells_total",
			Help: "Total number of parameter sweep cells evaluated",
		},
		[]string{"mode"},
	)
	r.sweepCellTime = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tpsl_sweep_cell_duration_seconds",
			Help:    "Sweep cell duration in seconds",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)
	r.jobsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tpsl_jobs_active",
			Help: "Number of active jobs",
		},
		[]string{"type"},
	)

	reg.MustRegister(r.runsTotal)
	reg.MustRegister(r.runDuration)
	reg.MustRegister(r.tradesTotal)
	reg.MustRegister(r.exitsTotal)
	reg.MustRegister(r.sweepCells)
	reg.MustRegister(r.sweepCellTime)
	reg.MustRegister(r.jobsActive)

	return r
}

// RecordRequest records metrics for an HTTP request.
func (r *Registry) RecordRequest(method, path string, status int, duration float64) {
	statusStr := statusToString(status)
	r.httpRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	r.httpRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// InFlightInc increments in-flight requests.
func (r *Registry) InFlightInc() {
	r.httpRequestsInFlight.Inc()
}

// InFlightDec decrements in-flight requests.
func (r *Registry) InFlightDec() {
	r.httpRequestsInFlight.Dec()
}

// RecordRun records a completed simulation run.
func (r *Registry) RecordRun(mode string, trades int, halted bool, d time.Duration) {
	r.runsTotal.WithLabelValues(mode, strconv.FormatBool(halted)).Inc()
	r.runDuration.WithLabelValues(mode).Observe(d.Seconds())
	r.tradesTotal.WithLabelValues(mode).Add(float64(trades))
}

// RecordExits adds per-reason exit counts.
func (r *Registry) RecordExits(counts map[core.ExitReason]int) {
	for reason, n := range counts {
		r.exitsTotal.WithLabelValues(string(reason)).Add(float64(n))
	}
}

// RecordSweepCell records one evaluated sweep cell.
func (r *Registry) RecordSweepCell(mode string, d time.Duration) {
	r.sweepCells.WithLabelValues(mode).Inc()
	r.sweepCellTime.Observe(d.Seconds())
}

// SetJobsActive sets the number of active jobs of a type.
func (r *Registry) SetJobsActive(jobType string, count int) {
	r.jobsActive.WithLabelValues(jobType).Set(float64(count))
}

func statusToString(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
