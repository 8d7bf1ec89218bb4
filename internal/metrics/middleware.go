package metrics

import (
	"net/http"
	"strings"
	"time"
)

// statusRecorder remembers the status code and body size a handler wrote.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (sr *statusRecorder) WriteHeader(code int) {
	if sr.wroteHeader {
		return
	}
	sr.status = code
	sr.wroteHeader = true
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	sr.wroteHeader = true
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

// idCollections are the path segments whose next segment is a run, job or sweep id.
var idCollections = map[string]bool{
	"backtests": true,
	"runs":      true,
	"sweeps":    true,
}

// RouteLabel maps a request path onto a bounded label set by replacing
// ids that follow a collection segment with "{id}".
func RouteLabel(path string) string {
	segs := strings.Split(path, "/")
	for i := 1; i < len(segs); i++ {
		if segs[i] != "" && idCollections[segs[i-1]] {
			segs[i] = "{id}"
		}
	}
	return strings.Join(segs, "/")
}

// HTTPMiddleware records request count, latency and in-flight gauge.
func HTTPMiddleware(reg *Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reg.InFlightInc()
			defer reg.InFlightDec()

			start := time.Now()
			rec := newStatusRecorder(w)
			next.ServeHTTP(rec, r)

			reg.RecordRequest(r.Method, RouteLabel(r.URL.Path), rec.status, time.Since(start).Seconds())
		})
	}
}
