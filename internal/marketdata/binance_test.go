package marketdata

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newthinker/tpsl/internal/core"
)

var klineStart = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

// klineServer serves pageSize one-minute klines per request from startTime
// until endTime, like the futures endpoint.
func klineServer(t *testing.T, pageSize int, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != binanceFuturesPath {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		assert.Equal(t, "BTCUSDT", q.Get("symbol"))
		assert.Equal(t, "1m", q.Get("interval"))
		since, _ := strconv.ParseInt(q.Get("startTime"), 10, 64)
		end, _ := strconv.ParseInt(q.Get("endTime"), 10, 64)

		var rows []string
		for ms := since; ms <= end && len(rows) < pageSize; ms += 60_000 {
			i := (ms - klineStart.UnixMilli()) / 60_000
			px := 100 + float64(i)
			rows = append(rows, fmt.Sprintf(`[%d,"%g","%g","%g","%g","12.5",%d,"0",1,"0","0","0"]`,
				ms, px, px+1, px-1, px+0.5, ms+59_999))
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, "[%s]", strings.Join(rows, ","))
	}))
}

func TestBinanceProvider_Paginates(t *testing.T) {
	var calls atomic.Int32
	srv := klineServer(t, 4, &calls)
	defer srv.Close()

	p, err := NewBinanceProvider(WithBaseURL(srv.URL), WithRateLimit(1000))
	require.NoError(t, err)

	end := klineStart.Add(9 * time.Minute)
	bars, err := p.FetchBars(context.Background(), "BTC/USDT", klineStart, end)
	require.NoError(t, err)

	require.Len(t, bars, 10)
	assert.Equal(t, int32(3), calls.Load())
	for i, b := range bars {
		assert.Equal(t, klineStart.Add(time.Duration(i)*time.Minute), b.Time)
		assert.Equal(t, 100+float64(i), b.Open)
		assert.Equal(t, 12.5, b.Volume)
	}
}

func TestBinanceProvider_RequiresStart(t *testing.T) {
	p, err := NewBinanceProvider()
	require.NoError(t, err)

	_, err = p.FetchBars(context.Background(), "BTCUSDT", time.Time{}, klineStart)
	assert.True(t, core.IsConfigError(err), "got %v", err)

	_, err = p.FetchBars(context.Background(), "BTCUSDT", klineStart, klineStart.Add(-time.Hour))
	assert.True(t, core.IsConfigError(err), "got %v", err)
}

func TestBinanceProvider_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p, err := NewBinanceProvider(WithBaseURL(srv.URL))
	require.NoError(t, err)
	_, err = p.FetchBars(context.Background(), "BTCUSDT", klineStart, klineStart.Add(time.Minute))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestBinanceProvider_MalformedKline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[[1709251200000,"abc","1","1","1","1"]]`)
	}))
	defer srv.Close()

	p, err := NewBinanceProvider(WithBaseURL(srv.URL))
	require.NoError(t, err)
	_, err = p.FetchBars(context.Background(), "BTCUSDT", klineStart, klineStart.Add(time.Minute))
	assert.True(t, core.IsSchemaError(err), "got %v", err)
}

func TestBinanceProvider_Cancelled(t *testing.T) {
	var calls atomic.Int32
	srv := klineServer(t, 2, &calls)
	defer srv.Close()

	p, err := NewBinanceProvider(WithBaseURL(srv.URL))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.FetchBars(ctx, "BTCUSDT", klineStart, klineStart.Add(time.Hour))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), calls.Load())
}

func TestNewBinanceProvider_Interval(t *testing.T) {
	p, err := NewBinanceProvider(WithInterval("5m"), WithSpot())
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, p.step)
	assert.Equal(t, BinanceSpotURL, p.baseURL)
	assert.Equal(t, binanceSpotLimit, p.limit)

	_, err = NewBinanceProvider(WithInterval("7m"))
	assert.True(t, core.IsConfigError(err))
}

func TestWriteBars_RoundTrip(t *testing.T) {
	bars := []core.Bar{
		{Time: klineStart, Open: 100, High: 101, Low: 99.5, Close: 100.25, Volume: 3},
		{Time: klineStart.Add(time.Minute), Open: 100.25, High: 100.5, Low: 100, Close: 100.1, Volume: 0},
	}
	var sb strings.Builder
	require.NoError(t, WriteBars(&sb, bars))

	got, err := ReadBars(strings.NewReader(sb.String()))
	require.NoError(t, err)
	assert.Equal(t, bars, got)
}

func TestMissingBars(t *testing.T) {
	at := func(m int) core.Bar { return core.Bar{Time: klineStart.Add(time.Duration(m) * time.Minute)} }

	assert.Equal(t, 0, MissingBars(nil, time.Minute))
	assert.Equal(t, 0, MissingBars([]core.Bar{at(0), at(1), at(2)}, time.Minute))
	assert.Equal(t, 3, MissingBars([]core.Bar{at(0), at(1), at(5)}, time.Minute))
}
