package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/newthinker/tpsl/internal/core"
)

const (
	BinanceFuturesURL = "https://fapi.binance.com"
	BinanceSpotURL    = "https://api.binance.com"

	binanceFuturesPath = "/fapi/v1/klines"
	binanceSpotPath    = "/api/v3/klines"

	// Per-request kline caps.
	binanceFuturesLimit = 1500
	binanceSpotLimit    = 1000
)

// BinanceProvider pages through Binance klines. It implements
// backtest.BarProvider.
type BinanceProvider struct {
	client   *http.Client
	baseURL  string
	path     string
	limit    int
	interval string
	step     time.Duration
	limiter  *rate.Limiter
	logger   *zap.Logger
	now      func() time.Time
}

// BinanceOption configures a BinanceProvider.
type BinanceOption func(*BinanceProvider)

// WithSpot targets the spot market instead of USDT-margined futures.
func WithSpot() BinanceOption {
	return func(b *BinanceProvider) {
		b.baseURL = BinanceSpotURL
		b.path = binanceSpotPath
		b.limit = binanceSpotLimit
	}
}

// WithBaseURL overrides the API host (for testing).
func WithBaseURL(u string) BinanceOption {
	return func(b *BinanceProvider) { b.baseURL = strings.TrimRight(u, "/") }
}

// WithInterval sets the kline interval, e.g. "1m" or "5m".
func WithInterval(interval string) BinanceOption {
	return func(b *BinanceProvider) { b.interval = interval }
}

// WithRateLimit caps requests per second.
func WithRateLimit(perSecond float64) BinanceOption {
	return func(b *BinanceProvider) { b.limiter = rate.NewLimiter(rate.Limit(perSecond), 1) }
}

// WithBinanceLogger sets the progress logger.
func WithBinanceLogger(l *zap.Logger) BinanceOption {
	return func(b *BinanceProvider) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBinanceProvider creates a futures 1m provider unless options say otherwise.
func NewBinanceProvider(opts ...BinanceOption) (*BinanceProvider, error) {
	b := &BinanceProvider{
		client:   &http.Client{Timeout: 15 * time.Second},
		baseURL:  BinanceFuturesURL,
		path:     binanceFuturesPath,
		limit:    binanceFuturesLimit,
		interval: "1m",
		limiter:  rate.NewLimiter(rate.Limit(4), 1),
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	step, err := intervalDuration(b.interval)
	if err != nil {
		return nil, err
	}
	b.step = step
	return b, nil
}

// FetchBars downloads [start, end] page by page. A zero end means now; a
// zero start is rejected since Binance would only return the latest page.
func (b *BinanceProvider) FetchBars(ctx context.Context, symbol string, start, end time.Time) ([]core.Bar, error) {
	if start.IsZero() {
		return nil, core.Errorf(core.ErrConfigMissing, "binance: start time is required")
	}
	if end.IsZero() {
		end = b.now()
	}
	if end.Before(start) {
		return nil, core.Errorf(core.ErrConfigInvalid, "binance: end %s before start %s",
			end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	symbol = binanceSymbol(symbol)

	seen := make(map[int64]struct{})
	var bars []core.Bar
	for since := start; !since.After(end); {
		page, err := b.fetchPage(ctx, symbol, since, end)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		for _, bar := range page {
			ms := bar.Time.UnixMilli()
			if _, dup := seen[ms]; dup {
				continue
			}
			seen[ms] = struct{}{}
			bars = append(bars, bar)
		}
		since = page[len(page)-1].Time.Add(b.step)
		b.logger.Debug("binance page",
			zap.String("symbol", symbol), zap.Int("bars", len(page)), zap.Time("next", since))
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	b.logger.Info("binance download complete", zap.String("symbol", symbol), zap.Int("bars", len(bars)))
	return bars, nil
}

func (b *BinanceProvider) fetchPage(ctx context.Context, symbol string, since, end time.Time) ([]core.Bar, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("binance: rate limiter: %w", err)
	}

	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", b.interval)
	q.Set("startTime", strconv.FormatInt(since.UnixMilli(), 10))
	q.Set("endTime", strconv.FormatInt(end.UnixMilli(), 10))
	q.Set("limit", strconv.Itoa(b.limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+b.path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("binance: creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("binance: fetching klines: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("binance: unexpected status: %d", resp.StatusCode)
	}

	var klines [][]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&klines); err != nil {
		return nil, core.WrapError(core.ErrSchemaInvalid, fmt.Errorf("binance: decoding klines: %w", err))
	}

	bars := make([]core.Bar, 0, len(klines))
	for i, k := range klines {
		bar, err := parseKline(k)
		if err != nil {
			return nil, core.WrapError(core.ErrSchemaInvalid, fmt.Errorf("binance: kline %d: %w", i, err))
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// parseKline reads [openTime, "open", "high", "low", "close", "volume", ...].
func parseKline(k []json.RawMessage) (core.Bar, error) {
	if len(k) < 6 {
		return core.Bar{}, fmt.Errorf("expected at least 6 fields, got %d", len(k))
	}
	var openTime int64
	if err := json.Unmarshal(k[0], &openTime); err != nil {
		return core.Bar{}, fmt.Errorf("open time: %w", err)
	}

	var vals [5]float64
	for i := range vals {
		var s string
		if err := json.Unmarshal(k[i+1], &s); err != nil {
			return core.Bar{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return core.Bar{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		vals[i] = v
	}

	bar := core.Bar{
		Time:   time.UnixMilli(openTime).UTC(),
		Open:   vals[0],
		High:   vals[1],
		Low:    vals[2],
		Close:  vals[3],
		Volume: vals[4],
	}
	return bar, bar.Validate()
}

func intervalDuration(interval string) (time.Duration, error) {
	switch interval {
	case "1m", "3m", "5m", "15m", "30m", "1h", "2h", "4h", "6h", "8h", "12h":
		return time.ParseDuration(interval)
	case "1d":
		return 24 * time.Hour, nil
	default:
		return 0, core.Errorf(core.ErrConfigInvalid, "binance: unsupported interval %q", interval)
	}
}

// binanceSymbol turns "BTC/USDT" or "btc-usdt" into "BTCUSDT".
func binanceSymbol(symbol string) string {
	return strings.ToUpper(fileName(symbol))
}

// Step is the kline interval as a duration.
func (b *BinanceProvider) Step() time.Duration {
	return b.step
}

// MissingBars counts the bars absent between the first and last timestamp
// of an ordered series sampled every step.
func MissingBars(bars []core.Bar, step time.Duration) int {
	if len(bars) < 2 || step <= 0 {
		return 0
	}
	span := bars[len(bars)-1].Time.Sub(bars[0].Time)
	expected := int(span/step) + 1
	if expected <= len(bars) {
		return 0
	}
	return expected - len(bars)
}
