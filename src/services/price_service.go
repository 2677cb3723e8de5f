package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sort"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/net/publicsuffix"

	"github.com/username/familyalpha/backend/src/logger"
	"github.com/username/familyalpha/backend/src/models"
)

const (
	DefaultProviderBaseURL = "https://query1.finance.yahoo.com"
	defaultProviderTimeout = 20 * time.Second

	quoteCacheTTL        = 5 * time.Minute
	cacheCleanupInterval = 30 * time.Minute

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
)

type yahooChartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Currency           string  `json:"currency"`
				Symbol             string  `json:"symbol"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error interface{} `json:"error"`
	} `json:"chart"`
}

type priceServiceImpl struct {
	httpClient    http.Client
	baseURL       string
	cache         *gocache.Cache
	isInitialized bool
	crumb         string
	mu            sync.Mutex
}

// NewPriceService builds the quote provider adapter. baseURL is normally
// DefaultProviderBaseURL; tests point it at a local fake. A zero timeout
// falls back to the default.
func NewPriceService(baseURL string, timeout time.Duration) PriceService {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		logger.L.Error("Failed to create cookie jar", "error", err)
	}
	if baseURL == "" {
		baseURL = DefaultProviderBaseURL
	}
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}

	return &priceServiceImpl{
		httpClient: http.Client{
			Jar:     jar,
			Timeout: timeout,
		},
		baseURL: baseURL,
		cache:   gocache.New(quoteCacheTTL, cacheCleanupInterval),
	}
}

// initializeSession walks the provider's cookie/crumb handshake. The cookie
// warmup only makes sense against the real host; the crumb itself comes from
// whatever baseURL points at.
func (s *priceServiceImpl) initializeSession(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isInitialized && s.crumb != "" {
		return
	}

	logger.L.Info("Initializing quote provider session")

	if s.baseURL == DefaultProviderBaseURL {
		for _, warmup := range []string{"https://fc.yahoo.com", "https://finance.yahoo.com"} {
			req, _ := http.NewRequestWithContext(ctx, http.MethodGet, warmup, nil)
			req.Header.Set("User-Agent", userAgent)
			resp, err := s.httpClient.Do(req)
			if err == nil {
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
			}
		}
	}

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/v1/test/getcrumb", nil)
	req.Header.Set("User-Agent", userAgent)
	resp, err := s.httpClient.Do(req)
	if err != nil {
		logger.L.Warn("Failed to fetch crumb", "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		s.crumb = string(bodyBytes)
		s.isInitialized = true
		logger.L.Info("Quote provider session initialized")
	} else {
		logger.L.Warn("Failed to fetch crumb", "status", resp.Status)
	}
}

func (s *priceServiceImpl) ensureSession(ctx context.Context) {
	s.mu.Lock()
	needsInit := !s.isInitialized || s.crumb == ""
	s.mu.Unlock()

	if needsInit {
		s.initializeSession(ctx)
	}
}

func (s *priceServiceImpl) GetHistory(ctx context.Context, symbol string, period Period) models.PriceSeries {
	cacheKey := fmt.Sprintf("hist_%s_%s_%s", symbol, period.Range, period.Interval)
	if cached, found := s.cache.Get(cacheKey); found {
		return cached.(models.PriceSeries)
	}

	series, err := s.fetchChart(ctx, symbol, period)
	if err != nil {
		// History degrades to empty so one dead symbol never sinks a whole
		// portfolio chart.
		logger.L.Warn("Failed to fetch price history", "symbol", symbol, "range", period.Range, "error", err)
		return nil
	}

	s.cache.Set(cacheKey, series, period.CacheTTL())
	return series
}

func (s *priceServiceImpl) GetHistorySet(ctx context.Context, symbols []string, period Period) models.PriceSeriesSet {
	set := make(models.PriceSeriesSet, len(symbols))
	for _, symbol := range symbols {
		if _, ok := set[symbol]; ok {
			continue
		}
		if series := s.GetHistory(ctx, symbol, period); len(series) > 0 {
			set[symbol] = series
		}
	}
	return set
}

func (s *priceServiceImpl) GetLatestPrice(ctx context.Context, symbol string) (float64, error) {
	cacheKey := fmt.Sprintf("quote_%s", symbol)
	if cached, found := s.cache.Get(cacheKey); found {
		return cached.(float64), nil
	}

	data, err := s.fetchChartResponse(ctx, symbol, Period{Range: "1d", Interval: "5m"})
	if err != nil {
		return 0, err
	}
	if len(data.Chart.Result) == 0 || data.Chart.Result[0].Meta.RegularMarketPrice == 0 {
		return 0, fmt.Errorf("no price data found for %s", symbol)
	}

	price := data.Chart.Result[0].Meta.RegularMarketPrice
	s.cache.Set(cacheKey, price, quoteCacheTTL)
	return price, nil
}

func (s *priceServiceImpl) fetchChart(ctx context.Context, symbol string, period Period) (models.PriceSeries, error) {
	data, err := s.fetchChartResponse(ctx, symbol, period)
	if err != nil {
		return nil, err
	}
	if data.Chart.Error != nil {
		return nil, fmt.Errorf("provider chart API returned an error: %v", data.Chart.Error)
	}
	if len(data.Chart.Result) == 0 {
		return nil, fmt.Errorf("no chart result for %s", symbol)
	}

	result := data.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, fmt.Errorf("no quote data for %s", symbol)
	}
	timestamps := result.Timestamp
	closes := result.Indicators.Quote[0].Close
	if len(timestamps) != len(closes) {
		return nil, fmt.Errorf("timestamp/close length mismatch for %s", symbol)
	}

	// Null closes decode as zero. Forward-fill them from the last real bar;
	// leading nulls have nothing to fill from and are dropped.
	series := make(models.PriceSeries, 0, len(timestamps))
	lastClose := 0.0
	for i, ts := range timestamps {
		price := closes[i]
		if price <= 0 {
			if lastClose <= 0 {
				continue
			}
			price = lastClose
		}
		lastClose = price
		series = append(series, models.PricePoint{
			Date:  time.Unix(ts, 0).UTC(),
			Close: price,
		})
	}
	sort.Slice(series, func(i, j int) bool { return series[i].Date.Before(series[j].Date) })
	return series, nil
}

func (s *priceServiceImpl) fetchChartResponse(ctx context.Context, symbol string, period Period) (*yahooChartResponse, error) {
	s.ensureSession(ctx)

	s.mu.Lock()
	crumb := s.crumb
	s.mu.Unlock()

	chartURL := fmt.Sprintf("%s/v8/finance/chart/%s?range=%s&interval=%s",
		s.baseURL, url.PathEscape(symbol), period.Range, period.Interval)
	if crumb != "" {
		chartURL += "&crumb=" + url.QueryEscape(crumb)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, chartURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call provider chart API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		s.mu.Lock()
		s.isInitialized = false
		s.mu.Unlock()
		return nil, fmt.Errorf("status 401 (Unauthorized), crumb invalid")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider chart API returned status %d", resp.StatusCode)
	}

	var data yahooChartResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode chart response: %w", err)
	}
	return &data, nil
}
