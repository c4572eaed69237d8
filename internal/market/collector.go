// Package market забирает котировки PAXG и XAUT и собирает из них MarketSnapshot.
package market

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"golang.org/x/time/rate"

	"var_gold/internal/models"
	"var_gold/pkg/logger"
)

const (
	TickerPaxg = "PAXG"
	TickerXaut = "XAUT"

	defaultTimeout  = 10 * time.Second
	defaultRPS      = 5
	maxRetries      = 2
	baseRetryWait   = 200 * time.Millisecond
	maxErrorBodyLen = 256
)

// CollectorError: любая ошибка получения или разбора рыночных данных.
type CollectorError struct {
	Reason string
	Err    error
}

func (e *CollectorError) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *CollectorError) Unwrap() error { return e.Err }

func collectorErr(reason string, err error) *CollectorError {
	return &CollectorError{Reason: reason, Err: err}
}

type Collector struct {
	http      *http.Client
	limiter   *rate.Limiter
	retryWait time.Duration
	now       func() time.Time
}

type Option func(*Collector)

func WithHTTPClient(c *http.Client) Option { return func(col *Collector) { col.http = c } }

// WithRPS ограничивает частоту запросов к API.
func WithRPS(rps float64) Option {
	return func(col *Collector) {
		if rps > 0 {
			col.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

func WithRetryWait(d time.Duration) Option { return func(col *Collector) { col.retryWait = d } }

func WithClock(now func() time.Time) Option { return func(col *Collector) { col.now = now } }

func NewCollector(opts ...Option) *Collector {
	c := &Collector{
		http:      &http.Client{Timeout: defaultTimeout},
		limiter:   rate.NewLimiter(defaultRPS, 1),
		retryWait: baseRetryWait,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type payload struct {
	Listings []listing `json:"listings"`
}

type listing struct {
	Ticker      any            `json:"ticker"`
	Quotes      map[string]any `json:"quotes"`
	FundingRate any            `json:"funding_rate"`
}

// FetchSnapshot делает один запрос к cfg.APIURL. Все ошибки: *CollectorError.
func (c *Collector) FetchSnapshot(ctx context.Context, cfg models.RuntimeConfig) (models.MarketSnapshot, error) {
	start := time.Now()
	body, err := c.get(ctx, cfg.APIURL)
	if err != nil {
		return models.MarketSnapshot{}, err
	}
	latencyMs := time.Since(start).Milliseconds()

	var p payload
	if err := sonic.Unmarshal(body, &p); err != nil {
		return models.MarketSnapshot{}, collectorErr("API payload is not valid JSON object", err)
	}
	if p.Listings == nil {
		return models.MarketSnapshot{}, collectorErr("API payload missing listings list", nil)
	}

	paxg, okP := findListing(p.Listings, TickerPaxg)
	xaut, okX := findListing(p.Listings, TickerXaut)
	if !okP || !okX {
		return models.MarketSnapshot{}, collectorErr("PAXG or XAUT listing missing", nil)
	}

	paxgQuote, okP := extractQuote(paxg.Quotes, cfg.QuoteSize)
	xautQuote, okX := extractQuote(xaut.Quotes, cfg.QuoteSize)
	if !okP || !okX {
		return models.MarketSnapshot{}, collectorErr("Missing quote data for PAXG/XAUT", nil)
	}

	return models.NewMarketSnapshot(
		c.now().UnixMilli(),
		paxgQuote, xautQuote,
		parseFloat(paxg.FundingRate), parseFloat(xaut.FundingRate),
		cfg.AnnualFactor,
		latencyMs,
	), nil
}

// get: GET с ограничением частоты и повторами на сетевых ошибках, 429 и 5xx.
func (c *Collector) get(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, collectorErr("rate limiter", err)
		}

		body, retry, err := c.do(ctx, url)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retry || attempt == maxRetries {
			break
		}
		logger.Debug("market request retry attempt=%d err=%v", attempt+1, err)
		if !c.sleep(ctx, attempt) {
			break
		}
	}
	return nil, collectorErr("API request failed", lastErr)
}

func (c *Collector) do(ctx context.Context, url string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, ctx.Err() == nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("read body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("status %d", resp.StatusCode)
	case resp.StatusCode >= 300:
		if len(body) > maxErrorBodyLen {
			body = body[:maxErrorBodyLen]
		}
		return nil, false, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	return body, false, nil
}

func (c *Collector) sleep(ctx context.Context, attempt int) bool {
	wait := time.Duration(math.Pow(2, float64(attempt))) * c.retryWait
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func findListing(listings []listing, ticker string) (listing, bool) {
	for _, l := range listings {
		if s, ok := l.Ticker.(string); ok && s == ticker {
			return l, true
		}
	}
	return listing{}, false
}

// extractQuote берёт предпочтительный размер, иначе первый по алфавиту с валидными bid/ask.
func extractQuote(quotes map[string]any, preferred string) (models.Quote, bool) {
	if len(quotes) == 0 {
		return models.Quote{}, false
	}
	if q, ok := quoteLevel(quotes[preferred]); ok {
		q.Size = preferred
		return q, true
	}

	keys := make([]string, 0, len(quotes))
	for k := range quotes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if q, ok := quoteLevel(quotes[k]); ok {
			q.Size = k
			return q, true
		}
	}
	return models.Quote{}, false
}

func quoteLevel(raw any) (models.Quote, bool) {
	m, ok := raw.(map[string]any)
	if !ok {
		return models.Quote{}, false
	}
	bid, ask := parseFloat(m["bid"]), parseFloat(m["ask"])
	if bid == nil || ask == nil {
		return models.Quote{}, false
	}
	return models.Quote{Bid: *bid, Ask: *ask}, true
}

// parseFloat принимает число или строку с числом. NaN и Inf отбрасываются.
func parseFloat(v any) *float64 {
	switch t := v.(type) {
	case float64:
		return &t
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return &f
	case int64:
		f := float64(t)
		return &f
	}
	return nil
}
