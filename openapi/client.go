// Copyright 2025 The Weather Flick Authors
// SPDX-License-Identifier: Apache-2.0

// Package openapi implements the rate-limited, retrying client for the
// Korean public-data portal APIs (tourism, weather). One Client instance is
// constructed per upstream provider and shared by all ingestion workers for
// that provider; the instance serializes its own callers.
package openapi

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

const maxPageSize = 1000

var requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "wfb_openapi_requests_total",
	Help: "Upstream API calls by provider and outcome.",
}, []string{"provider", "outcome"})

// Config configures one upstream provider client.
type Config struct {
	// Name identifies the provider in logs and metrics (e.g. "tour", "kma").
	Name string
	// BaseURL is the provider base, e.g. "https://apis.data.go.kr/B551011/KorService1".
	BaseURL string
	// ServiceKey is the caller identity key sent as a query parameter.
	ServiceKey string
	// MobileOS and MobileApp form the fixed client identifier pair the portal requires.
	MobileOS  string
	MobileApp string

	// MinDelay is the minimum spacing between two calls from this client.
	MinDelay time.Duration
	// DailyCeiling caps calls per calendar day. Zero means unlimited.
	DailyCeiling int
	// PageSize is the default numOfRows for paginated endpoints.
	PageSize int

	// MaxRetries is the total number of attempts for transient failures.
	MaxRetries int
	// RetryBaseDelay grows linearly per attempt, capped at RetryMaxDelay.
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// CooldownBase is the pause after a provider quota error; after three
	// consecutive quota errors it grows linearly up to CooldownMax.
	CooldownBase time.Duration
	CooldownMax  time.Duration

	// Timeout bounds a single HTTP exchange.
	Timeout time.Duration

	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
}

func (c *Config) applyDefaults() {
	if c.MinDelay <= 0 {
		c.MinDelay = time.Second
	}
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
	if c.PageSize > maxPageSize {
		c.PageSize = maxPageSize
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	if c.CooldownBase <= 0 {
		c.CooldownBase = 60 * time.Second
	}
	if c.CooldownMax <= 0 {
		c.CooldownMax = 300 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MobileOS == "" {
		c.MobileOS = "ETC"
	}
	if c.MobileApp == "" {
		c.MobileApp = "WeatherFlick"
	}
}

// Stats is a snapshot of the client's quota state.
type Stats struct {
	CallsToday             int
	ConsecutiveRateLimited int
	CoolingDownUntil       time.Time
}

// Client issues rate-limited GET requests against one provider. Safe for
// concurrent use; the limiter serializes calls MinDelay apart.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger

	now func() time.Time

	mu          sync.Mutex
	day         string // calendar day the counter belongs to, "2006-01-02"
	callsToday  int
	consecQuota int
	coolUntil   time.Time
}

// New builds a client for one provider.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("openapi: BaseURL is required")
	}
	if cfg.ServiceKey == "" {
		return nil, fmt.Errorf("openapi: ServiceKey is required")
	}
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		cfg:     cfg,
		http:    hc,
		limiter: rate.NewLimiter(rate.Every(cfg.MinDelay), 1),
		logger:  logger.With("provider", cfg.Name),
		now:     time.Now,
	}, nil
}

// Stats returns the current quota counters.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		CallsToday:             c.callsToday,
		ConsecutiveRateLimited: c.consecQuota,
		CoolingDownUntil:       c.coolUntil,
	}
}

// Fetch issues one GET against endpoint with params, enforcing the daily
// ceiling, the cool-down window and the minimum inter-call delay before any
// network I/O. Transient failures are retried with linearly increasing delay;
// quota and authorization failures return immediately as typed errors.
func (c *Client) Fetch(ctx context.Context, endpoint string, params url.Values) (*Page, error) {
	var lastErr *FetchError
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		if err := c.gate(); err != nil {
			requestsTotal.WithLabelValues(c.cfg.Name, err.Kind.String()).Inc()
			return nil, err
		}

		if attempt > 1 {
			delay := time.Duration(attempt-1) * c.cfg.RetryBaseDelay
			if delay > c.cfg.RetryMaxDelay {
				delay = c.cfg.RetryMaxDelay
			}
			c.logger.Debug("Retrying upstream call", "endpoint", endpoint, "attempt", attempt, "delay", delay)
			if err := sleepWithContext(ctx, delay); err != nil {
				return nil, err
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		c.recordCall()

		page, ferr := c.doOnce(ctx, endpoint, params)
		if ferr == nil {
			c.recordSuccess()
			requestsTotal.WithLabelValues(c.cfg.Name, "success").Inc()
			return page, nil
		}

		requestsTotal.WithLabelValues(c.cfg.Name, ferr.Kind.String()).Inc()
		if ferr.Kind == KindRateLimited {
			cool := c.recordRateLimited()
			c.logger.Warn("Provider quota exceeded, entering cool-down",
				"endpoint", endpoint, "cooldown", cool, "consecutive", c.Stats().ConsecutiveRateLimited)
			return nil, ferr
		}
		if !ferr.Retryable() {
			if ferr.Permanent() {
				c.logger.Error("Permanent upstream failure", "endpoint", endpoint,
					"kind", ferr.Kind.String(), "code", ferr.Code, "guidance", ferr.Guidance)
			}
			return nil, ferr
		}

		lastErr = ferr
		c.logger.Warn("Transient upstream failure", "endpoint", endpoint,
			"attempt", attempt, "kind", ferr.Kind.String(), "error", ferr)
	}

	return nil, lastErr
}

// gate applies the fail-fast checks that must not cost network I/O.
func (c *Client) gate() *FetchError {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if today := now.Format("2006-01-02"); today != c.day {
		c.day = today
		c.callsToday = 0
	}

	if now.Before(c.coolUntil) {
		return &FetchError{
			Kind:    KindCoolingDown,
			Message: fmt.Sprintf("cooling down until %s", c.coolUntil.Format(time.RFC3339)),
		}
	}
	if c.cfg.DailyCeiling > 0 && c.callsToday >= c.cfg.DailyCeiling {
		return &FetchError{
			Kind:    KindDailyLimit,
			Message: fmt.Sprintf("daily ceiling of %d calls reached", c.cfg.DailyCeiling),
		}
	}
	return nil
}

func (c *Client) recordCall() {
	c.mu.Lock()
	c.callsToday++
	c.mu.Unlock()
}

func (c *Client) recordSuccess() {
	c.mu.Lock()
	c.consecQuota = 0
	c.mu.Unlock()
}

// recordRateLimited escalates the cool-down: base duration for the first
// three consecutive quota errors, then linear growth capped at CooldownMax.
func (c *Client) recordRateLimited() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecQuota++
	cool := c.cfg.CooldownBase
	if c.consecQuota > 3 {
		cool = time.Duration(c.consecQuota-2) * c.cfg.CooldownBase
		if cool > c.cfg.CooldownMax {
			cool = c.cfg.CooldownMax
		}
	}
	c.coolUntil = c.now().Add(cool)
	return cool
}

func (c *Client) doOnce(ctx context.Context, endpoint string, params url.Values) (*Page, *FetchError) {
	reqURL, err := c.buildURL(endpoint, params)
	if err != nil {
		return nil, &FetchError{Kind: KindMalformed, Message: "invalid request URL", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &FetchError{Kind: KindMalformed, Message: "building request failed", Err: err}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &FetchError{Kind: KindTransport, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, &FetchError{
			Kind:       KindHTTP,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("unexpected HTTP status %d", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Kind: KindTransport, Message: "reading response body failed", Err: err}
	}

	return classifyBody(body)
}

// buildURL joins the endpoint to the base URL and injects the identity and
// format parameters. Paging parameters are bounds-checked, never trusted
// verbatim from the caller.
func (c *Client) buildURL(endpoint string, params url.Values) (string, error) {
	base, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return "", err
	}
	base.Path = strings.TrimRight(base.Path, "/") + "/" + strings.TrimLeft(endpoint, "/")

	q := url.Values{}
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	q.Set("serviceKey", c.cfg.ServiceKey)
	q.Set("MobileOS", c.cfg.MobileOS)
	q.Set("MobileApp", c.cfg.MobileApp)
	q.Set("_type", "json")

	pageNo := 1
	if v := q.Get("pageNo"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			pageNo = n
		}
	}
	numOfRows := c.cfg.PageSize
	if v := q.Get("numOfRows"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= maxPageSize {
			numOfRows = n
		}
	}
	q.Set("pageNo", strconv.Itoa(pageNo))
	q.Set("numOfRows", strconv.Itoa(numOfRows))

	base.RawQuery = q.Encode()
	return base.String(), nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
