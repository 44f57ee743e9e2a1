// Package client provides the STAC HTTP client shared by all reporting jobs,
// with retry, throttle handling, optional response caching, and metrics.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/batpad/Montandon-Data-Fetching-Examples/pkg/cache"
	"github.com/batpad/Montandon-Data-Fetching-Examples/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for STAC client operations.
var (
	stacRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stac_requests_total",
		Help: "Total STAC requests by endpoint and status",
	}, []string{"endpoint", "status"})

	stacRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stac_request_duration_seconds",
		Help:    "STAC request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 90},
	}, []string{"endpoint"})

	stacErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stac_errors_total",
		Help: "Total STAC errors by class",
	}, []string{"class"})

	stacRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stac_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	stacRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stac_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	stacRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stac_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// Config holds the client configuration.
type Config struct {
	// BaseURL is the STAC API root, e.g. https://montandon-eoapi-stage.ifrc.org/stac
	BaseURL string

	// UserAgent is sent on every request.
	UserAgent string

	// Timeout bounds a single request attempt.
	Timeout time.Duration

	// MaxConcurrency sizes the idle connection pool; set it to the worker count.
	MaxConcurrency int

	Retry RetryConfig

	// Cache is optional. When nil every request goes to the network.
	Cache *cache.Manager
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:        baseURL,
		UserAgent:      "montandon-reports/1.0",
		Timeout:        90 * time.Second,
		MaxConcurrency: 10,
		Retry:          DefaultRetryConfig(),
	}
}

// Client is the STAC API client. It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	throttle   *ratelimit.Tracker
	cache      *cache.Manager
	config     Config
	logger     zerolog.Logger
}

// New creates a new STAC client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}

	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.Retry.MaxAttempts < 1 {
		return nil, fmt.Errorf("max attempts must be >= 1 (got %d)", cfg.Retry.MaxAttempts)
	}

	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}

	logger := log.With().Str("component", "stac-client").Logger()

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = cfg.MaxConcurrency * 2
	transport.MaxIdleConnsPerHost = cfg.MaxConcurrency

	return &Client{
		httpClient: &http.Client{Transport: transport},
		baseURL:    base,
		throttle:   ratelimit.NewTracker(logger),
		cache:      cfg.Cache,
		config:     cfg,
		logger:     logger,
	}, nil
}

// URL resolves path, given in escaped form, below the base URL and attaches
// the query.
func (c *Client) URL(path string, query url.Values) string {
	u := *c.baseURL
	escaped := strings.TrimRight(c.baseURL.EscapedPath(), "/") + "/" + strings.TrimLeft(path, "/")
	unescaped, err := url.PathUnescape(escaped)
	if err != nil {
		unescaped = escaped
	}
	u.Path, u.RawPath = unescaped, escaped
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// RequestOption adjusts a single call.
type RequestOption func(*requestOptions)

type requestOptions struct {
	timeout time.Duration
	logger  *zerolog.Logger
}

// WithTimeout overrides the per-attempt timeout for one call.
func WithTimeout(d time.Duration) RequestOption {
	return func(o *requestOptions) { o.timeout = d }
}

// WithLogger attaches a logger carrying job context (collection, period, page).
func WithLogger(l zerolog.Logger) RequestOption {
	return func(o *requestOptions) { o.logger = &l }
}

// GetJSON fetches rawURL and decodes the JSON body into v.
// A body that does not decode is reported as an ErrorClassDecode STACError and
// is not retried.
func (c *Client) GetJSON(ctx context.Context, rawURL string, v any, opts ...RequestOption) error {
	body, err := c.Get(ctx, rawURL, opts...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		stacErrorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		return &STACError{
			StatusCode: http.StatusOK,
			ErrorClass: ErrorClassDecode,
			URL:        rawURL,
			Message:    "decode response body",
			Err:        err,
		}
	}
	return nil
}

// Get fetches rawURL with retry and returns the full response body of a 2xx
// response. Non-2xx responses are returned as *STACError.
func (c *Client) Get(ctx context.Context, rawURL string, opts ...RequestOption) ([]byte, error) {
	o := requestOptions{timeout: c.config.Timeout}
	for _, opt := range opts {
		opt(&o)
	}
	logger := c.logger
	if o.logger != nil {
		logger = *o.logger
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	endpoint := endpointLabel(u.Path)

	var cacheKey cache.CacheKey
	if c.cache != nil {
		cacheKey = cache.KeyFromURL(u)
		entry, err := c.cache.Get(ctx, cacheKey)
		if err == nil {
			logger.Debug().Str("endpoint", endpoint).Msg("Cache hit")
			return entry.Data, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Cache get error")
		}
	}

	var body []byte
	err = retryWithBackoff(ctx, c.config.Retry, logger, func(attempt int) error {
		if err := c.throttle.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrContextCancelled, err)
		}

		data, err := c.do(ctx, u, endpoint, o.timeout, logger.With().Int("attempt", attempt).Logger())
		if err != nil {
			return err
		}
		body = data
		return nil
	})
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, cacheKey, cache.NewEntry(body, http.StatusOK, c.cache.TTL())); err != nil {
			logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Failed to cache response")
		}
	}

	return body, nil
}

// do performs a single attempt.
func (c *Client) do(ctx context.Context, u *url.URL, endpoint string, timeout time.Duration, logger zerolog.Logger) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/geo+json, application/json")

	logger.Debug().Str("endpoint", endpoint).Str("url", u.String()).Msg("Executing STAC request")

	startTime := time.Now()
	defer func() {
		stacRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		}
		stacErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		stacRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return nil, &STACError{
			ErrorClass: ErrorClassNetwork,
			URL:        u.String(),
			Message:    "request failed",
			Err:        err,
		}
	}
	defer resp.Body.Close()

	status := strconv.Itoa(resp.StatusCode)
	c.throttle.UpdateFromResponse(resp.StatusCode, resp.Header)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// drain so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

		errClass := classifyStatus(resp.StatusCode)
		stacErrorsTotal.WithLabelValues(string(errClass)).Inc()
		stacRequestsTotal.WithLabelValues(endpoint, status).Inc()

		logger.Warn().
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Str("error_class", string(errClass)).
			Msg("STAC request error")

		return nil, &STACError{
			StatusCode: resp.StatusCode,
			ErrorClass: errClass,
			URL:        u.String(),
			Message:    resp.Status,
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		}
		stacErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		stacRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return nil, &STACError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassNetwork,
			URL:        u.String(),
			Message:    "read response body",
			Err:        err,
		}
	}

	stacRequestsTotal.WithLabelValues(endpoint, status).Inc()
	return body, nil
}

// classifyStatus categorizes a non-2xx status code.
func classifyStatus(code int) ErrorClass {
	switch {
	case code == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case code == http.StatusRequestTimeout || code == http.StatusTooEarly:
		// transient 4xx: the same request can succeed when repeated
		return ErrorClassServer
	case code >= 400 && code < 500:
		return ErrorClassClient
	default:
		return ErrorClassServer
	}
}

// endpointLabel collapses a request path into a bounded metric label.
func endpointLabel(path string) string {
	path = strings.TrimRight(path, "/")
	idx := strings.LastIndex(path, "/collections")
	if idx < 0 {
		return "other"
	}
	rest := strings.Trim(path[idx+len("/collections"):], "/")
	switch {
	case rest == "":
		return "collections"
	case strings.HasSuffix(rest, "/items"):
		return "items"
	case strings.Contains(rest, "/items/"):
		return "item"
	default:
		return "collection"
	}
}

// Throttle returns the shared throttle tracker.
func (c *Client) Throttle() *ratelimit.Tracker {
	return c.throttle
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// GetCache returns the cache manager, or nil when caching is off.
func (c *Client) GetCache() *cache.Manager {
	return c.cache
}
