// Package client provides the listing API page fetcher: one GraphQL request
// per (window, page), gated by a concurrency limiter, with optional caching.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/listing-harvester/pkg/cache"
	"github.com/Sternrassler/listing-harvester/pkg/limiter"
	"github.com/Sternrassler/listing-harvester/pkg/logging"
	"github.com/Sternrassler/listing-harvester/pkg/window"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for listing API requests.
var (
	listingRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "listing_requests_total",
		Help: "Total listing API requests by status",
	}, []string{"status"})

	listingRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "listing_request_duration_seconds",
		Help:    "Listing API request duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	})

	listingErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "listing_errors_total",
		Help: "Total failed page fetches by error class",
	}, []string{"class"})
)

const (
	// DefaultEndpoint is the GraphQL endpoint of the listing API.
	DefaultEndpoint = "https://ra.co/graphql"

	// DefaultPageSize is the number of listings requested per page.
	DefaultPageSize = 100

	// DateLayout formats window bounds as calendar dates.
	DateLayout = "2006-01-02"

	// ISODateLayout formats window bounds as ISO-8601 with milliseconds.
	ISODateLayout = "2006-01-02T15:04:05.000Z"
)

// ParseDateLayout resolves a configured date layout. "date" and "iso" name
// DateLayout and ISODateLayout; anything else must be a Go time layout
// containing a year.
func ParseDateLayout(s string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "date":
		return DateLayout, nil
	case "iso":
		return ISODateLayout, nil
	}
	if !strings.Contains(s, "2006") {
		return "", fmt.Errorf("invalid date layout %q (use date, iso or a Go time layout)", s)
	}
	return s, nil
}

// Listing is one opaque listing record, passed through unmodified.
type Listing = json.RawMessage

// PageResult is the outcome of fetching one page of one window. A failed page
// carries Err and no listings; the caller decides what a failure means.
type PageResult struct {
	Page         int
	Listings     []Listing
	TotalResults int
	Cached       bool
	Err          error
}

// Failed reports whether the page could not be fetched.
func (r PageResult) Failed() bool {
	return r.Err != nil
}

// Config holds the client configuration.
type Config struct {
	// Endpoint is the GraphQL URL
	Endpoint string

	// Headers sent with every request
	UserAgent string
	Referer   string

	// PageSize is sent as pageSize and determines page boundaries
	PageSize int

	// DateLayout formats gte/lte; one layout per deployment
	DateLayout string

	// RequestTimeout bounds a single attempt. Zero means no timeout.
	RequestTimeout time.Duration

	// Retry policy for a single page
	Retry RetryConfig

	// Cache is optional; nil disables page caching
	Cache *cache.Manager
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Endpoint:   DefaultEndpoint,
		UserAgent:  "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:106.0) Gecko/20100101 Firefox/106.0",
		Referer:    "https://ra.co/events/us/sanfrancisco",
		PageSize:   DefaultPageSize,
		DateLayout: DateLayout,
		Retry:      DefaultRetryConfig(),
	}
}

// Client fetches listing pages.
type Client struct {
	httpClient *http.Client
	limiter    *limiter.Limiter
	cache      *cache.Manager
	config     Config
	logger     zerolog.Logger
}

// New creates a new listing client. Every request acquires a slot from lim.
func New(cfg Config, lim *limiter.Limiter) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}

	if cfg.PageSize <= 0 {
		return nil, fmt.Errorf("page_size must be > 0 (got %d)", cfg.PageSize)
	}

	if lim == nil {
		return nil, fmt.Errorf("limiter is required")
	}

	if cfg.DateLayout == "" {
		cfg.DateLayout = DateLayout
	}

	logger := logging.NewLogger(logging.ComponentClient)

	return &Client{
		// no client-level timeout; RequestTimeout is applied per attempt
		httpClient: &http.Client{},
		limiter:    lim,
		cache:      cfg.Cache,
		config:     cfg,
		logger:     logger,
	}, nil
}

// FetchPage fetches one page of w. It never returns a Go error separately;
// transport, status, decode and envelope failures are reported in Err with
// empty listings and TotalResults 0.
func (c *Client) FetchPage(ctx context.Context, w window.Window, page int) PageResult {
	gte, lte := w.Format(c.config.DateLayout)
	key := cache.PageKey{
		Operation: OperationName,
		GTE:       gte,
		LTE:       lte,
		PageSize:  c.config.PageSize,
		Page:      page,
	}

	if result, ok := c.fromCache(ctx, key); ok {
		return result
	}

	var body []byte
	err := retryWithBackoff(ctx, c.config.Retry, c.logger, func() error {
		return c.limiter.Do(ctx, func() error {
			var postErr error
			body, postErr = c.post(ctx, newRequestBody(gte, lte, c.config.PageSize, page), page)
			return postErr
		})
	})
	if err != nil {
		return c.failed(page, w, err)
	}

	listings, total, err := decodePage(body, page)
	if err != nil {
		return c.failed(page, w, err)
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, key, body); err != nil {
			c.logger.Warn().Err(err).Str("key", key.String()).Msg("Failed to cache page")
		}
	}

	c.logger.Debug().
		Stringer("window", w).
		Int("page", page).
		Int("listings", len(listings)).
		Int("total_results", total).
		Msg("Page fetched")

	return PageResult{
		Page:         page,
		Listings:     listings,
		TotalResults: total,
	}
}

func (c *Client) fromCache(ctx context.Context, key cache.PageKey) (PageResult, bool) {
	if c.cache == nil {
		return PageResult{}, false
	}

	entry, err := c.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Warn().Err(err).Str("key", key.String()).Msg("Cache get error")
		}
		return PageResult{}, false
	}

	listings, total, err := decodePage(entry.Data, key.Page)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key.String()).Msg("Discarding undecodable cache entry")
		_ = c.cache.Delete(ctx, key)
		return PageResult{}, false
	}

	c.logger.Debug().
		Str("key", key.String()).
		Dur("ttl", entry.TTL()).
		Msg("Page served from cache")
	return PageResult{
		Page:         key.Page,
		Listings:     listings,
		TotalResults: total,
		Cached:       true,
	}, true
}

func (c *Client) failed(page int, w window.Window, err error) PageResult {
	class := classOf(err)
	if class == "" {
		class = ErrorClassNetwork
	}
	listingErrorsTotal.WithLabelValues(string(class)).Inc()

	c.logger.Warn().
		Err(err).
		Stringer("window", w).
		Int("page", page).
		Str("error_class", string(class)).
		Msg("Page fetch failed")

	return PageResult{Page: page, Err: err}
}

// post sends one request and returns the body of a 2xx response.
func (c *Client) post(ctx context.Context, payload requestBody, page int) ([]byte, error) {
	if c.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.RequestTimeout)
		defer cancel()
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	if c.config.Referer != "" {
		req.Header.Set("Referer", c.config.Referer)
	}

	startTime := time.Now()
	defer func() {
		listingRequestDuration.Observe(time.Since(startTime).Seconds())
	}()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		listingRequestsTotal.WithLabelValues("network_error").Inc()
		return nil, &APIError{ErrorClass: ErrorClassNetwork, Page: page, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	listingRequestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{StatusCode: resp.StatusCode, ErrorClass: ErrorClassNetwork, Page: page, Message: "read body", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, ErrorClass: ErrorClassStatus, Page: page, Message: resp.Status}
	}

	return body, nil
}

// decodePage extracts the listings and total count from a response body.
func decodePage(body []byte, page int) ([]Listing, int, error) {
	var env responseEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, 0, &APIError{StatusCode: http.StatusOK, ErrorClass: ErrorClassDecode, Page: page, Message: "invalid JSON body", Err: err}
	}
	if env.Data == nil || env.Data.EventListings == nil {
		return nil, 0, &APIError{StatusCode: http.StatusOK, ErrorClass: ErrorClassEnvelope, Page: page, Message: "response has no data.eventListings"}
	}
	return env.Data.EventListings.Data, env.Data.EventListings.TotalResults, nil
}
