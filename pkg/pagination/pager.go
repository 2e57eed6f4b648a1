package pagination

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/listing-harvester/pkg/client"
	"github.com/Sternrassler/listing-harvester/pkg/logging"
	"github.com/Sternrassler/listing-harvester/pkg/window"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
)

var (
	pagesFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "listing_pages_fetched_total",
		Help: "Total number of pages fetched successfully",
	})

	pagesFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "listing_pages_failed_total",
		Help: "Total number of pages that could not be fetched",
	})

	windowDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "listing_window_duration_seconds",
		Help:    "Time to page through one window by granularity",
		Buckets: []float64{0.5, 1, 5, 15, 60, 300},
	}, []string{"granularity"})
)

// FailedPagePolicy decides what a failed page means for its window.
type FailedPagePolicy int

const (
	// TreatAsEmpty counts a failed page as zero listings.
	TreatAsEmpty FailedPagePolicy = iota

	// AbortWindow fails the whole window if any page, including the probe, failed.
	AbortWindow
)

// String implements fmt.Stringer.
func (p FailedPagePolicy) String() string {
	switch p {
	case TreatAsEmpty:
		return "empty"
	case AbortWindow:
		return "abort"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParseFailedPagePolicy converts a configuration value into a policy.
func ParseFailedPagePolicy(s string) (FailedPagePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "empty":
		return TreatAsEmpty, nil
	case "abort":
		return AbortWindow, nil
	default:
		return 0, fmt.Errorf("invalid failed page policy %q (use empty or abort)", s)
	}
}

// Config holds pager configuration
type Config struct {
	// PageSize must match the page size the fetcher requests
	PageSize int

	// FailedPages is applied to pages that could not be fetched
	FailedPages FailedPagePolicy
}

// DefaultConfig returns the default pager configuration
func DefaultConfig() Config {
	return Config{
		PageSize:    client.DefaultPageSize,
		FailedPages: TreatAsEmpty,
	}
}

// PageFetcher fetches a single page of a window.
type PageFetcher interface {
	FetchPage(ctx context.Context, w window.Window, page int) client.PageResult
}

// WindowResult is the merged outcome of paging through one window.
type WindowResult struct {
	Window       window.Window
	Listings     []client.Listing
	TotalResults int
	PagesFetched int
	PagesFailed  int

	// ProbeFailed is set when page 1 could not be fetched to learn the total.
	ProbeFailed bool
}

// Count returns the number of listings collected.
func (r WindowResult) Count() int {
	return len(r.Listings)
}

// Pager pages through windows.
type Pager struct {
	fetcher PageFetcher
	config  Config
	logger  zerolog.Logger
}

// NewPager creates a new pager
func NewPager(fetcher PageFetcher, config Config) *Pager {
	if config.PageSize <= 0 {
		config.PageSize = client.DefaultPageSize
	}

	return &Pager{
		fetcher: fetcher,
		config:  config,
		logger:  logging.NewLogger(logging.ComponentPager),
	}
}

// TotalPages returns the number of pages requested for total results.
// It yields one page more than needed when total is an exact multiple of
// pageSize; the extra page comes back empty.
func TotalPages(total, pageSize int) int {
	if total < 0 {
		total = 0
	}
	return total/pageSize + 1
}

// Page fetches every page of w and merges the listings.
func (p *Pager) Page(ctx context.Context, w window.Window) (WindowResult, error) {
	start := time.Now()
	defer func() {
		windowDuration.WithLabelValues(w.Granularity.String()).Observe(time.Since(start).Seconds())
	}()

	probe := p.fetcher.FetchPage(ctx, w, 1)
	if err := ctx.Err(); err != nil {
		return WindowResult{Window: w}, fmt.Errorf("probe page of %s: %w", w, err)
	}
	if probe.Failed() {
		pagesFailedTotal.Inc()
		if p.config.FailedPages == AbortWindow {
			return WindowResult{Window: w}, fmt.Errorf("probe page of %s: %w", w, probe.Err)
		}
		p.logger.Warn().
			Err(probe.Err).
			Stringer("window", w).
			Msg("Probe page failed, window treated as empty")
	}

	total := probe.TotalResults
	totalPages := TotalPages(total, p.config.PageSize)

	p.logger.Info().
		Stringer("window", w).
		Int("total_results", total).
		Int("total_pages", totalPages).
		Msg("Starting parallel page fetch")

	var done atomic.Int64
	workers := pool.NewWithResults[client.PageResult]()
	for page := 1; page <= totalPages; page++ {
		workers.Go(func() client.PageResult {
			result := p.fetcher.FetchPage(ctx, w, page)
			if n := done.Add(1); n%50 == 0 {
				p.logger.Info().
					Int64("fetched", n).
					Int("total", totalPages).
					Float64("progress_pct", float64(n)/float64(totalPages)*100).
					Msg("Fetch progress")
			}
			return result
		})
	}
	pages := workers.Wait()

	// Pages cut short by cancellation are not empty pages.
	if err := ctx.Err(); err != nil {
		return WindowResult{Window: w}, fmt.Errorf("page %s: %w", w, err)
	}

	sort.Slice(pages, func(i, j int) bool { return pages[i].Page < pages[j].Page })

	result := WindowResult{
		Window:       w,
		TotalResults: total,
		ProbeFailed:  probe.Failed(),
	}
	var firstErr error
	for _, page := range pages {
		if page.Failed() {
			result.PagesFailed++
			pagesFailedTotal.Inc()
			if firstErr == nil {
				firstErr = page.Err
			}
			continue
		}
		result.PagesFetched++
		pagesFetchedTotal.Inc()
		result.Listings = append(result.Listings, page.Listings...)
	}

	if result.PagesFailed > 0 {
		if p.config.FailedPages == AbortWindow {
			return WindowResult{Window: w}, fmt.Errorf("%d of %d pages of %s failed: %w",
				result.PagesFailed, totalPages, w, firstErr)
		}
		p.logger.Warn().
			Stringer("window", w).
			Int("failed_pages", result.PagesFailed).
			Int("total_pages", totalPages).
			Msg("Failed pages counted as empty")
	}

	p.logger.Info().
		Stringer("window", w).
		Int("listings", result.Count()).
		Int("pages", result.PagesFetched).
		Int("total", totalPages).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return result, nil
}
