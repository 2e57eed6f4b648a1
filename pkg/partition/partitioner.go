// Package partition walks a date range in windows and subdivides any window
// whose result count exceeds the ceiling the API can paginate through.
//
// A walk starts coarse (one window per year by default). A year holding more
// than Ceiling listings is discarded and walked again month by month; a month
// over the ceiling is walked in biweekly windows whose counts are summed into
// the month's statistic. Biweekly windows are final unless the overflow policy
// asks for a weekly pass.
package partition

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/listing-harvester/pkg/logging"
	"github.com/Sternrassler/listing-harvester/pkg/pagination"
	"github.com/Sternrassler/listing-harvester/pkg/window"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// DefaultCeiling is the largest result count the API can page through.
const DefaultCeiling = 10000

var (
	windowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "listing_windows_total",
		Help: "Windows paged by granularity and outcome",
	}, []string{"granularity", "outcome"})

	overflowWindowsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "listing_overflow_windows_total",
		Help: "Finest-level windows accepted with more results than the ceiling",
	})
)

// Window outcomes used as metric labels.
const (
	outcomeAccepted   = "accepted"
	outcomeSubdivided = "subdivided"
	outcomeTruncated  = "truncated"
)

// OverflowPolicy decides what happens to a biweekly window over the ceiling.
type OverflowPolicy int

const (
	// Truncate accepts the biweekly window as is.
	Truncate OverflowPolicy = iota

	// Subdivide walks the biweekly window again in weekly windows. Weekly
	// windows are always accepted.
	Subdivide
)

// String implements fmt.Stringer.
func (p OverflowPolicy) String() string {
	switch p {
	case Truncate:
		return "truncate"
	case Subdivide:
		return "subdivide"
	default:
		return fmt.Sprintf("overflow(%d)", int(p))
	}
}

// ParseOverflowPolicy converts a configuration value into a policy.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "truncate":
		return Truncate, nil
	case "subdivide":
		return Subdivide, nil
	default:
		return 0, fmt.Errorf("invalid overflow policy %q (use truncate or subdivide)", s)
	}
}

// PeriodStatistic is the number of listings found for one calendar month.
type PeriodStatistic struct {
	Year       int
	Month      int
	EventCount int
}

// Pager pages through a single window.
type Pager interface {
	Page(ctx context.Context, w window.Window) (pagination.WindowResult, error)
}

// StatsRecorder persists monthly statistics.
type StatsRecorder interface {
	Record(ctx context.Context, stat PeriodStatistic) error
}

type discardStats struct{}

func (discardStats) Record(context.Context, PeriodStatistic) error { return nil }

// Config holds partitioner configuration.
type Config struct {
	// Ceiling is the largest count accepted without subdividing.
	Ceiling int

	// Initial is the granularity of the first pass over a range.
	Initial window.Granularity

	// Overflow applies to biweekly windows over the ceiling.
	Overflow OverflowPolicy
}

// DefaultConfig returns the default partitioner configuration.
func DefaultConfig() Config {
	return Config{
		Ceiling:  DefaultCeiling,
		Initial:  window.Year,
		Overflow: Truncate,
	}
}

// Partitioner walks date ranges window by window.
type Partitioner struct {
	pager  Pager
	stats  StatsRecorder
	config Config
	logger zerolog.Logger
}

// New creates a partitioner. stats may be nil to discard statistics.
func New(pager Pager, stats StatsRecorder, cfg Config) (*Partitioner, error) {
	if pager == nil {
		return nil, fmt.Errorf("pager is required")
	}
	if cfg.Ceiling <= 0 {
		return nil, fmt.Errorf("ceiling must be > 0 (got %d)", cfg.Ceiling)
	}
	if !cfg.Initial.Valid() {
		return nil, fmt.Errorf("%w: %s", window.ErrInvalidGranularity, cfg.Initial)
	}
	if stats == nil {
		stats = discardStats{}
	}

	return &Partitioner{
		pager:  pager,
		stats:  stats,
		config: cfg,
		logger: logging.NewLogger(logging.ComponentPartitioner),
	}, nil
}

// Run walks [start, end] at the configured initial granularity and returns the
// accepted window results in chronological order.
func (p *Partitioner) Run(ctx context.Context, start, end time.Time) ([]pagination.WindowResult, error) {
	return p.Walk(ctx, start, end, p.config.Initial)
}

// Walk walks [start, end] in windows of granularity g. The walk stops once a
// window would start on or after end.
func (p *Partitioner) Walk(ctx context.Context, start, end time.Time, g window.Granularity) ([]pagination.WindowResult, error) {
	if !g.Valid() {
		return nil, fmt.Errorf("%w: %s", window.ErrInvalidGranularity, g)
	}
	return p.walk(ctx, start, end, g, false)
}

// walk steps through windows of g. Sub-walks inside a parent window are
// inclusive so a final one-day window is still visited.
func (p *Partitioner) walk(ctx context.Context, start, end time.Time, g window.Granularity, inclusive bool) ([]pagination.WindowResult, error) {
	var results []pagination.WindowResult

	for cur := start; cur.Before(end) || (inclusive && cur.Equal(end)); {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("walk %s windows: %w", g, err)
		}

		w := window.New(cur, g, end)
		accepted, err := p.visit(ctx, w)
		if err != nil {
			return nil, err
		}
		results = append(results, accepted...)

		cur = w.NextStart()
	}

	return results, nil
}

// visit pages one window and decides whether to accept or subdivide it.
func (p *Partitioner) visit(ctx context.Context, w window.Window) ([]pagination.WindowResult, error) {
	p.logger.Info().Stringer("window", w).Msg("Fetching window")

	result, err := p.pager.Page(ctx, w)
	if err != nil {
		return nil, fmt.Errorf("page %s: %w", w, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("page %s: %w", w, err)
	}
	count := result.Count()

	if count <= p.config.Ceiling {
		windowsTotal.WithLabelValues(w.Granularity.String(), outcomeAccepted).Inc()
		if w.Granularity == window.Month {
			if err := p.record(ctx, w, count); err != nil {
				return nil, err
			}
		}
		p.logger.Info().
			Stringer("window", w).
			Int("listings", count).
			Msg("Window accepted")
		return []pagination.WindowResult{result}, nil
	}

	finer, ok := w.Granularity.Finer()
	if ok && (finer != window.Week || p.config.Overflow == Subdivide) {
		windowsTotal.WithLabelValues(w.Granularity.String(), outcomeSubdivided).Inc()
		p.logger.Info().
			Stringer("window", w).
			Int("listings", count).
			Int("ceiling", p.config.Ceiling).
			Stringer("granularity", finer).
			Msg("Window exceeds ceiling, walking finer windows")

		// A year walk is a plain calendar walk. Walks inside a month or a
		// biweekly window must also visit a final one-day window.
		sub, err := p.walk(ctx, w.Start, w.End, finer, w.Granularity != window.Year)
		if err != nil {
			return nil, err
		}
		if w.Granularity == window.Month {
			total := 0
			for _, r := range sub {
				total += r.Count()
			}
			if err := p.record(ctx, w, total); err != nil {
				return nil, err
			}
		}
		// the coarse result only served to size the window
		return sub, nil
	}

	// Finest level reached: accept what the API paginated.
	windowsTotal.WithLabelValues(w.Granularity.String(), outcomeTruncated).Inc()
	overflowWindowsTotal.Inc()
	p.logger.Warn().
		Stringer("window", w).
		Int("listings", count).
		Int("total_results", result.TotalResults).
		Int("ceiling", p.config.Ceiling).
		Msg("Window exceeds ceiling at finest granularity, accepting as is")
	return []pagination.WindowResult{result}, nil
}

func (p *Partitioner) record(ctx context.Context, w window.Window, count int) error {
	stat := PeriodStatistic{
		Year:       w.Start.Year(),
		Month:      int(w.Start.Month()),
		EventCount: count,
	}
	if err := p.stats.Record(ctx, stat); err != nil {
		return fmt.Errorf("record statistic %d-%02d: %w", stat.Year, stat.Month, err)
	}
	p.logger.Info().
		Int("year", stat.Year).
		Int("month", stat.Month).
		Int("events", stat.EventCount).
		Msg("Updated statistics")
	return nil
}
