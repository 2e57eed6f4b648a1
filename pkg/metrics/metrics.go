// Package metrics exposes the Prometheus metrics of the harvester.
// All metrics are defined in their respective packages (client, cache,
// limiter, pagination, partition) to maintain modularity and avoid circular
// dependencies; this package serves them over HTTP.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Sternrassler/listing-harvester/pkg/logging"
)

// Registry is the default Prometheus registry used by the harvester.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler returns the HTTP handler serving all registered metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Server serves /metrics until its context is cancelled.
type Server struct {
	srv      *http.Server
	listener net.Listener
}

// Listen binds addr and returns a server ready to Serve.
func Listen(addr string) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	return &Server{
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: ln,
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve blocks until ctx is cancelled, then shuts the server down.
func (s *Server) Serve(ctx context.Context) error {
	logger := logging.NewLogger(logging.ComponentHarvester)

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", s.Addr()).Msg("Serving metrics")
		errCh <- s.srv.Serve(s.listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - listing_requests_total{status} (Counter): Total API requests by HTTP status
//   - listing_request_duration_seconds (Histogram): Request duration
//   - listing_errors_total{class} (Counter): Failed pages by class (network, status, decode, envelope)
//
// Retry Metrics (pkg/client):
//   - listing_retries_total{error_class} (Counter): Retry attempts by error class
//   - listing_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - listing_retry_exhausted_total{error_class} (Counter): Pages that exhausted max retries
//
// Cache Metrics (pkg/cache):
//   - listing_cache_hits_total (Counter): Page cache hits
//   - listing_cache_misses_total (Counter): Page cache misses
//   - listing_cache_written_bytes_total (Counter): Bytes written to the cache
//   - listing_cache_errors_total{operation} (Counter): Cache operation errors
//
// Limiter Metrics (pkg/limiter):
//   - listing_inflight_requests (Gauge): Requests currently holding a permit
//   - listing_limiter_waits_total (Counter): Acquisitions that had to wait
//
// Pagination Metrics (pkg/pagination):
//   - listing_pages_fetched_total (Counter): Pages fetched successfully
//   - listing_pages_failed_total (Counter): Pages that could not be fetched
//   - listing_window_duration_seconds{granularity} (Histogram): Time to page one window
//
// Partition Metrics (pkg/partition):
//   - listing_windows_total{granularity, outcome} (Counter): Windows accepted, subdivided or truncated
//   - listing_overflow_windows_total (Counter): Finest windows accepted over the ceiling
//
// Example Prometheus Queries:
//
//   # Page failure rate
//   rate(listing_pages_failed_total[5m]) /
//   (rate(listing_pages_fetched_total[5m]) + rate(listing_pages_failed_total[5m]))
//
//   # Limiter saturation
//   listing_inflight_requests
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(listing_request_duration_seconds_bucket[5m]))
//
//   # Truncated windows
//   increase(listing_overflow_windows_total[1h])
