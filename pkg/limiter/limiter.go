// Package limiter caps the number of listing API requests in flight at once.
package limiter

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// DefaultCapacity is the number of concurrent requests allowed by default.
const DefaultCapacity = 10

var (
	inflightRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "listing_inflight_requests",
		Help: "Number of listing API requests currently holding a limiter slot",
	})

	limiterWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "listing_limiter_waits_total",
		Help: "Total number of slot acquisitions that had to wait for a free slot",
	})
)

// Limiter is a counting admission gate. Waiters are admitted in FIFO order.
type Limiter struct {
	sem      *semaphore.Weighted
	capacity int
	inflight atomic.Int64
	logger   zerolog.Logger
}

// New creates a limiter with the given capacity. Non-positive capacities fall
// back to DefaultCapacity.
func New(capacity int, logger zerolog.Logger) *Limiter {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Limiter{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: capacity,
		logger:   logger,
	}
}

// Capacity returns the maximum number of concurrent slots.
func (l *Limiter) Capacity() int {
	return l.capacity
}

// InFlight returns the number of slots currently held.
func (l *Limiter) InFlight() int {
	return int(l.inflight.Load())
}

// Acquire blocks until a slot is free or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	if !l.sem.TryAcquire(1) {
		limiterWaitsTotal.Inc()
		l.logger.Debug().
			Int("capacity", l.capacity).
			Msg("Waiting for request slot")
		if err := l.sem.Acquire(ctx, 1); err != nil {
			return fmt.Errorf("acquire request slot: %w", err)
		}
	}
	l.inflight.Add(1)
	inflightRequests.Inc()
	return nil
}

// Release frees a slot obtained by Acquire.
func (l *Limiter) Release() {
	l.inflight.Add(-1)
	inflightRequests.Dec()
	l.sem.Release(1)
}

// Do runs fn while holding a slot. The slot is released on every exit path,
// including a panic in fn.
func (l *Limiter) Do(ctx context.Context, fn func() error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()
	return fn()
}
