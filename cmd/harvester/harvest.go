package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/Sternrassler/listing-harvester/internal/config"
	"github.com/Sternrassler/listing-harvester/pkg/cache"
	"github.com/Sternrassler/listing-harvester/pkg/client"
	"github.com/Sternrassler/listing-harvester/pkg/limiter"
	"github.com/Sternrassler/listing-harvester/pkg/logging"
	"github.com/Sternrassler/listing-harvester/pkg/metrics"
	"github.com/Sternrassler/listing-harvester/pkg/pagination"
	"github.com/Sternrassler/listing-harvester/pkg/partition"
	"github.com/Sternrassler/listing-harvester/pkg/sink"
	"github.com/Sternrassler/listing-harvester/pkg/window"
)

// harvester wires the fetch pipeline for one invocation.
type harvester struct {
	cfg         *config.Config
	fs          afero.Fs
	partitioner *partition.Partitioner
	writer      *sink.YearWriter
	ledger      *sink.Ledger
	redis       *redis.Client
	stopMetrics context.CancelFunc
	metricsDone chan error
	logger      zerolog.Logger
}

func newHarvester(ctx context.Context, fs afero.Fs, cfg *config.Config) (*harvester, error) {
	h := &harvester{
		cfg:    cfg,
		fs:     fs,
		logger: logging.NewLogger(logging.ComponentHarvester),
	}

	clientCfg := cfg.ClientConfig()
	if cfg.Cache.RedisAddr != "" {
		h.redis = redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})
		if err := h.redis.Ping(ctx).Err(); err != nil {
			h.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Cache.RedisAddr, err)
		}
		clientCfg.Cache = cache.NewManager(h.redis, cfg.Cache.TTL)
		h.logger.Info().Str("addr", cfg.Cache.RedisAddr).Dur("ttl", cfg.Cache.TTL).Msg("Page cache enabled")
	}

	lim := limiter.New(cfg.API.Concurrency, logging.NewLogger(logging.ComponentLimiter))
	c, err := client.New(clientCfg, lim)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("create client: %w", err)
	}

	h.ledger = sink.NewLedger(fs, cfg.Output.StatsFile)
	h.writer = sink.NewYearWriter(fs, cfg.Output.Dir)

	pager := pagination.NewPager(c, cfg.PagerConfig())
	h.partitioner, err = partition.New(pager, h.ledger, cfg.PartitionerConfig())
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("create partitioner: %w", err)
	}

	if cfg.Metrics.Addr != "" {
		srv, err := metrics.Listen(cfg.Metrics.Addr)
		if err != nil {
			h.Close()
			return nil, err
		}
		metricsCtx, cancel := context.WithCancel(context.Background())
		h.stopMetrics = cancel
		h.metricsDone = make(chan error, 1)
		go func() { h.metricsDone <- srv.Serve(metricsCtx) }()
	}

	return h, nil
}

// Run harvests every year in [startYear, endYear] and converts the ledger.
func (h *harvester) Run(ctx context.Context, startYear, endYear int) error {
	if h.cfg.Output.ResetStats {
		if err := h.ledger.Reset(); err != nil {
			return err
		}
	}

	for year := startYear; year <= endYear; year++ {
		if err := h.harvestYear(ctx, year); err != nil {
			return err
		}
	}

	return h.convertLedger()
}

func (h *harvester) harvestYear(ctx context.Context, year int) error {
	start := time.Now()
	h.logger.Info().Int("year", year).Msg("Harvesting year")

	results, err := h.partitioner.Run(ctx,
		window.Date(year, time.January, 1),
		window.Date(year, time.December, 31))
	if err != nil {
		return fmt.Errorf("harvest %d: %w", year, err)
	}

	var listings []client.Listing
	failed := 0
	for _, r := range results {
		listings = append(listings, r.Listings...)
		failed += r.PagesFailed
	}

	if err := h.writer.Save(year, listings); err != nil {
		return err
	}

	h.logger.Info().
		Int("year", year).
		Int("windows", len(results)).
		Int("listings", len(listings)).
		Int("failed_pages", failed).
		Dur("duration", time.Since(start)).
		Msg("Year complete")
	return nil
}

func (h *harvester) convertLedger() error {
	path := h.cfg.Output.StatsFile
	exists, err := afero.Exists(h.fs, path)
	if err != nil {
		return fmt.Errorf("stat ledger: %w", err)
	}
	if !exists {
		h.logger.Info().Str("path", path).Msg("No statistics recorded, skipping conversion")
		return nil
	}
	return sink.ConvertLedger(h.fs, path, h.cfg.Output.StatsJSON, !h.cfg.Output.KeepCSV)
}

// Close stops the metrics server and releases the Redis connection.
func (h *harvester) Close() {
	if h.stopMetrics != nil {
		h.stopMetrics()
		if err := <-h.metricsDone; err != nil {
			h.logger.Warn().Err(err).Msg("Metrics server stopped with error")
		}
	}
	if h.redis != nil {
		if err := h.redis.Close(); err != nil {
			h.logger.Warn().Err(err).Msg("Failed to close redis client")
		}
	}
}
