package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Sternrassler/listing-harvester/internal/config"
	"github.com/Sternrassler/listing-harvester/pkg/logging"
	"github.com/Sternrassler/listing-harvester/pkg/window"
)

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"endpoint":       "api.endpoint",
	"concurrency":    "api.concurrency",
	"retry-attempts": "api.retry_attempts",
	"failed-pages":   "api.failed_pages",
	"ceiling":        "partition.ceiling",
	"granularity":    "partition.granularity",
	"overflow":       "partition.overflow",
	"output-dir":     "output.dir",
	"stats-file":     "output.stats_file",
	"stats-json":     "output.stats_json",
	"reset-stats":    "output.reset_stats",
	"keep-csv":       "output.keep_csv",
	"redis-addr":     "cache.redis_addr",
	"metrics-addr":   "metrics.addr",
	"log-level":      "logging.level",
	"pretty":         "logging.pretty",
}

func newRootCmd(fs afero.Fs) *cobra.Command {
	v := config.New()
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "harvester START_YEAR END_YEAR",
		Short: "Harvest event listings year by year",
		Long: `harvester pages through the listing API for every year from START_YEAR
to END_YEAR (inclusive). Windows holding more results than the API can page
through are split into months and then biweekly windows.

Listings are written to <output-dir>/events<year>.json. Monthly counts are kept
in a CSV ledger and converted to JSON once all years are done.

Example usage:
  harvester 2020 2020
  harvester 2015 2024 --concurrency 5 --output-dir data
  harvester 2019 2019 --granularity month --redis-addr localhost:6379`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			startYear, endYear, err := parseYears(args)
			if err != nil {
				return err
			}

			cfg, err := loadConfig(cmd, v, cfgFile)
			if err != nil {
				return err
			}

			h, err := newHarvester(cmd.Context(), fs, cfg)
			if err != nil {
				return err
			}
			defer h.Close()

			return h.Run(cmd.Context(), startYear, endYear)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is .harvester.yaml)")
	pf.String("stats-file", "event_statistics.csv", "CSV ledger of monthly counts")
	pf.String("stats-json", "event_statistics.json", "JSON summary written from the ledger")
	pf.Bool("keep-csv", false, "keep the CSV ledger after converting it")
	pf.String("log-level", string(logging.LevelInfo), "log level (debug, info, warn, error)")
	pf.Bool("pretty", false, "human-readable console logs")

	f := cmd.Flags()
	f.String("endpoint", "", "GraphQL endpoint of the listing API")
	f.Int("concurrency", 10, "maximum requests in flight")
	f.Int("retry-attempts", 1, "attempts per page including the first")
	f.String("failed-pages", "empty", "failed page policy (empty, abort)")
	f.Int("ceiling", 10000, "largest result count accepted without subdividing")
	f.String("granularity", window.Year.String(), "granularity of the first pass (year, month, biweekly, week)")
	f.String("overflow", "truncate", "biweekly windows over the ceiling (truncate, subdivide)")
	f.String("output-dir", "events", "directory for the per-year JSON files")
	f.Bool("reset-stats", false, "remove the CSV ledger before harvesting")
	f.String("redis-addr", "", "Redis address for the page cache (disabled when empty)")
	f.String("metrics-addr", "", "address to serve Prometheus metrics on (disabled when empty)")

	cmd.AddCommand(newStatsCmd(fs, v, &cfgFile))
	return cmd
}

// loadConfig binds the flags cmd knows about and loads the configuration.
func loadConfig(cmd *cobra.Command, v *viper.Viper, cfgFile string) (*config.Config, error) {
	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || bindErr != nil {
			return
		}
		bindErr = v.BindPFlag(key, f)
	})
	if bindErr != nil {
		return nil, fmt.Errorf("binding flags: %w", bindErr)
	}

	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logCfg := cfg.LoggerConfig()
	logCfg.Output = cmd.ErrOrStderr()
	logging.Setup(logCfg)
	return cfg, nil
}

func parseYears(args []string) (int, int, error) {
	start, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid start year %q", args[0])
	}
	end, err := strconv.Atoi(args[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid end year %q", args[1])
	}
	if start > end {
		return 0, 0, fmt.Errorf("start year must be less than or equal to end year")
	}
	return start, end, nil
}
