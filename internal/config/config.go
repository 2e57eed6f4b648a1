// Package config loads harvester configuration from defaults, an optional
// YAML file and HARVESTER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Sternrassler/listing-harvester/pkg/client"
	"github.com/Sternrassler/listing-harvester/pkg/logging"
	"github.com/Sternrassler/listing-harvester/pkg/pagination"
	"github.com/Sternrassler/listing-harvester/pkg/partition"
	"github.com/Sternrassler/listing-harvester/pkg/window"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "HARVESTER"

// Config is the complete harvester configuration.
type Config struct {
	API       APIConfig       `mapstructure:"api"`
	Partition PartitionConfig `mapstructure:"partition"`
	Output    OutputConfig    `mapstructure:"output"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// APIConfig configures requests to the listing API.
type APIConfig struct {
	Endpoint       string        `mapstructure:"endpoint"`
	UserAgent      string        `mapstructure:"user_agent"`
	Referer        string        `mapstructure:"referer"`
	PageSize       int           `mapstructure:"page_size"`
	Concurrency    int           `mapstructure:"concurrency"`
	DateLayout     string        `mapstructure:"date_layout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	FailedPages    string        `mapstructure:"failed_pages"`
}

// PartitionConfig configures window subdivision.
type PartitionConfig struct {
	Ceiling     int    `mapstructure:"ceiling"`
	Granularity string `mapstructure:"granularity"`
	Overflow    string `mapstructure:"overflow"`
}

// OutputConfig configures where results and statistics are written.
type OutputConfig struct {
	Dir        string `mapstructure:"dir"`
	StatsFile  string `mapstructure:"stats_file"`
	StatsJSON  string `mapstructure:"stats_json"`
	ResetStats bool   `mapstructure:"reset_stats"`
	KeepCSV    bool   `mapstructure:"keep_csv"`
}

// CacheConfig enables the Redis page cache when Addr is set.
type CacheConfig struct {
	RedisAddr string        `mapstructure:"redis_addr"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// New returns a viper instance with defaults and environment binding applied.
// Callers may bind flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Load reads cfgFile (if set) into v and returns the validated configuration.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(".harvester")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/harvester")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	api := client.DefaultConfig()
	v.SetDefault("api.endpoint", api.Endpoint)
	v.SetDefault("api.user_agent", api.UserAgent)
	v.SetDefault("api.referer", api.Referer)
	v.SetDefault("api.page_size", api.PageSize)
	v.SetDefault("api.concurrency", 10)
	v.SetDefault("api.date_layout", "date")
	v.SetDefault("api.request_timeout", time.Duration(0))
	v.SetDefault("api.retry_attempts", api.Retry.MaxAttempts)
	v.SetDefault("api.failed_pages", pagination.TreatAsEmpty.String())

	v.SetDefault("partition.ceiling", partition.DefaultCeiling)
	v.SetDefault("partition.granularity", window.Year.String())
	v.SetDefault("partition.overflow", partition.Truncate.String())

	v.SetDefault("output.dir", "events")
	v.SetDefault("output.stats_file", "event_statistics.csv")
	v.SetDefault("output.stats_json", "event_statistics.json")
	v.SetDefault("output.reset_stats", false)
	v.SetDefault("output.keep_csv", false)

	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.ttl", 24*time.Hour)

	v.SetDefault("metrics.addr", "")

	v.SetDefault("logging.level", string(logging.LevelInfo))
	v.SetDefault("logging.pretty", false)
}

// Validate checks values that cannot be fixed up by defaults.
func (c *Config) Validate() error {
	if c.API.Endpoint == "" {
		return fmt.Errorf("api.endpoint is required")
	}
	if c.API.PageSize <= 0 {
		return fmt.Errorf("api.page_size must be > 0 (got %d)", c.API.PageSize)
	}
	if c.API.Concurrency <= 0 {
		return fmt.Errorf("api.concurrency must be > 0 (got %d)", c.API.Concurrency)
	}
	if c.API.RetryAttempts < 1 {
		return fmt.Errorf("api.retry_attempts must be >= 1 (got %d)", c.API.RetryAttempts)
	}
	if c.Partition.Ceiling <= 0 {
		return fmt.Errorf("partition.ceiling must be > 0 (got %d)", c.Partition.Ceiling)
	}
	if _, err := window.ParseGranularity(c.Partition.Granularity); err != nil {
		return err
	}
	if _, err := partition.ParseOverflowPolicy(c.Partition.Overflow); err != nil {
		return err
	}
	if _, err := pagination.ParseFailedPagePolicy(c.API.FailedPages); err != nil {
		return err
	}
	if _, err := client.ParseDateLayout(c.API.DateLayout); err != nil {
		return err
	}
	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	return nil
}

// ClientConfig converts the API section into a client configuration.
func (c *Config) ClientConfig() client.Config {
	cfg := client.DefaultConfig()
	cfg.Endpoint = c.API.Endpoint
	cfg.UserAgent = c.API.UserAgent
	cfg.Referer = c.API.Referer
	cfg.PageSize = c.API.PageSize
	cfg.DateLayout, _ = client.ParseDateLayout(c.API.DateLayout)
	cfg.RequestTimeout = c.API.RequestTimeout
	cfg.Retry.MaxAttempts = c.API.RetryAttempts
	return cfg
}

// PagerConfig converts the API section into a pager configuration.
func (c *Config) PagerConfig() pagination.Config {
	policy, _ := pagination.ParseFailedPagePolicy(c.API.FailedPages)
	return pagination.Config{
		PageSize:    c.API.PageSize,
		FailedPages: policy,
	}
}

// PartitionerConfig converts the partition section into a partitioner configuration.
func (c *Config) PartitionerConfig() partition.Config {
	g, _ := window.ParseGranularity(c.Partition.Granularity)
	overflow, _ := partition.ParseOverflowPolicy(c.Partition.Overflow)
	return partition.Config{
		Ceiling:  c.Partition.Ceiling,
		Initial:  g,
		Overflow: overflow,
	}
}

// LoggerConfig converts the logging section into a logger configuration.
func (c *Config) LoggerConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(c.Logging.Level)
	cfg.Pretty = c.Logging.Pretty
	return cfg
}
