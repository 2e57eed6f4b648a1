// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Component names attached to every log line as the "component" field.
const (
	ComponentClient      = "client"
	ComponentCache       = "cache"
	ComponentLimiter     = "limiter"
	ComponentPager       = "pager"
	ComponentPartitioner = "partitioner"
	ComponentSink        = "sink"
	ComponentLedger      = "ledger"
	ComponentHarvester   = "harvester"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// ValidLevel reports whether level names a known log level.
func ValidLevel(level string) bool {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "warning", "error":
		return true
	default:
		return false
	}
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Per-page flow (page number, listings on page)
//   - Cache operations (hit/miss, key, TTL)
//   - Ledger row writes
//
// Info: Normal operation events
//   - Window fetched, accepted or subdivided
//   - Fetch progress every 50 pages
//   - Year files saved, ledger converted
//   - Metrics server startup
//
// Warn: Warning conditions that don't prevent operation
//   - Failed pages counted as empty
//   - Windows over the ceiling at the finest granularity
//   - Retry attempts
//   - Cache errors (fallback to direct request)
//
// Error: Error conditions requiring attention
//   - Aborted runs (ledger errors, cancelled context)
//   - Configuration errors
//
// Context Fields:
//   - window: window bounds and granularity
//   - page: page number within a window
//   - listings: listings collected
//   - total_results: totalResults reported by the probe page
//   - ceiling: configured result ceiling
//   - status_code: HTTP status code
//   - error_class: Error classification (network, status, decode, envelope)
//   - duration: Request or window duration
