// Package sink persists harvested listings and per-month statistics.
//
// Listings for a year are written as one JSON array per year. Monthly counts
// go to a CSV ledger which can be converted into a per-year JSON summary once
// a run completes. All file access goes through afero so callers can swap in
// an in-memory filesystem.
package sink

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/Sternrassler/listing-harvester/pkg/client"
	"github.com/Sternrassler/listing-harvester/pkg/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// YearWriter writes one JSON file per year into a directory.
type YearWriter struct {
	fs     afero.Fs
	dir    string
	logger zerolog.Logger
}

// NewYearWriter creates a writer rooted at dir.
func NewYearWriter(fs afero.Fs, dir string) *YearWriter {
	return &YearWriter{
		fs:     fs,
		dir:    dir,
		logger: logging.NewLogger(logging.ComponentSink),
	}
}

// Path returns the file a year is written to.
func (w *YearWriter) Path(year int) string {
	return filepath.Join(w.dir, fmt.Sprintf("events%d.json", year))
}

// Save writes listings for year as an indented JSON array, replacing any
// previous file.
func (w *YearWriter) Save(year int, listings []client.Listing) error {
	if listings == nil {
		listings = []client.Listing{}
	}

	data, err := json.MarshalIndent(listings, "", "  ")
	if err != nil {
		return fmt.Errorf("encode listings for %d: %w", year, err)
	}

	if err := w.fs.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	path := w.Path(year)
	if err := afero.WriteFile(w.fs, path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	w.logger.Info().
		Int("year", year).
		Int("listings", len(listings)).
		Str("path", path).
		Msg("Saved listings")
	return nil
}
