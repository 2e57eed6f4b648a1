package sink

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/Sternrassler/listing-harvester/pkg/logging"
	"github.com/spf13/afero"
)

// YearSummary is the converted form of one year of ledger rows.
type YearSummary struct {
	TotalEvents int            `json:"total_events"`
	Months      map[string]int `json:"months"`
}

func newYearSummary() *YearSummary {
	months := make(map[string]int, 12)
	for m := 1; m <= 12; m++ {
		months[fmt.Sprintf("%02d", m)] = 0
	}
	return &YearSummary{Months: months}
}

// Summarize folds ledger rows into per-year summaries keyed by year.
func Summarize(rows [][]string) (map[string]*YearSummary, error) {
	out := make(map[string]*YearSummary)
	for i, row := range rows {
		if len(row) != 3 {
			return nil, fmt.Errorf("%w: row %d has %d fields", ErrMalformedLedger, i+2, len(row))
		}
		year, err := strconv.Atoi(row[0])
		if err != nil {
			return nil, fmt.Errorf("%w: row %d year %q", ErrMalformedLedger, i+2, row[0])
		}
		month, err := strconv.Atoi(row[1])
		if err != nil || month < 1 || month > 12 {
			return nil, fmt.Errorf("%w: row %d month %q", ErrMalformedLedger, i+2, row[1])
		}
		count, err := strconv.Atoi(row[2])
		if err != nil {
			return nil, fmt.Errorf("%w: row %d count %q", ErrMalformedLedger, i+2, row[2])
		}

		key := strconv.Itoa(year)
		summary, ok := out[key]
		if !ok {
			summary = newYearSummary()
			out[key] = summary
		}
		summary.TotalEvents += count
		summary.Months[fmt.Sprintf("%02d", month)] += count
	}
	return out, nil
}

// ConvertLedger writes the ledger at csvPath as a JSON summary to jsonPath.
// When removeSource is set the CSV file is deleted after a successful write.
// A missing ledger returns an error wrapping os.ErrNotExist.
func ConvertLedger(fs afero.Fs, csvPath, jsonPath string, removeSource bool) error {
	logger := logging.NewLogger(logging.ComponentLedger)

	if _, err := fs.Stat(csvPath); err != nil {
		return fmt.Errorf("stat ledger: %w", err)
	}

	rows, err := readLedger(fs, csvPath)
	if err != nil {
		return err
	}
	summary, err := Summarize(rows)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	if err := afero.WriteFile(fs, jsonPath, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", jsonPath, err)
	}

	logger.Info().
		Str("source", csvPath).
		Str("destination", jsonPath).
		Int("years", len(summary)).
		Msg("Converted statistics ledger")

	if removeSource {
		if err := fs.Remove(csvPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove ledger: %w", err)
		}
		logger.Info().Str("path", csvPath).Msg("Removed statistics ledger")
	}
	return nil
}
