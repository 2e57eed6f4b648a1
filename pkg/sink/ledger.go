package sink

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"

	"github.com/Sternrassler/listing-harvester/pkg/logging"
	"github.com/Sternrassler/listing-harvester/pkg/partition"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// ErrMalformedLedger is returned when a ledger file does not start with the
// expected header row.
var ErrMalformedLedger = errors.New("malformed statistics ledger")

var ledgerHeader = []string{"Year", "Month", "Num_Events"}

// Ledger is a CSV file holding one row per (year, month). Recording a month
// that already has a row overwrites its count.
type Ledger struct {
	mu     sync.Mutex
	fs     afero.Fs
	path   string
	logger zerolog.Logger
}

// NewLedger creates a ledger backed by path.
func NewLedger(fs afero.Fs, path string) *Ledger {
	return &Ledger{
		fs:     fs,
		path:   path,
		logger: logging.NewLogger(logging.ComponentLedger),
	}
}

// Path returns the ledger file path.
func (l *Ledger) Path() string {
	return l.path
}

// Record stores stat, replacing an existing row for the same month.
func (l *Ledger) Record(_ context.Context, stat partition.PeriodStatistic) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rows, err := readLedger(l.fs, l.path)
	if err != nil {
		return err
	}

	year := strconv.Itoa(stat.Year)
	month := fmt.Sprintf("%02d", stat.Month)
	count := strconv.Itoa(stat.EventCount)

	updated := false
	for _, row := range rows {
		if len(row) == 3 && row[0] == year && row[1] == month {
			row[2] = count
			updated = true
			break
		}
	}
	if !updated {
		rows = append(rows, []string{year, month, count})
	}

	if err := writeLedger(l.fs, l.path, rows); err != nil {
		return err
	}

	l.logger.Debug().
		Str("year", year).
		Str("month", month).
		Int("events", stat.EventCount).
		Bool("overwritten", updated).
		Msg("Ledger row written")
	return nil
}

// Rows returns the ledger rows without the header.
func (l *Ledger) Rows() ([][]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return readLedger(l.fs, l.path)
}

// Reset removes the ledger file. A missing file is not an error.
func (l *Ledger) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.fs.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove ledger: %w", err)
	}
	return nil
}

// readLedger returns the data rows of the ledger at path. A missing or empty
// file yields no rows.
func readLedger(fs afero.Fs, path string) ([][]string, error) {
	data, err := afero.ReadFile(fs, path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedLedger, err)
	}

	if !slices.Equal(records[0], ledgerHeader) {
		return nil, fmt.Errorf("%w: unexpected header %q in %s", ErrMalformedLedger, records[0], path)
	}
	return records[1:], nil
}

func writeLedger(fs afero.Fs, path string, rows [][]string) error {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(ledgerHeader); err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	if err := writer.WriteAll(rows); err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}

	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create ledger directory: %w", err)
	}
	if err := afero.WriteFile(fs, path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	return nil
}
