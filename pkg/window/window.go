// Package window models the date windows the listing API is queried with and
// how a window steps to its successor at each granularity.
package window

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidGranularity is returned when a granularity name is not recognized.
var ErrInvalidGranularity = errors.New("invalid granularity")

// Granularity is the span a single window covers.
type Granularity int

const (
	// Year covers a calendar year (clamped to the requested range).
	Year Granularity = iota + 1

	// Month covers a calendar month.
	Month

	// Biweekly covers fourteen days, clamped to the limit it is built with.
	Biweekly

	// Week covers seven days, bounded by the parent span.
	Week
)

// String returns the name used in logs, metrics and configuration.
func (g Granularity) String() string {
	switch g {
	case Year:
		return "year"
	case Month:
		return "month"
	case Biweekly:
		return "biweekly"
	case Week:
		return "week"
	default:
		return fmt.Sprintf("granularity(%d)", int(g))
	}
}

// Valid reports whether g is one of the known granularities.
func (g Granularity) Valid() bool {
	return g >= Year && g <= Week
}

// Finer returns the next finer granularity and false when g is already the finest.
func (g Granularity) Finer() (Granularity, bool) {
	switch g {
	case Year:
		return Month, true
	case Month:
		return Biweekly, true
	case Biweekly:
		return Week, true
	default:
		return 0, false
	}
}

// ParseGranularity converts a configuration value into a Granularity.
func ParseGranularity(s string) (Granularity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "year", "yearly":
		return Year, nil
	case "month", "monthly":
		return Month, nil
	case "biweekly":
		return Biweekly, nil
	case "week", "weekly":
		return Week, nil
	default:
		return 0, fmt.Errorf("%w: %q (use year, month, biweekly or week)", ErrInvalidGranularity, s)
	}
}

// Window is an inclusive date range queried as a unit.
type Window struct {
	Start       time.Time
	End         time.Time
	Granularity Granularity
}

// Date returns midnight UTC of the given calendar day.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// New builds the window of granularity g that starts at start. The end is
// clamped to limit.
func New(start time.Time, g Granularity, limit time.Time) Window {
	start = truncateDay(start)
	limit = truncateDay(limit)

	var end time.Time
	switch g {
	case Year:
		end = Date(start.Year(), time.December, 31)
	case Month:
		end = lastDayOfMonth(start)
	case Biweekly:
		end = start.AddDate(0, 0, 13)
	case Week:
		end = start.AddDate(0, 0, 6)
	default:
		end = start
	}
	if end.After(limit) {
		end = limit
	}

	return Window{Start: start, End: end, Granularity: g}
}

// NextStart returns the first day of the window following w.
// Month windows step to the first of the next month regardless of where they
// started; every other granularity steps to the day after End.
func (w Window) NextStart() time.Time {
	if w.Granularity == Month {
		return Date(w.Start.Year(), w.Start.Month(), 1).AddDate(0, 1, 0)
	}
	return w.End.AddDate(0, 0, 1)
}

// Days returns the number of calendar days covered, inclusive.
func (w Window) Days() int {
	return int(w.End.Sub(w.Start).Hours()/24) + 1
}

// Format renders the window bounds using layout.
func (w Window) Format(layout string) (gte, lte string) {
	return w.Start.Format(layout), w.End.Format(layout)
}

// String implements fmt.Stringer.
func (w Window) String() string {
	return fmt.Sprintf("%s %s..%s", w.Granularity, w.Start.Format(time.DateOnly), w.End.Format(time.DateOnly))
}

func lastDayOfMonth(t time.Time) time.Time {
	return Date(t.Year(), t.Month(), 1).AddDate(0, 1, -1)
}

func truncateDay(t time.Time) time.Time {
	return Date(t.Year(), t.Month(), t.Day())
}
