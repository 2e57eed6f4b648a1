package window

import (
	"errors"
	"testing"
	"time"
)

func TestParseGranularity(t *testing.T) {
	tests := []struct {
		input   string
		want    Granularity
		wantErr bool
	}{
		{input: "year", want: Year},
		{input: "Monthly", want: Month},
		{input: " biweekly ", want: Biweekly},
		{input: "week", want: Week},
		{input: "fortnight", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseGranularity(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidGranularity) {
					t.Fatalf("ParseGranularity(%q) error = %v, want ErrInvalidGranularity", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseGranularity(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseGranularity(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestGranularity_Finer(t *testing.T) {
	g, ok := Year.Finer()
	if !ok || g != Month {
		t.Errorf("Year.Finer() = %v, %v", g, ok)
	}
	g, ok = Month.Finer()
	if !ok || g != Biweekly {
		t.Errorf("Month.Finer() = %v, %v", g, ok)
	}
	if _, ok := Week.Finer(); ok {
		t.Error("Week should have no finer granularity")
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		start   time.Time
		g       Granularity
		limit   time.Time
		wantEnd time.Time
	}{
		{
			name:    "year",
			start:   Date(2020, time.January, 1),
			g:       Year,
			limit:   Date(2020, time.December, 31),
			wantEnd: Date(2020, time.December, 31),
		},
		{
			name:    "year clamped to limit",
			start:   Date(2020, time.January, 1),
			g:       Year,
			limit:   Date(2020, time.June, 30),
			wantEnd: Date(2020, time.June, 30),
		},
		{
			name:    "leap february",
			start:   Date(2020, time.February, 1),
			g:       Month,
			limit:   Date(2020, time.December, 31),
			wantEnd: Date(2020, time.February, 29),
		},
		{
			name:    "month clamped",
			start:   Date(2021, time.March, 1),
			g:       Month,
			limit:   Date(2021, time.March, 10),
			wantEnd: Date(2021, time.March, 10),
		},
		{
			name:    "biweekly",
			start:   Date(2021, time.March, 1),
			g:       Biweekly,
			limit:   Date(2021, time.March, 31),
			wantEnd: Date(2021, time.March, 14),
		},
		{
			name:    "biweekly bounded by month end",
			start:   Date(2021, time.March, 29),
			g:       Biweekly,
			limit:   Date(2021, time.March, 31),
			wantEnd: Date(2021, time.March, 31),
		},
		{
			name:    "week",
			start:   Date(2021, time.March, 1),
			g:       Week,
			limit:   Date(2021, time.March, 31),
			wantEnd: Date(2021, time.March, 7),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := New(tt.start, tt.g, tt.limit)
			if !w.End.Equal(tt.wantEnd) {
				t.Errorf("End = %s, want %s", w.End.Format(time.DateOnly), tt.wantEnd.Format(time.DateOnly))
			}
			if w.Start.After(w.End) {
				t.Errorf("Start %s after End %s", w.Start, w.End)
			}
		})
	}
}

func TestWindow_NextStart_YearRollover(t *testing.T) {
	w := New(Date(2020, time.December, 1), Month, Date(2021, time.December, 31))
	if !w.End.Equal(Date(2020, time.December, 31)) {
		t.Fatalf("December window ends %s", w.End)
	}
	next := w.NextStart()
	if !next.Equal(Date(2021, time.January, 1)) {
		t.Errorf("NextStart() = %s, want 2021-01-01", next.Format(time.DateOnly))
	}
}

func TestWindow_NextStart_Biweekly(t *testing.T) {
	w := New(Date(2021, time.March, 1), Biweekly, Date(2021, time.March, 31))
	if got := w.NextStart(); !got.Equal(Date(2021, time.March, 15)) {
		t.Errorf("NextStart() = %s, want 2021-03-15", got.Format(time.DateOnly))
	}
}

func TestWindow_Days(t *testing.T) {
	w := Window{Start: Date(2020, time.February, 1), End: Date(2020, time.February, 29)}
	if w.Days() != 29 {
		t.Errorf("Days() = %d, want 29", w.Days())
	}
}

func TestWindow_Format(t *testing.T) {
	w := New(Date(2020, time.May, 1), Month, Date(2020, time.December, 31))
	gte, lte := w.Format("2006-01-02")
	if gte != "2020-05-01" || lte != "2020-05-31" {
		t.Errorf("Format() = %s, %s", gte, lte)
	}
}
