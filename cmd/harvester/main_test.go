package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/spf13/afero"

	"github.com/Sternrassler/listing-harvester/internal/testutil"
	"github.com/Sternrassler/listing-harvester/pkg/sink"
)

func runHarvester(t *testing.T, fs afero.Fs, args ...string) error {
	t.Helper()
	cmd := newRootCmd(fs)
	cmd.SetArgs(args)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	return cmd.Execute()
}

func runHarvesterContext(t *testing.T, ctx context.Context, fs afero.Fs, args ...string) error {
	t.Helper()
	cmd := newRootCmd(fs)
	cmd.SetArgs(args)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	return cmd.ExecuteContext(ctx)
}

func readListings(t *testing.T, fs afero.Fs, path string) []map[string]any {
	t.Helper()
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		t.Fatalf("ReadFile(%s) error = %v", path, err)
	}
	var listings []map[string]any
	if err := json.Unmarshal(data, &listings); err != nil {
		t.Fatalf("invalid JSON in %s: %v", path, err)
	}
	return listings
}

func TestHarvest_YearUnderCeiling(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetTotals(func(gte, lte string) int { return 50 })

	fs := afero.NewMemMapFs()
	err := runHarvester(t, fs, "2020", "2020",
		"--endpoint", mock.URL(),
		"--output-dir", "out",
		"--metrics-addr", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	listings := readListings(t, fs, "out/events2020.json")
	if len(listings) != 50 {
		t.Errorf("listings = %d, want 50", len(listings))
	}

	// probe + page 1
	if mock.GetRequestCount() != 2 {
		t.Errorf("requests = %d, want 2", mock.GetRequestCount())
	}
	for _, req := range mock.Requests() {
		if req.GTE != "2020-01-01" || req.LTE != "2020-12-31" {
			t.Errorf("request range = %s..%s, want the whole year", req.GTE, req.LTE)
		}
	}

	if exists, _ := afero.Exists(fs, "event_statistics.json"); exists {
		t.Error("statistics written although no month was paged")
	}
}

func TestHarvest_YearOverCeilingWritesStatistics(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetTotals(func(gte, lte string) int {
		if gte == "2019-01-01" && lte == "2019-12-31" {
			return 500
		}
		return 20
	})

	fs := afero.NewMemMapFs()
	err := runHarvester(t, fs, "2019", "2019",
		"--endpoint", mock.URL(),
		"--ceiling", "100",
		"--output-dir", "out")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	listings := readListings(t, fs, "out/events2019.json")
	if len(listings) != 240 {
		t.Errorf("listings = %d, want 12 months of 20", len(listings))
	}

	data, err := afero.ReadFile(fs, "event_statistics.json")
	if err != nil {
		t.Fatalf("statistics not converted: %v", err)
	}
	var summary map[string]sink.YearSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		t.Fatalf("invalid statistics JSON: %v", err)
	}
	if summary["2019"].TotalEvents != 240 || summary["2019"].Months["07"] != 20 {
		t.Errorf("summary = %+v", summary["2019"])
	}
	if exists, _ := afero.Exists(fs, "event_statistics.csv"); exists {
		t.Error("CSV ledger kept without --keep-csv")
	}
}

func TestHarvest_MultipleYears(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetTotals(func(gte, lte string) int {
		if strings.HasPrefix(gte, "2021") {
			return 0
		}
		return 130
	})

	fs := afero.NewMemMapFs()
	if err := runHarvester(t, fs, "2020", "2022", "--endpoint", mock.URL(), "--output-dir", "out"); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	for year, want := range map[string]int{"2020": 130, "2021": 0, "2022": 130} {
		if got := len(readListings(t, fs, "out/events"+year+".json")); got != want {
			t.Errorf("%s listings = %d, want %d", year, got, want)
		}
	}
}

// Interrupting a year halfway leaves no year file and no statistics summary.
func TestHarvest_CancelledMidYear(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetTotals(func(gte, lte string) int {
		if gte == "2020-01-01" && lte == "2020-12-31" {
			return 60000
		}
		if gte == "2020-03-01" {
			cancel()
		}
		return 5000
	})

	fs := afero.NewMemMapFs()
	err := runHarvesterContext(t, ctx, fs, "2020", "2020",
		"--endpoint", mock.URL(),
		"--output-dir", "out")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Execute() error = %v, want context.Canceled", err)
	}

	if exists, _ := afero.Exists(fs, "out/events2020.json"); exists {
		t.Error("year file written for an interrupted year")
	}
	if exists, _ := afero.Exists(fs, "event_statistics.json"); exists {
		t.Error("statistics summary written for an interrupted run")
	}
	for _, req := range mock.Requests() {
		if req.GTE >= "2020-04-01" {
			t.Errorf("requested %s..%s after cancellation", req.GTE, req.LTE)
		}
	}
}

func TestHarvest_Arguments(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "start after end", args: []string{"2021", "2020"}, wantErr: "start year must be less than or equal to end year"},
		{name: "missing end", args: []string{"2020"}, wantErr: "accepts 2 arg(s)"},
		{name: "non numeric", args: []string{"twenty", "2020"}, wantErr: "invalid start year"},
		{name: "invalid granularity", args: []string{"2020", "2020", "--granularity", "daily"}, wantErr: "invalid granularity"},
		{name: "invalid overflow", args: []string{"2020", "2020", "--overflow", "drop"}, wantErr: "invalid overflow policy"},
		{name: "invalid concurrency", args: []string{"2020", "2020", "--concurrency", "0"}, wantErr: "api.concurrency must be > 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockAPI()
			defer mock.Close()

			args := append(tt.args, "--endpoint", mock.URL())
			err := runHarvester(t, afero.NewMemMapFs(), args...)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err, tt.wantErr)
			}
			if mock.GetRequestCount() != 0 {
				t.Errorf("requests = %d, want none before validation passes", mock.GetRequestCount())
			}
		})
	}
}

func TestHarvest_CachedSecondRun(t *testing.T) {
	mr := miniredis.RunT(t)

	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetTotals(func(gte, lte string) int { return 250 })

	fs := afero.NewMemMapFs()
	args := []string{"2020", "2020", "--endpoint", mock.URL(), "--redis-addr", mr.Addr(), "--output-dir", "out"}

	if err := runHarvester(t, fs, args...); err != nil {
		t.Fatalf("first run error = %v", err)
	}
	first := mock.GetRequestCount()
	if first == 0 {
		t.Fatal("first run made no requests")
	}

	if err := runHarvester(t, fs, args...); err != nil {
		t.Fatalf("second run error = %v", err)
	}
	if mock.GetRequestCount() != first {
		t.Errorf("second run made %d requests, want all pages served from cache", mock.GetRequestCount()-first)
	}
	if got := len(readListings(t, fs, "out/events2020.json")); got != 250 {
		t.Errorf("listings = %d, want 250", got)
	}
}

func TestHarvest_UnreachableRedis(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	err := runHarvester(t, afero.NewMemMapFs(), "2020", "2020",
		"--endpoint", mock.URL(),
		"--redis-addr", "127.0.0.1:1")
	if err == nil || !strings.Contains(err.Error(), "connect to redis") {
		t.Errorf("error = %v, want redis connection error", err)
	}
}

func TestStatsConvert(t *testing.T) {
	fs := afero.NewMemMapFs()
	csv := "Year,Month,Num_Events\n2018,05,12\n"
	if err := afero.WriteFile(fs, "ledger.csv", []byte(csv), 0o644); err != nil {
		t.Fatal(err)
	}

	err := runHarvester(t, fs, "stats", "convert",
		"--stats-file", "ledger.csv",
		"--stats-json", "ledger.json",
		"--keep-csv")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	data, err := afero.ReadFile(fs, "ledger.json")
	if err != nil {
		t.Fatalf("summary not written: %v", err)
	}
	if !bytes.Contains(data, []byte(`"total_events": 12`)) {
		t.Errorf("summary = %s", data)
	}
	if exists, _ := afero.Exists(fs, "ledger.csv"); !exists {
		t.Error("ledger removed despite --keep-csv")
	}
}
