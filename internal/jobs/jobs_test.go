package jobs

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"image/gif"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/batpad/Montandon-Data-Fetching-Examples/internal/config"
	"github.com/batpad/Montandon-Data-Fetching-Examples/internal/testutil"
	"github.com/batpad/Montandon-Data-Fetching-Examples/pkg/errlog"
	"github.com/batpad/Montandon-Data-Fetching-Examples/pkg/fetch"
	"github.com/batpad/Montandon-Data-Fetching-Examples/pkg/report"
	"github.com/batpad/Montandon-Data-Fetching-Examples/pkg/stac"
	"github.com/batpad/Montandon-Data-Fetching-Examples/pkg/timebin"
	"github.com/batpad/Montandon-Data-Fetching-Examples/pkg/track"
)

var testNow = time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

// newTestEnv returns an Env pointed at mock with fast retries and outputs in
// a temporary directory.
func newTestEnv(t *testing.T, mock *testutil.MockSTAC) (*Env, *bytes.Buffer) {
	t.Helper()

	cfg := &config.Config{
		BaseURL:        mock.URL(),
		UserAgent:      "montandon-reports-test/1.0",
		Workers:        4,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		RequestTimeout: 5 * time.Second,
		ListTimeout:    5 * time.Second,
		ManualCount:    true,
		OutputDir:      t.TempDir(),
		CacheSize:      16,
		MetricsFile:    filepath.Join(t.TempDir(), "jobs.prom"),
		LogLevel:       "debug",
	}

	env, err := NewEnv(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewEnv: %v", err)
	}
	t.Cleanup(func() { env.Close() })

	var stdout bytes.Buffer
	env.Now = func() time.Time { return testNow }
	env.Stdout = &stdout
	return env, &stdout
}

func eventCollection(id string) stac.Collection {
	return stac.Collection{ID: id, Roles: []string{stac.RoleEvent}}
}

func itemsAt(prefix string, n int, at time.Time, props map[string]any) []testutil.Item {
	items := make([]testutil.Item, n)
	for i := range items {
		items[i] = testutil.Item{
			ID:         fmt.Sprintf("%s-%s-%d", prefix, at.Format("20060102"), i),
			Datetime:   at.Add(time.Duration(i) * time.Hour),
			Properties: props,
		}
	}
	return items
}

func readSheet(t *testing.T, path, sheet string) [][]string {
	t.Helper()
	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(sheet)
	if err != nil {
		t.Fatalf("GetRows(%q): %v", sheet, err)
	}
	return rows
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	return rows
}

// TestEventsByYear_EndToEnd runs two collections over three bins. Collection
// b fails twice in the first bin and then succeeds, so no error is recorded.
func TestEventsByYear_EndToEnd(t *testing.T) {
	mock := testutil.NewMockSTAC()
	defer mock.Close()

	policy := timebin.Fixed(2000, 10)
	bins, err := policy.Bins(testNow)
	if err != nil {
		t.Fatalf("Bins: %v", err)
	}
	if len(bins) != 3 {
		t.Fatalf("expected 3 bins, got %d", len(bins))
	}

	mock.AddCollection(eventCollection("a-events"))
	mock.AddCollection(eventCollection("b-events"))
	mock.AddCollection(stac.Collection{ID: "reference-data"})
	mock.AddItems("a-events", itemsAt("a", 10, time.Date(2015, 3, 1, 0, 0, 0, 0, time.UTC), nil)...)
	mock.AddItems("b-events", itemsAt("b", 5, time.Date(2022, 8, 1, 0, 0, 0, 0, time.UTC), nil)...)
	mock.FailItems("b-events", bins[0].Interval(), 2, 500)

	env, _ := newTestEnv(t, mock)
	res, err := Run(context.Background(), env, "events-by-year", EventsByYear(EventsByYearOptions{Policy: policy}))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.ErrorRecords != 0 {
		t.Errorf("ErrorRecords = %d, want 0", res.ErrorRecords)
	}
	if res.Tasks.Total != 6 || res.Tasks.Failed != 0 {
		t.Errorf("Tasks = %+v, want 6 total, 0 failed", res.Tasks)
	}
	if got := mock.Requests("b-events", bins[0].Interval()); got != 3 {
		t.Errorf("b-events first bin requests = %d, want 3", got)
	}
	if res.RunID == "" || res.RunID != env.RunID {
		t.Errorf("RunID = %q, want %q", res.RunID, env.RunID)
	}

	path := filepath.Join(env.Config.OutputDir, "event_counts_by_year.xlsx")
	if !reflect.DeepEqual(res.Outputs, []string{path}) {
		t.Errorf("Outputs = %v", res.Outputs)
	}

	header := []string{"collection", "2000-2009", "2010-2019", "2020-2025"}
	tests := []struct {
		sheet string
		want  []string
	}{
		{"a-events", []string{"a-events", "0", "10", "0"}},
		{"b-events", []string{"b-events", "0", "0", "5"}},
	}
	for _, tt := range tests {
		rows := readSheet(t, path, tt.sheet)
		if len(rows) != 2 {
			t.Fatalf("sheet %s: %d rows, want 2", tt.sheet, len(rows))
		}
		if !reflect.DeepEqual(rows[0], header) {
			t.Errorf("sheet %s header = %v", tt.sheet, rows[0])
		}
		if !reflect.DeepEqual(rows[1], tt.want) {
			t.Errorf("sheet %s row = %v, want %v", tt.sheet, rows[1], tt.want)
		}
	}

	if _, err := os.Stat(env.Config.MetricsFile); err != nil {
		t.Errorf("metrics textfile not written: %v", err)
	}
}

func TestEventsByYear_PermanentFailureIsRecorded(t *testing.T) {
	mock := testutil.NewMockSTAC()
	defer mock.Close()

	policy := timebin.Fixed(2000, 10)
	bins, _ := policy.Bins(testNow)

	mock.AddCollection(eventCollection("a-events"))
	mock.AddItems("a-events", itemsAt("a", 4, time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC), nil)...)
	mock.AddItems("a-events", itemsAt("a", 2, time.Date(2011, 1, 1, 0, 0, 0, 0, time.UTC), nil)...)
	mock.FailItems("a-events", bins[1].Interval(), 10, 502)

	env, _ := newTestEnv(t, mock)
	res, err := Run(context.Background(), env, "events-by-year", EventsByYear(EventsByYearOptions{Policy: policy}))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.ErrorRecords != 1 || res.Tasks.Failed != 1 {
		t.Fatalf("ErrorRecords = %d, Failed = %d, want 1 and 1", res.ErrorRecords, res.Tasks.Failed)
	}
	if got := mock.Requests("a-events", bins[1].Interval()); got != 3 {
		t.Errorf("requests = %d, want 3 attempts", got)
	}

	records, err := errlog.ReadAll(res.ErrorLog)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	rec := records[0]
	if rec.Collection != "a-events" || rec.TimePeriod != "2010-2019" {
		t.Errorf("record = %+v", rec)
	}
	if rec.RunID != env.RunID {
		t.Errorf("record run_id = %q, want %q", rec.RunID, env.RunID)
	}
	if rec.ErrorClass != "server" || rec.Page != 1 {
		t.Errorf("record class = %q page = %d, want server and 1", rec.ErrorClass, rec.Page)
	}

	// the failed cell is excluded and shows as 0
	rows := readSheet(t, res.Outputs[0], "a-events")
	if want := []string{"a-events", "4", "0", "0"}; !reflect.DeepEqual(rows[1], want) {
		t.Errorf("row = %v, want %v", rows[1], want)
	}
}

func TestEventsByYear_ListingFailureIsFatal(t *testing.T) {
	mock := testutil.NewMockSTAC()
	defer mock.Close()
	mock.AddCollection(eventCollection("a-events"))
	mock.FailCollections(3, 500)

	env, _ := newTestEnv(t, mock)
	res, err := Run(context.Background(), env, "events-by-year", EventsByYear(EventsByYearOptions{}))
	if !errors.Is(err, fetch.ErrListing) {
		t.Fatalf("expected ErrListing, got %v", err)
	}
	if len(res.Outputs) != 0 {
		t.Errorf("Outputs = %v, want none", res.Outputs)
	}
}

func TestEventsByYear_NoCollections(t *testing.T) {
	mock := testutil.NewMockSTAC()
	defer mock.Close()
	mock.AddCollection(stac.Collection{ID: "not-an-event"})

	env, _ := newTestEnv(t, mock)
	res, err := Run(context.Background(), env, "events-by-year", EventsByYear(EventsByYearOptions{}))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Outputs) != 0 || res.Tasks.Total != 0 {
		t.Errorf("expected nothing to run, got %+v", res)
	}
}

func TestHazardsByPeriod(t *testing.T) {
	mock := testutil.NewMockSTAC()
	defer mock.Close()

	mock.AddCollection(stac.Collection{ID: "gdacs-events"})
	mock.AddCollection(stac.Collection{ID: "emdat-events"})
	mock.AddCollection(stac.Collection{ID: "gdacs-hazards"})

	flood := map[string]any{stac.PropertyHazardCodes: []string{"FL", "MH0600"}}
	quake := map[string]any{stac.PropertyHazardCodes: []string{"EQ"}}
	mock.AddItems("gdacs-events", itemsAt("f", 3, time.Date(2005, 1, 1, 0, 0, 0, 0, time.UTC), flood)...)
	mock.AddItems("gdacs-events", itemsAt("q", 2, time.Date(2012, 1, 1, 0, 0, 0, 0, time.UTC), quake)...)
	mock.AddItems("gdacs-hazards", itemsAt("h", 7, time.Date(2012, 1, 1, 0, 0, 0, 0, time.UTC), quake)...)

	env, _ := newTestEnv(t, mock)
	job := HazardsByPeriod(HazardsByPeriodOptions{Policy: timebin.Fixed(2000, 10), PageSize: 2})
	res, err := Run(context.Background(), env, "hazards-by-period", job)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Tasks.Total != 6 {
		t.Errorf("Tasks.Total = %d, want 6 (2 collections x 3 bins)", res.Tasks.Total)
	}

	path := res.Outputs[0]
	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	sheets := f.GetSheetList()
	f.Close()
	if !reflect.DeepEqual(sheets, []string{"gdacs-events", "emdat-events"}) {
		t.Errorf("sheets = %v, want one per -events collection in listing order", sheets)
	}
	emdat := [][]string{
		{"hazard_code", "2000-2009", "2010-2019", "2020-2025"},
		{report.NoCategory, "0", "0", "0"},
	}
	if rows := readSheet(t, path, "emdat-events"); !reflect.DeepEqual(rows, emdat) {
		t.Errorf("emdat-events rows = %v, want %v", rows, emdat)
	}

	rows := readSheet(t, path, "gdacs-events")
	want := [][]string{
		{"hazard_code", "2000-2009", "2010-2019", "2020-2025"},
		{"EQ", "0", "2", "0"},
		{"FL", "3", "0", "0"},
		{"MH0600", "3", "0", "0"},
	}
	if !reflect.DeepEqual(rows, want) {
		t.Errorf("rows = %v, want %v", rows, want)
	}
}

func TestCountriesByChunk(t *testing.T) {
	mock := testutil.NewMockSTAC()
	defer mock.Close()

	now := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	policy := timebin.Chunked(2010, 5)
	bins, err := policy.Bins(now)
	if err != nil {
		t.Fatalf("Bins: %v", err)
	}

	mock.AddCollection(stac.Collection{ID: "usgs-events"})
	mock.AddItems("usgs-events", itemsAt("jp", 4, time.Date(2011, 3, 11, 0, 0, 0, 0, time.UTC),
		map[string]any{stac.PropertyCountryCodes: []string{"JPN"}})...)
	mock.AddItems("usgs-events", itemsAt("np", 2, time.Date(2015, 4, 25, 0, 0, 0, 0, time.UTC),
		map[string]any{stac.PropertyCountryCodes: []string{"NPL", "IND"}})...)
	mock.AddItems("usgs-events", itemsAt("id", 3, time.Date(2018, 9, 28, 0, 0, 0, 0, time.UTC),
		map[string]any{stac.PropertyCountryCodes: []string{"IDN"}})...)
	mock.AddItems("usgs-events", itemsAt("ht", 5, time.Date(2020, 8, 14, 0, 0, 0, 0, time.UTC),
		map[string]any{stac.PropertyCountryCodes: []string{"HTI"}})...)

	// the chunk holding 2020 fails on every attempt
	last := bins[len(bins)-1]
	mock.FailItems("usgs-events", last.Interval(), 10, 503)

	env, _ := newTestEnv(t, mock)
	env.Now = func() time.Time { return now }

	// a stale log from an earlier run is discarded
	stale := env.Config.OutputPath("event_count_errors_usgs.json")
	if err := os.WriteFile(stale, []byte(`{"collection":"old","reason":"stale"}`+"\n"), 0o644); err != nil {
		t.Fatalf("write stale log: %v", err)
	}

	job := CountriesByChunk(CountriesByChunkOptions{Policy: policy, PageSize: 2})
	res, err := Run(context.Background(), env, "countries-by-chunk", job)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	wantCSV := env.Config.OutputPath("event_counts_by_country_usgs.csv")
	if !reflect.DeepEqual(res.Outputs, []string{wantCSV}) {
		t.Errorf("Outputs = %v, want %v", res.Outputs, []string{wantCSV})
	}

	rows := readCSV(t, wantCSV)
	want := [][]string{
		{"country_code", "event_count"},
		{"JPN", "4"},
		{"IDN", "3"},
		{"IND", "2"},
		{"NPL", "2"},
	}
	if !reflect.DeepEqual(rows, want) {
		t.Errorf("csv = %v, want %v", rows, want)
	}

	records, err := errlog.ReadAll(res.ErrorLog)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("error records = %d, want 1 (stale log truncated)", len(records))
	}
	if records[0].TimePeriod != last.Label || records[0].ErrorClass != "server" {
		t.Errorf("record = %+v", records[0])
	}
}

func TestEventsPerCollection(t *testing.T) {
	mock := testutil.NewMockSTAC()
	defer mock.Close()

	mock.AddCollection(stac.Collection{ID: "summarised", Summaries: map[string]any{stac.SummaryCount: 42}})
	mock.AddCollection(stac.Collection{ID: "matched"})
	mock.AddItems("matched", itemsAt("m", 3, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), nil)...)

	env, stdout := newTestEnv(t, mock)
	res, err := Run(context.Background(), env, "events-per-collection", EventsPerCollection(EventsPerCollectionOptions{}))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	rows := readCSV(t, res.Outputs[0])
	want := [][]string{{"collection", "count"}, {"summarised", "42"}, {"matched", "3"}}
	if !reflect.DeepEqual(rows, want) {
		t.Errorf("csv = %v, want %v", rows, want)
	}

	out := stdout.String()
	for _, s := range []string{"Total Events per Collection", "summarised", "summary", "numberMatched"} {
		if !strings.Contains(out, s) {
			t.Errorf("console output missing %q:\n%s", s, out)
		}
	}
	if strings.Index(out, "matched ") > strings.Index(out, "summarised") {
		t.Errorf("console rows should be sorted by collection:\n%s", out)
	}
}

func TestEventsPerCollection_ManualCountDisabled(t *testing.T) {
	mock := testutil.NewMockSTAC()
	defer mock.Close()
	mock.OmitMatched = true

	mock.AddCollection(stac.Collection{ID: "big"})
	mock.AddItems("big", itemsAt("b", 5, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), nil)...)

	env, _ := newTestEnv(t, mock)
	env.Fetcher = fetch.New(env.Client, fetch.Options{ManualCount: false})

	res, err := Run(context.Background(), env, "events-per-collection", EventsPerCollection(EventsPerCollectionOptions{Quiet: true}))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	rows := readCSV(t, res.Outputs[0])
	if want := [][]string{{"collection", "count"}, {"big", "0"}}; !reflect.DeepEqual(rows, want) {
		t.Errorf("csv = %v, want %v", rows, want)
	}
}

func TestTrackGIF_FromCollection(t *testing.T) {
	mock := testutil.NewMockSTAC()
	defer mock.Close()

	mock.AddCollection(stac.Collection{ID: "gdacs-hazards"})
	start := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	for i, pos := range [][2]float64{{-60, 12}, {-65, 15}, {-70, 18}, {-75, 20}} {
		mock.AddItems("gdacs-hazards", testutil.Item{
			ID:       fmt.Sprintf("beryl-%d", i),
			Datetime: start.Add(time.Duration(i) * 6 * time.Hour),
			Geometry: fmt.Sprintf(`{"type": "Point", "coordinates": [%g, %g]}`, pos[0], pos[1]),
			Properties: map[string]any{
				stac.PropertyCorrID:       "beryl",
				stac.PropertyHazardDetail: map[string]any{"severity_value": 60 + i*30},
			},
		})
	}
	mock.AddItems("gdacs-hazards", testutil.Item{
		ID:         "other",
		Datetime:   start,
		Properties: map[string]any{stac.PropertyCorrID: "other"},
	})

	env, _ := newTestEnv(t, mock)
	render := track.Options{Title: "Beryl", Width: 240, Height: 160, FPS: 2}
	job := TrackGIF(TrackGIFOptions{Collection: "gdacs-hazards", CorrID: "beryl", PageSize: 3, Render: render})
	res, err := Run(context.Background(), env, "track-gif", job)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	f, err := os.Open(res.Outputs[0])
	if err != nil {
		t.Fatalf("open gif: %v", err)
	}
	defer f.Close()
	anim, err := gif.DecodeAll(f)
	if err != nil {
		t.Fatalf("DecodeAll: %v", err)
	}
	if len(anim.Image) != 4 {
		t.Errorf("frames = %d, want 4", len(anim.Image))
	}
}

func TestTrackGIF_FromFile(t *testing.T) {
	input := filepath.Join(t.TempDir(), "track.geojson")
	body := `{"type": "FeatureCollection", "features": [
		{"geometry": {"type": "Point", "coordinates": [1, 2]}, "properties": {"datetime": "2024-01-01T00:00:00Z"}},
		{"geometry": {"type": "Point", "coordinates": [2, 3]}, "properties": {"datetime": "2024-01-01T06:00:00Z"}}
	]}`
	if err := os.WriteFile(input, []byte(body), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	mock := testutil.NewMockSTAC()
	defer mock.Close()
	env, _ := newTestEnv(t, mock)

	opts := TrackGIFOptions{Input: input, Output: "out/file.gif", Render: track.Options{Width: 160, Height: 120}}
	res, err := Run(context.Background(), env, "track-gif", TrackGIF(opts))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := os.Stat(res.Outputs[0]); err != nil {
		t.Errorf("gif not written: %v", err)
	}
	if mock.TotalRequests() != 0 {
		t.Errorf("file input should not query the API, got %d requests", mock.TotalRequests())
	}
}

func TestTrackGIF_NoSource(t *testing.T) {
	mock := testutil.NewMockSTAC()
	defer mock.Close()
	env, _ := newTestEnv(t, mock)

	if _, err := Run(context.Background(), env, "track-gif", TrackGIF(TrackGIFOptions{})); !errors.Is(err, ErrNoTrackSource) {
		t.Errorf("expected ErrNoTrackSource, got %v", err)
	}
}

func TestNewEnv_InvalidConfig(t *testing.T) {
	if _, err := NewEnv(context.Background(), &config.Config{}); err == nil {
		t.Fatal("expected error for empty config")
	}
}

func TestGrid(t *testing.T) {
	bins := []timebin.Bin{{Label: "x"}, {Label: "y"}}
	tasks := grid([]string{"a", "b"}, bins)

	var got []string
	for _, tk := range tasks {
		got = append(got, tk.Collection+"/"+tk.Bin.Label)
	}
	if want := []string{"a/x", "a/y", "b/x", "b/y"}; !reflect.DeepEqual(got, want) {
		t.Errorf("grid = %v, want %v", got, want)
	}
}
