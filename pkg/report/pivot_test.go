package report

import (
	"reflect"
	"testing"
)

var periods = []string{"1800-1849", "1850-1899", "1900-1949"}

func TestPivot_FillsZerosInBinOrder(t *testing.T) {
	records := []Record{
		{Collection: "gdacs-events", Period: "1900-1949", Category: "EQ", Count: 4},
		{Collection: "gdacs-events", Period: "1800-1849", Category: "FL", Count: 2},
		{Collection: "gdacs-events", Period: "1900-1949", Category: "EQ", Count: 1},
		{Collection: "usgs-events", Period: "1850-1899", Category: "EQ", Count: 7},
	}

	tables := Pivot(records, []string{"usgs-events", "gdacs-events", "empty-events"}, periods, "hazard_code")
	if len(tables) != 3 {
		t.Fatalf("tables = %d, want 3", len(tables))
	}

	if tables[0].Collection != "usgs-events" || tables[2].Collection != "empty-events" {
		t.Errorf("table order = %s, %s, %s", tables[0].Collection, tables[1].Collection, tables[2].Collection)
	}

	gdacs := tables[1]
	if !reflect.DeepEqual(gdacs.Columns, periods) {
		t.Errorf("columns = %v, want %v", gdacs.Columns, periods)
	}
	want := []Row{
		{Key: "EQ", Cells: []int{0, 0, 5}},
		{Key: "FL", Cells: []int{2, 0, 0}},
	}
	if !reflect.DeepEqual(gdacs.Rows, want) {
		t.Errorf("rows = %+v, want %+v", gdacs.Rows, want)
	}

	// every (category, period) cell is present
	for _, tbl := range tables {
		for _, r := range tbl.Rows {
			if len(r.Cells) != len(tbl.Columns) {
				t.Errorf("%s row %s has %d cells, want %d", tbl.Collection, r.Key, len(r.Cells), len(tbl.Columns))
			}
		}
	}

	// a collection without data still shows explicit zeros
	empty := []Row{{Key: NoCategory, Cells: []int{0, 0, 0}}}
	if !reflect.DeepEqual(tables[2].Rows, empty) {
		t.Errorf("empty collection rows = %+v, want %+v", tables[2].Rows, empty)
	}
}

func TestPivot_UnknownPeriodsAppended(t *testing.T) {
	records := []Record{
		{Collection: "a", Period: "zeta", Category: "x", Count: 1},
		{Collection: "a", Period: "alpha", Category: "x", Count: 1},
	}

	tables := Pivot(records, nil, []string{"p1"}, "k")
	want := []string{"p1", "alpha", "zeta"}
	if !reflect.DeepEqual(tables[0].Columns, want) {
		t.Errorf("columns = %v, want %v", tables[0].Columns, want)
	}
}

func TestPivotCounts_SingleRowPerCollection(t *testing.T) {
	records := []Record{
		{Collection: "a", Period: "1850-1899", Count: 10},
		{Collection: "b", Period: "1900-1949", Count: 5},
	}

	tables := PivotCounts(records, []string{"a", "b", "c"}, periods)
	if len(tables) != 3 {
		t.Fatalf("tables = %d, want 3", len(tables))
	}

	for _, tbl := range tables {
		if len(tbl.Rows) != 1 || tbl.Rows[0].Key != tbl.Collection {
			t.Errorf("%s rows = %+v", tbl.Collection, tbl.Rows)
		}
		if tbl.RowHeader != "collection" {
			t.Errorf("RowHeader = %q", tbl.RowHeader)
		}
	}

	if got := tables[0].Cell("a", "1850-1899"); got != 10 {
		t.Errorf("a cell = %d, want 10", got)
	}
	if tables[0].NonZero() != 1 || tables[1].NonZero() != 1 || tables[2].NonZero() != 0 {
		t.Errorf("nonzero = %d, %d, %d", tables[0].NonZero(), tables[1].NonZero(), tables[2].NonZero())
	}
	if tables[2].Rows[0].Total() != 0 || len(tables[2].Rows[0].Cells) != 3 {
		t.Errorf("zero-only row = %+v", tables[2].Rows[0])
	}
}

func TestRank(t *testing.T) {
	got := Rank(map[string]int{"MEX": 3, "USA": 10, "CHL": 3, "JPN": 7})
	want := []Count{{"USA", 10}, {"JPN", 7}, {"CHL", 3}, {"MEX", 3}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Rank = %v, want %v", got, want)
	}
}

func TestTotals(t *testing.T) {
	got := Totals([]Record{
		{Collection: "a", Period: "p1", Category: "USA", Count: 2},
		{Collection: "a", Period: "p2", Category: "USA", Count: 3},
		{Collection: "b", Period: "p1", Category: "MEX", Count: 1},
	})
	want := map[string]int{"USA": 5, "MEX": 1}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Totals = %v, want %v", got, want)
	}
}
