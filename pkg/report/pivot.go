// Package report turns flat fetch results into pivot tables and writes them as
// an xlsx workbook, a ranked CSV, or a console table.
package report

import (
	"errors"
	"sort"
)

// ErrNoData is returned by writers given nothing to write.
var ErrNoData = errors.New("no data to write")

// NoCategory keys the all-zero row of a collection that has no categories.
const NoCategory = "none"

// Record is one flat result row.
type Record struct {
	Collection string
	Period     string
	Category   string
	Count      int
}

// Row is one pivot row: a category and one cell per column.
type Row struct {
	Key   string
	Cells []int
}

// Total returns the sum of the row's cells.
func (r Row) Total() int {
	n := 0
	for _, c := range r.Cells {
		n += c
	}
	return n
}

// Table is the category x period pivot of one collection.
type Table struct {
	Collection string

	// RowHeader names the key column (e.g. "hazard_code").
	RowHeader string

	Columns []string
	Rows    []Row
}

// Cell returns the count at (key, column), 0 when absent.
func (t *Table) Cell(key, column string) int {
	col := -1
	for i, c := range t.Columns {
		if c == column {
			col = i
			break
		}
	}
	if col < 0 {
		return 0
	}
	for _, r := range t.Rows {
		if r.Key == key {
			return r.Cells[col]
		}
	}
	return 0
}

// NonZero returns the number of cells that are not zero.
func (t *Table) NonZero() int {
	n := 0
	for _, r := range t.Rows {
		for _, c := range r.Cells {
			if c != 0 {
				n++
			}
		}
	}
	return n
}

// Pivot groups records by collection and reshapes each group into a
// category x period table. Every collection in collections gets a table, in
// that order, even when it has no records. Columns follow periods; periods
// seen in records but missing from periods are appended in sorted order.
// Rows are sorted by category. Missing cells are 0 and duplicates are summed.
// A collection without records gets a single all-zero NoCategory row.
func Pivot(records []Record, collections, periods []string, rowHeader string) []Table {
	columns := mergeColumns(records, periods)
	colIndex := make(map[string]int, len(columns))
	for i, c := range columns {
		colIndex[c] = i
	}

	byCollection := make(map[string]map[string][]int)
	for _, r := range records {
		rows, ok := byCollection[r.Collection]
		if !ok {
			rows = make(map[string][]int)
			byCollection[r.Collection] = rows
		}
		cells, ok := rows[r.Category]
		if !ok {
			cells = make([]int, len(columns))
			rows[r.Category] = cells
		}
		cells[colIndex[r.Period]] += r.Count
	}

	order := append([]string(nil), collections...)
	known := make(map[string]bool, len(order))
	for _, c := range order {
		known[c] = true
	}
	var extra []string
	for c := range byCollection {
		if !known[c] {
			extra = append(extra, c)
		}
	}
	sort.Strings(extra)
	order = append(order, extra...)

	tables := make([]Table, 0, len(order))
	for _, coll := range order {
		t := Table{
			Collection: coll,
			RowHeader:  rowHeader,
			Columns:    columns,
		}
		rows := byCollection[coll]
		keys := make([]string, 0, len(rows))
		for k := range rows {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			t.Rows = append(t.Rows, Row{Key: k, Cells: rows[k]})
		}
		if len(t.Rows) == 0 {
			t.Rows = []Row{{Key: NoCategory, Cells: make([]int, len(columns))}}
		}
		tables = append(tables, t)
	}
	return tables
}

// PivotCounts builds single-row tables for plain counts: one table per
// collection whose only row is keyed by the collection itself. Categories in
// records are ignored.
func PivotCounts(records []Record, collections, periods []string) []Table {
	flat := make([]Record, len(records))
	for i, r := range records {
		r.Category = r.Collection
		flat[i] = r
	}

	tables := Pivot(flat, collections, periods, "collection")
	for i := range tables {
		tables[i].Rows[0].Key = tables[i].Collection
	}
	return tables
}

func mergeColumns(records []Record, periods []string) []string {
	columns := append([]string(nil), periods...)
	seen := make(map[string]bool, len(columns))
	for _, p := range columns {
		seen[p] = true
	}
	var extra []string
	for _, r := range records {
		if !seen[r.Period] {
			seen[r.Period] = true
			extra = append(extra, r.Period)
		}
	}
	sort.Strings(extra)
	return append(columns, extra...)
}

// Count is one (category, total) pair.
type Count struct {
	Key   string
	Count int
}

// Totals sums records by category across collections and periods.
func Totals(records []Record) map[string]int {
	totals := make(map[string]int)
	for _, r := range records {
		totals[r.Category] += r.Count
	}
	return totals
}

// Rank orders counts by count descending, ties broken by key ascending.
func Rank(counts map[string]int) []Count {
	out := make([]Count, 0, len(counts))
	for k, v := range counts {
		out = append(out, Count{Key: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	return out
}
