package errlog

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestWriter_AppendsNDJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "errors.json")

	w, err := Open(path, true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	recs := []Record{
		{RunID: "run-1", Collection: "usgs-events", TimePeriod: "1934-1939", Page: 3, Reason: "retry attempts exhausted"},
		{RunID: "run-1", Collection: "gdacs-events", TimePeriod: "1800-1849", Reason: "STAC server error"},
	}
	for _, r := range recs {
		if err := w.Write(r); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if w.Count() != 2 {
		t.Errorf("Count = %d, want 2", w.Count())
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2:\n%s", len(lines), data)
	}
	if !strings.Contains(lines[0], `"page":3`) || !strings.Contains(lines[0], `"time_period":"1934-1939"`) {
		t.Errorf("first line = %s", lines[0])
	}
	if strings.Contains(lines[1], `"page"`) {
		t.Errorf("page should be omitted when unknown: %s", lines[1])
	}

	got, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 2 || got[0].Collection != "usgs-events" || got[0].At.IsZero() {
		t.Errorf("ReadAll = %+v", got)
	}
}

func TestOpen_TruncateVersusAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "errors.json")
	rec := Record{Collection: "a", Reason: "boom"}

	for i := 0; i < 2; i++ {
		w, err := Open(path, false)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if err := w.Write(rec); err != nil {
			t.Fatalf("Write: %v", err)
		}
		w.Close()
	}
	if got, _ := ReadAll(path); len(got) != 2 {
		t.Errorf("append mode kept %d records, want 2", len(got))
	}

	w, err := Open(path, true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	w.Close()
	if got, _ := ReadAll(path); len(got) != 0 {
		t.Errorf("truncate left %d records", len(got))
	}
}

func TestWriter_Concurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "errors.json")
	w, err := Open(path, true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Write(Record{Collection: "c", Reason: "r"}); err != nil {
				t.Errorf("Write: %v", err)
			}
		}()
	}
	wg.Wait()
	w.Close()

	got, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 20 {
		t.Errorf("records = %d, want 20", len(got))
	}
}

func TestRecord_Validate(t *testing.T) {
	tests := []struct {
		name    string
		rec     Record
		wantErr bool
	}{
		{"valid", Record{Collection: "a", Reason: "x"}, false},
		{"missing collection", Record{Reason: "x"}, true},
		{"missing reason", Record{Collection: "a"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.rec.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
