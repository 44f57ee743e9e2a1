// Package errlog writes the append-only error log of a run: one JSON object
// per line, one line per task that gave up.
package errlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Record describes one failed task.
type Record struct {
	RunID      string    `json:"run_id,omitempty"`
	Collection string    `json:"collection"`
	TimePeriod string    `json:"time_period,omitempty"`
	Page       int       `json:"page,omitempty"`
	ErrorClass string    `json:"error_class,omitempty"`
	Reason     string    `json:"reason"`
	At         time.Time `json:"at"`
}

// Validate checks required fields.
func (r Record) Validate() error {
	if r.Collection == "" {
		return fmt.Errorf("error record without collection")
	}
	if r.Reason == "" {
		return fmt.Errorf("error record without reason")
	}
	return nil
}

// Writer appends records to a newline-delimited JSON file. It is safe for
// concurrent use; every Write is flushed so the log survives a crash.
type Writer struct {
	path    string
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
	count   int
	mu      sync.Mutex
}

// Open opens path for appending, creating parent directories. When truncate is
// true any previous content is discarded first.
func Open(path string, truncate bool) (*Writer, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if truncate {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open error log: %w", err)
	}

	buffer := bufio.NewWriter(f)
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)

	return &Writer{
		path:    path,
		file:    f,
		writer:  buffer,
		encoder: encoder,
	}, nil
}

// Write appends one record. A zero At is set to the current time.
func (w *Writer) Write(rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.encoder.Encode(rec); err != nil {
		return fmt.Errorf("encode error record: %w", err)
	}
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("flush error log: %w", err)
	}
	w.count++
	return nil
}

// Count returns the number of records written by this Writer.
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Path returns the file path.
func (w *Writer) Path() string {
	return w.path
}

// Close flushes buffers and closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("flush error log: %w", err)
	}
	return w.file.Close()
}

// ReadAll decodes every record in the log at path.
func ReadAll(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open error log: %w", err)
	}
	defer f.Close()

	var records []Record
	dec := json.NewDecoder(f)
	for dec.More() {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			return records, fmt.Errorf("decode error record %d: %w", len(records)+1, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
