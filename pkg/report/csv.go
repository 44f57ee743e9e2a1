package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
)

// WriteCounts writes a two-column CSV: header, then one (key, count) line per
// entry in the given order.
func WriteCounts(path string, header [2]string, counts []Count) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv file: %w", err)
	}
	defer f.Close()

	writer := csv.NewWriter(f)
	if err := writer.Write(header[:]); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, c := range counts {
		if err := writer.Write([]string{c.Key, strconv.Itoa(c.Count)}); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return f.Close()
}
