package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

// RenderCSV encodes an ordered table into CSV bytes. Every row must have the
// same width as the header.
func RenderCSV(headers []string, rows [][]string) ([]byte, error) {
	if len(headers) == 0 {
		return nil, fmt.Errorf("csv requires at least one header")
	}
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("write csv headers: %w", err)
	}
	for i, row := range rows {
		if len(row) != len(headers) {
			return nil, fmt.Errorf("csv row %d has %d columns, want %d", i, len(row), len(headers))
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
