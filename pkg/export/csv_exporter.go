package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

// Dataset defines tabular export content. Footer, when set, is written after
// the rows using the same header keys.
type Dataset struct {
	Headers []string
	Rows    []map[string]string
	Footer  map[string]string
}

// Append adds a row keyed by header.
func (d *Dataset) Append(row map[string]string) {
	d.Rows = append(d.Rows, row)
}

// Record returns the cells of row ordered by the dataset headers.
func (d Dataset) Record(row map[string]string) []string {
	record := make([]string, len(d.Headers))
	for i, header := range d.Headers {
		record[i] = row[header]
	}
	return record
}

// CSVExporter renders datasets as delimited text.
type CSVExporter struct {
	comma rune
}

// NewCSVExporter builds a comma separated exporter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{comma: ','}
}

// WithDelimiter returns a copy of the exporter using comma as separator.
func (e *CSVExporter) WithDelimiter(comma rune) *CSVExporter {
	return &CSVExporter{comma: comma}
}

// Render produces the encoded bytes for the dataset.
func (e *CSVExporter) Render(data Dataset) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("csv requires at least one header")
	}
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	if e.comma != 0 {
		writer.Comma = e.comma
	}
	records := make([][]string, 0, len(data.Rows)+2)
	records = append(records, data.Headers)
	for _, row := range data.Rows {
		records = append(records, data.Record(row))
	}
	if len(data.Footer) > 0 {
		records = append(records, data.Record(data.Footer))
	}
	if err := writer.WriteAll(records); err != nil {
		return nil, fmt.Errorf("write csv: %w", err)
	}
	return buf.Bytes(), nil
}
