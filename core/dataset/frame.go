package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Frame is a parsed telemetry table. Column names are normalized and every
// row has exactly len(Columns) cells.
type Frame struct {
	Columns []string
	Rows    [][]string
}

// NormalizeColumn trims and lower-cases a header name.
func NormalizeColumn(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// NewFrame normalizes the header and checks every row has the header's width.
func NewFrame(columns []string, rows [][]string) (*Frame, error) {
	if len(columns) == 0 {
		return nil, formatErr(EmptyInput, "", "no columns")
	}
	cols := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = NormalizeColumn(c)
	}
	for i, r := range rows {
		if len(r) != len(cols) {
			return nil, formatErr(WidthMismatch, "", "row %d has %d cells, header has %d", i, len(r), len(cols))
		}
	}
	return &Frame{Columns: cols, Rows: rows}, nil
}

// Index returns the position of the named column or -1.
func (f *Frame) Index(name string) int {
	name = NormalizeColumn(name)
	for i, c := range f.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Len returns the number of data rows.
func (f *Frame) Len() int { return len(f.Rows) }

// ReadCSV parses a CSV table with a header row.
func ReadCSV(r io.Reader) (*Frame, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, formatErr(EmptyInput, "", "no header row")
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	var rows [][]string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		rows = append(rows, rec)
	}
	return NewFrame(header, rows)
}

// ReadCSVFile opens path and parses it with ReadCSV.
func ReadCSVFile(path string) (*Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open telemetry: %w", err)
	}
	defer f.Close()
	return ReadCSV(f)
}
