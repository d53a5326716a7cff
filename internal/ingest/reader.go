package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
)

// RowReader streams one tabular file. Spreadsheet-format parsing lives
// behind this interface; the pipeline never sees file formats directly.
type RowReader interface {
	// Headers returns the raw column names, pre-normalization.
	Headers() []string
	// Next returns the next record's values, aligned with Headers.
	// Returns io.EOF at end of stream.
	Next() ([]string, error)
	// Close releases the underlying file.
	Close() error
}

// csvReader is the built-in CSV RowReader. It never materializes the file;
// records are pulled one at a time.
type csvReader struct {
	f       *os.File
	r       *csv.Reader
	headers []string
}

// OpenCSV opens a CSV file as a RowReader. The first record is the header.
func OpenCSV(path string) (RowReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // ragged rows tolerated; short rows pad with empty
	r.TrimLeadingSpace = true
	headers, err := r.Read()
	if err != nil {
		f.Close()
		if err == io.EOF {
			return nil, fmt.Errorf("%s: empty file", path)
		}
		return nil, fmt.Errorf("%s: read header: %w", path, err)
	}
	return &csvReader{f: f, r: r, headers: headers}, nil
}

func (c *csvReader) Headers() []string { return c.headers }

func (c *csvReader) Next() ([]string, error) {
	rec, err := c.r.Read()
	if err != nil {
		return nil, err
	}
	if len(rec) < len(c.headers) {
		padded := make([]string, len(c.headers))
		copy(padded, rec)
		rec = padded
	}
	return rec[:len(c.headers)], nil
}

func (c *csvReader) Close() error { return c.f.Close() }

// OpenFile picks a RowReader by file extension. Only CSV ships; other
// tabular formats register through external collaborators.
func OpenFile(path string) (RowReader, error) {
	switch strings.ToLower(lastExt(path)) {
	case ".csv", ".txt":
		return OpenCSV(path)
	default:
		return nil, fmt.Errorf("%s: unsupported file format", path)
	}
}

func lastExt(path string) string {
	if i := strings.LastIndex(path, "."); i >= 0 {
		return path[i:]
	}
	return ""
}
