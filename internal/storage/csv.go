package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gateway-fm/rpcbench/internal/rpc"
)

// csvHeader is the column layout of every result file.
var csvHeader = []string{"start", "end", "error"}

// CSVSink writes one tabular result file per labeled batch.
type CSVSink struct {
	dir string
}

// NewCSVSink creates the output directory if needed and returns a sink
// writing into it.
func NewCSVSink(dir string) (*CSVSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &CSVSink{dir: dir}, nil
}

// Dir returns the sink's output directory.
func (s *CSVSink) Dir() string { return s.dir }

// WriteBatch writes the records of one labeled batch, one row per call in
// range order, overwriting any previous file for the label. Timestamps are
// RFC 3339 with nanoseconds; a successful call leaves the error column
// empty. Returns the written file path.
func (s *CSVSink) WriteBatch(label string, records []rpc.CallRecord) (string, error) {
	path := filepath.Join(s.dir, label+".csv")

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create result file: %w", err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write header: %w", err)
	}

	for _, rec := range records {
		errStr := ""
		if rec.Err != nil {
			errStr = *rec.Err
		}
		row := []string{
			rec.Start.Format(time.RFC3339Nano),
			rec.End.Format(time.RFC3339Nano),
			errStr,
		}
		if err := w.Write(row); err != nil {
			f.Close()
			return "", fmt.Errorf("failed to write record: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to flush records: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close result file: %w", err)
	}

	return path, nil
}
