// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"sync"

	"github.com/ea2p/powermeter/internal/monitor"
	"github.com/jszwec/csvutil"
)

// ErrSchemaMismatch is returned when a row does not fit the header of an existing file
var ErrSchemaMismatch = errors.New("column schema mismatch")

// PersistenceError reports a failure to write a report file
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("writing report %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

var metaHeader = func() []string {
	h, err := csvutil.Header(Meta{}, "csv")
	if err != nil {
		panic(err)
	}
	return h
}()

// CSVSink appends every record as one row of a CSV file. The header is
// written with the first row; later rows must have the same columns.
type CSVSink struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

var _ monitor.Sink = (*CSVSink)(nil)

func NewCSVSink(path string, logger *slog.Logger) *CSVSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &CSVSink{path: path, logger: logger.With("sink", "csv")}
}

func (s *CSVSink) Write(rec *monitor.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := RowOf(rec)
	if err := appendRows(s.path, rec.Columns(), []Row{row}); err != nil {
		return err
	}
	s.logger.Info("Record written", "path", s.path, "columns", len(metaHeader)+len(rec.Columns()))
	return nil
}

// WriteTable writes t to path, replacing any existing file
func WriteTable(path string, t *Table) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &PersistenceError{Path: path, Err: err}
	}
	return appendRows(path, t.Columns, t.Rows)
}

// appendRows appends rows to the CSV file at path, writing the header when
// the file is new or empty
func appendRows(path string, columns []string, rows []Row) error {
	header := slices.Concat(metaHeader, columns)

	existing, err := readHeader(path)
	if err != nil {
		return &PersistenceError{Path: path, Err: err}
	}
	if existing != nil && !slices.Equal(existing, header) {
		return &PersistenceError{Path: path, Err: fmt.Errorf("%w: file has %v, row has %v",
			ErrSchemaMismatch, existing, header)}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return &PersistenceError{Path: path, Err: err}
	}
	defer func() { _ = f.Close() }()

	w := csv.NewWriter(f)
	extra := &extraColumnsWriter{w: w}
	enc := csvutil.NewEncoder(extra)
	enc.AutoHeader = false

	if existing == nil {
		extra.extra = columns
		if err := enc.EncodeHeader(Meta{}); err != nil {
			return &PersistenceError{Path: path, Err: err}
		}
	}

	for _, row := range rows {
		extra.extra = formatValues(columns, row.Values)
		if err := enc.Encode(row.Meta); err != nil {
			return &PersistenceError{Path: path, Err: err}
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return &PersistenceError{Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		return &PersistenceError{Path: path, Err: err}
	}
	return nil
}

// readHeader returns the header of the file at path, or nil when the file
// does not exist or is empty
func readHeader(path string) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	header, err := csv.NewReader(f).Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	return header, err
}

func formatValues(columns []string, values map[string]float64) []string {
	ret := make([]string, len(columns))
	for i, col := range columns {
		if v, ok := values[col]; ok {
			ret[i] = strconv.FormatFloat(v, 'g', -1, 64)
		}
	}
	return ret
}

// extraColumnsWriter appends the value columns to every line csvutil encodes
type extraColumnsWriter struct {
	w     *csv.Writer
	extra []string
}

func (e *extraColumnsWriter) Write(record []string) error {
	return e.w.Write(slices.Concat(record, e.extra))
}

// ReadTable reads a report file. Columns other than the metadata columns are
// read as values; empty cells are left out of the row.
func ReadTable(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	dec, err := csvutil.NewDecoder(csv.NewReader(f))
	if errors.Is(err, io.EOF) {
		return &Table{}, nil
	} else if err != nil {
		return nil, fmt.Errorf("reading header of %s: %w", path, err)
	}

	header := dec.Header()
	t := &Table{}
	for _, i := range valueColumns(header) {
		t.Columns = append(t.Columns, header[i])
	}

	for line := 2; ; line++ {
		var row Row
		if err := dec.Decode(&row.Meta); errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, line, err)
		}

		record := dec.Record()
		row.Values = make(map[string]float64, len(dec.Unused()))
		for _, i := range dec.Unused() {
			if record[i] == "" {
				continue
			}
			v, err := strconv.ParseFloat(record[i], 64)
			if err != nil {
				return nil, fmt.Errorf("%s line %d column %s: %w", path, line, header[i], err)
			}
			row.Values[header[i]] = v
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// valueColumns returns the indices of header columns that are not metadata
func valueColumns(header []string) []int {
	var ret []int
	for i, col := range header {
		if !slices.Contains(metaHeader, col) {
			ret = append(ret, i)
		}
	}
	return ret
}
