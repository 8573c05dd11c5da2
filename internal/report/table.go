// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package report

import (
	"maps"
	"slices"

	"github.com/ea2p/powermeter/internal/monitor"
)

// Meta are the metadata columns leading every row of a report
type Meta struct {
	Project    string `csv:"project"`
	Datetime   string `csv:"datetime"`
	Package    string `csv:"package"`
	Algorithm  string `csv:"algorithm"`
	Parameters string `csv:"parameters"`
	Rank       string `csv:"rank"`
}

// DatetimeFormat is the layout of the datetime column
const DatetimeFormat = "01/02/2006 15:04:05"

// Row is one session of a report
type Row struct {
	Meta
	// Values holds the energy columns and elapsed_seconds
	Values map[string]float64
}

// Table is a report read from or written to a file
type Table struct {
	// Columns are the value columns in file order; metadata columns excluded
	Columns []string
	Rows    []Row
}

// RowOf converts a record into a report row
func RowOf(rec *monitor.Record) Row {
	values := maps.Clone(rec.Energy)
	if values == nil {
		values = map[string]float64{}
	}
	values[monitor.ElapsedColumn] = rec.ElapsedSeconds

	return Row{
		Meta: Meta{
			Project:    rec.Labels.Project,
			Datetime:   rec.Stop.Format(DatetimeFormat),
			Package:    rec.Labels.Package,
			Algorithm:  rec.Labels.Algorithm,
			Parameters: rec.Labels.Parameters,
			Rank:       rec.Labels.Rank,
		},
		Values: values,
	}
}

// columnsOf returns the value columns of rows in first-seen order, with the
// energy rails of each row sorted and elapsed_seconds last
func columnsOf(rows []Row) []string {
	var cols []string
	seen := map[string]bool{}
	for _, row := range rows {
		for _, col := range slices.Sorted(maps.Keys(row.Values)) {
			if col == monitor.ElapsedColumn || seen[col] {
				continue
			}
			seen[col] = true
			cols = append(cols, col)
		}
	}
	return append(cols, monitor.ElapsedColumn)
}
