// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/ea2p/powermeter/internal/monitor"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
)

// TablePrinter prints every record as a table of rails
type TablePrinter struct {
	out io.Writer
}

var _ monitor.Sink = (*TablePrinter)(nil)

func NewTablePrinter(out io.Writer) *TablePrinter {
	return &TablePrinter{out: out}
}

func (p *TablePrinter) Write(rec *monitor.Record) error {
	if _, err := fmt.Fprintf(p.out, "Energy report for %s\n", describe(rec.Labels)); err != nil {
		return err
	}

	rows := make([][]string, 0, len(rec.Energy)+1)
	for _, rail := range rec.Rails() {
		rows = append(rows, []string{rail, formatFloat(rec.Energy[rail])})
	}
	rows = append(rows, []string{monitor.ElapsedColumn, formatFloat(rec.ElapsedSeconds)})

	table := newTable(p.out)
	table.Header([]string{"Rail", fmt.Sprintf("Energy(%s)", rec.Unit)})
	if err := table.Bulk(rows); err != nil {
		return err
	}
	return table.Render()
}

// PrintTable prints a reduced report with one line per rank
func PrintTable(out io.Writer, t *Table) error {
	header := append([]string{"Rank"}, t.Columns...)
	rows := make([][]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		line := []string{row.Rank}
		for _, col := range t.Columns {
			v, ok := row.Values[col]
			if !ok {
				line = append(line, "")
				continue
			}
			line = append(line, formatFloat(v))
		}
		rows = append(rows, line)
	}

	table := newTable(out)
	table.Header(header)
	if err := table.Bulk(rows); err != nil {
		return err
	}
	return table.Render()
}

func newTable(out io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(out)
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Formatting.Alignment = tw.AlignRight
	})
	return table
}

func describe(l monitor.Labels) string {
	switch {
	case l.Package != "" && l.Algorithm != "":
		return l.Package + "." + l.Algorithm
	case l.Algorithm != "":
		return l.Algorithm
	case l.Project != "":
		return l.Project
	default:
		return "session"
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
