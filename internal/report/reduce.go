// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package report

import (
	"fmt"
	"strconv"
)

// TotalRank labels the synthetic row appended by Reduce
const TotalRank = "Total"

// Reduce concatenates the rows of several processes and appends a Total row
// holding the column-wise sum of every value column. Rows without a rank are
// ranked by their position.
func Reduce(rows []Row) *Table {
	t := &Table{Columns: columnsOf(rows)}

	total := Row{
		Meta:   Meta{Rank: TotalRank},
		Values: make(map[string]float64, len(t.Columns)),
	}
	for i, row := range rows {
		if row.Rank == "" {
			row.Rank = strconv.Itoa(i)
		}
		for col, v := range row.Values {
			total.Values[col] += v
		}
		t.Rows = append(t.Rows, row)
	}
	t.Rows = append(t.Rows, total)
	return t
}

// ReduceFiles reads one report per process and reduces their rows. Files
// are ranked in argument order unless their rows carry a rank.
func ReduceFiles(paths []string) (*Table, error) {
	var rows []Row
	for rank, path := range paths {
		t, err := ReadTable(path)
		if err != nil {
			return nil, fmt.Errorf("reading rank %d: %w", rank, err)
		}
		for _, row := range t.Rows {
			if row.Rank == "" {
				row.Rank = strconv.Itoa(rank)
			}
			rows = append(rows, row)
		}
	}
	return Reduce(rows), nil
}
