// Package sink writes finished records to append-only storage.
package sink

import (
	"context"
)

// Batch is a set of rows for one table. Every row has one value per column,
// nil meaning NULL.
type Batch struct {
	Table   string
	Columns []string
	Rows    [][]any
}

// Sink appends batches. Columns the destination does not know are dropped
// before writing; an empty batch is a no-op. Append returns the number of
// rows written.
type Sink interface {
	Append(ctx context.Context, b Batch) (int, error)
}

// Project keeps only the columns present in schema, preserving order. It
// returns the projected batch and the names of the dropped columns.
func Project(b Batch, schema map[string]bool) (Batch, []string) {
	var keep []int
	var dropped []string
	for i, c := range b.Columns {
		if schema[c] {
			keep = append(keep, i)
		} else {
			dropped = append(dropped, c)
		}
	}
	if len(dropped) == 0 {
		return b, nil
	}

	out := Batch{Table: b.Table, Columns: make([]string, len(keep)), Rows: make([][]any, len(b.Rows))}
	for j, i := range keep {
		out.Columns[j] = b.Columns[i]
	}
	for r, row := range b.Rows {
		projected := make([]any, len(keep))
		for j, i := range keep {
			if i < len(row) {
				projected[j] = row[i]
			}
		}
		out.Rows[r] = projected
	}
	return out, dropped
}
