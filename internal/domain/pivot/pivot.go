// Package pivot arranges flattened per-trial measurements into a
// metric × trial matrix.
package pivot

import (
	"math"
	"strconv"

	"github.com/okian/forcedeck/internal/domain/metricid"
	"github.com/okian/forcedeck/internal/domain/model"
)

// labelPrefix is the prefix of trial column labels ("trial 1", "trial 2", ...).
const labelPrefix = "trial "

// Entry is one measurement already tagged with its metric identifier.
type Entry struct {
	MetricID string
	Value    float64
}

// Matrix maps metric identifiers to the values of successive trials.
//
// Trial numbering is local to each metric: trial N of a row is the Nth time
// that identifier appeared in the result stream. Trial 1 of metric A and
// trial 1 of metric B come from the same physical repetition only if the
// service emits every metric once per repetition, in repetition order.
type Matrix struct {
	order []string
	rows  map[string][]float64
}

// Build groups entries by metric identifier, preserving encounter order both
// across identifiers and within each row.
func Build(entries []Entry) *Matrix {
	m := &Matrix{rows: make(map[string][]float64)}
	for _, e := range entries {
		row, ok := m.rows[e.MetricID]
		if !ok {
			m.order = append(m.order, e.MetricID)
		}
		m.rows[e.MetricID] = append(row, e.Value)
	}
	return m
}

// FromMeasurements encodes each measurement's identifier and builds the matrix.
func FromMeasurements(ms []model.Measurement) *Matrix {
	entries := make([]Entry, len(ms))
	for i, m := range ms {
		entries[i] = Entry{
			MetricID: metricid.Encode(m.Definition.Result, m.Limb, m.Definition.Unit),
			Value:    m.Value,
		}
	}
	return Build(entries)
}

// Empty reports whether the matrix has no rows.
func (m *Matrix) Empty() bool { return m == nil || len(m.order) == 0 }

// AllNaN reports whether the matrix has rows but no numeric value at all.
func (m *Matrix) AllNaN() bool {
	if m.Empty() {
		return false
	}
	for _, row := range m.rows {
		for _, v := range row {
			if !math.IsNaN(v) {
				return false
			}
		}
	}
	return true
}

// MetricIDs returns the row identifiers in encounter order.
func (m *Matrix) MetricIDs() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// Has reports whether the matrix has a row for id.
func (m *Matrix) Has(id string) bool {
	if m == nil {
		return false
	}
	_, ok := m.rows[id]
	return ok
}

// Row returns a copy of the values recorded for id.
func (m *Matrix) Row(id string) []float64 {
	if m == nil {
		return nil
	}
	row := m.rows[id]
	out := make([]float64, len(row))
	copy(out, row)
	return out
}

// Trials returns the number of trial columns: the length of the longest row.
func (m *Matrix) Trials() int {
	if m == nil {
		return 0
	}
	n := 0
	for _, row := range m.rows {
		if len(row) > n {
			n = len(row)
		}
	}
	return n
}

// Value returns the value of id at the 1-based trial, or NaN when that row
// has no such trial.
func (m *Matrix) Value(id string, trial int) float64 {
	if m == nil {
		return math.NaN()
	}
	row, ok := m.rows[id]
	if !ok || trial < 1 || trial > len(row) {
		return math.NaN()
	}
	return row[trial-1]
}

// Label returns the column label of a 1-based trial.
func Label(trial int) string {
	return labelPrefix + strconv.Itoa(trial)
}
