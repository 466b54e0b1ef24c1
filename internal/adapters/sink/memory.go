package sink

import (
	"context"
	"fmt"
	"sync"

	"github.com/okian/forcedeck/pkg/logger"
	"github.com/okian/forcedeck/pkg/metrics"
)

// MemorySink keeps appended rows in memory. Used for dry runs and tests.
// Without a schema for a table every column is kept.
type MemorySink struct {
	logger logger.Logger

	mu      sync.Mutex
	schemas map[string]map[string]bool
	rows    map[string][]map[string]any
	failErr error
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink(opts ...MemoryOption) *MemorySink {
	m := &MemorySink{
		logger:  logger.Nop(),
		schemas: make(map[string]map[string]bool),
		rows:    make(map[string][]map[string]any),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Append implements Sink.
func (m *MemorySink) Append(ctx context.Context, b Batch) (int, error) {
	if len(b.Rows) == 0 {
		return 0, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failErr != nil {
		metrics.RecordSinkError(b.Table)
		return 0, m.failErr
	}
	if schema, ok := m.schemas[b.Table]; ok {
		var dropped []string
		b, dropped = Project(b, schema)
		if len(dropped) > 0 {
			metrics.RecordColumnsDropped(b.Table, len(dropped))
			m.logger.Warn(ctx, "dropping columns unknown to table",
				logger.String("table", b.Table), logger.Any("columns", dropped))
		}
		if len(b.Columns) == 0 {
			return 0, fmt.Errorf("%w: %s", ErrNoColumns, b.Table)
		}
	}
	for _, row := range b.Rows {
		rec := make(map[string]any, len(b.Columns))
		for i, c := range b.Columns {
			if i < len(row) {
				rec[c] = row[i]
			} else {
				rec[c] = nil
			}
		}
		m.rows[b.Table] = append(m.rows[b.Table], rec)
	}
	metrics.RecordRowsUploaded(b.Table, len(b.Rows))
	m.logger.Info(ctx, "rows appended", logger.String("table", b.Table), logger.Int("rows", len(b.Rows)))
	return len(b.Rows), nil
}

// Rows returns the rows appended to table so far.
func (m *MemorySink) Rows(table string) []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]map[string]any(nil), m.rows[table]...)
}

// Tables returns the number of rows per table.
func (m *MemorySink) Tables() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(m.rows))
	for t, rows := range m.rows {
		out[t] = len(rows)
	}
	return out
}
