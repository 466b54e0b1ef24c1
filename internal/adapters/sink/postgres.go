package sink

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okian/forcedeck/pkg/logger"
	"github.com/okian/forcedeck/pkg/metrics"
)

const columnsQuery = `SELECT column_name FROM information_schema.columns
 WHERE table_schema = COALESCE($1::text, current_schema()) AND table_name = $2
 ORDER BY ordinal_position`

// conn is the subset of *pgxpool.Pool the sink uses.
type conn interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
}

// PostgresSink appends rows with COPY. Table schemas are read once per table
// from information_schema. Column names match exactly, or in lowercase when
// the table only has the lowercase name.
type PostgresSink struct {
	pool   *pgxpool.Pool
	conn   conn
	logger logger.Logger

	mu      sync.Mutex
	schemas map[string]map[string]bool
}

// Connect opens a pool to databaseURL and verifies it.
func Connect(ctx context.Context, databaseURL string, opts ...Option) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	s := newPostgresSink(pool, opts...)
	s.pool = pool
	return s, nil
}

func newPostgresSink(c conn, opts ...Option) *PostgresSink {
	s := &PostgresSink{
		conn:    c,
		logger:  logger.Nop(),
		schemas: make(map[string]map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close closes the pool.
func (s *PostgresSink) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Append implements Sink.
func (s *PostgresSink) Append(ctx context.Context, b Batch) (int, error) {
	if len(b.Rows) == 0 {
		return 0, nil
	}
	schema, err := s.schema(ctx, b.Table)
	if err != nil {
		metrics.RecordSinkError(b.Table)
		return 0, err
	}
	b = foldColumns(b, schema)
	b, dropped := Project(b, schema)
	if len(dropped) > 0 {
		metrics.RecordColumnsDropped(b.Table, len(dropped))
		s.logger.Warn(ctx, "dropping columns unknown to table",
			logger.String("table", b.Table), logger.Any("columns", dropped))
	}
	if len(b.Columns) == 0 {
		metrics.RecordSinkError(b.Table)
		return 0, fmt.Errorf("%w: %s", ErrNoColumns, b.Table)
	}

	n, err := s.conn.CopyFrom(ctx, identifier(b.Table), b.Columns, pgx.CopyFromRows(b.Rows))
	if err != nil {
		metrics.RecordSinkError(b.Table)
		return 0, fmt.Errorf("copy into %s: %w", b.Table, err)
	}
	metrics.RecordRowsUploaded(b.Table, int(n))
	s.logger.Info(ctx, "rows appended", logger.String("table", b.Table), logger.Int("rows", int(n)))
	return int(n), nil
}

func (s *PostgresSink) schema(ctx context.Context, table string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cols, ok := s.schemas[table]; ok {
		return cols, nil
	}

	var schemaName any
	name := table
	if i := strings.LastIndex(table, "."); i >= 0 {
		schemaName, name = table[:i], table[i+1:]
	}
	rows, err := s.conn.Query(ctx, columnsQuery, schemaName, name)
	if err != nil {
		return nil, fmt.Errorf("read schema of %s: %w", table, err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("read schema of %s: %w", table, err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	cols := make(map[string]bool, len(names))
	for _, n := range names {
		cols[n] = true
	}
	s.schemas[table] = cols
	return cols, nil
}

// foldColumns renames a column missing from schema to its lowercase form
// when the table has that one instead, as it does when the DDL left
// identifiers unquoted.
func foldColumns(b Batch, schema map[string]bool) Batch {
	var cols []string
	for i, c := range b.Columns {
		lower := strings.ToLower(c)
		if schema[c] || !schema[lower] || slices.Contains(b.Columns, lower) {
			continue
		}
		if cols == nil {
			cols = slices.Clone(b.Columns)
		}
		cols[i] = lower
	}
	if cols == nil {
		return b
	}
	b.Columns = cols
	return b
}

func identifier(table string) pgx.Identifier {
	return pgx.Identifier(strings.Split(table, "."))
}
