package sink

import (
	"github.com/okian/forcedeck/pkg/logger"
)

// Option applies a configuration option to the PostgresSink.
type Option func(*PostgresSink)

// WithLogger sets a custom logger for the sink.
func WithLogger(l logger.Logger) Option {
	return func(s *PostgresSink) {
		if l != nil {
			s.logger = l
		}
	}
}

// MemoryOption applies a configuration option to the MemorySink.
type MemoryOption func(*MemorySink)

// WithSchema restricts table to columns, as a real destination would.
func WithSchema(table string, columns ...string) MemoryOption {
	return func(m *MemorySink) {
		cols := make(map[string]bool, len(columns))
		for _, c := range columns {
			cols[c] = true
		}
		m.schemas[table] = cols
	}
}

// WithFailure makes every non-empty Append fail with err.
func WithFailure(err error) MemoryOption {
	return func(m *MemorySink) {
		m.failErr = err
	}
}

// WithMemoryLogger sets a custom logger for the sink.
func WithMemoryLogger(l logger.Logger) MemoryOption {
	return func(m *MemorySink) {
		if l != nil {
			m.logger = l
		}
	}
}
