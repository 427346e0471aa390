package repository

import "github.com/okian/runout/pkg/logger"

// Option applies a configuration option to a SQLiteStore.
type Option func(*SQLiteStore)

// WithLogger sets the logger used for schema and query diagnostics.
func WithLogger(l logger.Logger) Option {
	return func(s *SQLiteStore) {
		if l != nil {
			s.log = l
		}
	}
}

// WithBusyTimeout sets the SQLite busy timeout in milliseconds.
func WithBusyTimeout(ms int) Option {
	return func(s *SQLiteStore) {
		if ms > 0 {
			s.busyTimeoutMS = ms
		}
	}
}
