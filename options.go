package gosqlite

import (
	"net/url"
	"strconv"
	"time"
)

// Logger receives lifecycle diagnostics from a connection: worker start and
// stop, and transactions that are closed without an explicit commit or
// rollback. *slog.Logger satisfies this interface.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is the default logger; it does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Option configures a connection at open time.
type Option func(*config)

// config collects the open-time settings applied by Options.
type config struct {
	busyTimeout time.Duration
	walMode     bool
	foreignKeys bool
	logger      Logger
}

func defaultConfig() config {
	return config{logger: noopLogger{}}
}

// WithBusyTimeout sets how long the driver waits for a database lock before
// returning SQLITE_BUSY. Zero leaves the driver default in place.
func WithBusyTimeout(d time.Duration) Option {
	return func(c *config) {
		c.busyTimeout = d
	}
}

// WithWAL enables write-ahead logging with NORMAL synchronous mode,
// allowing concurrent readers during writes.
func WithWAL() Option {
	return func(c *config) {
		c.walMode = true
	}
}

// WithForeignKeys enables foreign key constraint enforcement.
func WithForeignKeys() Option {
	return func(c *config) {
		c.foreignKeys = true
	}
}

// WithLogger sets the logger for connection lifecycle diagnostics.
func WithLogger(logger Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// dsn builds the driver connection string for path. Without options the
// path passes through unmodified, including in-memory designators such as
// ":memory:". Pragma options are carried as query parameters.
// See: https://github.com/mattn/go-sqlite3#connection-string
func (c config) dsn(path string) string {
	params := url.Values{}
	if c.busyTimeout > 0 {
		params.Set("_busy_timeout", strconv.FormatInt(c.busyTimeout.Milliseconds(), 10))
	}
	if c.foreignKeys {
		params.Set("_foreign_keys", "on")
	}
	if c.walMode {
		params.Set("_journal_mode", "WAL")
		params.Set("_synchronous", "NORMAL")
	}
	if len(params) == 0 {
		return path
	}
	return "file:" + path + "?" + params.Encode()
}
