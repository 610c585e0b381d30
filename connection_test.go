package gosqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// openTestConn opens a connection on a throwaway database file.
func openTestConn(t *testing.T, opts ...Option) *Connection {
	t.Helper()
	conn, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, conn.Close())
	})
	return conn
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("creates database file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "test.db")
		conn, err := Open(ctx, path)
		require.NoError(t, err)
		defer conn.Close()

		assert.Equal(t, path, conn.Path())
		_, err = os.Stat(path)
		assert.NoError(t, err)
	})

	t.Run("in-memory database", func(t *testing.T) {
		conn, err := Open(ctx, ":memory:")
		require.NoError(t, err)
		defer conn.Close()

		_, err = conn.Execute(ctx, "CREATE TABLE t (a INTEGER)")
		assert.NoError(t, err)
	})

	t.Run("shared cache memory database", func(t *testing.T) {
		// Distinct designators keep memory databases isolated between tests.
		conn, err := Open(ctx, "file:"+uuid.NewString()+"?mode=memory&cache=shared")
		require.NoError(t, err)
		defer conn.Close()

		_, err = conn.Execute(ctx, "CREATE TABLE t (a INTEGER)")
		assert.NoError(t, err)
	})

	t.Run("open failure is returned", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "missing", "deeper", "test.db")
		_, err := Open(ctx, path)
		assert.ErrorIs(t, err, ErrOpen)
	})

	t.Run("pragma options apply", func(t *testing.T) {
		conn := openTestConn(t, WithWAL(), WithBusyTimeout(2*time.Second), WithForeignKeys())

		row, err := conn.QueryRow(ctx, "PRAGMA journal_mode")
		require.NoError(t, err)
		assert.Equal(t, []Value{Text("wal")}, row.Values())

		row, err = conn.QueryRow(ctx, "PRAGMA foreign_keys")
		require.NoError(t, err)
		assert.Equal(t, []Value{Integer(1)}, row.Values())
	})
}

func TestDSN(t *testing.T) {
	t.Run("plain path passes through", func(t *testing.T) {
		assert.Equal(t, ":memory:", defaultConfig().dsn(":memory:"))
		assert.Equal(t, "/tmp/a.db", defaultConfig().dsn("/tmp/a.db"))
	})

	t.Run("options become query parameters", func(t *testing.T) {
		cfg := defaultConfig()
		cfg.busyTimeout = 5 * time.Second
		cfg.walMode = true
		cfg.foreignKeys = true
		assert.Equal(t,
			"file:/tmp/a.db?_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL&_synchronous=NORMAL",
			cfg.dsn("/tmp/a.db"))
	})
}

// TestQueryScenario runs the canonical create/insert/select flow.
func TestQueryScenario(t *testing.T) {
	ctx := context.Background()
	conn := openTestConn(t)

	_, err := conn.Execute(ctx, "CREATE TABLE t (a INTEGER PRIMARY KEY, b TEXT NOT NULL)")
	require.NoError(t, err)

	status, err := conn.Execute(ctx, "INSERT INTO t (b) VALUES ($1), ($2)", Text("x"), Text("y"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), status.RowsAffected())
	assert.Equal(t, int64(2), status.LastInsertID())

	rows, err := conn.Query(ctx, "SELECT a, b FROM t ORDER BY a")
	require.NoError(t, err)
	defer rows.Close()

	assert.Equal(t, []string{"a", "b"}, rows.Columns())

	require.True(t, rows.Next())
	assert.Equal(t, []Value{Integer(1), Text("x")}, rows.Row().Values())
	require.True(t, rows.Next())
	assert.Equal(t, []Value{Integer(2), Text("y")}, rows.Row().Values())

	// End-of-stream is terminal, not an error, and stays that way.
	for i := 0; i < 3; i++ {
		assert.False(t, rows.Next())
		assert.NoError(t, rows.Err())
	}
}

// TestValueRoundTrip binds each variant and reads it back from a matching
// column.
func TestValueRoundTrip(t *testing.T) {
	ctx := context.Background()
	conn := openTestConn(t)

	_, err := conn.Execute(ctx, "CREATE TABLE v (i INTEGER, r REAL, t TEXT, b BLOB, n INTEGER)")
	require.NoError(t, err)

	want := []Value{Integer(-42), Real(2.25), Text("héllo"), Blob{0x00, 0xff, 0x10}, Null{}}
	_, err = conn.Execute(ctx, "INSERT INTO v (i, r, t, b, n) VALUES ($1, $2, $3, $4, $5)", want...)
	require.NoError(t, err)

	row, err := conn.QueryRow(ctx, "SELECT i, r, t, b, n FROM v")
	require.NoError(t, err)
	assert.Equal(t, want, row.Values())
}

func TestQueryRow(t *testing.T) {
	ctx := context.Background()
	conn := openTestConn(t)

	_, err := conn.Execute(ctx, "CREATE TABLE t (a INTEGER PRIMARY KEY, b TEXT NOT NULL)")
	require.NoError(t, err)
	_, err = conn.Execute(ctx, "INSERT INTO t (b) VALUES ($1), ($2)", Text("x"), Text("y"))
	require.NoError(t, err)

	t.Run("no rows", func(t *testing.T) {
		_, err := conn.QueryRow(ctx, "SELECT a FROM t WHERE b = $1", Text("missing"))
		assert.ErrorIs(t, err, ErrNoRows)
	})

	t.Run("one row", func(t *testing.T) {
		row, err := conn.QueryRow(ctx, "SELECT a FROM t WHERE b = $1", Text("x"))
		require.NoError(t, err)
		assert.Equal(t, []Value{Integer(1)}, row.Values())
	})

	t.Run("multiple rows", func(t *testing.T) {
		_, err := conn.QueryRow(ctx, "SELECT a FROM t ORDER BY a")
		assert.ErrorIs(t, err, ErrTooManyRows)
	})
}

func TestExecuteErrors(t *testing.T) {
	ctx := context.Background()
	conn := openTestConn(t)

	t.Run("prepare failure keeps the connection alive", func(t *testing.T) {
		_, err := conn.Execute(ctx, "NOT A STATEMENT")
		require.ErrorIs(t, err, ErrPrepare)

		// Later commands are still served.
		_, err = conn.Execute(ctx, "CREATE TABLE t (a INTEGER PRIMARY KEY, b TEXT NOT NULL)")
		assert.NoError(t, err)
	})

	t.Run("constraint violation is an execute failure", func(t *testing.T) {
		_, err := conn.Execute(ctx, "INSERT INTO t (a, b) VALUES (1, NULL)")
		assert.ErrorIs(t, err, ErrExecute)
	})

	t.Run("query prepare failure", func(t *testing.T) {
		_, err := conn.Query(ctx, "SELECT nope FROM t")
		assert.ErrorIs(t, err, ErrPrepare)
	})
}

func TestClosedConnection(t *testing.T) {
	ctx := context.Background()
	conn, err := Open(ctx, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close(), "close is idempotent")

	_, err = conn.Execute(ctx, "CREATE TABLE t (a INTEGER)")
	assert.ErrorIs(t, err, ErrConnectionClosed)

	_, err = conn.Query(ctx, "SELECT 1")
	assert.ErrorIs(t, err, ErrConnectionClosed)

	_, err = conn.Transaction(ctx)
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

// TestConcurrentCallers issues commands from many goroutines against one
// connection; the worker serializes them without corruption or deadlock.
func TestConcurrentCallers(t *testing.T) {
	ctx := context.Background()
	conn := openTestConn(t)

	_, err := conn.Execute(ctx, "CREATE TABLE t (a INTEGER PRIMARY KEY, b TEXT NOT NULL)")
	require.NoError(t, err)

	const (
		writers = 8
		inserts = 25
	)
	var eg errgroup.Group
	for w := 0; w < writers; w++ {
		w := w
		eg.Go(func() error {
			for i := 0; i < inserts; i++ {
				value := Text(fmt.Sprintf("w%d-%d", w, i))
				if _, err := conn.Execute(ctx, "INSERT INTO t (b) VALUES ($1)", value); err != nil {
					return err
				}
			}
			return nil
		})
	}
	// Readers interleave with the writers.
	for i := 0; i < 4; i++ {
		eg.Go(func() error {
			for j := 0; j < 10; j++ {
				if _, err := conn.QueryRow(ctx, "SELECT COUNT(*) FROM t"); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())

	row, err := conn.QueryRow(ctx, "SELECT COUNT(*) FROM t")
	require.NoError(t, err)
	assert.Equal(t, []Value{Integer(writers * inserts)}, row.Values())
}

// TestReturningQuery streams rows out of a statement that both writes and
// returns data.
func TestReturningQuery(t *testing.T) {
	ctx := context.Background()
	conn := openTestConn(t)

	_, err := conn.Execute(ctx, "CREATE TABLE post (id INTEGER PRIMARY KEY, title TEXT NOT NULL)")
	require.NoError(t, err)

	row, err := conn.QueryRow(ctx, "INSERT INTO post (title) VALUES ($1) RETURNING id", Text("first"))
	require.NoError(t, err)
	assert.Equal(t, []Value{Integer(1)}, row.Values())
}
