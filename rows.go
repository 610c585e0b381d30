package gosqlite

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// rowItem is one element of the row stream: a row, or a terminal error.
type rowItem struct {
	row Row
	err error
}

// Rows is a lazily produced stream of query results. Column names are fixed
// before the first row arrives, even for an empty result. Iteration follows
// the database/sql shape:
//
//	rows, err := conn.Query(ctx, "SELECT a, b FROM t ORDER BY a")
//	if err != nil {
//	    return err
//	}
//	defer rows.Close()
//	for rows.Next() {
//	    values := rows.Row().Values()
//	    // ...
//	}
//	if err := rows.Err(); err != nil {
//	    return err
//	}
//
// The stream is finite and cannot be replayed. The owning worker goroutine
// stays at most one row ahead of the consumer; it produces nothing further
// until Next or Close is called. A Rows must be closed (or iterated to the
// end) before the owning connection or transaction serves its next command.
type Rows struct {
	columns []string
	items   <-chan rowItem
	done    chan struct{}

	closeOnce sync.Once
	closed    atomic.Bool
	row       Row
	err       error
}

// Columns returns the result column names in positional order.
func (r *Rows) Columns() []string {
	return r.columns
}

// Next advances the stream by one row. It returns false at the end of the
// result set or on a stream error; every later call keeps returning false.
// Use Err to tell the two apart.
func (r *Rows) Next() bool {
	if r.closed.Load() || r.err != nil {
		return false
	}
	item, ok := <-r.items
	if !ok {
		return false
	}
	if item.err != nil {
		r.err = item.err
		return false
	}
	r.row = item.row
	return true
}

// Row returns the row read by the last successful call to Next.
func (r *Rows) Row() Row {
	return r.row
}

// Err returns the error that terminated the stream, if any. A result set
// that was consumed to the end reports nil.
func (r *Rows) Err() error {
	return r.err
}

// Close releases the stream, discarding any unread rows, and unblocks the
// worker goroutine producing them. It is safe to call multiple times and
// after the stream is exhausted.
func (r *Rows) Close() error {
	r.closed.Store(true)
	r.closeOnce.Do(func() {
		close(r.done)
	})
	return nil
}

// streamQuery prepares cmd's statement on the worker goroutine, replies
// with a Rows handle once the column names are known, and then produces
// rows one at a time until the result set ends, the consumer closes the
// stream, or quit is closed. A terminal driver or decode error is sent as
// the final item; the item channel is always closed afterwards.
func streamQuery(conn driver.Conn, cmd *queryCommand, quit <-chan struct{}) {
	stmt, err := conn.Prepare(cmd.statement)
	if err != nil {
		cmd.reply <- queryReply{err: fmt.Errorf("%w: %w", ErrPrepare, err)}
		return
	}
	defer stmt.Close()
	rows, err := stmt.(driver.StmtQueryContext).QueryContext(noCancel, bindArgs(cmd.args))
	if err != nil {
		cmd.reply <- queryReply{err: fmt.Errorf("%w: %w", ErrExecute, err)}
		return
	}
	defer rows.Close()

	columns := append([]string(nil), rows.Columns()...)
	blobs := blobColumns(rows)
	items := make(chan rowItem, rowQueueDepth)
	defer close(items)
	done := make(chan struct{})
	cmd.reply <- queryReply{rows: &Rows{columns: columns, items: items, done: done}}

	dest := make([]driver.Value, len(columns))
	for {
		if err := rows.Next(dest); err != nil {
			if !errors.Is(err, io.EOF) {
				sendItem(items, rowItem{err: fmt.Errorf("%w: %w", ErrExecute, err)}, done, quit)
			}
			return
		}
		row, err := decodeRow(dest, blobs)
		if err != nil {
			sendItem(items, rowItem{err: err}, done, quit)
			return
		}
		if !sendItem(items, rowItem{row: row}, done, quit) {
			return
		}
	}
}

// sendItem delivers one stream item unless the consumer has closed the
// stream or the connection is shutting down.
func sendItem(items chan<- rowItem, item rowItem, done, quit <-chan struct{}) bool {
	select {
	case items <- item:
		return true
	case <-done:
		return false
	case <-quit:
		return false
	}
}
