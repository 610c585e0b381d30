// Package gosqlite bridges the blocking, single-threaded SQLite driver
// (github.com/mattn/go-sqlite3) into a non-blocking API that is safe for
// concurrent use.
//
// SQLite handles must not be shared between threads, so each Connection
// owns a dedicated worker goroutine that alone touches the driver handle.
// Callers never block one another on the handle itself: every operation is
// one command sent over a bounded queue plus one reply, and result rows are
// streamed back through a channel that holds at most one row.
//
// Architecture:
//   - Connection: facade plus worker goroutine; serves execute, query and
//     transaction commands strictly in order, one at a time.
//   - Tx: a transaction takes over the worker's command processing until
//     it is committed or rolled back; parent commands queue behind it.
//   - Rows: a backpressured row stream; the worker produces the next row
//     only after the consumer took the previous one.
//
// Usage:
//
//	conn, err := gosqlite.Open(ctx, "app.db", gosqlite.WithWAL())
//	if err != nil {
//	    return err
//	}
//	defer conn.Close()
//
//	status, err := conn.Execute(ctx,
//	    "INSERT INTO post (title) VALUES ($1)", gosqlite.Text("hello"))
//	if err != nil {
//	    return err
//	}
//	id := status.LastInsertID()
//
// Lifecycle rules:
//   - Close a Connection to stop and join its worker; in-flight commands
//     finish first.
//   - Resolve every Tx; a deferred Close rolls back anything unresolved.
//   - Close every Rows (or read it to the end); the worker produces no
//     further commands' results until the stream is released.
//
// Cancellation applies to waiting only: once the worker has started a
// driver call it always runs to completion, and there are no timeouts
// below the facade layer.
package gosqlite
