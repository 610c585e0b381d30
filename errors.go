package gosqlite

import "errors"

// Sentinel errors for the asynchronous SQLite bridge.
//
// Errors returned by this package wrap one of these sentinels together with
// the underlying driver diagnostic, so both can be inspected:
//
//	if errors.Is(err, gosqlite.ErrPrepare) {
//	    // Statement could not be compiled; the connection is still usable.
//	}
//
//	var sqliteErr sqlite3.Error
//	if errors.As(err, &sqliteErr) {
//	    // Native SQLite error code is available.
//	}
var (
	// ErrOpen indicates the database file could not be opened. The worker
	// goroutine for that connection attempt has already exited.
	ErrOpen = errors.New("gosqlite: open failed")

	// ErrPrepare indicates a statement failed to compile. The owning
	// connection or transaction continues to serve later commands.
	ErrPrepare = errors.New("gosqlite: prepare failed")

	// ErrExecute indicates a statement compiled but failed to run. Inside a
	// transaction this does not roll the transaction back.
	ErrExecute = errors.New("gosqlite: execute failed")

	// ErrRowDecode indicates the driver produced a column value this
	// package cannot represent.
	ErrRowDecode = errors.New("gosqlite: row decode failed")

	// ErrConnectionClosed indicates a command was issued to a connection
	// whose worker goroutine has already exited.
	ErrConnectionClosed = errors.New("gosqlite: connection closed")

	// ErrTransactionDone indicates an operation on a transaction that was
	// already committed or rolled back.
	ErrTransactionDone = errors.New("gosqlite: transaction already resolved")

	// ErrTransactionActive indicates a transaction was requested while
	// another one is still open on the same connection.
	ErrTransactionActive = errors.New("gosqlite: transaction already active")

	// ErrNoRows indicates a single-row query matched nothing.
	ErrNoRows = errors.New("gosqlite: no rows in result set")

	// ErrTooManyRows indicates a single-row query matched more than one row.
	ErrTooManyRows = errors.New("gosqlite: multiple rows in result set")
)
