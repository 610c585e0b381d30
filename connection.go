package gosqlite

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync"

	"github.com/mattn/go-sqlite3"
)

// Queue depths for the command and row channels. A single in-flight
// command gives strict FIFO ordering per facade; a single buffered row
// caps the memory held by an unread result set.
const (
	commandQueueDepth = 1
	rowQueueDepth     = 1
)

// noCancel is the context passed to driver calls. An in-flight driver
// operation always runs to completion; caller cancellation applies only to
// the facade-level waits.
var noCancel = context.Background()

// sqliteDriver hands out raw driver connections, bypassing the database/sql
// pool so that each handle has exactly one owner.
var sqliteDriver = &sqlite3.SQLiteDriver{}

// connCommand is one request processed by the connection worker.
type connCommand interface {
	connCommand()
}

// txCommand is one request processed while a transaction owns the worker.
type txCommand interface {
	txCommand()
}

type executeCommand struct {
	statement string
	args      []Value
	reply     chan executeReply
}

type executeReply struct {
	status Status
	err    error
}

type queryCommand struct {
	statement string
	args      []Value
	reply     chan queryReply
}

type queryReply struct {
	rows *Rows
	err  error
}

type beginCommand struct {
	reply chan beginReply
}

type beginReply struct {
	tx  *Tx
	err error
}

// resolveCommand commits or rolls back the active transaction and ends its
// command loop.
type resolveCommand struct {
	commit bool
	reply  chan error
}

func (*executeCommand) connCommand() {}
func (*queryCommand) connCommand()   {}
func (*beginCommand) connCommand()   {}

func (*executeCommand) txCommand() {}
func (*queryCommand) txCommand()   {}
func (*resolveCommand) txCommand() {}

// Connection is an asynchronous handle to one SQLite database. All driver
// work happens on a single worker goroutine owned by the connection; the
// methods of Connection only exchange messages with it, so a Connection is
// safe for concurrent use from multiple goroutines.
//
// Close must be called to stop the worker; it waits for any in-flight
// command to finish before returning.
type Connection struct {
	path   string
	logger Logger

	cmds chan connCommand
	quit chan struct{} // closed by Close to stop the worker
	done chan struct{} // closed by the worker on exit

	mu       sync.Mutex
	closed   bool
	txActive bool
}

// Open opens a SQLite database and starts its worker goroutine. The path
// is a filesystem path or an in-memory designator such as ":memory:";
// placeholder syntax and path semantics are the driver's own. If the driver
// cannot open the database the worker exits and the error is returned.
//
// ctx bounds only the wait for the open to complete; an open that finishes
// after cancellation is closed again in the background.
func Open(ctx context.Context, path string, opts ...Option) (*Connection, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	c := &Connection{
		path:   path,
		logger: cfg.logger,
		cmds:   make(chan connCommand, commandQueueDepth),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	opened := make(chan error, 1)
	go c.run(cfg.dsn(path), opened)
	select {
	case err := <-opened:
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrOpen, err)
		}
		return c, nil
	case <-ctx.Done():
		go func() {
			if err := <-opened; err == nil {
				c.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// run is the worker goroutine: it alone touches the driver handle, serving
// one command at a time until the connection is closed.
func (c *Connection) run(dsn string, opened chan<- error) {
	defer close(c.done)
	conn, err := sqliteDriver.Open(dsn)
	if err != nil {
		opened <- err
		return
	}
	defer conn.Close()
	opened <- nil
	c.logger.Debug("connection worker started", "path", c.path)
	defer c.logger.Debug("connection worker stopped", "path", c.path)
	for {
		select {
		case cmd := <-c.cmds:
			c.serve(conn, cmd)
		case <-c.quit:
			return
		}
	}
}

func (c *Connection) serve(conn driver.Conn, cmd connCommand) {
	switch cmd := cmd.(type) {
	case *executeCommand:
		status, err := runExecute(conn, cmd.statement, cmd.args)
		cmd.reply <- executeReply{status: status, err: err}
	case *queryCommand:
		streamQuery(conn, cmd, c.quit)
	case *beginCommand:
		c.runTransaction(conn, cmd)
	}
}

// runExecute prepares and runs a statement that returns no rows.
func runExecute(conn driver.Conn, statement string, args []Value) (Status, error) {
	stmt, err := conn.Prepare(statement)
	if err != nil {
		return Status{}, fmt.Errorf("%w: %w", ErrPrepare, err)
	}
	defer stmt.Close()
	result, err := stmt.(driver.StmtExecContext).ExecContext(noCancel, bindArgs(args))
	if err != nil {
		return Status{}, fmt.Errorf("%w: %w", ErrExecute, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return Status{}, fmt.Errorf("%w: %w", ErrExecute, err)
	}
	lastInsertID, err := result.LastInsertId()
	if err != nil {
		return Status{}, fmt.Errorf("%w: %w", ErrExecute, err)
	}
	return Status{rowsAffected: rowsAffected, lastInsertID: lastInsertID}, nil
}

// Execute runs a statement that returns no rows, such as CREATE TABLE,
// INSERT or UPDATE, and reports the affected row count and last insert id.
//
// ctx bounds only the wait: once the worker has picked the command up, the
// driver call runs to completion even if ctx is cancelled, and the
// discarded reply carries any result.
func (c *Connection) Execute(ctx context.Context, statement string, args ...Value) (Status, error) {
	cmd := &executeCommand{
		statement: statement,
		args:      args,
		reply:     make(chan executeReply, 1),
	}
	if err := c.send(ctx, cmd); err != nil {
		return Status{}, err
	}
	reply, err := awaitReply(ctx, cmd.reply, c.done, nil)
	if err != nil {
		return Status{}, err
	}
	return reply.status, reply.err
}

// Query runs a statement that returns rows. The returned stream must be
// closed (or read to the end); until then the connection serves no further
// commands.
func (c *Connection) Query(ctx context.Context, statement string, args ...Value) (*Rows, error) {
	cmd := &queryCommand{
		statement: statement,
		args:      args,
		reply:     make(chan queryReply, 1),
	}
	if err := c.send(ctx, cmd); err != nil {
		return nil, err
	}
	reply, err := awaitReply(ctx, cmd.reply, c.done, func(reply queryReply) {
		// The worker is already streaming into a handle nobody holds;
		// release it so the worker is not stranded mid-stream.
		if reply.rows != nil {
			reply.rows.Close()
		}
	})
	if err != nil {
		return nil, err
	}
	return reply.rows, reply.err
}

// QueryRow runs a statement expected to match at most one row. It returns
// ErrNoRows for an empty result and ErrTooManyRows if a second row matches.
func (c *Connection) QueryRow(ctx context.Context, statement string, args ...Value) (Row, error) {
	rows, err := c.Query(ctx, statement, args...)
	if err != nil {
		return Row{}, err
	}
	defer rows.Close()
	return singleRow(rows)
}

// Transaction begins a deferred transaction. Until the transaction is
// committed, rolled back or closed, it exclusively owns command processing:
// commands sent to the Connection itself stay queued and never interleave
// with the transaction's own. A second Transaction call during that window
// fails immediately with ErrTransactionActive.
func (c *Connection) Transaction(ctx context.Context) (*Tx, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrConnectionClosed
	}
	if c.txActive {
		c.mu.Unlock()
		return nil, ErrTransactionActive
	}
	c.txActive = true
	c.mu.Unlock()

	cmd := &beginCommand{reply: make(chan beginReply, 1)}
	if err := c.send(ctx, cmd); err != nil {
		c.clearTx()
		return nil, err
	}
	reply, err := awaitReply(ctx, cmd.reply, c.done, func(reply beginReply) {
		// The nested loop is already running for a handle nobody holds;
		// roll it back so the connection loop resumes.
		if reply.tx != nil {
			reply.tx.Close()
			return
		}
		c.clearTx()
	})
	if err != nil {
		if errors.Is(err, ErrConnectionClosed) {
			c.clearTx()
		}
		return nil, err
	}
	if reply.err != nil {
		c.clearTx()
		return nil, reply.err
	}
	return reply.tx, nil
}

// Path returns the path the connection was opened with.
func (c *Connection) Path() string {
	return c.path
}

// Close stops the worker goroutine and waits for it to exit. Any command
// already being served finishes first; commands still waiting in the queue
// are dropped and their callers receive ErrConnectionClosed. Close is
// idempotent.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		<-c.done
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	close(c.quit)
	<-c.done
	return nil
}

// send delivers one command to the worker, waiting if the queue is full or
// a transaction currently owns the worker.
func (c *Connection) send(ctx context.Context, cmd connCommand) error {
	select {
	case c.cmds <- cmd:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// clearTx marks the connection as no longer owned by a transaction.
func (c *Connection) clearTx() {
	c.mu.Lock()
	c.txActive = false
	c.mu.Unlock()
}

// awaitReply waits for the worker's reply to one command. A reply that
// raced the worker's exit is still delivered. If ctx is cancelled first,
// the command keeps running on the worker; abandon is invoked with the
// eventual reply so in-flight resources can be released.
func awaitReply[T any](ctx context.Context, reply <-chan T, done <-chan struct{}, abandon func(T)) (T, error) {
	select {
	case r := <-reply:
		return r, nil
	case <-done:
		select {
		case r := <-reply:
			return r, nil
		default:
			var zero T
			return zero, ErrConnectionClosed
		}
	case <-ctx.Done():
		if abandon != nil {
			go func() {
				select {
				case r := <-reply:
					abandon(r)
				case <-done:
				}
			}()
		}
		var zero T
		return zero, ctx.Err()
	}
}

// singleRow consumes rows, expecting exactly zero or one of them.
func singleRow(rows *Rows) (Row, error) {
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return Row{}, err
		}
		return Row{}, ErrNoRows
	}
	row := rows.Row()
	if rows.Next() {
		return Row{}, ErrTooManyRows
	}
	if err := rows.Err(); err != nil {
		return Row{}, err
	}
	return row, nil
}
