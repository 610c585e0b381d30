package gosqlite

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync"
)

// Tx is an open transaction on a Connection. While it is unresolved it
// exclusively owns the connection's command processing; the parent
// connection's own commands wait until the transaction commits or rolls
// back.
//
// A Tx must be resolved exactly once, by Commit, Rollback or Close. Close
// rolls back when neither was called, so the idiomatic shape is:
//
//	tx, err := conn.Transaction(ctx)
//	if err != nil {
//	    return err
//	}
//	defer tx.Close()
//	// ... tx.Execute / tx.Query ...
//	return tx.Commit(ctx)
type Tx struct {
	conn *Connection
	cmds chan txCommand

	mu       sync.Mutex
	resolved bool
}

// runTransaction begins a deferred transaction on the driver and, on
// success, serves the nested command loop until the transaction resolves.
// It runs on the connection worker goroutine; while it runs, the parent
// command queue is not read.
func (c *Connection) runTransaction(conn driver.Conn, cmd *beginCommand) {
	dtx, err := conn.(driver.ConnBeginTx).BeginTx(noCancel, driver.TxOptions{})
	if err != nil {
		cmd.reply <- beginReply{err: fmt.Errorf("%w: begin transaction: %w", ErrExecute, err)}
		return
	}
	tx := &Tx{conn: c, cmds: make(chan txCommand, commandQueueDepth)}
	cmd.reply <- beginReply{tx: tx}
	c.logger.Debug("transaction started", "path", c.path)
	for {
		select {
		case tcmd := <-tx.cmds:
			switch tcmd := tcmd.(type) {
			case *executeCommand:
				status, err := runExecute(conn, tcmd.statement, tcmd.args)
				tcmd.reply <- executeReply{status: status, err: err}
			case *queryCommand:
				streamQuery(conn, tcmd, c.quit)
			case *resolveCommand:
				var err error
				if tcmd.commit {
					if err = dtx.Commit(); err != nil {
						err = fmt.Errorf("%w: commit: %w", ErrExecute, err)
					}
				} else {
					if err = dtx.Rollback(); err != nil {
						err = fmt.Errorf("%w: rollback: %w", ErrExecute, err)
					}
				}
				tcmd.reply <- err
				if tcmd.commit {
					c.logger.Debug("transaction committed", "path", c.path)
				} else {
					c.logger.Debug("transaction rolled back", "path", c.path)
				}
				return
			}
		case <-c.quit:
			// Connection shutdown with the transaction still open.
			if err := dtx.Rollback(); err != nil {
				c.logger.Error("rollback on shutdown failed", "path", c.path, "error", err)
			}
			return
		}
	}
}

// Execute runs a statement inside the transaction. A failed statement does
// not roll the transaction back; it stays open for the caller to decide.
func (t *Tx) Execute(ctx context.Context, statement string, args ...Value) (Status, error) {
	cmd := &executeCommand{
		statement: statement,
		args:      args,
		reply:     make(chan executeReply, 1),
	}
	if err := t.send(ctx, cmd); err != nil {
		return Status{}, err
	}
	reply, err := awaitReply(ctx, cmd.reply, t.conn.done, nil)
	if err != nil {
		return Status{}, err
	}
	return reply.status, reply.err
}

// Query runs a row-returning statement inside the transaction, observing
// its uncommitted writes. The stream must be closed or exhausted before the
// transaction serves its next command.
func (t *Tx) Query(ctx context.Context, statement string, args ...Value) (*Rows, error) {
	cmd := &queryCommand{
		statement: statement,
		args:      args,
		reply:     make(chan queryReply, 1),
	}
	if err := t.send(ctx, cmd); err != nil {
		return nil, err
	}
	reply, err := awaitReply(ctx, cmd.reply, t.conn.done, func(reply queryReply) {
		if reply.rows != nil {
			reply.rows.Close()
		}
	})
	if err != nil {
		return nil, err
	}
	return reply.rows, reply.err
}

// QueryRow runs a statement expected to match at most one row inside the
// transaction. It returns ErrNoRows for an empty result and ErrTooManyRows
// if a second row matches.
func (t *Tx) QueryRow(ctx context.Context, statement string, args ...Value) (Row, error) {
	rows, err := t.Query(ctx, statement, args...)
	if err != nil {
		return Row{}, err
	}
	defer rows.Close()
	return singleRow(rows)
}

// Commit commits the transaction and ends its ownership of the connection,
// whatever the driver outcome.
func (t *Tx) Commit(ctx context.Context) error {
	return t.resolve(ctx, true)
}

// Rollback discards the transaction's writes and ends its ownership of the
// connection, whatever the driver outcome.
func (t *Tx) Rollback(ctx context.Context) error {
	return t.resolve(ctx, false)
}

// Close resolves the transaction if the caller has not: an unresolved
// transaction is rolled back synchronously, so the parent connection is
// never left with a dangling transaction. Closing a resolved transaction
// is a no-op.
func (t *Tx) Close() error {
	t.mu.Lock()
	resolved := t.resolved
	t.mu.Unlock()
	if resolved {
		return nil
	}
	t.conn.logger.Warn("transaction closed without commit or rollback, rolling back",
		"path", t.conn.path)
	err := t.resolve(context.Background(), false)
	if errors.Is(err, ErrTransactionDone) || errors.Is(err, ErrConnectionClosed) {
		return nil
	}
	return err
}

// resolve sends the terminal commit or rollback command and waits for the
// nested loop to finish with it.
func (t *Tx) resolve(ctx context.Context, commit bool) error {
	t.mu.Lock()
	if t.resolved {
		t.mu.Unlock()
		return ErrTransactionDone
	}
	t.resolved = true
	t.mu.Unlock()

	cmd := &resolveCommand{commit: commit, reply: make(chan error, 1)}
	if err := t.send(ctx, cmd); err != nil {
		if errors.Is(err, ErrConnectionClosed) {
			// The worker already rolled back on shutdown.
			t.conn.clearTx()
			return err
		}
		// Not sent; the transaction is still open and unresolved.
		t.mu.Lock()
		t.resolved = false
		t.mu.Unlock()
		return err
	}
	reply, err := awaitReply(ctx, cmd.reply, t.conn.done, func(error) {
		// The resolution completed after the caller stopped waiting.
		t.conn.clearTx()
	})
	if err != nil {
		if errors.Is(err, ErrConnectionClosed) {
			t.conn.clearTx()
		}
		return err
	}
	t.conn.clearTx()
	return reply
}

// send delivers one command to the nested transaction loop.
func (t *Tx) send(ctx context.Context, cmd txCommand) error {
	t.mu.Lock()
	if t.resolved {
		if _, terminal := cmd.(*resolveCommand); !terminal {
			t.mu.Unlock()
			return ErrTransactionDone
		}
	}
	t.mu.Unlock()
	select {
	case t.cmds <- cmd:
		return nil
	case <-t.conn.done:
		return ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
