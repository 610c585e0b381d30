package gosqlite

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"
)

// Value is a single SQLite datum: one of Null, Integer, Real, Text or Blob.
// Values are passed as positional bind parameters and returned as row
// columns. A nil Value binds as NULL.
type Value interface {
	sqliteValue()
}

// Null is the SQL NULL value.
type Null struct{}

// Integer is a 64-bit signed INTEGER value.
type Integer int64

// Real is a REAL (IEEE 754 double) value.
type Real float64

// Text is a UTF-8 TEXT value.
type Text string

// Blob is a BLOB value.
type Blob []byte

func (Null) sqliteValue()    {}
func (Integer) sqliteValue() {}
func (Real) sqliteValue()    {}
func (Text) sqliteValue()    {}
func (Blob) sqliteValue()    {}

// Row is one result row: an ordered sequence of column values matching the
// query's column list. Rows are immutable once produced.
type Row struct {
	values []Value
}

// Values returns the column values in positional order.
func (r Row) Values() []Value {
	return r.values
}

// Status is the result of a statement that returns no rows.
type Status struct {
	rowsAffected int64
	lastInsertID int64
}

// RowsAffected returns the number of rows changed by the statement.
func (s Status) RowsAffected() int64 {
	return s.rowsAffected
}

// LastInsertID returns the rowid generated by the most recent successful
// INSERT on the connection, captured when the statement completed. It is
// zero until the first insert on the connection.
func (s Status) LastInsertID() int64 {
	return s.lastInsertID
}

// timeFormat renders driver-decoded timestamp columns back into SQLite's
// preferred text form.
const timeFormat = "2006-01-02 15:04:05.999999999-07:00"

// bindValue converts a Value into the driver's bind representation.
func bindValue(v Value) driver.Value {
	switch v := v.(type) {
	case nil, Null:
		return nil
	case Integer:
		return int64(v)
	case Real:
		return float64(v)
	case Text:
		return string(v)
	case Blob:
		return []byte(v)
	default:
		// Value is a sealed interface; no other variants exist.
		return nil
	}
}

// bindArgs converts bind parameters into the driver's named-value form,
// numbered by position.
func bindArgs(args []Value) []driver.NamedValue {
	if len(args) == 0 {
		return nil
	}
	named := make([]driver.NamedValue, len(args))
	for i, arg := range args {
		named[i] = driver.NamedValue{Ordinal: i + 1, Value: bindValue(arg)}
	}
	return named
}

// columnValue converts one driver column value into a Value. The driver
// surfaces TEXT column data as []byte, identically to BLOB, so blob reports
// whether the column was declared as a BLOB.
func columnValue(v driver.Value, blob bool) (Value, error) {
	switch v := v.(type) {
	case nil:
		return Null{}, nil
	case int64:
		return Integer(v), nil
	case float64:
		return Real(v), nil
	case string:
		return Text(v), nil
	case []byte:
		if blob {
			// The driver reuses the column buffer between steps.
			return Blob(append([]byte(nil), v...)), nil
		}
		return Text(v), nil
	case time.Time:
		return Text(v.Format(timeFormat)), nil
	default:
		return nil, fmt.Errorf("%w: unsupported column type %T", ErrRowDecode, v)
	}
}

// decodeRow converts a stepped driver row into a Row. dest is reused by
// the caller between steps; the resulting Row shares nothing with it.
func decodeRow(dest []driver.Value, blobs []bool) (Row, error) {
	values := make([]Value, len(dest))
	for i, v := range dest {
		blob := blobs != nil && blobs[i]
		value, err := columnValue(v, blob)
		if err != nil {
			return Row{}, fmt.Errorf("column %d: %w", i, err)
		}
		values[i] = value
	}
	return Row{values: values}, nil
}

// blobColumns reports, per column, whether the declared type is BLOB.
// Declared types come from the prepared statement and are fixed for the
// stream's lifetime; expression columns have no declared type and decode
// byte data as Text.
func blobColumns(rows driver.Rows) []bool {
	dt, ok := rows.(interface{ DeclTypes() []string })
	if !ok {
		return nil
	}
	decls := dt.DeclTypes()
	blobs := make([]bool, len(decls))
	for i, decl := range decls {
		blobs[i] = strings.Contains(strings.ToUpper(decl), "BLOB")
	}
	return blobs
}
