// Package rowstore is the row-oriented database the entry store persists to.
package rowstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNoRow is returned by Get when the query matched nothing.
var ErrNoRow = errors.New("rowstore: no row")

// Row is one result row keyed by column name. Values are whatever the driver
// returned: string for TEXT, int64 for INTEGER, []byte for BLOB, nil for NULL.
type Row map[string]any

// String returns the column as a string. NULL and missing columns yield "".
func (r Row) String(col string) string {
	switch v := r[col].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Int returns the column as an int64. Non-integer values yield 0.
func (r Row) Int(col string) int64 {
	switch v := r[col].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// Bytes returns the column as a byte slice.
func (r Row) Bytes(col string) []byte {
	switch v := r[col].(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	default:
		return nil
	}
}

// IsNull reports whether the column is NULL or absent.
func (r Row) IsNull(col string) bool {
	return r[col] == nil
}

// Runner runs parameterized statements. Both a Store and the handle passed to
// a Tx callback are Runners.
type Runner interface {
	Run(ctx context.Context, query string, args ...any) (sql.Result, error)
	Get(ctx context.Context, query string, args ...any) (Row, error)
	All(ctx context.Context, query string, args ...any) ([]Row, error)
}

// Store is an open database handle.
type Store interface {
	Runner
	// Exec runs one or more unparameterized statements, typically DDL.
	Exec(ctx context.Context, ddl string) error
	// Tx runs fn in a transaction, committing if fn returns nil.
	Tx(ctx context.Context, fn func(Runner) error) error
	Close() error
}

// Opener opens the Store backing a database file.
type Opener interface {
	Open(ctx context.Context, path string) (Store, error)
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type runner struct {
	q queryer
}

func (r runner) Run(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return r.q.ExecContext(ctx, query, args...)
}

func (r runner) Get(ctx context.Context, query string, args ...any) (Row, error) {
	rows, err := r.All(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNoRow
	}
	return rows[0], nil
}

// All reads the whole result set before returning so the connection is free
// for the next statement.
func (r runner) All(ctx context.Context, query string, args ...any) ([]Row, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			row[c] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
