// Package pgxtest provides an in-memory stand-in for a pgx connection. It
// records every statement, tracks transaction and savepoint boundaries and
// enforces primary keys so loader behaviour can be tested without a server.
package pgxtest

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Exec is one recorded statement
type Exec struct {
	Table string
	SQL   string
	Args  []any
}

// Recorder implements Begin like *pgx.Conn
type Recorder struct {
	// Fail, when set, is consulted before every statement; a non-nil result
	// is returned as the statement's error.
	Fail func(sql string, args []any) error

	Committed  []Exec
	Begins     int
	Commits    int // top-level commits only
	Rollbacks  int // top-level rollbacks only
	Savepoints int
	// CommitSizes records how many rows each top-level commit made durable
	CommitSizes []int

	keys   map[string]struct{}
	tables map[string]struct{}
}

// New returns an empty recorder
func New() *Recorder {
	return &Recorder{
		keys:   make(map[string]struct{}),
		tables: make(map[string]struct{}),
	}
}

// Begin opens a top-level transaction
func (r *Recorder) Begin(ctx context.Context) (pgx.Tx, error) {
	r.Begins++
	return &Tx{rec: r}, nil
}

// Rows returns the committed statements that targeted table
func (r *Recorder) Rows(table string) []Exec {
	var rows []Exec
	for _, e := range r.Committed {
		if e.Table == table {
			rows = append(rows, e)
		}
	}
	return rows
}

// Tx is a recorded transaction. Nested transactions behave as savepoints.
type Tx struct {
	pgx.Tx

	rec     *Recorder
	parent  *Tx
	pending []Exec
	keys    []string
	created []string
	closed  bool
}

// Begin opens a savepoint inside tx
func (tx *Tx) Begin(ctx context.Context) (pgx.Tx, error) {
	if tx.closed {
		return nil, pgx.ErrTxClosed
	}
	tx.rec.Savepoints++
	return &Tx{rec: tx.rec, parent: tx}, nil
}

// Exec records a statement and enforces primary keys for inserts
func (tx *Tx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if tx.closed {
		return pgconn.CommandTag{}, pgx.ErrTxClosed
	}
	if tx.rec.Fail != nil {
		if err := tx.rec.Fail(sql, args); err != nil {
			return pgconn.CommandTag{}, err
		}
	}

	fields := strings.Fields(sql)
	if len(fields) >= 3 && strings.EqualFold(fields[0], "CREATE") && strings.EqualFold(fields[1], "TABLE") {
		name := fields[2]
		if _, ok := tx.rec.tables[name]; ok {
			return pgconn.CommandTag{}, &pgconn.PgError{
				Code:    "42P07",
				Message: fmt.Sprintf("relation %q already exists", name),
			}
		}
		tx.rec.tables[name] = struct{}{}
		tx.created = append(tx.created, name)
		return pgconn.NewCommandTag("CREATE TABLE"), nil
	}

	exec := Exec{SQL: sql, Args: args}
	if len(fields) >= 3 && strings.EqualFold(fields[0], "INSERT") {
		exec.Table = fields[2]
		key := primaryKey(exec.Table, args)
		if _, ok := tx.rec.keys[key]; ok {
			return pgconn.CommandTag{}, &pgconn.PgError{
				Code:           "23505",
				Message:        "duplicate key value violates unique constraint",
				ConstraintName: exec.Table + "_pkey",
				TableName:      exec.Table,
			}
		}
		tx.rec.keys[key] = struct{}{}
		tx.keys = append(tx.keys, key)
	}
	tx.pending = append(tx.pending, exec)
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

// Commit makes pending rows durable, or folds them into the parent for a
// savepoint
func (tx *Tx) Commit(ctx context.Context) error {
	if tx.closed {
		return pgx.ErrTxClosed
	}
	tx.closed = true
	if tx.parent != nil {
		tx.parent.pending = append(tx.parent.pending, tx.pending...)
		tx.parent.keys = append(tx.parent.keys, tx.keys...)
		tx.parent.created = append(tx.parent.created, tx.created...)
		return nil
	}
	tx.rec.Commits++
	tx.rec.CommitSizes = append(tx.rec.CommitSizes, len(tx.pending))
	tx.rec.Committed = append(tx.rec.Committed, tx.pending...)
	return nil
}

// Rollback discards pending rows. Rolling back a closed transaction returns
// pgx.ErrTxClosed, as pgx does.
func (tx *Tx) Rollback(ctx context.Context) error {
	if tx.closed {
		return pgx.ErrTxClosed
	}
	tx.closed = true
	for _, k := range tx.keys {
		delete(tx.rec.keys, k)
	}
	for _, name := range tx.created {
		delete(tx.rec.tables, name)
	}
	if tx.parent == nil {
		tx.rec.Rollbacks++
	}
	return nil
}

// primaryKey mirrors the schema: entity tables are keyed by id, every other
// table by its first two columns.
func primaryKey(table string, args []any) string {
	switch table {
	case "nodes", "ways", "relations":
		return fmt.Sprintf("%s/%v", table, args[0])
	default:
		return fmt.Sprintf("%s/%v/%v", table, args[0], args[1])
	}
}
