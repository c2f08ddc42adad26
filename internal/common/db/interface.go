package db

import (
	"context"
	"database/sql"
)

// Rows is the iterator returned by Query.
type Rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Close() error
	Err() error
}

// Row is the single row returned by QueryRow.
type Row interface {
	Scan(dest ...interface{}) error
}

// Result summarizes an Exec.
type Result = sql.Result

// Transaction is a Querier bound to an open transaction.
type Transaction interface {
	Querier
	Commit() error
	Rollback() error
}

// Database is a pooled SQL connection tied to one dialect.
// Queries are written with '?' placeholders; the dialect rebinds them.
type Database interface {
	Querier
	Transaction(ctx context.Context, fn func(tx Transaction) error) error
	Dialect() Dialect
	Ping(ctx context.Context) error
	Close() error
}

// Dialect covers the differences between the supported SQL engines.
type Dialect interface {
	Name() string
	Rebind(query string) string
	// UniqueViolation reports whether err is a duplicate key error and returns the key name when known.
	UniqueViolation(err error) (string, bool)
	// InsertIgnore turns "INSERT INTO ..." into a statement that skips rows hitting a unique key.
	InsertIgnore(insert string) string
}
