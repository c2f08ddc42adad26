package db

import (
	"context"
	"database/sql"
	"errors"
)

// Querier abstracts database operations for both database and transaction.
type Querier interface {
	Query(ctx context.Context, query string, args ...interface{}) (Rows, error)
	QueryRow(ctx context.Context, query string, args ...interface{}) Row
	Exec(ctx context.Context, query string, args ...interface{}) (Result, error)
}

// IsNoRows checks if the error is sql.ErrNoRows.
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// IsUniqueViolation reports a duplicate key error for either dialect.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if _, ok := MySQLDialect.UniqueViolation(err); ok {
		return true
	}
	_, ok := PostgreSQLDialect.UniqueViolation(err)
	return ok
}
