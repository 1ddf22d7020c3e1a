package db

import (
	"context"
	"database/sql"
)

// Dialect names the SQL flavour behind a Database. Repositories only branch on
// it where the drivers genuinely disagree (RETURNING, upserts).
type Dialect string

const (
	DialectMySQL    Dialect = "mysql"
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

// Database is the connection-pool level handle shared by all repositories.
type Database interface {
	Querier
	Transaction(ctx context.Context, fn func(tx Transaction) error) error
	BeginTx(ctx context.Context, opts *TxOptions) (Transaction, error)
	Ping(ctx context.Context) error
	Close() error
	Stats() sql.DBStats
}

// Querier abstracts database operations for both database and transaction.
// Queries are written with '?' placeholders and rebound per driver.
type Querier interface {
	Query(ctx context.Context, query string, args ...interface{}) (Rows, error)
	QueryRow(ctx context.Context, query string, args ...interface{}) Row
	Exec(ctx context.Context, query string, args ...interface{}) (Result, error)
	Dialect() Dialect
}

// Transaction is a Querier bound to one database transaction.
type Transaction interface {
	Querier
	Commit() error
	Rollback() error
}

// Scanner is satisfied by both Row and Rows.
type Scanner interface {
	Scan(dest ...interface{}) error
}

// Rows iterates a multi-row result.
type Rows interface {
	Scanner
	Next() bool
	Close() error
	Err() error
}

// Row is a single-row result; Scan returns sql.ErrNoRows (wrapped) when empty.
type Row interface {
	Scanner
}

// Result reports the outcome of Exec.
type Result interface {
	LastInsertId() (int64, error)
	RowsAffected() (int64, error)
}

// TxOptions mirrors sql.TxOptions without leaking database/sql into callers.
type TxOptions struct {
	Isolation sql.IsolationLevel
	ReadOnly  bool
}

func (o *TxOptions) toSQL() *sql.TxOptions {
	if o == nil {
		return nil
	}
	return &sql.TxOptions{Isolation: o.Isolation, ReadOnly: o.ReadOnly}
}
