package db

import (
	"errors"
	"strings"

	"github.com/mattn/go-sqlite3"
)

// NewSQLite opens an SQLite database. SQLite serialises writers, so the pool is
// pinned to one connection; callers must not hold the database while a
// transaction is open on it.
//
// Use "file::memory:?cache=shared" for throwaway databases in tests.
func NewSQLite(dsn string) (*SQLDatabase, error) {
	if !strings.Contains(dsn, "_foreign_keys") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_foreign_keys=on"
	}
	return open(DialectSQLite, &PoolConfig{
		DSN:                dsn,
		MaxOpenConnections: 1,
		MaxIdleConnections: 1,
	})
}

// sqliteDuplicateKey reports UNIQUE constraint failures. SQLite names the
// columns rather than the index, so the message is returned as the key.
func sqliteDuplicateKey(err error) (string, bool) {
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) && liteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return liteErr.Error(), true
	}
	return "", false
}
