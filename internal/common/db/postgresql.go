package db

import (
	"errors"

	"github.com/lib/pq"
)

// NewPostgreSQL opens a PostgreSQL pool with default settings.
// DSN format: "user=postgres password=password host=localhost port=5432 dbname=dbname sslmode=disable"
func NewPostgreSQL(dsn string) (*SQLDatabase, error) {
	return NewPostgreSQLWithConfig(&PoolConfig{DSN: dsn})
}

// NewPostgreSQLWithConfig opens a PostgreSQL pool with custom configuration
func NewPostgreSQLWithConfig(config *PoolConfig) (*SQLDatabase, error) {
	return open(DialectPostgres, config)
}

// postgresDuplicateKey reports a unique_violation (SQLSTATE 23505) and its constraint.
func postgresDuplicateKey(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return pqErr.Constraint, true
	}
	return "", false
}
