package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// GetQuerier returns transaction if provided, otherwise uses the database.
func GetQuerier(database Database, tx Transaction) Querier {
	if tx != nil {
		return tx
	}
	return database
}

// IsNoRows checks if the error is sql.ErrNoRows.
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// UniqueViolation reports whether err is a duplicate key error from any of the
// supported drivers and, where the driver exposes it, the violated key.
func UniqueViolation(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	if key, ok := mysqlDuplicateKey(err); ok {
		return key, true
	}
	if key, ok := postgresDuplicateKey(err); ok {
		return key, true
	}
	return sqliteDuplicateKey(err)
}

// InsertReturningID runs an INSERT and returns the generated "id" column.
// PostgreSQL has no LastInsertId, so the statement gets a RETURNING clause there.
func InsertReturningID(ctx context.Context, q Querier, query string, args ...interface{}) (int64, error) {
	if q.Dialect() == DialectPostgres {
		var id int64
		if err := q.QueryRow(ctx, strings.TrimRight(query, "; \n")+" RETURNING id", args...).Scan(&id); err != nil {
			return 0, err
		}
		return id, nil
	}
	res, err := q.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id failed: %w", err)
	}
	return id, nil
}

// RequireOneRow turns an Exec result into ok=false when nothing matched.
// Conditional updates use it to detect a lost compare-and-swap.
func RequireOneRow(res Result) (bool, error) {
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected failed: %w", err)
	}
	return affected > 0, nil
}
