package db_test

import (
	"context"
	"errors"
	"testing"

	"eduoj/internal/common/db"
	"eduoj/internal/testutil"

	"github.com/stretchr/testify/require"
)

func TestInsertReturningIDAndRebind(t *testing.T) {
	ctx := context.Background()
	database := testutil.NewSQLite(t)

	id, err := db.InsertReturningID(ctx, database,
		`INSERT INTO contest_tasks (contest_id, task_id, position) VALUES (?, ?, ?)`, 1, 2, 0)
	require.NoError(t, err)
	require.Positive(t, id)

	var position int
	require.NoError(t, database.QueryRow(ctx,
		`SELECT position FROM contest_tasks WHERE contest_id = ? AND task_id = ?`, 1, 2).Scan(&position))
	require.Equal(t, 0, position)
}

func TestTransactionRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	database := testutil.NewSQLite(t)
	provider := db.NewStaticProvider(database)
	boom := errors.New("boom")

	err := db.WithTx(ctx, provider, nil, func(tx db.Transaction) error {
		if _, err := tx.Exec(ctx, `INSERT INTO contest_tasks (contest_id, task_id, position) VALUES (?, ?, ?)`, 5, 6, 1); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = database.QueryRow(ctx, `SELECT position FROM contest_tasks WHERE contest_id = ?`, 5).Scan(new(int))
	require.True(t, db.IsNoRows(err), "expected no rows, got %v", err)
}

func TestRequireOneRow(t *testing.T) {
	ctx := context.Background()
	database := testutil.NewSQLite(t)

	res, err := database.Exec(ctx, `UPDATE contests SET status = ? WHERE id = ?`, "active", 404)
	require.NoError(t, err)
	ok, err := db.RequireOneRow(res)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCurrentDatabaseRejectsNil(t *testing.T) {
	_, err := db.CurrentDatabase(nil)
	require.Error(t, err)
	_, err = db.CurrentDatabase(db.NewStaticProvider(nil))
	require.Error(t, err)
}

func TestUniqueViolationIgnoresOtherErrors(t *testing.T) {
	_, ok := db.UniqueViolation(errors.New("plain"))
	require.False(t, ok)
	_, ok = db.UniqueViolation(nil)
	require.False(t, ok)
}
