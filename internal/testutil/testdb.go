// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"eduoj/internal/common/db"
	"eduoj/internal/schema"

	"github.com/stretchr/testify/require"
)

var dbSeq atomic.Int64

// NewSQLite returns a migrated, private in-memory database closed at test end.
func NewSQLite(t *testing.T) *db.SQLDatabase {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, dbSeq.Add(1))

	database, err := db.NewSQLite(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	require.NoError(t, schema.Migrate(context.Background(), database))
	return database
}

// NewProvider wraps NewSQLite in a static provider.
func NewProvider(t *testing.T) db.Provider {
	t.Helper()
	return db.NewStaticProvider(NewSQLite(t))
}
