// Package dbtest provides a migrated SQLite database for package tests.
package dbtest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/bondly/bondly/internal/bondlysrv/config"
	"github.com/bondly/bondly/internal/bondlysrv/db"
	"github.com/bondly/bondly/internal/bondlysrv/db/dbmanager"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"
)

// NewPool opens a fresh SQLite database in a temp dir and applies the schema.
func NewPool(t testing.TB) dbmanager.ScopedDb {
	t.Helper()
	ctx := log.Logger.WithContext(context.Background())
	cfg := &config.DBConfig{
		Driver:     config.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "bondly.db"),
	}
	pool, err := dbmanager.NewScopedDb(ctx, cfg, db.ConfiguredScopes)
	require.NoError(t, err)
	require.NoError(t, pool.Migrate(ctx))
	t.Cleanup(func() { pool.Close() })
	return pool
}

// Ctx returns a context holding a connection from pool, returned at test cleanup.
func Ctx(t testing.TB, pool dbmanager.ScopedDb) context.Context {
	t.Helper()
	ctx := log.Logger.WithContext(context.Background())
	ctx, err := db.ConnCtx(ctx, pool)
	require.NoError(t, err)
	t.Cleanup(func() {
		if d := db.DB(ctx); d != nil {
			d.Close(context.Background())
		}
	})
	return ctx
}
