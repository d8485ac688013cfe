// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

// Package enginedbtest opens migrated engine databases for tests.
package enginedbtest

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"

	"carewire.io/carewire/engine/enginedb"
	"carewire.io/carewire/private/dbutil/pgutil"
	"carewire.io/carewire/private/dbutil/pgutil/pgtest"
	"carewire.io/carewire/private/tagsql"
)

// Run opens a migrated engine database for every configured implementation
// and calls test with each. SQLite always runs; postgres runs in a dropped
// temporary schema when the -postgres-test-db flag or CAREWIRE_POSTGRES_TEST
// is set.
func Run(t *testing.T, test func(ctx *testcontext.Context, t *testing.T, db *enginedb.DB)) {
	t.Run("sqlite3", func(t *testing.T) {
		ctx := testcontext.New(t)
		defer ctx.Cleanup()

		url := "sqlite3://" + filepath.Join(ctx.Dir("enginedb"), "engine.db")
		db, err := enginedb.Open(ctx, zaptest.NewLogger(t).Named("enginedb"), url)
		require.NoError(t, err)
		defer ctx.Check(db.Close)

		require.NoError(t, db.MigrateToLatest(ctx))
		test(ctx, t, db)
	})

	t.Run("postgres", func(t *testing.T) {
		connstr := *pgtest.ConnStr
		if connstr == "" {
			t.Skip("postgres test database is not configured, set -postgres-test-db or CAREWIRE_POSTGRES_TEST")
		}

		ctx := testcontext.New(t)
		defer ctx.Cleanup()

		schema := "test_" + pgutil.CreateRandomTestingSchemaName(8)

		admin, err := tagsql.Open(ctx, "pgx", connstr)
		require.NoError(t, err)
		defer ctx.Check(admin.Close)

		require.NoError(t, pgutil.CreateSchema(ctx, admin, schema))
		defer func() {
			require.NoError(t, pgutil.DropSchema(ctx, admin, schema))
		}()

		db, err := enginedb.Open(ctx, zaptest.NewLogger(t).Named("enginedb"), pgutil.ConnstrWithSchema(connstr, schema))
		require.NoError(t, err)
		defer ctx.Check(db.Close)

		require.NoError(t, db.MigrateToLatest(ctx))
		test(ctx, t, db)
	})
}
