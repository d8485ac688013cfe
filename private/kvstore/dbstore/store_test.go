// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package dbstore_test

import (
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"storj.io/common/testcontext"

	"carewire.io/carewire/private/kvstore/dbstore"
	"carewire.io/carewire/private/kvstore/testsuite"
	"carewire.io/carewire/private/tagsql"
)

func openTestDB(t testing.TB, ctx *testcontext.Context) tagsql.DB {
	db, err := tagsql.Open(ctx, "sqlite3", filepath.Join(ctx.Dir("dbstore"), "test.db"))
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, `
		CREATE TABLE global_map (
			scope TEXT NOT NULL,
			map_key TEXT NOT NULL,
			map_value BLOB NOT NULL,
			version INTEGER NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (scope, map_key)
		)`)
	require.NoError(t, err)
	return db
}

func TestSuite(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db := openTestDB(t, ctx)
	defer ctx.Check(db.Close)

	testsuite.RunTests(t, dbstore.New(db, "global_map"))
}

func BenchmarkSuite(b *testing.B) {
	ctx := testcontext.New(b)
	defer ctx.Cleanup()

	db := openTestDB(b, ctx)
	defer ctx.Check(db.Close)

	testsuite.RunBenchmarks(b, dbstore.New(db, "global_map"))
}
