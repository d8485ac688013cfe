// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package migrate_test

import (
	"context"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"

	"carewire.io/carewire/private/migrate"
	"carewire.io/carewire/private/tagsql"
)

func TestBasicMigrationSqlite(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	log := zaptest.NewLogger(t)

	db, err := tagsql.Open(ctx, "sqlite3", ":memory:")
	require.NoError(t, err)
	defer ctx.Check(db.Close)

	m := migrate.Migration{
		Table: "versions",
		Steps: []*migrate.Step{
			{
				DB:          db,
				Description: "initial setup",
				Version:     0,
				Action: migrate.SQL{
					`CREATE TABLE users (id int)`,
				},
			},
			{
				DB:          db,
				Description: "add name column",
				Version:     1,
				Action: migrate.SQL{
					`ALTER TABLE users ADD COLUMN name text`,
				},
			},
		},
	}

	err = m.Run(ctx, log)
	require.NoError(t, err)

	version, err := m.CurrentVersion(ctx, log, db)
	require.NoError(t, err)
	require.Equal(t, 1, version)

	// rerunning is a no-op
	err = m.Run(ctx, log)
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, `INSERT INTO users (id, name) VALUES (1, 'alice')`)
	require.NoError(t, err)

	require.NoError(t, m.ValidateVersions(ctx, log))
}

func TestMigrationFuncAction(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	log := zaptest.NewLogger(t)

	db, err := tagsql.Open(ctx, "sqlite3", ":memory:")
	require.NoError(t, err)
	defer ctx.Check(db.Close)

	ran := false
	m := migrate.Migration{
		Table: "versions",
		Steps: []*migrate.Step{
			{
				DB:          db,
				Description: "custom action",
				Version:     0,
				Action: migrate.Func(func(ctx context.Context, log *zap.Logger, db tagsql.DB, tx tagsql.Tx) error {
					ran = true
					_, err := tx.ExecContext(ctx, `CREATE TABLE custom (id int)`)
					return err
				}),
			},
		},
	}

	err = m.Run(ctx, log)
	require.NoError(t, err)
	require.True(t, ran)
}

func TestInvalidTableName(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	log := zaptest.NewLogger(t)

	db, err := tagsql.Open(ctx, "sqlite3", ":memory:")
	require.NoError(t, err)
	defer ctx.Check(db.Close)

	m := migrate.Migration{
		Table: "123-no",
		Steps: []*migrate.Step{},
	}
	err = m.Run(ctx, log)
	require.Error(t, err)
}

func TestStepsOutOfOrder(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	log := zaptest.NewLogger(t)

	db, err := tagsql.Open(ctx, "sqlite3", ":memory:")
	require.NoError(t, err)
	defer ctx.Check(db.Close)

	m := migrate.Migration{
		Table: "versions",
		Steps: []*migrate.Step{
			{DB: db, Version: 1, Action: migrate.SQL{}},
			{DB: db, Version: 0, Action: migrate.SQL{}},
		},
	}
	err = m.Run(ctx, log)
	require.Error(t, err)
}

func TestTargetVersion(t *testing.T) {
	m := migrate.Migration{
		Table: "versions",
		Steps: []*migrate.Step{
			{Version: 0},
			{Version: 1},
			{Version: 2},
		},
	}
	trimmed := m.TargetVersion(1)
	require.Len(t, trimmed.Steps, 2)
	require.Len(t, m.Steps, 3)
}
