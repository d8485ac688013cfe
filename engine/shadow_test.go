// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package engine_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"

	"carewire.io/carewire/engine"
	"carewire.io/carewire/engine/enginedb"
	"carewire.io/carewire/engine/enginedb/enginedbtest"
)

func TestShadowPersistence(t *testing.T) {
	enginedbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *enginedb.DB) {
		log := zaptest.NewLogger(t)

		// the first load writes the default so later nodes agree
		shadow, err := engine.LoadShadow(ctx, log, db.Settings(), true)
		require.NoError(t, err)
		require.True(t, shadow.Enabled())

		value, err := db.Settings().Get(ctx, "shadow", "enabled")
		require.NoError(t, err)
		require.Equal(t, "true", value)

		// a persisted flag beats the default
		reloaded, err := engine.LoadShadow(ctx, log, db.Settings(), false)
		require.NoError(t, err)
		require.True(t, reloaded.Enabled())

		// promotions survive a restart
		require.NoError(t, shadow.Promote(ctx, "chan-a"))
		reloaded, err = engine.LoadShadow(ctx, log, db.Settings(), false)
		require.NoError(t, err)
		require.True(t, reloaded.Promoted("chan-a"))
		require.False(t, reloaded.Gated("chan-a"))
		require.True(t, reloaded.Gated("chan-b"))

		// so does turning the mode off
		require.NoError(t, shadow.SetEnabled(ctx, false))
		reloaded, err = engine.LoadShadow(ctx, log, db.Settings(), true)
		require.NoError(t, err)
		require.False(t, reloaded.Enabled())
	})
}

func TestShadowGating(t *testing.T) {
	enginedbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *enginedb.DB) {
		log := zaptest.NewLogger(t)

		shadow, err := engine.LoadShadow(ctx, log, db.Settings(), false)
		require.NoError(t, err)

		// with the mode off nothing is gated, promoted or not
		require.False(t, shadow.Gated("chan-a"))

		require.NoError(t, shadow.SetEnabled(ctx, true))
		require.True(t, shadow.Gated("chan-a"))
		require.True(t, shadow.Gated("chan-b"))

		require.NoError(t, shadow.Promote(ctx, "chan-a"))
		require.False(t, shadow.Gated("chan-a"))
		require.True(t, shadow.Gated("chan-b"))
	})
}

func TestShadowDisableClearsPromotions(t *testing.T) {
	enginedbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *enginedb.DB) {
		log := zaptest.NewLogger(t)

		shadow, err := engine.LoadShadow(ctx, log, db.Settings(), true)
		require.NoError(t, err)

		require.NoError(t, shadow.Promote(ctx, "chan-a"))
		require.NoError(t, shadow.Promote(ctx, "chan-b"))

		require.NoError(t, shadow.SetEnabled(ctx, false))
		require.False(t, shadow.Promoted("chan-a"))
		require.False(t, shadow.Promoted("chan-b"))

		promoted, err := db.Settings().All(ctx, "shadow.promoted")
		require.NoError(t, err)
		require.Empty(t, promoted)

		// the next shadow period starts with every channel gated again
		require.NoError(t, shadow.SetEnabled(ctx, true))
		require.True(t, shadow.Gated("chan-a"))
		require.True(t, shadow.Gated("chan-b"))
	})
}
