// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package enginedb_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"

	"carewire.io/carewire/engine/cluster/eventbus"
	bustestsuite "carewire.io/carewire/engine/cluster/eventbus/testsuite"
	"carewire.io/carewire/engine/encryption"
	"carewire.io/carewire/engine/enginedb"
	"carewire.io/carewire/engine/enginedb/enginedbtest"
	"carewire.io/carewire/engine/message"
	kvtestsuite "carewire.io/carewire/private/kvstore/testsuite"
)

func TestMigrateToLatest(t *testing.T) {
	enginedbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *enginedb.DB) {
		// the harness already migrated; a second run is a no-op
		require.NoError(t, db.MigrateToLatest(ctx))
		require.NoError(t, db.CheckVersion(ctx))
	})
}

func TestGlobalMapStore(t *testing.T) {
	enginedbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *enginedb.DB) {
		kvtestsuite.RunTests(t, db.GlobalMap())
	})
}

func TestClusterEventBus(t *testing.T) {
	enginedbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *enginedb.DB) {
		bustestsuite.RunTests(t, func(t *testing.T, serverID string) eventbus.Bus {
			busCtx := testcontext.New(t)

			bus, err := eventbus.OpenDBBus(busCtx, zaptest.NewLogger(t), db.ClusterEvents(), serverID, eventbus.DBBusConfig{
				PollInterval: 10 * time.Millisecond,
				Retention:    time.Hour,
			})
			require.NoError(t, err)

			busCtx.Go(func() error { return bus.Run(busCtx) })
			t.Cleanup(func() {
				_ = bus.Close()
				busCtx.Cleanup()
			})
			return bus
		})
	})
}

func TestMessages(t *testing.T) {
	enginedbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *enginedb.DB) {
		store := db.Messages(encryption.Noop{})

		require.NoError(t, store.EnsureChannel(ctx, "ch-adt", nil))

		start, err := store.NextBlock(ctx, "ch-adt", 5)
		require.NoError(t, err)
		require.EqualValues(t, 1, start)

		received := time.Now().UTC().Truncate(time.Millisecond)
		require.NoError(t, store.InsertMessage(ctx, &message.Message{
			ID:         start,
			ChannelID:  "ch-adt",
			ServerID:   "srv-1",
			ReceivedAt: received,
		}))

		got, err := store.GetMessage(ctx, "ch-adt", start)
		require.NoError(t, err)
		require.Equal(t, "srv-1", got.ServerID)
		require.True(t, got.ReceivedAt.Equal(received))

		require.NoError(t, store.RemoveChannel(ctx, "ch-adt"))
	})
}
