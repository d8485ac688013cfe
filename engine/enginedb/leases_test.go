// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package enginedb_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"storj.io/common/testcontext"

	"carewire.io/carewire/engine/cluster/leases"
	"carewire.io/carewire/engine/enginedb"
	"carewire.io/carewire/engine/enginedb/enginedbtest"
)

func TestLeases(t *testing.T) {
	enginedbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *enginedb.DB) {
		leasedb := db.Leases()
		now := time.Now().UTC().Truncate(time.Millisecond)
		ttl := 30 * time.Second

		_, err := leasedb.Get(ctx, "ch-poll")
		require.True(t, leases.ErrNotFound.Has(err))

		held, err := leasedb.TryAcquire(ctx, "ch-poll", "srv-1", now, now.Add(ttl))
		require.NoError(t, err)
		require.True(t, held)

		lease, err := leasedb.Get(ctx, "ch-poll")
		require.NoError(t, err)
		require.Equal(t, "srv-1", lease.ServerID)
		require.True(t, lease.AcquiredAt.Equal(now))
		require.True(t, lease.ExpiresAt.Equal(now.Add(ttl)))

		// another server cannot take an unexpired lease
		held, err = leasedb.TryAcquire(ctx, "ch-poll", "srv-2", now.Add(time.Second), now.Add(time.Second+ttl))
		require.NoError(t, err)
		require.False(t, held)

		// the holder reacquiring is a no-op success
		held, err = leasedb.TryAcquire(ctx, "ch-poll", "srv-1", now.Add(time.Second), now.Add(time.Second+ttl))
		require.NoError(t, err)
		require.True(t, held)

		// renewal pushes out the expiry
		renewed := now.Add(10 * time.Second)
		held, err = leasedb.Renew(ctx, "ch-poll", "srv-1", renewed, renewed.Add(ttl))
		require.NoError(t, err)
		require.True(t, held)

		lease, err = leasedb.Get(ctx, "ch-poll")
		require.NoError(t, err)
		require.True(t, lease.RenewedAt.Equal(renewed))
		require.True(t, lease.ExpiresAt.Equal(renewed.Add(ttl)))

		// a non-holder cannot renew
		held, err = leasedb.Renew(ctx, "ch-poll", "srv-2", renewed, renewed.Add(ttl))
		require.NoError(t, err)
		require.False(t, held)

		// after expiry another server may steal the lease
		expired := lease.ExpiresAt.Add(time.Second)
		held, err = leasedb.TryAcquire(ctx, "ch-poll", "srv-2", expired, expired.Add(ttl))
		require.NoError(t, err)
		require.True(t, held)

		lease, err = leasedb.Get(ctx, "ch-poll")
		require.NoError(t, err)
		require.Equal(t, "srv-2", lease.ServerID)

		// the old holder lost it and cannot renew
		held, err = leasedb.Renew(ctx, "ch-poll", "srv-1", expired, expired.Add(ttl))
		require.NoError(t, err)
		require.False(t, held)

		// releasing by a non-holder leaves the lease in place
		require.NoError(t, leasedb.Release(ctx, "ch-poll", "srv-1"))
		_, err = leasedb.Get(ctx, "ch-poll")
		require.NoError(t, err)

		require.NoError(t, leasedb.Release(ctx, "ch-poll", "srv-2"))
		_, err = leasedb.Get(ctx, "ch-poll")
		require.True(t, leases.ErrNotFound.Has(err))
	})
}
