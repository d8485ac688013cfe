// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package leases_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"

	"carewire.io/carewire/engine/cluster/leases"
)

// fakeLeaseDB mirrors the conditional single-statement semantics of the
// real lease table.
type fakeLeaseDB struct {
	mu     sync.Mutex
	leases map[string]leases.Lease
}

func newFakeLeaseDB() *fakeLeaseDB {
	return &fakeLeaseDB{leases: make(map[string]leases.Lease)}
}

func (db *fakeLeaseDB) TryAcquire(ctx context.Context, channelID, serverID string, now, expiresAt time.Time) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	existing, ok := db.leases[channelID]
	if ok && existing.ServerID != serverID && !existing.Expired(now) {
		return false, nil
	}
	db.leases[channelID] = leases.Lease{
		ChannelID:  channelID,
		ServerID:   serverID,
		AcquiredAt: now,
		RenewedAt:  now,
		ExpiresAt:  expiresAt,
	}
	return true, nil
}

func (db *fakeLeaseDB) Renew(ctx context.Context, channelID, serverID string, now, expiresAt time.Time) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	existing, ok := db.leases[channelID]
	if !ok || existing.ServerID != serverID {
		return false, nil
	}
	existing.RenewedAt = now
	existing.ExpiresAt = expiresAt
	db.leases[channelID] = existing
	return true, nil
}

func (db *fakeLeaseDB) Release(ctx context.Context, channelID, serverID string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if existing, ok := db.leases[channelID]; ok && existing.ServerID == serverID {
		delete(db.leases, channelID)
	}
	return nil
}

func (db *fakeLeaseDB) Get(ctx context.Context, channelID string) (leases.Lease, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	existing, ok := db.leases[channelID]
	if !ok {
		return leases.Lease{}, leases.ErrNotFound.New("channel %s", channelID)
	}
	return existing, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (clock *fakeClock) Now() time.Time {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	return clock.now
}

func (clock *fakeClock) Advance(d time.Duration) {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	clock.now = clock.now.Add(d)
}

func newManager(t *testing.T, ctx *testcontext.Context, db leases.DB, serverID string, clock *fakeClock) *leases.Manager {
	manager := leases.NewManager(zaptest.NewLogger(t).Named(serverID), db, serverID, leases.Config{
		TTL: time.Minute,
	})
	manager.TestingSetNow(clock.Now)
	ctx.Go(func() error { return manager.Run(ctx) })
	t.Cleanup(func() { _ = manager.Close() })
	return manager
}

func TestSingleHolder(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db := newFakeLeaseDB()
	clock := &fakeClock{now: time.Now().UTC()}

	first := newManager(t, ctx, db, "srv-a", clock)
	second := newManager(t, ctx, db, "srv-b", clock)

	first.Manage(ctx, "chan-1")
	require.True(t, first.Held("chan-1"))

	// the lease is valid, so the second server cannot take it
	second.Manage(ctx, "chan-1")
	require.False(t, second.Held("chan-1"))

	lease, err := db.Get(ctx, "chan-1")
	require.NoError(t, err)
	require.Equal(t, "srv-a", lease.ServerID)

	// managing again while holding stays held
	first.Manage(ctx, "chan-1")
	require.True(t, first.Held("chan-1"))
}

func TestStealAfterExpiry(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db := newFakeLeaseDB()
	clock := &fakeClock{now: time.Now().UTC()}

	first := newManager(t, ctx, db, "srv-a", clock)
	second := newManager(t, ctx, db, "srv-b", clock)

	first.Manage(ctx, "chan-1")
	second.Manage(ctx, "chan-1")
	require.True(t, first.Held("chan-1"))
	require.False(t, second.Held("chan-1"))

	// srv-a crashes: it stops renewing and the lease lapses
	clock.Advance(61 * time.Second)
	second.Loop.TriggerWait()
	require.True(t, second.Held("chan-1"))

	lease, err := db.Get(ctx, "chan-1")
	require.NoError(t, err)
	require.Equal(t, "srv-b", lease.ServerID)

	// srv-a comes back and learns it lost the lease
	first.Loop.TriggerWait()
	require.False(t, first.Held("chan-1"))
}

func TestRenewalPreventsSteal(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db := newFakeLeaseDB()
	clock := &fakeClock{now: time.Now().UTC()}

	first := newManager(t, ctx, db, "srv-a", clock)
	second := newManager(t, ctx, db, "srv-b", clock)

	first.Manage(ctx, "chan-1")
	second.Manage(ctx, "chan-1")

	// renewal at 40s extends the lease to 100s
	clock.Advance(40 * time.Second)
	first.Loop.TriggerWait()

	clock.Advance(30 * time.Second)
	second.Loop.TriggerWait()
	require.True(t, first.Held("chan-1"))
	require.False(t, second.Held("chan-1"))
}

func TestUnmanageReleases(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db := newFakeLeaseDB()
	clock := &fakeClock{now: time.Now().UTC()}

	first := newManager(t, ctx, db, "srv-a", clock)
	second := newManager(t, ctx, db, "srv-b", clock)

	first.Manage(ctx, "chan-1")
	require.True(t, first.Held("chan-1"))

	first.Unmanage(ctx, "chan-1")
	require.False(t, first.Held("chan-1"))
	_, err := db.Get(ctx, "chan-1")
	require.True(t, leases.ErrNotFound.Has(err))

	// the freed lease is immediately acquirable
	second.Manage(ctx, "chan-1")
	require.True(t, second.Held("chan-1"))
}
