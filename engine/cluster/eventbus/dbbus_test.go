// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package eventbus_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"

	"carewire.io/carewire/engine/cluster/eventbus"
	"carewire.io/carewire/engine/cluster/eventbus/testsuite"
)

// fakeEventsDB is an in-memory cluster events log shared by the buses
// under test.
type fakeEventsDB struct {
	mu     sync.Mutex
	nextID int64
	events []eventbus.Event
}

func (db *fakeEventsDB) Insert(ctx context.Context, event eventbus.Event) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.nextID++
	event.ID = db.nextID
	db.events = append(db.events, event)
	return event.ID, nil
}

func (db *fakeEventsDB) ListSince(ctx context.Context, sinceID int64, excludeServerID string) ([]eventbus.Event, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []eventbus.Event
	for _, event := range db.events {
		if event.ID > sinceID && event.ServerID != excludeServerID {
			out = append(out, event)
		}
	}
	return out, nil
}

func (db *fakeEventsDB) LatestID(ctx context.Context) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.nextID, nil
}

func (db *fakeEventsDB) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var kept []eventbus.Event
	var deleted int64
	for _, event := range db.events {
		if event.CreatedAt.Before(before) {
			deleted++
			continue
		}
		kept = append(kept, event)
	}
	db.events = kept
	return deleted, nil
}

func TestDBBus(t *testing.T) {
	db := &fakeEventsDB{}

	testsuite.RunTests(t, func(t *testing.T, serverID string) eventbus.Bus {
		ctx := testcontext.New(t)

		bus, err := eventbus.OpenDBBus(ctx, zaptest.NewLogger(t), db, serverID, eventbus.DBBusConfig{
			PollInterval: 10 * time.Millisecond,
			Retention:    time.Hour,
		})
		require.NoError(t, err)

		ctx.Go(func() error { return bus.Run(ctx) })
		t.Cleanup(func() {
			_ = bus.Close()
			ctx.Cleanup()
		})
		return bus
	})
}

func TestDBBusSkipsBacklog(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db := &fakeEventsDB{}
	log := zaptest.NewLogger(t)

	early, err := eventbus.OpenDBBus(ctx, log, db, "srv-early", eventbus.DBBusConfig{
		PollInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	defer func() { _ = early.Close() }()
	require.NoError(t, early.Publish(ctx, eventbus.Event{Channel: "before"}))

	late, err := eventbus.OpenDBBus(ctx, log, db, "srv-late", eventbus.DBBusConfig{
		PollInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	ctx.Go(func() error { return late.Run(ctx) })
	defer func() { _ = late.Close() }()

	sub := late.Subscribe("watcher")
	defer sub.Close()

	require.NoError(t, early.Publish(ctx, eventbus.Event{Channel: "after"}))

	// only the event published after the late bus joined arrives
	select {
	case event := <-sub.Events():
		require.Equal(t, "after", event.Channel)
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}
