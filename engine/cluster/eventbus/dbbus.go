// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package eventbus

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storj.io/common/sync2"
)

// ClusterEventsDB is the append-only broadcast log shared by all nodes.
//
// architecture: Database
type ClusterEventsDB interface {
	// Insert appends an event and returns its id.
	Insert(ctx context.Context, event Event) (int64, error)
	// ListSince returns events with id greater than sinceID not
	// originating from excludeServerID, in id order.
	ListSince(ctx context.Context, sinceID int64, excludeServerID string) ([]Event, error)
	// LatestID returns the highest event id, zero when empty.
	LatestID(ctx context.Context) (int64, error)
	// DeleteBefore removes events created before the cutoff.
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// DBBusConfig configures the database-polling bus.
type DBBusConfig struct {
	PollInterval time.Duration `help:"how often to poll the cluster events table" default:"2s"`
	Retention    time.Duration `help:"how long broadcast events are kept before cleanup" default:"24h"`
}

// DBBus broadcasts through the cluster events table. Publishing inserts
// a row and dispatches locally; a poll cycle picks up rows written by
// other servers.
type DBBus struct {
	log    *zap.Logger
	db     ClusterEventsDB
	local  *Local
	config DBBusConfig

	Loop        *sync2.Cycle
	CleanupLoop *sync2.Cycle

	mu       sync.Mutex
	lastSeen int64
}

// OpenDBBus constructs a database-polling bus. The poll cursor starts at
// the current end of the table, so only events published after this call
// are delivered.
func OpenDBBus(ctx context.Context, log *zap.Logger, db ClusterEventsDB, serverID string, config DBBusConfig) (*DBBus, error) {
	if config.PollInterval <= 0 {
		config.PollInterval = 2 * time.Second
	}
	if config.Retention <= 0 {
		config.Retention = 24 * time.Hour
	}

	latest, err := db.LatestID(ctx)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	return &DBBus{
		log:    log,
		db:     db,
		local:  NewLocal(serverID),
		config: config,

		Loop:        sync2.NewCycle(config.PollInterval),
		CleanupLoop: sync2.NewCycle(config.Retention / 4),

		lastSeen: latest,
	}, nil
}

// Publish implements Bus.
func (bus *DBBus) Publish(ctx context.Context, event Event) (err error) {
	defer mon.Task()(&ctx)(&err)

	bus.local.stamp(&event)
	id, err := bus.db.Insert(ctx, event)
	if err != nil {
		return Error.Wrap(err)
	}
	event.ID = id
	bus.local.dispatch(event)
	return nil
}

// Subscribe implements Bus.
func (bus *DBBus) Subscribe(name string) *Subscription {
	return bus.local.Subscribe(name)
}

// Run polls the cluster events table until the context is canceled.
func (bus *DBBus) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	group, ctx := errgroup.WithContext(ctx)
	bus.Loop.Start(ctx, group, bus.poll)
	bus.CleanupLoop.Start(ctx, group, bus.cleanup)
	return group.Wait()
}

func (bus *DBBus) poll(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	bus.mu.Lock()
	lastSeen := bus.lastSeen
	bus.mu.Unlock()

	events, err := bus.db.ListSince(ctx, lastSeen, bus.local.serverID)
	if err != nil {
		bus.log.Warn("cluster events poll failed", zap.Error(err))
		return nil
	}
	for _, event := range events {
		bus.local.dispatch(event)
		if event.ID > lastSeen {
			lastSeen = event.ID
		}
	}

	bus.mu.Lock()
	if lastSeen > bus.lastSeen {
		bus.lastSeen = lastSeen
	}
	bus.mu.Unlock()
	return nil
}

func (bus *DBBus) cleanup(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	deleted, err := bus.db.DeleteBefore(ctx, time.Now().UTC().Add(-bus.config.Retention))
	if err != nil {
		bus.log.Warn("cluster events cleanup failed", zap.Error(err))
		return nil
	}
	if deleted > 0 {
		bus.log.Debug("cluster events cleaned up", zap.Int64("deleted", deleted))
	}
	return nil
}

// Close implements Bus.
func (bus *DBBus) Close() error {
	bus.Loop.Close()
	bus.CleanupLoop.Close()
	return bus.local.Close()
}
