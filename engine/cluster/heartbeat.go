// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package cluster

import (
	"context"
	"time"

	"go.uber.org/zap"

	"storj.io/common/sync2"

	"carewire.io/carewire/engine/cluster/eventbus"
)

// HeartbeatConfig configures server liveness tracking.
type HeartbeatConfig struct {
	Enabled    bool          `help:"whether the server registers itself and renews its heartbeat" default:"true"`
	Interval   time.Duration `help:"the time between heartbeat renewals" default:"30s"`
	StaleAfter time.Duration `help:"how long without a heartbeat before a server is marked offline" default:"2m"`
}

// Heartbeat registers this server and keeps its liveness current. Every
// cycle renews our heartbeat and demotes servers that stopped renewing,
// announcing both transitions on the bus.
//
// architecture: Chore
type Heartbeat struct {
	log    *zap.Logger
	db     ServersDB
	bus    eventbus.Bus
	server Server
	config HeartbeatConfig

	nowFn func() time.Time
	Loop  *sync2.Cycle
}

// NewHeartbeat creates the heartbeat chore for this server.
func NewHeartbeat(log *zap.Logger, db ServersDB, bus eventbus.Bus, server Server, config HeartbeatConfig) *Heartbeat {
	return &Heartbeat{
		log:    log,
		db:     db,
		bus:    bus,
		server: server,
		config: config,

		nowFn: time.Now,
		Loop:  sync2.NewCycle(config.Interval),
	}
}

// Run registers the server and starts the renewal loop.
func (chore *Heartbeat) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	if !chore.config.Enabled {
		return nil
	}

	chore.server.StartedAt = chore.nowFn().UTC()
	chore.server.LastHeartbeat = chore.server.StartedAt
	chore.server.Status = StatusOnline
	if err := chore.db.Register(ctx, chore.server); err != nil {
		return Error.Wrap(err)
	}
	if err := chore.bus.Publish(ctx, eventbus.Event{
		Channel: EventServerOnline,
		Data:    []byte(chore.server.ServerID),
	}); err != nil {
		chore.log.Warn("server online event not published", zap.Error(err))
	}

	return chore.Loop.Run(ctx, chore.beat)
}

func (chore *Heartbeat) beat(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	now := chore.nowFn().UTC()
	if err := chore.db.Heartbeat(ctx, chore.server.ServerID, now); err != nil {
		chore.log.Warn("heartbeat renewal failed", zap.Error(err))
		return nil
	}

	stale, err := chore.db.MarkStale(ctx, now.Add(-chore.config.StaleAfter))
	if err != nil {
		chore.log.Warn("stale server scan failed", zap.Error(err))
		return nil
	}
	for _, serverID := range stale {
		chore.log.Info("server marked offline", zap.String("serverID", serverID))
		if err := chore.bus.Publish(ctx, eventbus.Event{
			Channel: EventServerOffline,
			Data:    []byte(serverID),
		}); err != nil {
			chore.log.Warn("server offline event not published", zap.Error(err))
		}
	}
	return nil
}

// Close stops the heartbeat loop.
func (chore *Heartbeat) Close() error {
	chore.Loop.Close()
	return nil
}

// TestingSetNow lets tests control the chore's clock.
func (chore *Heartbeat) TestingSetNow(nowFn func() time.Time) {
	chore.nowFn = nowFn
}
