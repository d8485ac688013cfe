// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package leases

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"storj.io/common/sync2"
)

// Config configures the lease manager.
type Config struct {
	TTL time.Duration `help:"how long a polling lease lasts without renewal" default:"60s"`
}

// Manager keeps this server's polling leases alive. Managed channels are
// acquired when free or expired and renewed at half the TTL; a server
// that stops renewing loses its channels to the rest of the cluster
// within one and a half TTLs.
type Manager struct {
	log      *zap.Logger
	db       DB
	serverID string
	config   Config

	nowFn func() time.Time
	Loop  *sync2.Cycle

	mu      sync.Mutex
	managed map[string]bool
}

// NewManager constructs a lease manager for this server.
func NewManager(log *zap.Logger, db DB, serverID string, config Config) *Manager {
	if config.TTL <= 0 {
		config.TTL = time.Minute
	}
	return &Manager{
		log:      log,
		db:       db,
		serverID: serverID,
		config:   config,

		nowFn: time.Now,
		Loop:  sync2.NewCycle(config.TTL / 2),

		managed: make(map[string]bool),
	}
}

// Manage registers a channel for lease management and tries to acquire
// it right away. Acquisition failures are retried by the renewal cycle.
func (manager *Manager) Manage(ctx context.Context, channelID string) {
	var err error
	defer mon.Task()(&ctx)(&err)

	manager.mu.Lock()
	if _, ok := manager.managed[channelID]; !ok {
		manager.managed[channelID] = false
	}
	manager.mu.Unlock()

	held, err := manager.acquire(ctx, channelID)
	if err != nil {
		manager.log.Warn("lease acquisition failed",
			zap.String("channelID", channelID),
			zap.Error(err))
		return
	}
	manager.setHeld(channelID, held)
}

// Unmanage releases the channel's lease and stops managing it.
func (manager *Manager) Unmanage(ctx context.Context, channelID string) {
	var err error
	defer mon.Task()(&ctx)(&err)

	manager.mu.Lock()
	held := manager.managed[channelID]
	delete(manager.managed, channelID)
	manager.mu.Unlock()

	if !held {
		return
	}
	if err := manager.db.Release(ctx, channelID, manager.serverID); err != nil {
		manager.log.Warn("lease release failed",
			zap.String("channelID", channelID),
			zap.Error(err))
	}
}

// Held reports whether this server currently believes it holds the
// channel's lease. The belief is refreshed by the renewal cycle.
func (manager *Manager) Held(channelID string) bool {
	manager.mu.Lock()
	defer manager.mu.Unlock()
	return manager.managed[channelID]
}

// Run renews held leases and tries to take over expired ones until the
// context is canceled.
func (manager *Manager) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)
	return manager.Loop.Run(ctx, manager.renewAll)
}

// Close stops the renewal loop.
func (manager *Manager) Close() error {
	manager.Loop.Close()
	return nil
}

// TestingSetNow lets tests control the manager's clock.
func (manager *Manager) TestingSetNow(nowFn func() time.Time) {
	manager.nowFn = nowFn
}

func (manager *Manager) renewAll(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	manager.mu.Lock()
	snapshot := make(map[string]bool, len(manager.managed))
	for channelID, held := range manager.managed {
		snapshot[channelID] = held
	}
	manager.mu.Unlock()

	for channelID, held := range snapshot {
		if held {
			stillHeld, err := manager.renew(ctx, channelID)
			if err != nil {
				manager.log.Warn("lease renewal failed",
					zap.String("channelID", channelID),
					zap.Error(err))
				continue
			}
			if !stillHeld {
				manager.log.Info("lease lost",
					zap.String("channelID", channelID))
				manager.setHeld(channelID, false)
			}
			continue
		}

		acquired, err := manager.acquire(ctx, channelID)
		if err != nil {
			manager.log.Warn("lease acquisition failed",
				zap.String("channelID", channelID),
				zap.Error(err))
			continue
		}
		if acquired {
			manager.log.Info("lease acquired",
				zap.String("channelID", channelID))
			manager.setHeld(channelID, true)
		}
	}
	return nil
}

func (manager *Manager) acquire(ctx context.Context, channelID string) (bool, error) {
	now := manager.nowFn().UTC()
	return manager.db.TryAcquire(ctx, channelID, manager.serverID, now, now.Add(manager.config.TTL))
}

func (manager *Manager) renew(ctx context.Context, channelID string) (bool, error) {
	now := manager.nowFn().UTC()
	return manager.db.Renew(ctx, channelID, manager.serverID, now, now.Add(manager.config.TTL))
}

// setHeld records the local belief for a channel still being managed.
func (manager *Manager) setHeld(channelID string, held bool) {
	manager.mu.Lock()
	defer manager.mu.Unlock()
	if _, ok := manager.managed[channelID]; ok {
		manager.managed[channelID] = held
	}
}
