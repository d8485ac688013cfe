// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package engine

import (
	"context"

	"github.com/zeebo/errs"

	"carewire.io/carewire/engine/artifact"
	"carewire.io/carewire/engine/channel"
	"carewire.io/carewire/engine/cluster"
	"carewire.io/carewire/engine/cluster/eventbus"
	"carewire.io/carewire/engine/cluster/leases"
	"carewire.io/carewire/engine/encryption"
	"carewire.io/carewire/engine/events"
	"carewire.io/carewire/engine/messagestore"
	"carewire.io/carewire/private/kvstore"
)

// ErrNoSetting is returned when a requested setting does not exist.
var ErrNoSetting = errs.Class("no setting")

// DB is the master database the engine runs on.
//
// architecture: Master Database
type DB interface {
	// MigrateToLatest initializes or upgrades the schema.
	MigrateToLatest(ctx context.Context) error
	// Close closes the database.
	Close() error

	// Channels returns the channel configuration store.
	Channels() channel.DB
	// Events returns the audit event store.
	Events() events.DB
	// Servers returns the cluster server registry.
	Servers() cluster.ServersDB
	// Deployments returns the channel deployment registry.
	Deployments() cluster.DeploymentsDB
	// ClusterEvents returns the database event bus backend.
	ClusterEvents() eventbus.ClusterEventsDB
	// Leases returns the polling lease store.
	Leases() leases.DB
	// Settings returns the engine settings store.
	Settings() SettingsDB
	// GlobalMap returns the shared variable map backend.
	GlobalMap() kvstore.Store
	// ArtifactSync returns the artifact sync audit store.
	ArtifactSync() artifact.SyncDB
	// Messages returns the message store bound to the given encryptor.
	Messages(enc encryption.Encryptor) *messagestore.Store
}

// SettingsDB stores engine settings as category/name/value rows.
//
// architecture: Database
type SettingsDB interface {
	// Set upserts a setting.
	Set(ctx context.Context, category, name, value string) error
	// Get returns a setting value. Missing settings return ErrNoSetting.
	Get(ctx context.Context, category, name string) (string, error)
	// All returns every name/value pair in a category.
	All(ctx context.Context, category string) (map[string]string, error)
	// Delete removes a setting.
	Delete(ctx context.Context, category, name string) error
}
