// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

// Package enginedb implements the engine master database.
//
// architecture: Master Database
package enginedb

import (
	"context"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the pgx driver
	_ "github.com/mattn/go-sqlite3"    // registers the sqlite3 driver
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"carewire.io/carewire/engine"
	"carewire.io/carewire/engine/artifact"
	"carewire.io/carewire/engine/channel"
	"carewire.io/carewire/engine/cluster"
	"carewire.io/carewire/engine/cluster/eventbus"
	"carewire.io/carewire/engine/cluster/leases"
	"carewire.io/carewire/engine/encryption"
	"carewire.io/carewire/engine/events"
	"carewire.io/carewire/engine/messagestore"
	"carewire.io/carewire/private/dbutil"
	"carewire.io/carewire/private/kvstore"
	"carewire.io/carewire/private/kvstore/dbstore"
	"carewire.io/carewire/private/tagsql"
)

var (
	mon = monkit.Package()

	// Error is the enginedb error class.
	Error = errs.Class("enginedb")
)

// VersionTable is the table that stores the schema version.
const VersionTable = "versions"

// DB holds access to the engine metadata tables.
type DB struct {
	log  *zap.Logger
	db   tagsql.DB
	impl dbutil.Implementation

	channels      *channelsDB
	events        *eventsDB
	servers       *serversDB
	deployments   *deploymentsDB
	clusterEvents *clusterEventsDB
	leases        *leasesDB
	settings      *settingsDB
	artifactSync  *artifactSyncDB
	globalMap     *dbstore.Store
}

var _ engine.DB = (*DB)(nil)

// Open connects to the engine database at the given url. Queries are written
// with `?` placeholders; the handle rebinds them for the implementation in
// use.
func Open(ctx context.Context, log *zap.Logger, databaseURL string) (*DB, error) {
	driver, source, impl, err := dbutil.SplitConnStr(databaseURL)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	raw, err := tagsql.Open(ctx, driver, source)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	dbutil.Configure(ctx, raw, "enginedb", mon)
	if impl == dbutil.SQLite {
		// sqlite serializes writers; a single connection avoids lock
		// contention between pooled connections.
		raw.SetMaxOpenConns(1)
	}

	handle := dbutil.WithRebind(impl, raw)

	db := &DB{
		log:  log,
		db:   handle,
		impl: impl,
	}
	db.channels = &channelsDB{db: handle}
	db.events = &eventsDB{db: handle}
	db.servers = &serversDB{db: handle}
	db.deployments = &deploymentsDB{db: handle}
	db.clusterEvents = &clusterEventsDB{db: handle}
	db.leases = &leasesDB{db: handle}
	db.settings = &settingsDB{db: handle}
	db.artifactSync = &artifactSyncDB{db: handle}
	db.globalMap = dbstore.New(handle, "global_map")
	return db, nil
}

// Close closes the database.
func (db *DB) Close() error {
	return Error.Wrap(db.db.Close())
}

// Implementation returns which database implementation backs the handle.
func (db *DB) Implementation() dbutil.Implementation {
	return db.impl
}

// Channels returns the channel configuration store.
func (db *DB) Channels() channel.DB { return db.channels }

// Events returns the audit event store.
func (db *DB) Events() events.DB { return db.events }

// Servers returns the cluster server registry.
func (db *DB) Servers() cluster.ServersDB { return db.servers }

// Deployments returns the channel deployment registry.
func (db *DB) Deployments() cluster.DeploymentsDB { return db.deployments }

// ClusterEvents returns the database event bus backend.
func (db *DB) ClusterEvents() eventbus.ClusterEventsDB { return db.clusterEvents }

// Leases returns the polling lease store.
func (db *DB) Leases() leases.DB { return db.leases }

// Settings returns the engine settings store.
func (db *DB) Settings() engine.SettingsDB { return db.settings }

// GlobalMap returns the shared variable map backend.
func (db *DB) GlobalMap() kvstore.Store { return db.globalMap }

// ArtifactSync returns the artifact sync audit store.
func (db *DB) ArtifactSync() artifact.SyncDB { return db.artifactSync }

// Messages returns the message store bound to the given encryptor.
func (db *DB) Messages(enc encryption.Encryptor) *messagestore.Store {
	return messagestore.New(db.log.Named("messagestore"), db.db, db.impl, enc)
}
