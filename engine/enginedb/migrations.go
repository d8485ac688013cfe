// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package enginedb

import (
	"context"

	"carewire.io/carewire/private/dbutil"
	"carewire.io/carewire/private/migrate"
)

// MigrateToLatest initializes or upgrades the schema.
func (db *DB) MigrateToLatest(ctx context.Context) error {
	migration := db.Migration()
	return Error.Wrap(migration.Run(ctx, db.log.Named("migrate")))
}

// CheckVersion checks that the schema version matches this build.
func (db *DB) CheckVersion(ctx context.Context) error {
	migration := db.Migration()
	return Error.Wrap(migration.ValidateVersions(ctx, db.log.Named("migrate")))
}

// blobType returns the binary column type of the implementation.
func (db *DB) blobType() string {
	if db.impl == dbutil.Postgres {
		return "BYTEA"
	}
	return "BLOB"
}

// serialPK returns the auto-incrementing primary key clause of the
// implementation.
func (db *DB) serialPK() string {
	if db.impl == dbutil.Postgres {
		return "BIGSERIAL PRIMARY KEY"
	}
	return "INTEGER PRIMARY KEY AUTOINCREMENT"
}

// Migration returns the schema migration steps.
func (db *DB) Migration() *migrate.Migration {
	return &migrate.Migration{
		Table: VersionTable,
		Steps: []*migrate.Step{
			{
				DB:          db.db,
				Description: "Initial setup",
				Version:     0,
				Action: migrate.SQL{
					`CREATE TABLE channels (
						id TEXT NOT NULL,
						name TEXT NOT NULL,
						revision BIGINT NOT NULL DEFAULT 1,
						body TEXT NOT NULL,
						enabled BOOLEAN NOT NULL DEFAULT FALSE,
						updated_at TIMESTAMP NOT NULL,
						PRIMARY KEY (id)
					)`,
					`CREATE TABLE channel_id_map (
						channel_id TEXT NOT NULL,
						local_id INTEGER NOT NULL,
						PRIMARY KEY (channel_id),
						UNIQUE (local_id)
					)`,
					`CREATE TABLE configuration (
						category TEXT NOT NULL,
						name TEXT NOT NULL,
						value TEXT NOT NULL,
						updated_at TIMESTAMP NOT NULL,
						PRIMARY KEY (category, name)
					)`,
					`CREATE TABLE events (
						id ` + db.serialPK() + `,
						created_at TIMESTAMP NOT NULL,
						name TEXT NOT NULL,
						level TEXT NOT NULL,
						outcome TEXT NOT NULL,
						attributes TEXT NOT NULL DEFAULT '',
						user_id TEXT NOT NULL DEFAULT '',
						ip TEXT NOT NULL DEFAULT '',
						server_id TEXT NOT NULL DEFAULT ''
					)`,
					`CREATE INDEX events_created_at_index ON events (created_at)`,
				},
			},
			{
				DB:          db.db,
				Description: "Cluster coordination tables",
				Version:     1,
				Action: migrate.SQL{
					`CREATE TABLE servers (
						server_id TEXT NOT NULL,
						hostname TEXT NOT NULL DEFAULT '',
						port INTEGER NOT NULL DEFAULT 0,
						api_url TEXT NOT NULL DEFAULT '',
						started_at TIMESTAMP NOT NULL,
						last_heartbeat TIMESTAMP NOT NULL,
						status TEXT NOT NULL,
						PRIMARY KEY (server_id)
					)`,
					`CREATE TABLE channel_deployments (
						server_id TEXT NOT NULL,
						channel_id TEXT NOT NULL,
						deployed_at TIMESTAMP NOT NULL,
						revision BIGINT NOT NULL DEFAULT 0,
						PRIMARY KEY (server_id, channel_id)
					)`,
					`CREATE TABLE cluster_events (
						id ` + db.serialPK() + `,
						channel TEXT NOT NULL,
						data ` + db.blobType() + `,
						created_at TIMESTAMP NOT NULL,
						server_id TEXT NOT NULL
					)`,
					`CREATE INDEX cluster_events_created_at_index ON cluster_events (created_at)`,
					`CREATE TABLE polling_leases (
						channel_id TEXT NOT NULL,
						server_id TEXT NOT NULL,
						acquired_at TIMESTAMP NOT NULL,
						renewed_at TIMESTAMP NOT NULL,
						expires_at TIMESTAMP NOT NULL,
						PRIMARY KEY (channel_id)
					)`,
				},
			},
			{
				DB:          db.db,
				Description: "Shared variable map table",
				Version:     2,
				Action: migrate.SQL{
					`CREATE TABLE global_map (
						scope TEXT NOT NULL,
						map_key TEXT NOT NULL,
						map_value ` + db.blobType() + ` NOT NULL,
						version BIGINT NOT NULL DEFAULT 0,
						updated_at TIMESTAMP NOT NULL,
						PRIMARY KEY (scope, map_key)
					)`,
				},
			},
			{
				DB:          db.db,
				Description: "User and auxiliary object tables",
				Version:     3,
				Action: migrate.SQL{
					`CREATE TABLE persons (
						id ` + db.serialPK() + `,
						username TEXT NOT NULL,
						first_name TEXT NOT NULL DEFAULT '',
						last_name TEXT NOT NULL DEFAULT '',
						email TEXT NOT NULL DEFAULT '',
						created_at TIMESTAMP NOT NULL,
						last_login TIMESTAMP,
						UNIQUE (username)
					)`,
					`CREATE TABLE person_passwords (
						person_id BIGINT NOT NULL,
						password_hash ` + db.blobType() + ` NOT NULL,
						updated_at TIMESTAMP NOT NULL,
						PRIMARY KEY (person_id)
					)`,
					`CREATE TABLE person_preferences (
						person_id BIGINT NOT NULL,
						name TEXT NOT NULL,
						value TEXT NOT NULL,
						PRIMARY KEY (person_id, name)
					)`,
					`CREATE TABLE alerts (
						id TEXT NOT NULL,
						name TEXT NOT NULL,
						body TEXT NOT NULL,
						enabled BOOLEAN NOT NULL DEFAULT FALSE,
						PRIMARY KEY (id)
					)`,
					`CREATE TABLE code_templates (
						id TEXT NOT NULL,
						name TEXT NOT NULL,
						revision BIGINT NOT NULL DEFAULT 1,
						body TEXT NOT NULL,
						PRIMARY KEY (id)
					)`,
					`CREATE TABLE code_template_libraries (
						id TEXT NOT NULL,
						name TEXT NOT NULL,
						revision BIGINT NOT NULL DEFAULT 1,
						body TEXT NOT NULL,
						PRIMARY KEY (id)
					)`,
					`CREATE TABLE channel_groups (
						id TEXT NOT NULL,
						name TEXT NOT NULL,
						revision BIGINT NOT NULL DEFAULT 1,
						body TEXT NOT NULL,
						PRIMARY KEY (id)
					)`,
					`CREATE TABLE scripts (
						group_id TEXT NOT NULL,
						script_id TEXT NOT NULL,
						script TEXT NOT NULL,
						PRIMARY KEY (group_id, script_id)
					)`,
				},
			},
			{
				DB:          db.db,
				Description: "Artifact sync audit table",
				Version:     4,
				Action: migrate.SQL{
					`CREATE TABLE artifact_sync (
						id ` + db.serialPK() + `,
						artifact_type TEXT NOT NULL,
						artifact_id TEXT NOT NULL,
						revision BIGINT NOT NULL DEFAULT 0,
						commit_hash TEXT NOT NULL DEFAULT '',
						sync_direction TEXT NOT NULL,
						synced_at TIMESTAMP NOT NULL,
						synced_by TEXT NOT NULL DEFAULT '',
						environment TEXT NOT NULL DEFAULT ''
					)`,
					`CREATE INDEX artifact_sync_artifact_index ON artifact_sync (artifact_id, id)`,
				},
			},
		},
	}
}
