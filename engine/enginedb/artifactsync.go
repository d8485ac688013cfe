// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package enginedb

import (
	"context"
	"time"

	"github.com/zeebo/errs"

	"carewire.io/carewire/engine/artifact"
	"carewire.io/carewire/private/tagsql"
)

// artifactSyncDB implements artifact.SyncDB.
type artifactSyncDB struct {
	db tagsql.DB
}

// Insert appends a sync record and returns its id.
func (db *artifactSyncDB) Insert(ctx context.Context, rec artifact.Record) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)

	syncedAt := rec.SyncedAt
	if syncedAt.IsZero() {
		syncedAt = time.Now()
	}

	var id int64
	err = db.db.QueryRowContext(ctx, `
		INSERT INTO artifact_sync (artifact_type, artifact_id, revision, commit_hash, sync_direction, synced_at, synced_by, environment)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		rec.ArtifactType, rec.ArtifactID, rec.Revision, rec.CommitHash,
		string(rec.Direction), syncedAt.UTC(), rec.SyncedBy, rec.Environment).Scan(&id)
	if err != nil {
		return 0, Error.Wrap(err)
	}
	return id, nil
}

// List returns records for an artifact, newest first.
func (db *artifactSyncDB) List(ctx context.Context, artifactID string, limit int) (_ []artifact.Record, err error) {
	defer mon.Task()(&ctx)(&err)

	if limit <= 0 {
		limit = 100
	}

	rows, err := db.db.QueryContext(ctx, `
		SELECT id, artifact_type, artifact_id, revision, commit_hash, sync_direction, synced_at, synced_by, environment
		FROM artifact_sync
		WHERE artifact_id = ?
		ORDER BY id DESC
		LIMIT ?`, artifactID, limit)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(rows.Close())) }()

	var list []artifact.Record
	for rows.Next() {
		var rec artifact.Record
		var direction string
		err := rows.Scan(&rec.ID, &rec.ArtifactType, &rec.ArtifactID, &rec.Revision,
			&rec.CommitHash, &direction, &rec.SyncedAt, &rec.SyncedBy, &rec.Environment)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		rec.Direction = artifact.Direction(direction)
		list = append(list, rec)
	}
	return list, Error.Wrap(rows.Err())
}
