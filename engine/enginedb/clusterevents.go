// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package enginedb

import (
	"context"
	"time"

	"github.com/zeebo/errs"

	"carewire.io/carewire/engine/cluster/eventbus"
	"carewire.io/carewire/private/tagsql"
)

// clusterEventsDB implements eventbus.ClusterEventsDB.
type clusterEventsDB struct {
	db tagsql.DB
}

// Insert appends a cluster event and returns its id. Ids are assigned by the
// database and increase monotonically.
func (db *clusterEventsDB) Insert(ctx context.Context, event eventbus.Event) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)

	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	var id int64
	err = db.db.QueryRowContext(ctx, `
		INSERT INTO cluster_events (channel, data, created_at, server_id)
		VALUES (?, ?, ?, ?)
		RETURNING id`,
		event.Channel, event.Data, createdAt.UTC(), event.ServerID).Scan(&id)
	if err != nil {
		return 0, Error.Wrap(err)
	}
	return id, nil
}

// ListSince returns events with an id greater than sinceID, excluding rows
// produced by excludeServerID, in id order.
func (db *clusterEventsDB) ListSince(ctx context.Context, sinceID int64, excludeServerID string) (_ []eventbus.Event, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := db.db.QueryContext(ctx, `
		SELECT id, channel, data, created_at, server_id
		FROM cluster_events
		WHERE id > ? AND server_id != ?
		ORDER BY id`,
		sinceID, excludeServerID)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(rows.Close())) }()

	var list []eventbus.Event
	for rows.Next() {
		var event eventbus.Event
		err := rows.Scan(&event.ID, &event.Channel, &event.Data, &event.CreatedAt, &event.ServerID)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		list = append(list, event)
	}
	return list, Error.Wrap(rows.Err())
}

// LatestID returns the highest assigned event id, zero when empty.
func (db *clusterEventsDB) LatestID(ctx context.Context) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)

	var id int64
	err = db.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(id), 0) FROM cluster_events`).Scan(&id)
	if err != nil {
		return 0, Error.Wrap(err)
	}
	return id, nil
}

// DeleteBefore removes events created before the cutoff.
func (db *clusterEventsDB) DeleteBefore(ctx context.Context, before time.Time) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)

	res, err := db.db.ExecContext(ctx, `
		DELETE FROM cluster_events WHERE created_at < ?`, before.UTC())
	if err != nil {
		return 0, Error.Wrap(err)
	}
	deleted, err := res.RowsAffected()
	return deleted, Error.Wrap(err)
}
