// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package enginedb

import (
	"context"
	"encoding/json"
	"time"

	"github.com/zeebo/errs"

	"carewire.io/carewire/engine/events"
	"carewire.io/carewire/private/tagsql"
)

// eventsDB implements events.DB.
type eventsDB struct {
	db tagsql.DB
}

// Insert appends an audit event.
func (db *eventsDB) Insert(ctx context.Context, event events.Event) (err error) {
	defer mon.Task()(&ctx)(&err)

	attributes := ""
	if len(event.Attributes) > 0 {
		encoded, err := json.Marshal(event.Attributes)
		if err != nil {
			return Error.Wrap(err)
		}
		attributes = string(encoded)
	}

	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = db.db.ExecContext(ctx, `
		INSERT INTO events (created_at, name, level, outcome, attributes, user_id, ip, server_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		createdAt.UTC(), event.Name, string(event.Level), string(event.Outcome),
		attributes, event.UserID, event.IP, event.ServerID)
	return Error.Wrap(err)
}

// List returns the newest events up to limit.
func (db *eventsDB) List(ctx context.Context, limit int) (_ []events.Event, err error) {
	defer mon.Task()(&ctx)(&err)

	if limit <= 0 {
		limit = 100
	}

	rows, err := db.db.QueryContext(ctx, `
		SELECT id, created_at, name, level, outcome, attributes, user_id, ip, server_id
		FROM events
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(rows.Close())) }()

	var list []events.Event
	for rows.Next() {
		var event events.Event
		var level, outcome, attributes string
		err := rows.Scan(&event.ID, &event.CreatedAt, &event.Name, &level, &outcome,
			&attributes, &event.UserID, &event.IP, &event.ServerID)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		event.Level = events.Level(level)
		event.Outcome = events.Outcome(outcome)
		if attributes != "" {
			if err := json.Unmarshal([]byte(attributes), &event.Attributes); err != nil {
				return nil, Error.Wrap(err)
			}
		}
		list = append(list, event)
	}
	return list, Error.Wrap(rows.Err())
}

// DeleteBefore removes events created before the cutoff.
func (db *eventsDB) DeleteBefore(ctx context.Context, before time.Time) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)

	res, err := db.db.ExecContext(ctx, `
		DELETE FROM events WHERE created_at < ?`, before.UTC())
	if err != nil {
		return 0, Error.Wrap(err)
	}
	deleted, err := res.RowsAffected()
	return deleted, Error.Wrap(err)
}
