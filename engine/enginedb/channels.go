// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package enginedb

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/zeebo/errs"

	"carewire.io/carewire/engine/channel"
	"carewire.io/carewire/private/tagsql"
)

// channelsDB implements channel.DB.
type channelsDB struct {
	db tagsql.DB
}

// Put upserts a channel.
func (db *channelsDB) Put(ctx context.Context, ch *channel.Channel) (err error) {
	defer mon.Task()(&ctx)(&err)

	body, err := ch.Encode()
	if err != nil {
		return Error.Wrap(err)
	}

	_, err = db.db.ExecContext(ctx, `
		INSERT INTO channels (id, name, revision, body, enabled, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			revision = EXCLUDED.revision,
			body = EXCLUDED.body,
			enabled = EXCLUDED.enabled,
			updated_at = EXCLUDED.updated_at`,
		ch.ID, ch.Name, ch.Revision, string(body), ch.Enabled, time.Now().UTC())
	return Error.Wrap(err)
}

// Get returns a channel by id.
func (db *channelsDB) Get(ctx context.Context, id string) (_ *channel.Channel, err error) {
	defer mon.Task()(&ctx)(&err)

	var body string
	err = db.db.QueryRowContext(ctx, `
		SELECT body FROM channels WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, channel.ErrNotFound.New("%s", id)
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return channel.Decode([]byte(body))
}

// List returns all channels ordered by id.
func (db *channelsDB) List(ctx context.Context) (_ []*channel.Channel, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := db.db.QueryContext(ctx, `
		SELECT body FROM channels ORDER BY id`)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(rows.Close())) }()

	var channels []*channel.Channel
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, Error.Wrap(err)
		}
		ch, err := channel.Decode([]byte(body))
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, Error.Wrap(rows.Err())
}

// Delete removes a channel by id. Deleting a missing channel is a no-op.
func (db *channelsDB) Delete(ctx context.Context, id string) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = db.db.ExecContext(ctx, `
		DELETE FROM channels WHERE id = ?`, id)
	return Error.Wrap(err)
}
