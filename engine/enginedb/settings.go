// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package enginedb

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/zeebo/errs"

	"carewire.io/carewire/engine"
	"carewire.io/carewire/private/tagsql"
)

// settingsDB implements engine.SettingsDB over the configuration table.
type settingsDB struct {
	db tagsql.DB
}

// Set upserts a setting.
func (db *settingsDB) Set(ctx context.Context, category, name, value string) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = db.db.ExecContext(ctx, `
		INSERT INTO configuration (category, name, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (category, name) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at`,
		category, name, value, time.Now().UTC())
	return Error.Wrap(err)
}

// Get returns a setting value.
func (db *settingsDB) Get(ctx context.Context, category, name string) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)

	var value string
	err = db.db.QueryRowContext(ctx, `
		SELECT value FROM configuration WHERE category = ? AND name = ?`,
		category, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", engine.ErrNoSetting.New("%s/%s", category, name)
	}
	if err != nil {
		return "", Error.Wrap(err)
	}
	return value, nil
}

// All returns every name/value pair in a category.
func (db *settingsDB) All(ctx context.Context, category string) (_ map[string]string, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := db.db.QueryContext(ctx, `
		SELECT name, value FROM configuration WHERE category = ? ORDER BY name`,
		category)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(rows.Close())) }()

	settings := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, Error.Wrap(err)
		}
		settings[name] = value
	}
	return settings, Error.Wrap(rows.Err())
}

// Delete removes a setting. Deleting a missing setting is a no-op.
func (db *settingsDB) Delete(ctx context.Context, category, name string) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = db.db.ExecContext(ctx, `
		DELETE FROM configuration WHERE category = ? AND name = ?`,
		category, name)
	return Error.Wrap(err)
}
