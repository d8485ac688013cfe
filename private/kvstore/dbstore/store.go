// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

// Package dbstore implements kvstore.Store on a sql table.
//
// Versions are maintained inside single statements, so concurrent writers
// against the same database observe the same linearizable behavior as the
// redis backend.
package dbstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"

	"carewire.io/carewire/private/kvstore"
	"carewire.io/carewire/private/tagsql"
)

var (
	// Error is a dbstore error.
	Error = errs.Class("dbstore")

	mon = monkit.Package()
)

// Store implements kvstore.Store over a sql table.
type Store struct {
	db    tagsql.DB
	table string
}

// New creates a store on db using the named table. The table must have
// scope, map_key, map_value, version and updated_at columns with a primary
// key over (scope, map_key).
func New(db tagsql.DB, table string) *Store {
	return &Store{db: db, table: table}
}

// Get gets a value and version.
func (store *Store) Get(ctx context.Context, scope, key string) (_ kvstore.Value, _ int64, err error) {
	defer mon.Task()(&ctx)(&err)
	if err := kvstore.ValidateKey(scope, key); err != nil {
		return nil, 0, err
	}

	var value []byte
	var version int64
	err = store.db.QueryRowContext(ctx, `
		SELECT map_value, version FROM `+store.table+` WHERE scope = ? AND map_key = ?`,
		scope, key).Scan(&value, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, kvstore.ErrKeyNotFound.New("%s/%s", scope, key)
	}
	if err != nil {
		return nil, 0, Error.Wrap(err)
	}
	return value, version, nil
}

// GetAll returns every item in scope. The single select gives a consistent
// snapshot on both sqlite and postgres.
func (store *Store) GetAll(ctx context.Context, scope string) (_ kvstore.Items, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := store.db.QueryContext(ctx, `
		SELECT map_key, map_value, version FROM `+store.table+` WHERE scope = ? ORDER BY map_key`,
		scope)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(rows.Close())) }()

	var items kvstore.Items
	for rows.Next() {
		item := kvstore.Item{Scope: scope}
		var value []byte
		if err := rows.Scan(&item.Key, &value, &item.Version); err != nil {
			return nil, Error.Wrap(err)
		}
		item.Value = value
		items = append(items, item)
	}
	return items, Error.Wrap(rows.Err())
}

// Put upserts a value, bumping the version of an existing cell.
func (store *Store) Put(ctx context.Context, scope, key string, value kvstore.Value) (err error) {
	defer mon.Task()(&ctx)(&err)
	if err := kvstore.ValidateKey(scope, key); err != nil {
		return err
	}

	_, err = store.db.ExecContext(ctx, `
		INSERT INTO `+store.table+` (scope, map_key, map_value, version, updated_at)
		VALUES (?, ?, ?, 0, ?)
		ON CONFLICT (scope, map_key) DO UPDATE SET
			map_value = excluded.map_value,
			version = `+store.table+`.version + 1,
			updated_at = excluded.updated_at`,
		scope, key, []byte(value), time.Now().UTC())
	return Error.Wrap(err)
}

// CompareAndSwap applies the write only when the stored version matches
// expected. Both arms execute as one statement, so the comparison cannot
// interleave with other writers.
func (store *Store) CompareAndSwap(ctx context.Context, scope, key string, value kvstore.Value, expected int64) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)
	if err := kvstore.ValidateKey(scope, key); err != nil {
		return false, err
	}

	var res sql.Result
	if expected == kvstore.NoVersion {
		res, err = store.db.ExecContext(ctx, `
			INSERT INTO `+store.table+` (scope, map_key, map_value, version, updated_at)
			VALUES (?, ?, ?, 0, ?)
			ON CONFLICT (scope, map_key) DO NOTHING`,
			scope, key, []byte(value), time.Now().UTC())
	} else {
		res, err = store.db.ExecContext(ctx, `
			UPDATE `+store.table+` SET map_value = ?, version = version + 1, updated_at = ?
			WHERE scope = ? AND map_key = ? AND version = ?`,
			[]byte(value), time.Now().UTC(), scope, key, expected)
	}
	if err != nil {
		return false, Error.Wrap(err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, Error.Wrap(err)
	}
	return affected == 1, nil
}

// Delete deletes a key and its value.
func (store *Store) Delete(ctx context.Context, scope, key string) (err error) {
	defer mon.Task()(&ctx)(&err)
	if err := kvstore.ValidateKey(scope, key); err != nil {
		return err
	}

	_, err = store.db.ExecContext(ctx, `
		DELETE FROM `+store.table+` WHERE scope = ? AND map_key = ?`,
		scope, key)
	return Error.Wrap(err)
}

// Close closes the store. The underlying database handle is shared and
// stays open.
func (store *Store) Close() error {
	return nil
}
