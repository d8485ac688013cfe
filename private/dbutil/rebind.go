// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package dbutil

import (
	"context"
	"database/sql"
	"time"

	"carewire.io/carewire/private/tagsql"
)

// WithRebind wraps db so that every query is passed through Rebind for the
// given implementation. This lets callers write `?` placeholders regardless
// of the backing database.
func WithRebind(impl Implementation, db tagsql.DB) tagsql.DB {
	if impl != Postgres {
		return db
	}
	return &reboundDB{db: db, impl: impl}
}

type reboundDB struct {
	db   tagsql.DB
	impl Implementation
}

func (r *reboundDB) BeginTx(ctx context.Context, txOptions *sql.TxOptions) (tagsql.Tx, error) {
	tx, err := r.db.BeginTx(ctx, txOptions)
	if err != nil {
		return nil, err
	}
	return &reboundTx{tx: tx, impl: r.impl}, nil
}

func (r *reboundDB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return r.db.ExecContext(ctx, Rebind(r.impl, query), args...)
}

func (r *reboundDB) QueryContext(ctx context.Context, query string, args ...interface{}) (tagsql.Rows, error) {
	return r.db.QueryContext(ctx, Rebind(r.impl, query), args...)
}

func (r *reboundDB) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return r.db.QueryRowContext(ctx, Rebind(r.impl, query), args...)
}

func (r *reboundDB) PingContext(ctx context.Context) error { return r.db.PingContext(ctx) }

func (r *reboundDB) SetMaxOpenConns(n int)              { r.db.SetMaxOpenConns(n) }
func (r *reboundDB) SetMaxIdleConns(n int)              { r.db.SetMaxIdleConns(n) }
func (r *reboundDB) SetConnMaxLifetime(d time.Duration) { r.db.SetConnMaxLifetime(d) }

func (r *reboundDB) Stats() sql.DBStats { return r.db.Stats() }

func (r *reboundDB) Close() error { return r.db.Close() }

type reboundTx struct {
	tx   tagsql.Tx
	impl Implementation
}

func (r *reboundTx) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return r.tx.ExecContext(ctx, Rebind(r.impl, query), args...)
}

func (r *reboundTx) QueryContext(ctx context.Context, query string, args ...interface{}) (tagsql.Rows, error) {
	return r.tx.QueryContext(ctx, Rebind(r.impl, query), args...)
}

func (r *reboundTx) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return r.tx.QueryRowContext(ctx, Rebind(r.impl, query), args...)
}

func (r *reboundTx) Commit() error   { return r.tx.Commit() }
func (r *reboundTx) Rollback() error { return r.tx.Rollback() }
