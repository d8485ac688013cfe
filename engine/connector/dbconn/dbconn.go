// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

// Package dbconn implements the database transports: a polling select
// reader source and an insert writer destination.
//
// Both transports speak to external databases, not the engine's own store.
// Queries are written with `?` placeholders and rebound for the
// implementation in use, matching the engine's other database access.
package dbconn

import (
	"context"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"carewire.io/carewire/engine/connector"
	"carewire.io/carewire/private/dbutil"
	"carewire.io/carewire/private/tagsql"
)

var (
	mon = monkit.Package()

	// Error is the dbconn error class.
	Error = errs.Class("dbconn")
)

// Transport names.
const (
	ReaderTransport = "db-reader"
	WriterTransport = "db-writer"
)

// open connects to an external database url with the engine's usual handle
// configuration.
func open(ctx context.Context, url string) (tagsql.DB, error) {
	driver, source, impl, err := dbutil.SplitConnStr(url)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	raw, err := tagsql.Open(ctx, driver, source)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	dbutil.Configure(ctx, raw, "dbconn", mon)
	if impl == dbutil.SQLite {
		raw.SetMaxOpenConns(1)
	}
	return dbutil.WithRebind(impl, raw), nil
}

// Register adds the database transports to the registry.
func Register(registry *connector.Registry) error {
	return errs.Combine(
		registry.RegisterSource(ReaderTransport,
			func(ctx context.Context, log *zap.Logger, params connector.SourceParams) (connector.Source, error) {
				return NewReader(ctx, log, params)
			}),
		registry.RegisterDestination(WriterTransport,
			func(ctx context.Context, log *zap.Logger, params connector.DestinationParams) (connector.Destination, error) {
				return NewWriter(ctx, log, params)
			}),
	)
}
