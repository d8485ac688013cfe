// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

// Package fileconn implements the file transports: a polling directory
// reader source and a file writer destination.
package fileconn

import (
	"context"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"carewire.io/carewire/engine/connector"
)

var (
	mon = monkit.Package()

	// Error is the fileconn error class.
	Error = errs.Class("fileconn")
)

// Transport names.
const (
	ReaderTransport = "file-reader"
	WriterTransport = "file-writer"
)

// Register adds the file transports to the registry.
func Register(registry *connector.Registry) error {
	return errs.Combine(
		registry.RegisterSource(ReaderTransport,
			func(ctx context.Context, log *zap.Logger, params connector.SourceParams) (connector.Source, error) {
				return NewReader(log, params)
			}),
		registry.RegisterDestination(WriterTransport,
			func(ctx context.Context, log *zap.Logger, params connector.DestinationParams) (connector.Destination, error) {
				return NewWriter(log, params)
			}),
	)
}
