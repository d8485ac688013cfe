// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

// Package lifecycle allows controlling groups of items.
package lifecycle

import (
	"context"
)

// Item is the lifecycle item that group runs and closes.
type Item struct {
	Name  string
	Run   func(ctx context.Context) error
	Close func() error
}
