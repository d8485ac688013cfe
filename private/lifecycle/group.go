// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package lifecycle

import (
	"context"
	"runtime/debug"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storj.io/common/errs2"
)

// Group implements a collection of items that have a shared start and shutdown.
type Group struct {
	log   *zap.Logger
	items []Item
}

// NewGroup creates a new group.
func NewGroup(log *zap.Logger) *Group {
	return &Group{log: log}
}

// Add adds item to the group.
func (group *Group) Add(item Item) {
	group.items = append(group.items, item)
}

// Run starts all items concurrently under errgroup.
func (group *Group) Run(ctx context.Context, g *errgroup.Group) {
	var names []string
	for _, item := range group.items {
		names = append(names, item.Name)
	}
	group.log.Debug("started", zap.Strings("items", names))

	for _, item := range group.items {
		item := item
		if item.Run == nil {
			continue
		}

		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = errs.New("panic in %s: %v\n%s", item.Name, r, debug.Stack())
					group.log.Error("runner panicked", zap.String("name", item.Name), zap.Error(err))
				}
			}()

			err = item.Run(ctx)
			if errs2.IsCanceled(err) {
				err = nil
			}
			if err != nil {
				group.log.Error("unexpected shutdown of a runner",
					zap.String("name", item.Name), zap.Error(err))
			}
			return err
		})
	}
}

// Close closes all items in reverse order.
func (group *Group) Close() error {
	var errlist errs.Group

	for i := len(group.items) - 1; i >= 0; i-- {
		item := group.items[i]
		if item.Close == nil {
			continue
		}
		err := item.Close()
		if err != nil {
			group.log.Error("closing failed", zap.String("name", item.Name), zap.Error(err))
		}
		errlist.Add(err)
	}

	return errlist.Err()
}
