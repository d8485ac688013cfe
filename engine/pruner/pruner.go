// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

// Package pruner removes processed messages that outlived their channel's
// retention window.
package pruner

import (
	"context"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/common/sync2"

	"carewire.io/carewire/engine/channel"
	"carewire.io/carewire/engine/messagestore"
)

var (
	// Error is the pruner chore error class.
	Error = errs.Class("pruner")
	mon   = monkit.Package()
)

// Config contains configurable values for message pruning.
type Config struct {
	Enabled  bool          `help:"set if message pruning is enabled or not" default:"true"`
	Interval time.Duration `help:"the time between each pruning pass over the channels" default:"1h"`
}

// Chore deletes processed messages older than each channel's retention
// window. Channels without a retention window are never pruned, and
// channels whose tables are not provisioned yet are skipped.
//
// architecture: Chore
type Chore struct {
	log      *zap.Logger
	config   Config
	channels channel.DB
	store    *messagestore.Store

	nowFn func() time.Time
	Loop  *sync2.Cycle
}

// NewChore creates a new instance of the pruner chore.
func NewChore(log *zap.Logger, config Config, channels channel.DB, store *messagestore.Store) *Chore {
	return &Chore{
		log:      log,
		config:   config,
		channels: channels,
		store:    store,

		nowFn: time.Now,
		Loop:  sync2.NewCycle(config.Interval),
	}
}

// Run starts the pruning loop.
func (chore *Chore) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	if !chore.config.Enabled {
		return nil
	}

	return chore.Loop.Run(ctx, chore.prune)
}

// Close stops the pruner chore.
func (chore *Chore) Close() error {
	chore.Loop.Close()
	return nil
}

// TestingSetNow allows tests to have the chore act as if the current time
// is whatever they want.
func (chore *Chore) TestingSetNow(nowFn func() time.Time) {
	chore.nowFn = nowFn
}

func (chore *Chore) prune(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	cfgs, err := chore.channels.List(ctx)
	if err != nil {
		chore.log.Warn("channel listing failed", zap.Error(err))
		return nil
	}

	now := chore.nowFn().UTC()
	for _, cfg := range cfgs {
		retainDays := cfg.Pruning.RetainDays
		if retainDays <= 0 {
			continue
		}

		cutoff := now.AddDate(0, 0, -retainDays)
		deleted, err := chore.store.DeleteMessagesBefore(ctx, cfg.ID, cutoff)
		if err != nil {
			if messagestore.ErrSchema.Has(err) {
				// The channel has never been deployed anywhere.
				continue
			}
			chore.log.Warn("pruning failed",
				zap.String("channelID", cfg.ID),
				zap.Error(err))
			continue
		}
		if deleted > 0 {
			chore.log.Info("pruned messages",
				zap.String("channelID", cfg.ID),
				zap.Int64("deleted", deleted),
				zap.Time("cutoff", cutoff))
			mon.Counter("pruned_messages", monkit.NewSeriesTag("channel", cfg.ID)).Inc(deleted)
		}
	}
	return nil
}
