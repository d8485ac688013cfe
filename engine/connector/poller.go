// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package connector

import (
	"context"
	"time"

	"go.uber.org/zap"

	"storj.io/common/errs2"
	"storj.io/common/sync2"
)

// DefaultPollInterval is used when a poll-driven source does not configure
// its own interval.
const DefaultPollInterval = 5 * time.Second

// LeaseChecker reports whether this server currently holds a channel's
// polling lease.
type LeaseChecker interface {
	Held(channelID string) bool
}

// Poller runs a poll function on a cycle and skips polls while the channel's
// lease is held elsewhere. The lease is re-checked before every poll; a
// stale in-memory belief lasts at most one renewal cycle. Poll errors are
// logged and do not stop the loop.
type Poller struct {
	log       *zap.Logger
	channelID string
	leases    LeaseChecker
	poll      func(ctx context.Context) error

	Loop *sync2.Cycle
}

// NewPoller constructs a poller for one channel's source.
func NewPoller(log *zap.Logger, channelID string, interval time.Duration, leases LeaseChecker, poll func(ctx context.Context) error) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		log:       log,
		channelID: channelID,
		leases:    leases,
		poll:      poll,

		Loop: sync2.NewCycle(interval),
	}
}

// Run polls until the context is canceled.
func (poller *Poller) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	return poller.Loop.Run(ctx, func(ctx context.Context) error {
		if poller.leases != nil && !poller.leases.Held(poller.channelID) {
			mon.Counter("poll_skipped_no_lease").Inc(1)
			return nil
		}
		if err := poller.poll(ctx); err != nil {
			if errs2.IsCanceled(err) {
				return err
			}
			poller.log.Warn("poll failed", zap.Error(err))
		}
		return nil
	})
}

// Close stops the poll loop.
func (poller *Poller) Close() error {
	poller.Loop.Close()
	return nil
}

// Trigger schedules an immediate poll without waiting for it.
func (poller *Poller) Trigger() {
	poller.Loop.Trigger()
}

// TriggerWait polls immediately and waits for the poll to finish.
func (poller *Poller) TriggerWait() {
	poller.Loop.TriggerWait()
}
