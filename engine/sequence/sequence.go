// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

// Package sequence assigns monotonically increasing message ids per
// channel. Ids are reserved from the database in blocks so the hot path
// is a memory increment; crashes leak at most one block of ids, leaving
// gaps but never duplicates.
package sequence

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
)

var (
	mon = monkit.Package()

	// Error is the default sequence error class.
	Error = errs.Class("sequence")
	// ErrAllocation is returned when reserving an id block kept failing.
	ErrAllocation = errs.Class("sequence allocation")
)

// DB reserves blocks of message ids.
//
// architecture: Database
type DB interface {
	// NextBlock atomically advances the channel's sequence by n and
	// returns the first id of the reserved block.
	NextBlock(ctx context.Context, channelID string, n int64) (start int64, err error)
}

// Config configures id block allocation.
type Config struct {
	BlockSize    int64         `help:"how many message ids to reserve per database round trip" default:"100"`
	MaxRetryTime time.Duration `help:"how long to retry a failed id block reservation" default:"30s"`
}

// Allocator hands out message ids from in-memory blocks.
type Allocator struct {
	log    *zap.Logger
	db     DB
	config Config

	mu       sync.Mutex
	channels map[string]*channelSequence
}

type channelSequence struct {
	mu   sync.Mutex
	next int64
	end  int64
}

// NewAllocator constructs an Allocator.
func NewAllocator(log *zap.Logger, db DB, config Config) *Allocator {
	if config.BlockSize <= 0 {
		config.BlockSize = 1
	}
	return &Allocator{
		log:      log,
		db:       db,
		config:   config,
		channels: make(map[string]*channelSequence),
	}
}

// Next returns the next message id for the channel, reserving a fresh
// block from the database when the current one is exhausted.
func (alloc *Allocator) Next(ctx context.Context, channelID string) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)

	cs := alloc.channel(channelID)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.next >= cs.end {
		start, err := alloc.reserve(ctx, channelID)
		if err != nil {
			return 0, err
		}
		cs.next, cs.end = start, start+alloc.config.BlockSize
	}

	id := cs.next
	cs.next++
	return id, nil
}

// Release drops the channel's unused block. The remaining ids of the
// block become a gap in the sequence.
func (alloc *Allocator) Release(channelID string) {
	alloc.mu.Lock()
	delete(alloc.channels, channelID)
	alloc.mu.Unlock()
}

func (alloc *Allocator) channel(channelID string) *channelSequence {
	alloc.mu.Lock()
	defer alloc.mu.Unlock()

	cs, ok := alloc.channels[channelID]
	if !ok {
		cs = &channelSequence{}
		alloc.channels[channelID] = cs
	}
	return cs
}

func (alloc *Allocator) reserve(ctx context.Context, channelID string) (start int64, err error) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = alloc.config.MaxRetryTime

	err = backoff.RetryNotify(func() error {
		var err error
		start, err = alloc.db.NextBlock(ctx, channelID, alloc.config.BlockSize)
		return err
	}, backoff.WithContext(bo, ctx), func(err error, next time.Duration) {
		alloc.log.Warn("id block reservation failed",
			zap.String("channelID", channelID),
			zap.Duration("retryIn", next),
			zap.Error(err))
	})
	if err != nil {
		return 0, ErrAllocation.Wrap(err)
	}
	return start, nil
}
