// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package events_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/zeebo/errs"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"

	"carewire.io/carewire/engine/events"
)

type fakeDB struct {
	mu     sync.Mutex
	events []events.Event
	fail   bool
}

func (db *fakeDB) Insert(ctx context.Context, event events.Event) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.fail {
		return errs.New("db unavailable")
	}
	event.ID = int64(len(db.events) + 1)
	db.events = append(db.events, event)
	return nil
}

func (db *fakeDB) List(ctx context.Context, limit int) ([]events.Event, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []events.Event
	for i := len(db.events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, db.events[i])
	}
	return out, nil
}

func (db *fakeDB) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var kept []events.Event
	var deleted int64
	for _, event := range db.events {
		if event.CreatedAt.Before(before) {
			deleted++
			continue
		}
		kept = append(kept, event)
	}
	db.events = kept
	return deleted, nil
}

func TestRecord(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db := &fakeDB{}
	service := events.NewService(zaptest.NewLogger(t), db, "srv-1")

	service.Success(ctx, "channel deployed", map[string]string{"channelID": "chan-a"})
	service.Failure(ctx, "channel start", map[string]string{"channelID": "chan-a"}, errs.New("boom"))

	listed, err := db.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, listed, 2)

	// newest first
	require.Equal(t, "channel start", listed[0].Name)
	require.Equal(t, events.OutcomeFailure, listed[0].Outcome)
	require.Equal(t, "boom", listed[0].Attributes["error"])
	require.Equal(t, "srv-1", listed[0].ServerID)

	require.Equal(t, "channel deployed", listed[1].Name)
	require.Equal(t, events.LevelInfo, listed[1].Level)
	require.Equal(t, events.OutcomeSuccess, listed[1].Outcome)
}

func TestRecordStorageFailure(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db := &fakeDB{fail: true}
	service := events.NewService(zaptest.NewLogger(t), db, "srv-1")

	// storage failures must not propagate
	service.Success(ctx, "channel deployed", nil)
	require.Empty(t, db.events)
}
