// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package sequence_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/zeebo/errs"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"

	"carewire.io/carewire/engine/sequence"
)

type fakeDB struct {
	mu       sync.Mutex
	next     map[string]int64
	calls    int
	failures int
}

func newFakeDB() *fakeDB {
	return &fakeDB{next: make(map[string]int64)}
}

func (db *fakeDB) NextBlock(ctx context.Context, channelID string, n int64) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.calls++
	if db.failures > 0 {
		db.failures--
		return 0, errs.New("db unavailable")
	}
	start := db.next[channelID] + 1
	db.next[channelID] = start + n - 1
	return start, nil
}

func (db *fakeDB) callCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.calls
}

func TestBlockAllocation(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db := newFakeDB()
	alloc := sequence.NewAllocator(zaptest.NewLogger(t), db, sequence.Config{
		BlockSize:    5,
		MaxRetryTime: time.Second,
	})

	// 11 ids with block size 5 needs exactly 3 reservations
	for want := int64(1); want <= 11; want++ {
		id, err := alloc.Next(ctx, "chan-a")
		require.NoError(t, err)
		require.Equal(t, want, id)
	}
	require.Equal(t, 3, db.callCount())
}

func TestPerChannelSequences(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db := newFakeDB()
	alloc := sequence.NewAllocator(zaptest.NewLogger(t), db, sequence.Config{
		BlockSize:    10,
		MaxRetryTime: time.Second,
	})

	a, err := alloc.Next(ctx, "chan-a")
	require.NoError(t, err)
	b, err := alloc.Next(ctx, "chan-b")
	require.NoError(t, err)
	require.EqualValues(t, 1, a)
	require.EqualValues(t, 1, b)
}

func TestRetryThenSucceed(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db := newFakeDB()
	db.failures = 2
	alloc := sequence.NewAllocator(zaptest.NewLogger(t), db, sequence.Config{
		BlockSize:    5,
		MaxRetryTime: 10 * time.Second,
	})

	id, err := alloc.Next(ctx, "chan-a")
	require.NoError(t, err)
	require.EqualValues(t, 1, id)
	require.Equal(t, 3, db.callCount())
}

func TestAllocationError(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db := newFakeDB()
	db.failures = 1 << 20
	alloc := sequence.NewAllocator(zaptest.NewLogger(t), db, sequence.Config{
		BlockSize:    5,
		MaxRetryTime: 20 * time.Millisecond,
	})

	_, err := alloc.Next(ctx, "chan-a")
	require.True(t, sequence.ErrAllocation.Has(err))
}

func TestRelease(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db := newFakeDB()
	alloc := sequence.NewAllocator(zaptest.NewLogger(t), db, sequence.Config{
		BlockSize:    10,
		MaxRetryTime: time.Second,
	})

	id, err := alloc.Next(ctx, "chan-a")
	require.NoError(t, err)
	require.EqualValues(t, 1, id)

	// releasing skips the rest of the block
	alloc.Release("chan-a")
	id, err = alloc.Next(ctx, "chan-a")
	require.NoError(t, err)
	require.EqualValues(t, 11, id)
}

func TestConcurrentUnique(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db := newFakeDB()
	alloc := sequence.NewAllocator(zaptest.NewLogger(t), db, sequence.Config{
		BlockSize:    7,
		MaxRetryTime: time.Second,
	})

	var mu sync.Mutex
	seen := make(map[int64]bool)
	for i := 0; i < 4; i++ {
		ctx.Go(func() error {
			for j := 0; j < 50; j++ {
				id, err := alloc.Next(ctx, "chan-a")
				if err != nil {
					return err
				}
				mu.Lock()
				if seen[id] {
					mu.Unlock()
					return errs.New("duplicate id %d", id)
				}
				seen[id] = true
				mu.Unlock()
			}
			return nil
		})
	}
	ctx.Wait()
	require.Len(t, seen, 200)
}
