// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package testsuite

import (
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/common/testcontext"

	"carewire.io/carewire/private/kvstore"
)

// RunTests runs the conformance suite against store.
func RunTests(t *testing.T, store kvstore.Store) {
	t.Run("GetPut", func(t *testing.T) { testGetPut(t, store) })
	t.Run("CompareAndSwap", func(t *testing.T) { testCompareAndSwap(t, store) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, store) })
	t.Run("GetAll", func(t *testing.T) { testGetAll(t, store) })
	t.Run("EmptyKey", func(t *testing.T) { testEmptyKey(t, store) })
}

func testGetPut(t *testing.T, store kvstore.Store) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	defer cleanupItems(t, ctx, store, "alpha")

	_, _, err := store.Get(ctx, "alpha", "missing")
	require.True(t, kvstore.ErrKeyNotFound.Has(err))

	require.NoError(t, store.Put(ctx, "alpha", "k", kvstore.Value("first")))

	value, version, err := store.Get(ctx, "alpha", "k")
	require.NoError(t, err)
	require.Equal(t, kvstore.Value("first"), value)
	require.Equal(t, int64(0), version)

	// an overwrite bumps the version
	require.NoError(t, store.Put(ctx, "alpha", "k", kvstore.Value("second")))

	value, version, err = store.Get(ctx, "alpha", "k")
	require.NoError(t, err)
	require.Equal(t, kvstore.Value("second"), value)
	require.Equal(t, int64(1), version)

	// scopes are isolated
	_, _, err = store.Get(ctx, "beta", "k")
	require.True(t, kvstore.ErrKeyNotFound.Has(err))
}

func testCompareAndSwap(t *testing.T, store kvstore.Store) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	defer cleanupItems(t, ctx, store, "cas")

	// insert-if-absent
	ok, err := store.CompareAndSwap(ctx, "cas", "k", kvstore.Value("v0"), kvstore.NoVersion)
	require.NoError(t, err)
	require.True(t, ok)

	// insert-if-absent on an existing key fails
	ok, err = store.CompareAndSwap(ctx, "cas", "k", kvstore.Value("other"), kvstore.NoVersion)
	require.NoError(t, err)
	require.False(t, ok)

	value, version, err := store.Get(ctx, "cas", "k")
	require.NoError(t, err)
	require.Equal(t, kvstore.Value("v0"), value)
	require.Equal(t, int64(0), version)

	// swap at the current version wins and bumps it
	ok, err = store.CompareAndSwap(ctx, "cas", "k", kvstore.Value("v1"), 0)
	require.NoError(t, err)
	require.True(t, ok)

	// a second swap from the same stale version loses
	ok, err = store.CompareAndSwap(ctx, "cas", "k", kvstore.Value("lost"), 0)
	require.NoError(t, err)
	require.False(t, ok)

	value, version, err = store.Get(ctx, "cas", "k")
	require.NoError(t, err)
	require.Equal(t, kvstore.Value("v1"), value)
	require.Equal(t, int64(1), version)

	// swapping a missing key at a concrete version fails
	ok, err = store.CompareAndSwap(ctx, "cas", "missing", kvstore.Value("x"), 3)
	require.NoError(t, err)
	require.False(t, ok)
}

func testDelete(t *testing.T, store kvstore.Store) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	defer cleanupItems(t, ctx, store, "del")

	// deleting a missing key is not an error
	require.NoError(t, store.Delete(ctx, "del", "missing"))

	require.NoError(t, store.Put(ctx, "del", "k", kvstore.Value("v")))
	require.NoError(t, store.Put(ctx, "del", "k", kvstore.Value("v2")))
	require.NoError(t, store.Delete(ctx, "del", "k"))

	_, _, err := store.Get(ctx, "del", "k")
	require.True(t, kvstore.ErrKeyNotFound.Has(err))

	// a fresh insert after delete starts over at version zero
	require.NoError(t, store.Put(ctx, "del", "k", kvstore.Value("v3")))
	_, version, err := store.Get(ctx, "del", "k")
	require.NoError(t, err)
	require.Equal(t, int64(0), version)
}

func testGetAll(t *testing.T, store kvstore.Store) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	defer cleanupItems(t, ctx, store, "all", "other")

	require.NoError(t, store.Put(ctx, "all", "b", kvstore.Value("2")))
	require.NoError(t, store.Put(ctx, "all", "a", kvstore.Value("1")))
	require.NoError(t, store.Put(ctx, "all", "c", kvstore.Value("3")))
	require.NoError(t, store.Put(ctx, "other", "z", kvstore.Value("9")))

	items, err := store.GetAll(ctx, "all")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, items.GetKeys())
	for i, item := range items {
		require.Equal(t, "all", item.Scope)
		require.Equal(t, int64(0), item.Version, "item %d", i)
	}

	items, err = store.GetAll(ctx, "empty-scope")
	require.NoError(t, err)
	require.Empty(t, items)
}

func testEmptyKey(t *testing.T, store kvstore.Store) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	err := store.Put(ctx, "", "k", kvstore.Value("v"))
	require.True(t, kvstore.ErrEmptyKey.Has(err))

	err = store.Put(ctx, "scope", "", kvstore.Value("v"))
	require.True(t, kvstore.ErrEmptyKey.Has(err))

	_, _, err = store.Get(ctx, "scope", "")
	require.True(t, kvstore.ErrEmptyKey.Has(err))

	_, err = store.CompareAndSwap(ctx, "scope", "", kvstore.Value("v"), kvstore.NoVersion)
	require.True(t, kvstore.ErrEmptyKey.Has(err))
}

// RunBenchmarks runs the benchmark suite against store.
func RunBenchmarks(b *testing.B, store kvstore.Store) {
	ctx := testcontext.New(b)
	defer ctx.Cleanup()

	b.Run("Put", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			if err := store.Put(ctx, "bench", "key", kvstore.Value("value")); err != nil {
				b.Fatal(err)
			}
		}
	})
	b.Run("Get", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			if _, _, err := store.Get(ctx, "bench", "key"); err != nil {
				b.Fatal(err)
			}
		}
	})
}
