// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package redis

import (
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/common/testcontext"

	"carewire.io/carewire/private/kvstore/testsuite"
	"carewire.io/carewire/private/testredis"
)

func TestSuite(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	redis, err := testredis.Start(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { require.NoError(t, redis.Close()) }()

	client, err := OpenClient(ctx, redis.Addr(), "", 0)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { require.NoError(t, client.Close()) }()

	testsuite.RunTests(t, client)
}

func TestOpenClientFrom(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	redis, err := testredis.Start(ctx)
	require.NoError(t, err)
	defer func() { require.NoError(t, redis.Close()) }()

	client, err := OpenClientFrom(ctx, "redis://"+redis.Addr()+"/0")
	require.NoError(t, err)
	defer func() { require.NoError(t, client.Close()) }()

	require.NoError(t, client.Put(ctx, "scope", "key", []byte("value")))

	value, version, err := client.Get(ctx, "scope", "key")
	require.NoError(t, err)
	require.Equal(t, []byte("value"), []byte(value))
	require.Equal(t, int64(0), version)
}

func TestInvalidConnection(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	_, err := OpenClient(ctx, "127.0.0.1:0", "", 0)
	if err == nil {
		t.Fatal("expected connection error")
	}
}

func BenchmarkSuite(b *testing.B) {
	ctx := testcontext.New(b)
	defer ctx.Cleanup()

	redis, err := testredis.Start(ctx)
	if err != nil {
		b.Fatal(err)
	}
	defer func() { require.NoError(b, redis.Close()) }()

	client, err := OpenClient(ctx, redis.Addr(), "", 0)
	if err != nil {
		b.Fatal(err)
	}
	testsuite.RunBenchmarks(b, client)
}
