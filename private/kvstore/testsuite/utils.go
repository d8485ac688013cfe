// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

// Package testsuite contains a conformance suite that every kvstore.Store
// implementation must pass.
package testsuite

import (
	"testing"

	"storj.io/common/testcontext"

	"carewire.io/carewire/private/kvstore"
)

func cleanupItems(t testing.TB, ctx *testcontext.Context, store kvstore.Store, scopes ...string) {
	for _, scope := range scopes {
		items, err := store.GetAll(ctx, scope)
		if err != nil {
			continue
		}
		for _, item := range items {
			_ = store.Delete(ctx, item.Scope, item.Key)
		}
	}
}
