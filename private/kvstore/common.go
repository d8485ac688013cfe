// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

// Package kvstore defines a versioned, scoped key/value store.
//
// Every value carries a monotonically increasing version starting at zero.
// CompareAndSwap only applies a write when the caller still holds the
// current version, which gives read-modify-write callers a cheap optimistic
// concurrency primitive that works the same against memory, sql and redis
// backends.
package kvstore

import (
	"context"
	"sort"

	"github.com/zeebo/errs"
)

// NoVersion is passed to CompareAndSwap as the expected version to require
// that the key does not exist yet.
const NoVersion int64 = -1

var (
	// ErrKeyNotFound is used when a key doesn't exist.
	ErrKeyNotFound = errs.Class("key not found")

	// ErrEmptyKey is returned when an empty scope or key is used.
	ErrEmptyKey = errs.Class("empty key")
)

// Value is the type for the values in a Store.
type Value []byte

// Item is a single stored cell.
type Item struct {
	Scope   string
	Key     string
	Value   Value
	Version int64
}

// Items keeps all Item.
type Items []Item

// Store describes a versioned key/value store keyed by (scope, key).
type Store interface {
	// Get returns the value and version stored at key.
	// It returns ErrKeyNotFound when the key does not exist.
	Get(ctx context.Context, scope, key string) (Value, int64, error)
	// GetAll returns a consistent snapshot of every item in scope.
	GetAll(ctx context.Context, scope string) (Items, error)
	// Put stores value at key. A new key starts at version zero, an
	// existing key has its version incremented.
	Put(ctx context.Context, scope, key string, value Value) error
	// CompareAndSwap stores value at key only when the current version
	// matches expected. Passing NoVersion requires the key to be absent.
	// It reports whether the swap was applied.
	CompareAndSwap(ctx context.Context, scope, key string, value Value, expected int64) (bool, error)
	// Delete removes key from scope. Deleting a missing key is not an error.
	Delete(ctx context.Context, scope, key string) error
	// Close closes the store.
	Close() error
}

// ValidateKey checks that neither scope nor key is empty.
func ValidateKey(scope, key string) error {
	if scope == "" {
		return ErrEmptyKey.New("empty scope")
	}
	if key == "" {
		return ErrEmptyKey.New("empty key")
	}
	return nil
}

// IsZero returns true if the value struct is a zero value.
func (value Value) IsZero() bool {
	return len(value) == 0
}

// Sort orders items by scope and then key.
func (items Items) Sort() {
	sort.Slice(items, func(i, k int) bool {
		if items[i].Scope != items[k].Scope {
			return items[i].Scope < items[k].Scope
		}
		return items[i].Key < items[k].Key
	})
}

// GetKeys gets all the keys in items.
func (items Items) GetKeys() []string {
	if len(items) == 0 {
		return nil
	}
	keys := make([]string, 0, len(items))
	for _, item := range items {
		keys = append(keys, item.Key)
	}
	return keys
}
