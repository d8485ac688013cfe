// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

// Package teststore implements an in-memory kvstore.Store.
package teststore

import (
	"context"
	"sync"

	"carewire.io/carewire/private/kvstore"
)

// Client implements in-memory key value store.
type Client struct {
	mu sync.Mutex

	cells map[cellKey]cell

	CallCount struct {
		Get            int
		GetAll         int
		Put            int
		CompareAndSwap int
		Delete         int
		Close          int
	}
}

type cellKey struct {
	scope string
	key   string
}

type cell struct {
	value   kvstore.Value
	version int64
}

// New creates a new in-memory key-value store.
func New() *Client {
	return &Client{cells: map[cellKey]cell{}}
}

// Get gets a value and version.
func (store *Client) Get(ctx context.Context, scope, key string) (kvstore.Value, int64, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Get++

	if err := kvstore.ValidateKey(scope, key); err != nil {
		return nil, 0, err
	}

	c, ok := store.cells[cellKey{scope, key}]
	if !ok {
		return nil, 0, kvstore.ErrKeyNotFound.New("%s/%s", scope, key)
	}
	return append(kvstore.Value{}, c.value...), c.version, nil
}

// GetAll returns all items in scope.
func (store *Client) GetAll(ctx context.Context, scope string) (kvstore.Items, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.GetAll++

	var items kvstore.Items
	for k, c := range store.cells {
		if k.scope != scope {
			continue
		}
		items = append(items, kvstore.Item{
			Scope:   k.scope,
			Key:     k.key,
			Value:   append(kvstore.Value{}, c.value...),
			Version: c.version,
		})
	}
	items.Sort()
	return items, nil
}

// Put adds a value to the store, bumping the version of an existing cell.
func (store *Client) Put(ctx context.Context, scope, key string, value kvstore.Value) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Put++

	if err := kvstore.ValidateKey(scope, key); err != nil {
		return err
	}

	ck := cellKey{scope, key}
	next := int64(0)
	if cur, ok := store.cells[ck]; ok {
		next = cur.version + 1
	}
	store.cells[ck] = cell{value: append(kvstore.Value{}, value...), version: next}
	return nil
}

// CompareAndSwap atomically swaps the value when the version matches.
func (store *Client) CompareAndSwap(ctx context.Context, scope, key string, value kvstore.Value, expected int64) (bool, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.CompareAndSwap++

	if err := kvstore.ValidateKey(scope, key); err != nil {
		return false, err
	}

	ck := cellKey{scope, key}
	cur, ok := store.cells[ck]

	if expected == kvstore.NoVersion {
		if ok {
			return false, nil
		}
		store.cells[ck] = cell{value: append(kvstore.Value{}, value...), version: 0}
		return true, nil
	}

	if !ok || cur.version != expected {
		return false, nil
	}
	store.cells[ck] = cell{value: append(kvstore.Value{}, value...), version: cur.version + 1}
	return true, nil
}

// Delete deletes a key and its value.
func (store *Client) Delete(ctx context.Context, scope, key string) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Delete++

	if err := kvstore.ValidateKey(scope, key); err != nil {
		return err
	}

	delete(store.cells, cellKey{scope, key})
	return nil
}

// Close closes the store.
func (store *Client) Close() error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Close++
	return nil
}
