// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

// Package storelogger wraps a kvstore.Store with debug logging.
package storelogger

import (
	"context"

	"github.com/spacemonkeygo/monkit/v3"
	"go.uber.org/zap"

	"carewire.io/carewire/private/kvstore"
)

var mon = monkit.Package()

// Logger implements a logging wrapper for kvstore.Store.
type Logger struct {
	log   *zap.Logger
	store kvstore.Store
}

// New creates a new Logger with log and store.
func New(log *zap.Logger, store kvstore.Store) *Logger {
	return &Logger{log: log, store: store}
}

// Put adds a value to store.
func (store *Logger) Put(ctx context.Context, scope, key string, value kvstore.Value) (err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("Put",
		zap.String("scope", scope), zap.String("key", key),
		zap.Int("value length", len(value)), zap.Binary("truncated value", truncate(value)))
	return store.store.Put(ctx, scope, key, value)
}

// Get gets a value and version from store.
func (store *Logger) Get(ctx context.Context, scope, key string) (_ kvstore.Value, _ int64, err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("Get", zap.String("scope", scope), zap.String("key", key))
	return store.store.Get(ctx, scope, key)
}

// GetAll returns all items in scope.
func (store *Logger) GetAll(ctx context.Context, scope string) (_ kvstore.Items, err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("GetAll", zap.String("scope", scope))
	return store.store.GetAll(ctx, scope)
}

// CompareAndSwap atomically compares and swaps the value when the version matches.
func (store *Logger) CompareAndSwap(ctx context.Context, scope, key string, value kvstore.Value, expected int64) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("CompareAndSwap",
		zap.String("scope", scope), zap.String("key", key),
		zap.Int64("expected version", expected),
		zap.Int("value length", len(value)), zap.Binary("truncated value", truncate(value)))
	return store.store.CompareAndSwap(ctx, scope, key, value, expected)
}

// Delete deletes key and the value.
func (store *Logger) Delete(ctx context.Context, scope, key string) (err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("Delete", zap.String("scope", scope), zap.String("key", key))
	return store.store.Delete(ctx, scope, key)
}

// Close closes the store.
func (store *Logger) Close() error {
	store.log.Debug("Close")
	return store.store.Close()
}

func truncate(v kvstore.Value) []byte {
	if len(v) <= 10 {
		return []byte(v)
	}
	return v[:10]
}
