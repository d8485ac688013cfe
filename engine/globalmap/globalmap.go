// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

// Package globalmap serves the shared variable maps scripts see as
// GlobalMap, GlobalChannelMap and ConfigurationMap.
//
// Reads come from an in-memory cache per scope. Writes apply to the
// cache first and replicate to the backend through a single background
// flusher, last write wins. The configuration scope additionally
// refreshes from the backend on a cycle so admin changes reach every
// node.
package globalmap

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storj.io/common/sync2"

	"carewire.io/carewire/engine/message"
	"carewire.io/carewire/engine/script"
	"carewire.io/carewire/private/kvstore"
)

var (
	mon = monkit.Package()

	// Error is the globalmap error class.
	Error = errs.Class("globalmap")
)

// Well-known scopes.
const (
	ScopeGlobal        = "global"
	ScopeConfiguration = "configuration"
)

// ChannelScope returns the scope of a channel's global channel map.
func ChannelScope(channelID string) string {
	return "gcm:" + channelID
}

// Config configures the shared map service.
type Config struct {
	FlushQueueSize  int           `help:"how many pending backend writes may queue before writers block" default:"1024"`
	RefreshInterval time.Duration `help:"how often the configuration map refreshes from the backend" default:"30s"`
}

// Service is the shared map cache. Values must be JSON-serializable;
// they are stored JSON-encoded.
type Service struct {
	log    *zap.Logger
	store  kvstore.Store
	config Config

	RefreshLoop *sync2.Cycle

	mu     sync.Mutex
	scopes map[string]message.Map

	writes chan write
}

type write struct {
	scope string
	key   string
	value kvstore.Value
	done  chan struct{}
}

// NewService constructs the shared map service.
func NewService(log *zap.Logger, store kvstore.Store, config Config) *Service {
	if config.FlushQueueSize <= 0 {
		config.FlushQueueSize = 1024
	}
	if config.RefreshInterval <= 0 {
		config.RefreshInterval = 30 * time.Second
	}
	return &Service{
		log:    log,
		store:  store,
		config: config,

		RefreshLoop: sync2.NewCycle(config.RefreshInterval),

		scopes: make(map[string]message.Map),
		writes: make(chan write, config.FlushQueueSize),
	}
}

// LoadScope primes the cache for a scope from the backend. Loading an
// already cached scope replaces it.
func (service *Service) LoadScope(ctx context.Context, scope string) (err error) {
	defer mon.Task()(&ctx)(&err)

	items, err := service.store.GetAll(ctx, scope)
	if err != nil {
		return Error.Wrap(err)
	}

	loaded := make(message.Map, len(items))
	for _, item := range items {
		var value interface{}
		if err := json.Unmarshal(item.Value, &value); err != nil {
			service.log.Warn("undecodable shared map value skipped",
				zap.String("scope", scope),
				zap.String("key", item.Key),
				zap.Error(err))
			continue
		}
		loaded[item.Key] = value
	}

	service.mu.Lock()
	service.scopes[scope] = loaded
	service.mu.Unlock()
	return nil
}

// DropScope removes a scope from the cache, typically on undeploy.
func (service *Service) DropScope(scope string) {
	service.mu.Lock()
	delete(service.scopes, scope)
	service.mu.Unlock()
}

// Global returns the accessor for the global map.
func (service *Service) Global() script.Accessor {
	return accessor{service: service, scope: ScopeGlobal}
}

// Channel returns the accessor for a channel's global channel map.
func (service *Service) Channel(channelID string) script.Accessor {
	return accessor{service: service, scope: ChannelScope(channelID)}
}

// Configuration returns the accessor for the configuration map.
func (service *Service) Configuration() script.Accessor {
	return accessor{service: service, scope: ScopeConfiguration}
}

// Run replicates writes and refreshes the configuration scope until the
// context is canceled.
func (service *Service) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return service.flusher(ctx) })
	service.RefreshLoop.Start(ctx, group, func(ctx context.Context) error {
		if err := service.LoadScope(ctx, ScopeConfiguration); err != nil {
			service.log.Warn("configuration map refresh failed", zap.Error(err))
		}
		return nil
	})
	return group.Wait()
}

// Close stops the refresh loop.
func (service *Service) Close() error {
	service.RefreshLoop.Close()
	return nil
}

// Flush blocks until every write enqueued before the call reached the
// backend. Intended for tests and shutdown.
func (service *Service) Flush(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case service.writes <- write{done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (service *Service) flusher(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case w := <-service.writes:
			if w.done != nil {
				close(w.done)
				continue
			}
			err := service.store.Put(ctx, w.scope, w.key, w.value)
			if err != nil {
				service.log.Warn("shared map write not replicated",
					zap.String("scope", w.scope),
					zap.String("key", w.key),
					zap.Error(err))
			}
		}
	}
}

// get reads a value from the cached scope.
func (service *Service) get(scope, key string) (interface{}, bool) {
	service.mu.Lock()
	defer service.mu.Unlock()
	value, ok := service.scopes[scope][key]
	return value, ok
}

// put applies a write to the cache and queues its replication.
func (service *Service) put(scope, key string, value interface{}) {
	encoded, err := json.Marshal(value)
	if err != nil {
		service.log.Warn("unserializable shared map value dropped",
			zap.String("scope", scope),
			zap.String("key", key),
			zap.Error(err))
		return
	}

	service.mu.Lock()
	if service.scopes[scope] == nil {
		service.scopes[scope] = make(message.Map)
	}
	service.scopes[scope][key] = value
	service.mu.Unlock()

	service.writes <- write{scope: scope, key: key, value: encoded}
}

// accessor is the script-facing read/write surface of one scope.
type accessor struct {
	service *Service
	scope   string
}

// Get implements script.Accessor.
func (a accessor) Get(key string) (interface{}, bool) {
	return a.service.get(a.scope, key)
}

// Put implements script.Accessor.
func (a accessor) Put(key string, value interface{}) {
	a.service.put(a.scope, key, value)
}
