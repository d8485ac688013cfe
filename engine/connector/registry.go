// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package connector

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// SourceParams carries everything a source factory needs.
type SourceParams struct {
	ChannelID   string
	ChannelName string

	// Properties is the transport-specific configuration from the channel
	// body.
	Properties json.RawMessage

	// Receive hands messages to the channel pipeline.
	Receive ReceiveFunc

	// Leases gates poll-driven sources. Nil means polls are never skipped;
	// event-driven sources ignore it.
	Leases LeaseChecker
}

// DestinationParams carries everything a destination factory needs.
type DestinationParams struct {
	ChannelID     string
	ChannelName   string
	ConnectorName string
	MetaDataID    int

	// Properties is the transport-specific configuration from the channel
	// body.
	Properties json.RawMessage
}

// SourceFactory builds a source connector for one channel.
type SourceFactory func(ctx context.Context, log *zap.Logger, params SourceParams) (Source, error)

// DestinationFactory builds a destination connector for one channel
// destination.
type DestinationFactory func(ctx context.Context, log *zap.Logger, params DestinationParams) (Destination, error)

// Registry maps transport names to connector factories. Protocol packs
// register their transports at peer construction; channels reference them by
// name.
type Registry struct {
	mu           sync.RWMutex
	sources      map[string]SourceFactory
	destinations map[string]DestinationFactory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sources:      map[string]SourceFactory{},
		destinations: map[string]DestinationFactory{},
	}
}

// RegisterSource adds a source transport. Registering a name twice is an
// error.
func (registry *Registry) RegisterSource(transport string, factory SourceFactory) error {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	if _, exists := registry.sources[transport]; exists {
		return Error.New("source transport %q already registered", transport)
	}
	registry.sources[transport] = factory
	return nil
}

// RegisterDestination adds a destination transport. Registering a name twice
// is an error.
func (registry *Registry) RegisterDestination(transport string, factory DestinationFactory) error {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	if _, exists := registry.destinations[transport]; exists {
		return Error.New("destination transport %q already registered", transport)
	}
	registry.destinations[transport] = factory
	return nil
}

// NewSource builds a source connector for the named transport.
func (registry *Registry) NewSource(ctx context.Context, log *zap.Logger, transport string, params SourceParams) (Source, error) {
	registry.mu.RLock()
	factory, ok := registry.sources[transport]
	registry.mu.RUnlock()

	if !ok {
		return nil, Error.New("unknown source transport %q", transport)
	}
	return factory(ctx, log, params)
}

// NewDestination builds a destination connector for the named transport.
func (registry *Registry) NewDestination(ctx context.Context, log *zap.Logger, transport string, params DestinationParams) (Destination, error) {
	registry.mu.RLock()
	factory, ok := registry.destinations[transport]
	registry.mu.RUnlock()

	if !ok {
		return nil, Error.New("unknown destination transport %q", transport)
	}
	return factory(ctx, log, params)
}

// SourceTransports returns the registered source transport names sorted.
func (registry *Registry) SourceTransports() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	names := make([]string, 0, len(registry.sources))
	for name := range registry.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DestinationTransports returns the registered destination transport names
// sorted.
func (registry *Registry) DestinationTransports() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	names := make([]string, 0, len(registry.destinations))
	for name := range registry.destinations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
