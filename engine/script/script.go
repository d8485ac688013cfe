// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

// Package script defines the bridge between the engine and the user script
// runtime.
//
// The engine never interprets script sources itself; it hands them to an
// Engine implementation together with a Scope holding the message DOM and
// the variable maps. Embedding a particular scripting language stays outside
// the core: FuncEngine executes scripts registered as Go functions, which
// covers native transformation steps and tests.
package script

import (
	"context"

	"github.com/beevik/etree"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"carewire.io/carewire/engine/message"
)

var (
	// Error is the script package error class.
	Error = errs.Class("script")

	// ErrScript wraps user script failures, including timeouts.
	ErrScript = errs.Class("script execution")
)

// Engine executes user scripts.
type Engine interface {
	// ExecuteFilter runs a filter script. An empty source accepts the
	// message.
	ExecuteFilter(ctx context.Context, name, source string, scope *Scope) (bool, error)
	// ExecuteTransformer runs a transformer script, mutating scope.Msg.
	ExecuteTransformer(ctx context.Context, name, source string, scope *Scope) error
	// ExecuteResponseTransformer runs a response transformer script.
	ExecuteResponseTransformer(ctx context.Context, name, source string, scope *Scope) error
	// ExecuteScript runs a channel-level script (deploy, undeploy,
	// preprocessor, postprocessor) and returns its result.
	ExecuteScript(ctx context.Context, name, source string, scope *Scope) (interface{}, error)
}

// Scope carries everything a script may touch.
type Scope struct {
	// Msg is the mutable message DOM; MsgRaw the serialized form it was
	// built from.
	Msg    *etree.Document
	MsgRaw string

	SourceMap    ReadOnly
	ChannelMap   *FallbackMap
	ConnectorMap message.Map
	ResponseMap  message.Map

	GlobalMap        Accessor
	GlobalChannelMap Accessor
	ConfigurationMap Accessor

	Logger        *zap.Logger
	ChannelID     string
	ChannelName   string
	ConnectorName string
	MetaDataID    int

	// Response is populated for response transformers.
	Response *message.Response
}

// Accessor is the read/write surface scripts get for the shared maps.
type Accessor interface {
	Get(key string) (interface{}, bool)
	Put(key string, value interface{})
}

// ReadOnly exposes a map without a write surface.
type ReadOnly struct {
	m message.Map
}

// NewReadOnly wraps m read-only.
func NewReadOnly(m message.Map) ReadOnly {
	return ReadOnly{m: m}
}

// Get returns the value stored under key.
func (r ReadOnly) Get(key string) (interface{}, bool) {
	v, ok := r.m[key]
	return v, ok
}

// Keys returns the map keys.
func (r ReadOnly) Keys() []string {
	keys := make([]string, 0, len(r.m))
	for k := range r.m {
		keys = append(keys, k)
	}
	return keys
}

// FallbackMap reads from the primary map, falling back to the secondary map
// on miss. Writes always land in the primary; the fallback is part of the
// documented contract for channel map reads.
type FallbackMap struct {
	Primary  message.Map
	Fallback ReadOnly
}

// Get returns the value under key from the primary map, or the fallback.
func (m *FallbackMap) Get(key string) (interface{}, bool) {
	if v, ok := m.Primary[key]; ok {
		return v, true
	}
	return m.Fallback.Get(key)
}

// Put stores the value in the primary map.
func (m *FallbackMap) Put(key string, value interface{}) {
	m.Primary[key] = value
}

// ResponseFromResult converts a script return value into a response per the
// documented conventions: *Response passes through, a Status becomes an
// empty response with that status, a string becomes a SENT response with the
// string as payload, nil becomes SENT with no payload.
func ResponseFromResult(result interface{}) (*message.Response, error) {
	switch v := result.(type) {
	case nil:
		return message.NewResponse(message.StatusSent, ""), nil
	case *message.Response:
		return v, nil
	case message.Response:
		return &v, nil
	case message.Status:
		return message.NewResponse(v, ""), nil
	case string:
		return message.NewResponse(message.StatusSent, v), nil
	default:
		return nil, Error.New("unsupported script result type %T", result)
	}
}
