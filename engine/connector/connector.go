// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

// Package connector defines the source and destination driver contracts and
// the transport registry the engine builds connectors from.
//
// Connectors are capability structs instead of an open hierarchy: a source
// implements Run and Close and hands messages to an injected receive
// function, a destination implements Send and Close. Poll-driven sources
// embed a Poller, which skips polls while another server holds the channel's
// polling lease.
package connector

import (
	"context"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"

	"carewire.io/carewire/engine/message"
)

var (
	mon = monkit.Package()

	// Error is the connector package error class.
	Error = errs.Class("connector")

	// ErrTransport wraps connector I/O failures. Transport errors are
	// transient: the destination queue retries them.
	ErrTransport = errs.Class("transport")
)

// ReceiveFunc hands one raw message to the channel pipeline. It blocks until
// source-side processing finishes and returns the source response selected
// by the channel configuration.
type ReceiveFunc func(ctx context.Context, raw message.RawMessage) (*message.Response, error)

// Source is a running source connector. Poll-driven sources poll only while
// this server holds the channel's lease; event-driven sources run an accept
// loop for the lifetime of the context.
type Source interface {
	// Run produces messages until the context is canceled.
	Run(ctx context.Context) error
	// Close releases connector resources and stops Run.
	Close() error
}

// Destination delivers encoded messages to an external system.
type Destination interface {
	// Send delivers one message and returns the remote response. I/O
	// failures are reported as ErrTransport so the queue retries them;
	// any other error is permanent.
	Send(ctx context.Context, req *Request) (*message.Response, error)
	// Close releases connector resources.
	Close() error
}

// Request is one dispatch handed to a destination connector.
type Request struct {
	ChannelID  string
	MessageID  int64
	MetaDataID int

	// Content is the encoded message body with attachments reinserted.
	Content string

	// Variable maps give address templates their context. Destinations
	// read them and must not modify them.
	SourceMap    message.Map
	ChannelMap   message.Map
	ConnectorMap message.Map
}

// Lookup returns the first value found under key across the connector,
// channel and source maps, matching the resolution order scripts see.
func (req *Request) Lookup(key string) (interface{}, bool) {
	for _, m := range []message.Map{req.ConnectorMap, req.ChannelMap, req.SourceMap} {
		if v, ok := m[key]; ok {
			return v, true
		}
	}
	return nil, false
}
