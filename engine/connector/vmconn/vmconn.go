// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

// Package vmconn implements the in-process channel transports: a channel
// reader source and a channel writer destination that route messages between
// deployed channels.
//
// The writer names its target by channel id and resolves it through a Router
// at dispatch time, so channels never hold references to each other and
// deploy order does not matter.
package vmconn

import (
	"context"
	"encoding/json"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"carewire.io/carewire/engine/connector"
	"carewire.io/carewire/engine/message"
)

var (
	mon = monkit.Package()

	// Error is the vmconn error class.
	Error = errs.Class("vmconn")
)

// Transport names.
const (
	ReaderTransport = "channel-reader"
	WriterTransport = "channel-writer"
)

// Source map keys stamped on routed messages.
const (
	SourceChannelIDKey = "sourceChannelId"
	SourceMessageIDKey = "sourceMessageId"
)

// Router hands a raw message to another deployed channel's pipeline. The
// engine implements it; routing to a channel that is not running must fail
// with an error the queue can retry.
type Router interface {
	Route(ctx context.Context, channelID string, raw message.RawMessage) (*message.Response, error)
}

// Reader is a passive source: its messages arrive through the engine's
// router rather than an external endpoint, so running it only parks until
// shutdown.
type Reader struct {
	done chan struct{}
}

// NewReader constructs a channel reader source.
func NewReader(log *zap.Logger, params connector.SourceParams) (*Reader, error) {
	return &Reader{done: make(chan struct{})}, nil
}

// Run blocks until the context is canceled or the reader is closed.
func (reader *Reader) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-reader.done:
		return nil
	}
}

// Close stops Run.
func (reader *Reader) Close() error {
	select {
	case <-reader.done:
	default:
		close(reader.done)
	}
	return nil
}

// WriterConfig is the channel-writer transport configuration carried in the
// channel body.
type WriterConfig struct {
	// TargetChannelID is the channel the messages are routed to.
	TargetChannelID string `json:"targetChannelId"`
}

// Writer is a destination that routes messages to another channel.
type Writer struct {
	log    *zap.Logger
	config WriterConfig
	router Router

	channelID string
}

// NewWriter constructs a channel writer destination.
func NewWriter(log *zap.Logger, params connector.DestinationParams, router Router) (*Writer, error) {
	var config WriterConfig
	if len(params.Properties) > 0 {
		if err := json.Unmarshal(params.Properties, &config); err != nil {
			return nil, Error.New("invalid channel-writer properties: %w", err)
		}
	}
	if config.TargetChannelID == "" {
		return nil, Error.New("target channel not configured")
	}
	if router == nil {
		return nil, Error.New("router not configured")
	}
	return &Writer{
		log:       log,
		config:    config,
		router:    router,
		channelID: params.ChannelID,
	}, nil
}

// Send routes the message to the target channel and adopts its source
// response. Routing failures are transport errors: the target may be mid
// redeploy.
func (writer *Writer) Send(ctx context.Context, req *connector.Request) (_ *message.Response, err error) {
	defer mon.Task()(&ctx)(&err)

	resp, err := writer.router.Route(ctx, writer.config.TargetChannelID, message.RawMessage{
		Raw: []byte(req.Content),
		SourceMap: message.Map{
			SourceChannelIDKey: writer.channelID,
			SourceMessageIDKey: req.MessageID,
		},
	})
	if err != nil {
		return nil, connector.ErrTransport.Wrap(err)
	}
	if resp == nil {
		return message.NewResponse(message.StatusSent, ""), nil
	}
	return resp, nil
}

// Close implements connector.Destination.
func (writer *Writer) Close() error { return nil }

// Register adds the channel transports to the registry, binding writers to
// the given router.
func Register(registry *connector.Registry, router Router) error {
	return errs.Combine(
		registry.RegisterSource(ReaderTransport,
			func(ctx context.Context, log *zap.Logger, params connector.SourceParams) (connector.Source, error) {
				return NewReader(log, params)
			}),
		registry.RegisterDestination(WriterTransport,
			func(ctx context.Context, log *zap.Logger, params connector.DestinationParams) (connector.Destination, error) {
				return NewWriter(log, params, router)
			}),
	)
}
