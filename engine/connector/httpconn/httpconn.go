// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

// Package httpconn implements the HTTP dispatcher destination.
package httpconn

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"carewire.io/carewire/engine/connector"
	"carewire.io/carewire/engine/message"
)

var (
	mon = monkit.Package()

	// Error is the httpconn error class.
	Error = errs.Class("httpconn")
)

// DispatcherTransport is the registry name of the HTTP destination.
const DispatcherTransport = "http-dispatcher"

// maxResponseBody caps how much of a remote response is captured as
// RESPONSE content.
const maxResponseBody = 10 << 20

// DispatcherConfig is the http-dispatcher transport configuration carried in
// the channel body.
type DispatcherConfig struct {
	// URL is a template; ${key} placeholders resolve against the message
	// maps.
	URL string `json:"url"`
	// Method defaults to POST.
	Method string `json:"method"`
	// ContentType defaults to text/plain.
	ContentType string            `json:"contentType"`
	Headers     map[string]string `json:"headers"`
	// Timeout bounds one dispatch including reading the response; default
	// 30s.
	Timeout time.Duration `json:"timeout"`
}

// Dispatcher is a destination that POSTs messages over HTTP. The status code
// decides the outcome: 2xx is SENT with the body captured as the response,
// 408, 429 and 5xx are transport errors the queue retries, anything else is
// a permanent error.
type Dispatcher struct {
	log    *zap.Logger
	config DispatcherConfig
	client *http.Client
}

// NewDispatcher builds the destination on the default transport.
func NewDispatcher(log *zap.Logger, params connector.DestinationParams) (*Dispatcher, error) {
	return NewDispatcherWithTransport(log, params, nil)
}

// NewDispatcherWithTransport overrides the round tripper; protocol packs
// wrap transports for mutual TLS and auth.
func NewDispatcherWithTransport(log *zap.Logger, params connector.DestinationParams, rt http.RoundTripper) (*Dispatcher, error) {
	var config DispatcherConfig
	if len(params.Properties) > 0 {
		if err := json.Unmarshal(params.Properties, &config); err != nil {
			return nil, Error.New("invalid http-dispatcher properties: %w", err)
		}
	}
	if config.URL == "" {
		return nil, Error.New("url not configured")
	}
	if config.Method == "" {
		config.Method = http.MethodPost
	}
	if config.ContentType == "" {
		config.ContentType = "text/plain; charset=utf-8"
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	return &Dispatcher{
		log:    log,
		config: config,
		client: &http.Client{Transport: rt},
	}, nil
}

// Send dispatches one message and captures the remote response.
func (dispatcher *Dispatcher) Send(ctx context.Context, req *connector.Request) (_ *message.Response, err error) {
	defer mon.Task()(&ctx)(&err)

	url, err := connector.ExpandTemplate(dispatcher.config.URL, req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, dispatcher.config.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, dispatcher.config.Method, url, strings.NewReader(req.Content))
	if err != nil {
		return nil, Error.Wrap(err)
	}
	httpReq.Header.Set("Content-Type", dispatcher.config.ContentType)
	for name, value := range dispatcher.config.Headers {
		httpReq.Header.Set(name, value)
	}

	httpResp, err := dispatcher.client.Do(httpReq)
	if err != nil {
		return nil, connector.ErrTransport.Wrap(err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return nil, connector.ErrTransport.Wrap(err)
	}

	mon.Event("http_dispatch", monkit.NewSeriesTag("code", httpResp.Status))

	switch {
	case httpResp.StatusCode >= 200 && httpResp.StatusCode < 300:
		resp := message.NewResponse(message.StatusSent, string(body))
		resp.StatusMessage = httpResp.Status
		return resp, nil

	case httpResp.StatusCode == http.StatusRequestTimeout,
		httpResp.StatusCode == http.StatusTooManyRequests,
		httpResp.StatusCode >= 500:
		return nil, connector.ErrTransport.New("%s %s responded %s", dispatcher.config.Method, url, httpResp.Status)

	default:
		resp := message.ErrorResponse(httpResp.Status, nil)
		resp.Message = string(body)
		return resp, nil
	}
}

// Close releases idle connections.
func (dispatcher *Dispatcher) Close() error {
	dispatcher.client.CloseIdleConnections()
	return nil
}

// Register adds the HTTP transports to the registry.
func Register(registry *connector.Registry) error {
	return registry.RegisterDestination(DispatcherTransport,
		func(ctx context.Context, log *zap.Logger, params connector.DestinationParams) (connector.Destination, error) {
			return NewDispatcher(log, params)
		})
}
