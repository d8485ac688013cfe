// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package vmconn_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"

	"carewire.io/carewire/engine/connector"
	"carewire.io/carewire/engine/connector/vmconn"
	"carewire.io/carewire/engine/message"
)

type fakeRouter struct {
	gotChannel string
	gotRaw     message.RawMessage
	resp       *message.Response
	err        error
}

func (router *fakeRouter) Route(ctx context.Context, channelID string, raw message.RawMessage) (*message.Response, error) {
	router.gotChannel = channelID
	router.gotRaw = raw
	return router.resp, router.err
}

func writerParams(t *testing.T, target string) connector.DestinationParams {
	t.Helper()
	props, err := json.Marshal(vmconn.WriterConfig{TargetChannelID: target})
	require.NoError(t, err)
	return connector.DestinationParams{
		ChannelID:  "upstream",
		MetaDataID: 1,
		Properties: props,
	}
}

func TestWriterRoutes(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	router := &fakeRouter{resp: message.NewResponse(message.StatusSent, "ok")}
	writer, err := vmconn.NewWriter(zaptest.NewLogger(t), writerParams(t, "downstream"), router)
	require.NoError(t, err)
	defer ctx.Check(writer.Close)

	resp, err := writer.Send(ctx, &connector.Request{
		ChannelID: "upstream",
		MessageID: 5,
		Content:   "payload",
	})
	require.NoError(t, err)
	require.Equal(t, message.StatusSent, resp.Status)
	require.Equal(t, "ok", resp.Message)

	require.Equal(t, "downstream", router.gotChannel)
	require.Equal(t, "payload", string(router.gotRaw.Raw))
	require.Equal(t, "upstream", router.gotRaw.SourceMap[vmconn.SourceChannelIDKey])
	require.EqualValues(t, 5, router.gotRaw.SourceMap[vmconn.SourceMessageIDKey])
}

func TestWriterRouteFailureIsRetryable(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	router := &fakeRouter{err: vmconn.Error.New("channel not running")}
	writer, err := vmconn.NewWriter(zaptest.NewLogger(t), writerParams(t, "downstream"), router)
	require.NoError(t, err)
	defer ctx.Check(writer.Close)

	_, err = writer.Send(ctx, &connector.Request{MessageID: 5, Content: "payload"})
	require.Error(t, err)
	require.True(t, connector.ErrTransport.Has(err))
}

func TestWriterValidation(t *testing.T) {
	log := zaptest.NewLogger(t)

	_, err := vmconn.NewWriter(log, connector.DestinationParams{}, &fakeRouter{})
	require.Error(t, err)

	_, err = vmconn.NewWriter(log, writerParams(t, "downstream"), nil)
	require.Error(t, err)
}

func TestReaderParksUntilClose(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	reader, err := vmconn.NewReader(zaptest.NewLogger(t), connector.SourceParams{ChannelID: "downstream"})
	require.NoError(t, err)

	ctx.Go(func() error { return reader.Run(ctx) })
	ctx.Check(reader.Close)
	// double close is fine
	ctx.Check(reader.Close)
}

func TestRegister(t *testing.T) {
	registry := connector.NewRegistry()
	require.NoError(t, vmconn.Register(registry, &fakeRouter{}))
	require.Equal(t, []string{vmconn.ReaderTransport}, registry.SourceTransports())
	require.Equal(t, []string{vmconn.WriterTransport}, registry.DestinationTransports())
}
