// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package connector_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"

	"carewire.io/carewire/engine/connector"
	"carewire.io/carewire/engine/message"
)

type nopSource struct{}

func (nopSource) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (nopSource) Close() error { return nil }

type echoDestination struct{}

func (echoDestination) Send(ctx context.Context, req *connector.Request) (*message.Response, error) {
	return message.NewResponse(message.StatusSent, req.Content), nil
}

func (echoDestination) Close() error { return nil }

func TestRegistry(t *testing.T) {
	registry := connector.NewRegistry()

	require.NoError(t, registry.RegisterSource("test-source",
		func(ctx context.Context, log *zap.Logger, params connector.SourceParams) (connector.Source, error) {
			return nopSource{}, nil
		}))
	require.NoError(t, registry.RegisterDestination("test-dest",
		func(ctx context.Context, log *zap.Logger, params connector.DestinationParams) (connector.Destination, error) {
			return echoDestination{}, nil
		}))

	err := registry.RegisterSource("test-source", nil)
	require.Error(t, err)
	err = registry.RegisterDestination("test-dest", nil)
	require.Error(t, err)

	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	log := zaptest.NewLogger(t)

	source, err := registry.NewSource(ctx, log, "test-source", connector.SourceParams{ChannelID: "ch"})
	require.NoError(t, err)
	require.NoError(t, source.Close())

	dest, err := registry.NewDestination(ctx, log, "test-dest", connector.DestinationParams{ChannelID: "ch"})
	require.NoError(t, err)
	require.NoError(t, dest.Close())

	_, err = registry.NewSource(ctx, log, "missing", connector.SourceParams{})
	require.Error(t, err)
	_, err = registry.NewDestination(ctx, log, "missing", connector.DestinationParams{})
	require.Error(t, err)

	require.Equal(t, []string{"test-source"}, registry.SourceTransports())
	require.Equal(t, []string{"test-dest"}, registry.DestinationTransports())
}

func TestRequestLookup(t *testing.T) {
	req := &connector.Request{
		SourceMap:    message.Map{"shared": "source", "onlySource": 1},
		ChannelMap:   message.Map{"shared": "channel"},
		ConnectorMap: message.Map{"local": true},
	}

	v, ok := req.Lookup("shared")
	require.True(t, ok)
	require.Equal(t, "channel", v)

	v, ok = req.Lookup("onlySource")
	require.True(t, ok)
	require.Equal(t, 1, v)

	v, ok = req.Lookup("local")
	require.True(t, ok)
	require.Equal(t, true, v)

	_, ok = req.Lookup("missing")
	require.False(t, ok)
}

func TestExpandTemplate(t *testing.T) {
	req := &connector.Request{
		ChannelID:  "adt-intake",
		MessageID:  77,
		SourceMap:  message.Map{"facility": "west"},
		ChannelMap: message.Map{"mrn": "P9"},
	}

	out, err := connector.ExpandTemplate("${channelId}/${facility}/${mrn}-${messageId}.hl7", req)
	require.NoError(t, err)
	require.Equal(t, "adt-intake/west/P9-77.hl7", out)

	_, err = connector.ExpandTemplate("${nope}", req)
	require.Error(t, err)

	out, err = connector.ExpandTemplate("no placeholders", req)
	require.NoError(t, err)
	require.Equal(t, "no placeholders", out)
}

type fixedLease struct {
	mu   sync.Mutex
	held bool
}

func (lease *fixedLease) Held(string) bool {
	lease.mu.Lock()
	defer lease.mu.Unlock()
	return lease.held
}

func (lease *fixedLease) set(held bool) {
	lease.mu.Lock()
	defer lease.mu.Unlock()
	lease.held = held
}

func TestPollerSkipsWithoutLease(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	lease := &fixedLease{}
	var polls atomic.Int64

	poller := connector.NewPoller(zaptest.NewLogger(t), "chan-1", time.Hour, lease,
		func(ctx context.Context) error {
			polls.Add(1)
			return nil
		})

	ctx.Go(func() error { return poller.Run(ctx) })
	defer ctx.Check(poller.Close)

	// every execution before the lease is held gets skipped
	poller.TriggerWait()
	require.EqualValues(t, 0, polls.Load())

	lease.set(true)
	poller.TriggerWait()
	require.EqualValues(t, 1, polls.Load())

	lease.set(false)
	poller.TriggerWait()
	require.EqualValues(t, 1, polls.Load())
}

func TestPollerNilLeasePollsAlways(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	var polls atomic.Int64
	poller := connector.NewPoller(zaptest.NewLogger(t), "chan-1", time.Hour, nil,
		func(ctx context.Context) error {
			polls.Add(1)
			return nil
		})

	ctx.Go(func() error { return poller.Run(ctx) })
	defer ctx.Check(poller.Close)

	poller.TriggerWait()
	require.GreaterOrEqual(t, polls.Load(), int64(1))
}
