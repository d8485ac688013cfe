// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

// Package testsuite runs the conformance tests shared by all event bus
// backends.
package testsuite

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"storj.io/common/testcontext"

	"carewire.io/carewire/engine/cluster/eventbus"
)

// Fabric returns a bus joined to the shared broadcast fabric as the
// given server. Backends without cross-process fabric may return the
// same bus for every server id. The fabric owns bus lifecycle.
type Fabric func(t *testing.T, serverID string) eventbus.Bus

// RunTests runs the conformance suite against a fabric.
func RunTests(t *testing.T, fabric Fabric) {
	t.Run("SelfDelivery", func(t *testing.T) { testSelfDelivery(t, fabric) })
	t.Run("FanOut", func(t *testing.T) { testFanOut(t, fabric) })
	t.Run("CrossServer", func(t *testing.T) { testCrossServer(t, fabric) })
	t.Run("PublishOrder", func(t *testing.T) { testPublishOrder(t, fabric) })
	t.Run("SubscriptionClose", func(t *testing.T) { testSubscriptionClose(t, fabric) })
}

// receiveOn waits for the next event on the given logical channel,
// skipping events from unrelated tests sharing the fabric.
func receiveOn(t *testing.T, sub *eventbus.Subscription, channel string) eventbus.Event {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case event, ok := <-sub.Events():
			require.True(t, ok, "subscription closed while waiting for %q", channel)
			if event.Channel == channel {
				return event
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event on %q", channel)
		}
	}
}

func testSelfDelivery(t *testing.T, fabric Fabric) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	bus := fabric(t, "srv-self")
	sub := bus.Subscribe("self")
	defer sub.Close()

	require.NoError(t, bus.Publish(ctx, eventbus.Event{
		Channel: "suite.self",
		Data:    []byte("payload"),
	}))

	event := receiveOn(t, sub, "suite.self")
	require.Equal(t, []byte("payload"), event.Data)
	require.NotEmpty(t, event.ServerID)
	require.False(t, event.CreatedAt.IsZero())
}

func testFanOut(t *testing.T, fabric Fabric) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	bus := fabric(t, "srv-fanout")
	first := bus.Subscribe("first")
	defer first.Close()
	second := bus.Subscribe("second")
	defer second.Close()

	require.NoError(t, bus.Publish(ctx, eventbus.Event{Channel: "suite.fanout"}))

	receiveOn(t, first, "suite.fanout")
	receiveOn(t, second, "suite.fanout")
}

func testCrossServer(t *testing.T, fabric Fabric) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	publisher := fabric(t, "srv-cross-a")
	receiver := fabric(t, "srv-cross-b")

	sub := receiver.Subscribe("cross")
	defer sub.Close()

	require.NoError(t, publisher.Publish(ctx, eventbus.Event{
		Channel: "suite.cross",
		Data:    []byte("hello"),
	}))

	event := receiveOn(t, sub, "suite.cross")
	require.Equal(t, []byte("hello"), event.Data)
	require.Equal(t, "srv-cross-a", event.ServerID)
}

func testPublishOrder(t *testing.T, fabric Fabric) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	publisher := fabric(t, "srv-order-a")
	receiver := fabric(t, "srv-order-b")

	sub := receiver.Subscribe("order")
	defer sub.Close()

	for i := byte(0); i < 5; i++ {
		require.NoError(t, publisher.Publish(ctx, eventbus.Event{
			Channel: "suite.order",
			Data:    []byte{i},
		}))
	}

	for i := byte(0); i < 5; i++ {
		event := receiveOn(t, sub, "suite.order")
		require.Equal(t, []byte{i}, event.Data)
	}
}

func testSubscriptionClose(t *testing.T, fabric Fabric) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	bus := fabric(t, "srv-subclose")
	sub := bus.Subscribe("closing")
	sub.Close()
	// closing again is a no-op
	sub.Close()

	drained := false
	for !drained {
		select {
		case _, ok := <-sub.Events():
			drained = !ok
		case <-time.After(5 * time.Second):
			t.Fatal("subscription channel not closed")
		}
	}

	// publishing after a subscriber left still works
	require.NoError(t, bus.Publish(ctx, eventbus.Event{Channel: "suite.subclose"}))
}
