// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package eventbus

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
)

// redisChannel is the pub/sub channel shared by all engine nodes.
const redisChannel = "carewire:events"

// RedisBus broadcasts through redis pub/sub. A dedicated subscriber
// connection feeds remote events into the local fan-out; publishing uses
// the shared client and dispatches locally right away.
type RedisBus struct {
	log    *zap.Logger
	client *redis.Client
	pubsub *redis.PubSub
	local  *Local
}

// OpenRedisBus connects to redis at the given URL and subscribes to the
// cluster event channel. The subscription is confirmed before returning,
// so events published afterwards are not missed.
func OpenRedisBus(ctx context.Context, log *zap.Logger, serverID, address string) (*RedisBus, error) {
	opts, err := redis.ParseURL(address)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	client := redis.NewClient(opts)

	pubsub := client.Subscribe(ctx, redisChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, Error.Wrap(errs.Combine(err, pubsub.Close(), client.Close()))
	}

	return &RedisBus{
		log:    log,
		client: client,
		pubsub: pubsub,
		local:  NewLocal(serverID),
	}, nil
}

// Publish implements Bus.
func (bus *RedisBus) Publish(ctx context.Context, event Event) (err error) {
	defer mon.Task()(&ctx)(&err)

	bus.local.stamp(&event)
	payload, err := json.Marshal(event)
	if err != nil {
		return Error.Wrap(err)
	}
	if err := bus.client.Publish(ctx, redisChannel, payload).Err(); err != nil {
		return Error.Wrap(err)
	}
	bus.local.dispatch(event)
	return nil
}

// Subscribe implements Bus.
func (bus *RedisBus) Subscribe(name string) *Subscription {
	return bus.local.Subscribe(name)
}

// Run feeds remote events into the local fan-out until the context is
// canceled.
func (bus *RedisBus) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	messages := bus.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				bus.log.Warn("malformed cluster event", zap.Error(err))
				continue
			}
			if event.ServerID == bus.local.serverID {
				continue
			}
			bus.local.dispatch(event)
		}
	}
}

// Close implements Bus.
func (bus *RedisBus) Close() error {
	return errs.Combine(bus.pubsub.Close(), bus.client.Close(), bus.local.Close())
}
