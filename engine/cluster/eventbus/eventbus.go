// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

// Package eventbus broadcasts engine events across the cluster.
//
// Three backends implement the same Bus contract: Local dispatches in
// process, DBBus appends to a shared table and polls it, RedisBus rides
// redis pub/sub. Non-local delivery is at-least-once; subscribers must
// tolerate duplicates. Events from one producer arrive in publish order,
// there is no order across producers.
package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
)

var (
	mon = monkit.Package()

	// Error is the eventbus error class.
	Error = errs.Class("eventbus")
)

// Event is one broadcast message. Data is opaque to the bus.
type Event struct {
	ID        int64     `json:"id,omitempty"`
	Channel   string    `json:"channel"`
	Data      []byte    `json:"data,omitempty"`
	ServerID  string    `json:"serverId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Bus broadcasts events to every subscriber in the cluster.
type Bus interface {
	// Publish broadcasts an event. The bus stamps origin and time.
	Publish(ctx context.Context, event Event) error
	// Subscribe registers a named subscriber receiving future events.
	Subscribe(name string) *Subscription
	// Close shuts the bus down and closes all subscriptions.
	Close() error
}

// Subscription is one subscriber's event feed. Slow subscribers lose
// events once their buffer fills up.
type Subscription struct {
	name   string
	events chan Event
	once   sync.Once
	cancel func(*Subscription)
}

// Name returns the subscriber name.
func (sub *Subscription) Name() string { return sub.name }

// Events returns the feed channel. It is closed when the subscription
// or the bus closes.
func (sub *Subscription) Events() <-chan Event { return sub.events }

// Close unregisters the subscriber.
func (sub *Subscription) Close() {
	sub.once.Do(func() { sub.cancel(sub) })
}

// Local is the in-process Bus. It is also the dispatch fan-out used by
// the cluster-wide backends.
type Local struct {
	serverID string
	buffer   int

	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

// NewLocal constructs an in-process bus.
func NewLocal(serverID string) *Local {
	return &Local{
		serverID: serverID,
		buffer:   256,
		subs:     make(map[*Subscription]struct{}),
	}
}

// Publish implements Bus.
func (local *Local) Publish(ctx context.Context, event Event) (err error) {
	defer mon.Task()(&ctx)(&err)

	local.stamp(&event)
	local.dispatch(event)
	return nil
}

// stamp fills in the origin fields.
func (local *Local) stamp(event *Event) {
	event.ServerID = local.serverID
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
}

// dispatch delivers an event to every subscriber without blocking the
// producer.
func (local *Local) dispatch(event Event) {
	local.mu.Lock()
	defer local.mu.Unlock()
	if local.closed {
		return
	}
	for sub := range local.subs {
		select {
		case sub.events <- event:
		default:
			mon.Counter("eventbus_dropped").Inc(1)
		}
	}
}

// Subscribe implements Bus.
func (local *Local) Subscribe(name string) *Subscription {
	sub := &Subscription{
		name:   name,
		events: make(chan Event, local.buffer),
		cancel: local.unsubscribe,
	}

	local.mu.Lock()
	defer local.mu.Unlock()
	if local.closed {
		close(sub.events)
		return sub
	}
	local.subs[sub] = struct{}{}
	return sub
}

func (local *Local) unsubscribe(sub *Subscription) {
	local.mu.Lock()
	defer local.mu.Unlock()
	if _, ok := local.subs[sub]; ok {
		delete(local.subs, sub)
		close(sub.events)
	}
}

// Close implements Bus.
func (local *Local) Close() error {
	local.mu.Lock()
	defer local.mu.Unlock()
	if local.closed {
		return nil
	}
	local.closed = true
	for sub := range local.subs {
		delete(local.subs, sub)
		close(sub.events)
	}
	return nil
}
