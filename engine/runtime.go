// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package engine

import (
	"context"
	"sync"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/common/errs2"
	"storj.io/common/sync2"

	"carewire.io/carewire/engine/channel"
	"carewire.io/carewire/engine/connector"
	"carewire.io/carewire/engine/message"
	"carewire.io/carewire/engine/pipeline"
)

// drainPoll is how often a graceful stop re-checks the queue backlog.
const drainPoll = 50 * time.Millisecond

// runtime is the in-memory execution state of one channel on this server.
//
// opMu serializes lifecycle operations on the channel; mu guards the
// fields receive reads and is never held across blocking work. The
// pipeline and its connectors are single-run: a stop tears them down and
// the next start builds fresh instances.
type runtime struct {
	log *zap.Logger
	id  string

	opMu sync.Mutex

	mu     sync.Mutex
	state  State
	gated  bool
	cfg    *channel.Channel
	pipe   *pipeline.Pipeline
	source connector.Source
	dests  map[int]connector.Destination

	sourceCancel context.CancelFunc
	sourceDone   chan struct{}
	queueCancel  context.CancelFunc
	queueDone    chan struct{}
}

func newRuntime(log *zap.Logger, channelID string) *runtime {
	return &runtime{
		log:   log,
		id:    channelID,
		state: StateUndeployed,
	}
}

// State returns the channel's current lifecycle state.
func (rt *runtime) State() State {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.state
}

func (rt *runtime) setState(state State) {
	rt.mu.Lock()
	rt.state = state
	rt.mu.Unlock()
}

func (rt *runtime) setGated(gated bool) {
	rt.mu.Lock()
	rt.gated = gated
	rt.mu.Unlock()
}

func (rt *runtime) setSource(source connector.Source) {
	rt.mu.Lock()
	rt.source = source
	rt.mu.Unlock()
}

// config returns the channel configuration the runtime was built from,
// or nil before the first successful deploy.
func (rt *runtime) config() *channel.Channel {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.cfg
}

// built reports whether the runtime currently holds a pipeline. A stopped
// channel is torn down and needs a rebuild before the next start.
func (rt *runtime) built() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.pipe != nil
}

// replace swaps in freshly built channel plumbing. Callers hold opMu and
// the previous instance is torn down.
func (rt *runtime) replace(cfg *channel.Channel, pipe *pipeline.Pipeline, source connector.Source, dests map[int]connector.Destination) {
	rt.mu.Lock()
	rt.cfg = cfg
	rt.pipe = pipe
	rt.source = source
	rt.dests = dests
	rt.mu.Unlock()
}

// status snapshots the runtime for the channel listing.
func (rt *runtime) status() ChannelStatus {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	status := ChannelStatus{
		ChannelID: rt.id,
		State:     rt.state,
		Gated:     rt.gated,
	}
	if rt.cfg != nil {
		status.Name = rt.cfg.Name
		status.Revision = rt.cfg.Revision
	}
	if rt.pipe != nil {
		status.Backlog = rt.pipe.Backlog()
	}
	return status
}

// receive gates message intake on the lifecycle state and hands accepted
// messages to the pipeline. Shadow-gated channels refuse intake so routed
// sends stay queued at the sender until promotion.
func (rt *runtime) receive(ctx context.Context, raw message.RawMessage) (*message.Response, error) {
	rt.mu.Lock()
	state, gated, pipe := rt.state, rt.gated, rt.pipe
	rt.mu.Unlock()

	if state != StateStarted || pipe == nil {
		return nil, ErrNotRunning.New("channel %s is %s", rt.id, state)
	}
	if gated {
		return nil, ErrShadow.New("channel %s is gated by shadow mode", rt.id)
	}
	return pipe.Receive(ctx, raw)
}

// startQueues launches the pipeline's destination queue workers.
func (rt *runtime) startQueues(ctx context.Context) {
	qctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	rt.mu.Lock()
	rt.queueCancel = cancel
	rt.queueDone = done
	pipe := rt.pipe
	log := rt.log
	rt.mu.Unlock()

	go func() {
		defer close(done)
		if err := pipe.Run(qctx); err != nil && !errs2.IsCanceled(err) {
			log.Error("destination queues stopped", zap.Error(err))
		}
	}()
}

// startSource launches the source connector's accept loop.
func (rt *runtime) startSource(ctx context.Context) {
	sctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	rt.mu.Lock()
	rt.sourceCancel = cancel
	rt.sourceDone = done
	source := rt.source
	log := rt.log
	rt.mu.Unlock()

	go func() {
		defer close(done)
		if err := source.Run(sctx); err != nil && !errs2.IsCanceled(err) {
			log.Error("source connector stopped", zap.Error(err))
		}
	}()
}

// stopSource shuts the source connector down and waits for its loop to
// exit. Closing a source that was built but never started just releases
// it.
func (rt *runtime) stopSource() error {
	rt.mu.Lock()
	cancel, done, source := rt.sourceCancel, rt.sourceDone, rt.source
	rt.sourceCancel, rt.sourceDone, rt.source = nil, nil, nil
	rt.mu.Unlock()

	if source == nil {
		return nil
	}
	if cancel != nil {
		cancel()
	}
	err := source.Close()
	if done != nil {
		<-done
	}
	return err
}

// stopQueues stops the destination queue workers. A graceful stop first
// waits for the backlog to drain until the deadline; entries that did not
// drain stay QUEUED in the store and are recovered on the next start.
func (rt *runtime) stopQueues(ctx context.Context, graceful bool, deadline time.Time) error {
	rt.mu.Lock()
	cancel, done, pipe := rt.queueCancel, rt.queueDone, rt.pipe
	rt.queueCancel, rt.queueDone = nil, nil
	rt.mu.Unlock()

	if pipe == nil {
		return nil
	}

	drained := true
	if graceful {
		drained = rt.drainBacklog(ctx, pipe, deadline)
	}

	var group errs.Group
	group.Add(pipe.Close())
	if done != nil {
		if drained {
			select {
			case <-done:
			case <-time.After(time.Until(deadline)):
				drained = false
			}
		}
		if !drained {
			// Halt semantics: abort in-flight dispatches. The queue
			// records them as errored with the halted code.
			if cancel != nil {
				cancel()
			}
			<-done
		}
	}
	if cancel != nil {
		cancel()
	}
	if graceful && !drained {
		rt.log.Warn("queue backlog not drained before deadline",
			zap.Int("backlog", pipe.Backlog()))
	}
	return group.Err()
}

// drainBacklog polls the queue backlog until it empties or the deadline
// passes.
func (rt *runtime) drainBacklog(ctx context.Context, pipe *pipeline.Pipeline, deadline time.Time) bool {
	for pipe.Backlog() > 0 {
		if time.Now().After(deadline) {
			return false
		}
		if !sync2.Sleep(ctx, drainPoll) {
			return false
		}
	}
	return true
}

// teardown closes the destination connectors and clears the pipeline so
// the next start rebuilds it.
func (rt *runtime) teardown() error {
	rt.mu.Lock()
	dests := rt.dests
	rt.pipe, rt.dests = nil, nil
	rt.mu.Unlock()

	var group errs.Group
	for _, dest := range dests {
		group.Add(dest.Close())
	}
	return group.Err()
}
