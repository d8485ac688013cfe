// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package engine

import (
	"context"
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"carewire.io/carewire/engine/attachment"
	"carewire.io/carewire/engine/channel"
	"carewire.io/carewire/engine/cluster"
	"carewire.io/carewire/engine/cluster/eventbus"
	"carewire.io/carewire/engine/cluster/leases"
	"carewire.io/carewire/engine/connector"
	"carewire.io/carewire/engine/datatype"
	"carewire.io/carewire/engine/events"
	"carewire.io/carewire/engine/globalmap"
	"carewire.io/carewire/engine/message"
	"carewire.io/carewire/engine/messagestore"
	"carewire.io/carewire/engine/pipeline"
	"carewire.io/carewire/engine/script"
	"carewire.io/carewire/engine/sequence"
)

var (
	mon = monkit.Package()

	// Error is the engine package error class.
	Error = errs.Class("engine")

	// ErrNotDeployed is returned for operations on channels this server
	// has not deployed.
	ErrNotDeployed = errs.Class("not deployed")

	// ErrNotRunning is returned when a message is offered to a channel
	// that is not started.
	ErrNotRunning = errs.Class("not running")

	// ErrShadow is returned when shadow mode refuses message intake.
	ErrShadow = errs.Class("shadow")
)

// EventChannelState is the bus channel announcing lifecycle transitions.
const EventChannelState = "channel.state"

// StateEvent is the payload of EventChannelState events.
type StateEvent struct {
	ChannelID string `json:"channelId"`
	State     string `json:"state"`
}

// Audit event names recorded by the controller.
const (
	auditDeploy   = "channel.deploy"
	auditUndeploy = "channel.undeploy"
	auditStart    = "channel.start"
	auditStop     = "channel.stop"
	auditPause    = "channel.pause"
	auditResume   = "channel.resume"
	auditHalt     = "channel.halt"
	auditPromote  = "channel.promote"
	auditCutover  = "engine.cutover"
	auditShadow   = "engine.shadow"
)

// ControllerOptions carries the collaborators of the channel controller.
type ControllerOptions struct {
	DB         DB
	Store      *messagestore.Store
	Sequence   *sequence.Allocator
	Scripts    script.Engine
	DataTypes  *datatype.Registry
	Connectors *connector.Registry
	Maps       *globalmap.Service
	Leases     *leases.Manager
	Bus        eventbus.Bus
	Events     *events.Service
	Shadow     *Shadow

	ServerID string

	// DeployOnStart makes Run deploy and start every enabled channel.
	DeployOnStart bool

	// StopGrace is how long a graceful stop waits for the destination
	// queues to drain before halting them.
	StopGrace time.Duration
}

// Controller owns the channel lifecycle on this server: it builds
// connector and pipeline instances from stored configurations, drives the
// per-channel state machine, and records every transition as an audit
// event and a bus broadcast. It is also the router channel-writer
// destinations deliver through.
type Controller struct {
	log *zap.Logger

	db         DB
	store      *messagestore.Store
	sequence   *sequence.Allocator
	scripts    script.Engine
	dataTypes  *datatype.Registry
	connectors *connector.Registry
	maps       *globalmap.Service
	leases     *leases.Manager
	bus        eventbus.Bus
	events     *events.Service
	shadow     *Shadow

	serverID      string
	deployOnStart bool
	stopGrace     time.Duration

	// runCtx parents the channel task goroutines. It outlives individual
	// admin requests and is canceled in Close.
	runCtx    context.Context
	runCancel context.CancelFunc

	mu       sync.Mutex
	runtimes map[string]*runtime
}

// NewController constructs the channel controller.
func NewController(log *zap.Logger, opts ControllerOptions) *Controller {
	stopGrace := opts.StopGrace
	if stopGrace <= 0 {
		stopGrace = 30 * time.Second
	}
	runCtx, runCancel := context.WithCancel(context.Background())
	return &Controller{
		log: log,

		db:         opts.DB,
		store:      opts.Store,
		sequence:   opts.Sequence,
		scripts:    opts.Scripts,
		dataTypes:  opts.DataTypes,
		connectors: opts.Connectors,
		maps:       opts.Maps,
		leases:     opts.Leases,
		bus:        opts.Bus,
		events:     opts.Events,
		shadow:     opts.Shadow,

		serverID:      opts.ServerID,
		deployOnStart: opts.DeployOnStart,
		stopGrace:     stopGrace,

		runCtx:    runCtx,
		runCancel: runCancel,

		runtimes: make(map[string]*runtime),
	}
}

// Run deploys the stored channels when configured to, then keeps the
// channel tasks alive until shutdown and stops every channel gracefully.
func (controller *Controller) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	if controller.deployOnStart {
		if err := controller.DeployAll(ctx); err != nil {
			controller.log.Warn("startup deploy incomplete", zap.Error(err))
		}
	}

	<-ctx.Done()

	// Stop channels before the process unwinds so the queues can drain.
	controller.stopAll(context.WithoutCancel(ctx))
	return nil
}

// Close stops every channel still running and cancels the channel tasks.
func (controller *Controller) Close() error {
	controller.stopAll(context.Background())
	controller.runCancel()
	return nil
}

// Deploy validates cfg, provisions its message tables and registers the
// channel on this server, leaving it stopped. Deploying a channel that is
// already deployed replaces it: the running instance stops first, the
// stored messages are kept, and a previously running channel is started
// again.
func (controller *Controller) Deploy(ctx context.Context, cfg *channel.Channel) (err error) {
	defer mon.Task()(&ctx)(&err)

	if cfg == nil {
		return Error.New("nil channel configuration")
	}
	if err := cfg.Validate(); err != nil {
		controller.audit(ctx, auditDeploy, cfg.ID, err)
		return err
	}

	rt := controller.ensure(cfg.ID)
	rt.opMu.Lock()
	defer rt.opMu.Unlock()

	state := rt.State()
	wasRunning := state == StateStarted || state == StatePaused
	if err := controller.stopLocked(ctx, rt, true); err != nil {
		rt.log.Warn("stop before redeploy failed", zap.Error(err))
	}

	if err := controller.deployLocked(ctx, rt, cfg); err != nil {
		rt.setState(StateUndeployed)
		controller.unregister(ctx, cfg.ID)
		controller.audit(ctx, auditDeploy, cfg.ID, err)
		return err
	}
	controller.audit(ctx, auditDeploy, cfg.ID, nil)
	controller.announce(ctx, cfg.ID, StateStopped)

	if !wasRunning {
		return nil
	}
	err = controller.startLocked(ctx, rt)
	controller.audit(ctx, auditStart, cfg.ID, err)
	if err != nil {
		return err
	}
	controller.announce(ctx, cfg.ID, StateStarted)
	return nil
}

// Undeploy stops the channel and removes it from this server. The stored
// messages and the channel's tables are kept.
func (controller *Controller) Undeploy(ctx context.Context, channelID string) (err error) {
	defer mon.Task()(&ctx)(&err)

	rt := controller.lookup(channelID)
	if rt == nil || rt.State() == StateUndeployed {
		return ErrNotDeployed.New("channel %s", channelID)
	}
	rt.opMu.Lock()
	defer rt.opMu.Unlock()

	err = controller.undeployLocked(ctx, rt)
	controller.audit(ctx, auditUndeploy, channelID, err)
	if err != nil {
		return err
	}
	controller.announce(ctx, channelID, StateUndeployed)
	return nil
}

// Start brings a deployed channel up: the destination queues recover
// their backlog and run, and the source connector starts accepting unless
// shadow mode gates it. Starting a started channel is a no-op; starting a
// paused channel resumes it.
func (controller *Controller) Start(ctx context.Context, channelID string) (err error) {
	defer mon.Task()(&ctx)(&err)

	rt := controller.lookup(channelID)
	if rt == nil {
		return ErrNotDeployed.New("channel %s", channelID)
	}
	rt.opMu.Lock()
	defer rt.opMu.Unlock()

	switch rt.State() {
	case StateUndeployed:
		return ErrNotDeployed.New("channel %s", channelID)
	case StateStarted:
		return nil
	case StatePaused:
		err = controller.resumeLocked(ctx, rt)
	default:
		err = controller.startLocked(ctx, rt)
	}
	controller.audit(ctx, auditStart, channelID, err)
	if err != nil {
		return err
	}
	controller.announce(ctx, channelID, StateStarted)
	return nil
}

// Stop shuts the channel down gracefully: the source stops first, then
// the destination queues get the stop grace to drain before they are
// halted. Entries that did not drain stay QUEUED in the store and are
// recovered on the next start.
func (controller *Controller) Stop(ctx context.Context, channelID string) (err error) {
	defer mon.Task()(&ctx)(&err)
	return controller.shutdownChannel(ctx, channelID, true)
}

// Halt stops the channel immediately, abandoning in-flight dispatches.
func (controller *Controller) Halt(ctx context.Context, channelID string) (err error) {
	defer mon.Task()(&ctx)(&err)
	return controller.shutdownChannel(ctx, channelID, false)
}

// Pause stops the source connector and releases the polling lease while
// the destination queues keep draining.
func (controller *Controller) Pause(ctx context.Context, channelID string) (err error) {
	defer mon.Task()(&ctx)(&err)

	rt := controller.lookup(channelID)
	if rt == nil {
		return ErrNotDeployed.New("channel %s", channelID)
	}
	rt.opMu.Lock()
	defer rt.opMu.Unlock()

	switch state := rt.State(); state {
	case StatePaused:
		return nil
	case StateStarted:
	default:
		return Error.New("channel %s is %s, not started", channelID, state)
	}

	if err := rt.stopSource(); err != nil {
		rt.log.Warn("source close failed", zap.Error(err))
	}
	controller.leases.Unmanage(ctx, channelID)
	rt.setState(StatePaused)

	controller.audit(ctx, auditPause, channelID, nil)
	controller.announce(ctx, channelID, StatePaused)
	return nil
}

// Resume restarts the source of a paused channel.
func (controller *Controller) Resume(ctx context.Context, channelID string) (err error) {
	defer mon.Task()(&ctx)(&err)

	rt := controller.lookup(channelID)
	if rt == nil {
		return ErrNotDeployed.New("channel %s", channelID)
	}
	rt.opMu.Lock()
	defer rt.opMu.Unlock()

	if state := rt.State(); state != StatePaused {
		return Error.New("channel %s is %s, not paused", channelID, state)
	}

	err = controller.resumeLocked(ctx, rt)
	controller.audit(ctx, auditResume, channelID, err)
	if err != nil {
		return err
	}
	controller.announce(ctx, channelID, StateStarted)
	return nil
}

// DeployAll deploys and starts every enabled channel. Channels that fail
// are reported and skipped.
func (controller *Controller) DeployAll(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	cfgs, err := controller.db.Channels().List(ctx)
	if err != nil {
		return Error.Wrap(err)
	}

	var group errs.Group
	for _, cfg := range cfgs {
		if !cfg.Enabled {
			continue
		}
		if err := controller.Deploy(ctx, cfg); err != nil {
			controller.log.Error("channel deploy failed",
				zap.String("channelID", cfg.ID),
				zap.String("channel", cfg.Name),
				zap.Error(err))
			group.Add(err)
			continue
		}
		if err := controller.Start(ctx, cfg.ID); err != nil {
			controller.log.Error("channel start failed",
				zap.String("channelID", cfg.ID),
				zap.Error(err))
			group.Add(err)
		}
	}
	return group.Err()
}

// UndeployAll undeploys every channel deployed on this server.
func (controller *Controller) UndeployAll(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	var group errs.Group
	for _, channelID := range controller.deployedIDs() {
		group.Add(controller.Undeploy(ctx, channelID))
	}
	return group.Err()
}

// RedeployAll reloads every deployed channel's stored configuration and
// redeploys it, restarting the ones that were running.
func (controller *Controller) RedeployAll(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	var group errs.Group
	for _, channelID := range controller.deployedIDs() {
		cfg, err := controller.db.Channels().Get(ctx, channelID)
		if err != nil {
			group.Add(err)
			continue
		}
		group.Add(controller.Deploy(ctx, cfg))
	}
	return group.Err()
}

// State returns the channel's lifecycle state on this server.
func (controller *Controller) State(channelID string) State {
	rt := controller.lookup(channelID)
	if rt == nil {
		return StateUndeployed
	}
	return rt.State()
}

// ChannelStatus is one row of the deployed channel listing.
type ChannelStatus struct {
	ChannelID string
	Name      string
	Revision  int64
	State     State
	Gated     bool
	Backlog   int
}

// Channels lists the channels deployed on this server ordered by id.
func (controller *Controller) Channels() []ChannelStatus {
	var statuses []ChannelStatus
	for _, channelID := range controller.deployedIDs() {
		rt := controller.lookup(channelID)
		if rt == nil {
			continue
		}
		statuses = append(statuses, rt.status())
	}
	return statuses
}

// Route hands a raw message to another deployed channel's pipeline. It
// implements the router channel-writer destinations send through.
func (controller *Controller) Route(ctx context.Context, channelID string, raw message.RawMessage) (_ *message.Response, err error) {
	defer mon.Task()(&ctx)(&err)

	rt := controller.lookup(channelID)
	if rt == nil {
		return nil, ErrNotDeployed.New("channel %s", channelID)
	}
	return rt.receive(ctx, raw)
}

// ShadowMode reports whether shadow mode is on.
func (controller *Controller) ShadowMode() bool {
	return controller.shadow.Enabled()
}

// SetShadowMode switches shadow mode. Turning it off releases the source
// of every channel the gate was holding silent.
func (controller *Controller) SetShadowMode(ctx context.Context, enabled bool) (err error) {
	defer mon.Task()(&ctx)(&err)

	err = controller.shadow.SetEnabled(ctx, enabled)
	controller.auditAttrs(ctx, auditShadow,
		map[string]string{"enabled": strconv.FormatBool(enabled)}, err)
	if err != nil {
		return err
	}
	if enabled {
		return nil
	}

	var group errs.Group
	for _, channelID := range controller.deployedIDs() {
		group.Add(controller.release(ctx, channelID))
	}
	return group.Err()
}

// Promote releases one channel from the shadow gate and starts its
// withheld source.
func (controller *Controller) Promote(ctx context.Context, channelID string) (err error) {
	defer mon.Task()(&ctx)(&err)

	err = controller.promote(ctx, channelID)
	controller.audit(ctx, auditPromote, channelID, err)
	return err
}

// Cutover promotes every channel deployed on this server and turns
// shadow mode off, reporting per-channel failures.
func (controller *Controller) Cutover(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	var group errs.Group
	for _, channelID := range controller.deployedIDs() {
		if err := controller.promote(ctx, channelID); err != nil {
			controller.log.Error("channel promotion failed",
				zap.String("channelID", channelID),
				zap.Error(err))
			group.Add(err)
		}
	}
	group.Add(controller.shadow.SetEnabled(ctx, false))

	err = group.Err()
	controller.auditAttrs(ctx, auditCutover, nil, err)
	return err
}

// ensure returns the runtime registered for the channel, creating an
// undeployed placeholder when the channel is new. The placeholder keeps
// lifecycle operations on the same channel serialized through one opMu.
func (controller *Controller) ensure(channelID string) *runtime {
	controller.mu.Lock()
	defer controller.mu.Unlock()

	rt, ok := controller.runtimes[channelID]
	if !ok {
		rt = newRuntime(controller.log.With(zap.String("channelID", channelID)), channelID)
		controller.runtimes[channelID] = rt
	}
	return rt
}

func (controller *Controller) lookup(channelID string) *runtime {
	controller.mu.Lock()
	defer controller.mu.Unlock()
	return controller.runtimes[channelID]
}

func (controller *Controller) deployedIDs() []string {
	controller.mu.Lock()
	defer controller.mu.Unlock()

	ids := make([]string, 0, len(controller.runtimes))
	for channelID := range controller.runtimes {
		ids = append(ids, channelID)
	}
	sort.Strings(ids)
	return ids
}

// deployLocked provisions the channel and builds its runtime, leaving it
// stopped. Deploy script failures abort the deploy.
func (controller *Controller) deployLocked(ctx context.Context, rt *runtime, cfg *channel.Channel) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := controller.store.EnsureChannel(ctx, cfg.ID, cfg.MetaDataColumns); err != nil {
		return err
	}
	if err := controller.store.SyncMetaDataColumns(ctx, cfg.ID, cfg.MetaDataColumns); err != nil {
		return err
	}

	// Messages left PENDING by a crashed run are requeued where a queue
	// can retry them and errored out where none can.
	requeued, errored, err := controller.store.ResetStale(ctx, cfg.ID, controller.serverID, queueEnabledIDs(cfg))
	if err != nil {
		return err
	}
	if requeued > 0 || errored > 0 {
		rt.log.Info("recovered stale messages",
			zap.Int64("requeued", requeued),
			zap.Int64("errored", errored))
	}

	if err := controller.buildLocked(ctx, rt, cfg); err != nil {
		return err
	}

	if err := controller.maps.LoadScope(ctx, globalmap.ChannelScope(cfg.ID)); err != nil {
		rt.log.Warn("channel map not primed", zap.Error(err))
	}

	if source := cfg.Scripts.Deploy; source != "" {
		if _, err := controller.scripts.ExecuteScript(ctx, cfg.Name+" deploy", source, controller.channelScope(rt.log, cfg)); err != nil {
			_ = rt.stopSource()
			_ = rt.teardown()
			return Error.New("deploy script failed: %w", err)
		}
	}

	rt.setGated(false)
	rt.setState(StateStopped)

	if err := controller.db.Deployments().Upsert(ctx, cluster.Deployment{
		ServerID:   controller.serverID,
		ChannelID:  cfg.ID,
		DeployedAt: time.Now().UTC(),
		Revision:   int(cfg.Revision),
	}); err != nil {
		rt.log.Warn("deployment not registered", zap.Error(err))
	}
	return nil
}

// buildLocked constructs the channel's connectors and pipeline and swaps
// them into the runtime.
func (controller *Controller) buildLocked(ctx context.Context, rt *runtime, cfg *channel.Channel) (err error) {
	dests := make(map[int]connector.Destination)
	var source connector.Source
	defer func() {
		if err == nil {
			return
		}
		for _, dest := range dests {
			_ = dest.Close()
		}
		if source != nil {
			_ = source.Close()
		}
	}()

	for _, dest := range cfg.EnabledDestinations() {
		conn, err := controller.connectors.NewDestination(ctx, rt.log.Named(dest.Name), dest.Transport, connector.DestinationParams{
			ChannelID:     cfg.ID,
			ChannelName:   cfg.Name,
			ConnectorName: dest.Name,
			MetaDataID:    dest.MetaDataID,
			Properties:    dest.Properties,
		})
		if err != nil {
			return Error.Wrap(err)
		}
		dests[dest.MetaDataID] = conn
	}

	attach, err := attachmentHandler(cfg)
	if err != nil {
		return err
	}

	pipe, err := pipeline.New(rt.log.Named("pipeline"), pipeline.Options{
		Channel:      cfg,
		Store:        controller.store,
		Sequence:     controller.sequence,
		Scripts:      controller.scripts,
		DataTypes:    controller.dataTypes,
		Attachments:  attach,
		Maps:         controller.maps,
		ServerID:     controller.serverID,
		Destinations: dests,
	})
	if err != nil {
		return err
	}

	source, err = controller.buildSource(ctx, rt, cfg)
	if err != nil {
		return err
	}

	rt.replace(cfg, pipe, source, dests)
	return nil
}

func (controller *Controller) buildSource(ctx context.Context, rt *runtime, cfg *channel.Channel) (connector.Source, error) {
	source, err := controller.connectors.NewSource(ctx, rt.log.Named("source"), cfg.Source.Transport, connector.SourceParams{
		ChannelID:   cfg.ID,
		ChannelName: cfg.Name,
		Properties:  cfg.Source.Properties,
		Receive:     rt.receive,
		Leases:      controller.leases,
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return source, nil
}

// startLocked brings a stopped channel up, rebuilding the pipeline and
// connectors when a previous stop tore them down.
func (controller *Controller) startLocked(ctx context.Context, rt *runtime) (err error) {
	defer mon.Task()(&ctx)(&err)

	cfg := rt.config()
	if cfg == nil {
		return ErrNotDeployed.New("channel %s", rt.id)
	}
	if !rt.built() {
		if err := controller.buildLocked(ctx, rt, cfg); err != nil {
			return err
		}
	}

	rt.setState(StateStarting)
	rt.startQueues(controller.runCtx)

	if controller.shadow.Gated(cfg.ID) {
		// Deployed but silent: the queues drain, the source stays down
		// until the channel is promoted.
		rt.setGated(true)
		rt.setState(StateStarted)
		rt.log.Info("channel started gated by shadow mode")
		return nil
	}

	rt.setGated(false)
	controller.leases.Manage(ctx, cfg.ID)
	rt.setState(StateStarted)
	rt.startSource(controller.runCtx)
	rt.log.Info("channel started")
	return nil
}

// resumeLocked restarts the source of a paused channel. The source
// connector is rebuilt: connector instances are single-run.
func (controller *Controller) resumeLocked(ctx context.Context, rt *runtime) (err error) {
	defer mon.Task()(&ctx)(&err)

	cfg := rt.config()
	if cfg == nil {
		return ErrNotDeployed.New("channel %s", rt.id)
	}

	if controller.shadow.Gated(cfg.ID) {
		rt.setGated(true)
		rt.setState(StateStarted)
		return nil
	}

	source, err := controller.buildSource(ctx, rt, cfg)
	if err != nil {
		return err
	}
	rt.setSource(source)
	rt.setGated(false)
	controller.leases.Manage(ctx, cfg.ID)
	rt.setState(StateStarted)
	rt.startSource(controller.runCtx)
	return nil
}

// stopLocked tears the channel's running instance down. The pipeline and
// connectors are rebuilt on the next start.
func (controller *Controller) stopLocked(ctx context.Context, rt *runtime, graceful bool) (err error) {
	defer mon.Task()(&ctx)(&err)

	if !rt.built() {
		return nil
	}

	// The stop runs detached: an abandoned admin request must not turn a
	// graceful stop into a halt.
	ctx = context.WithoutCancel(ctx)

	rt.setState(StateStopping)
	controller.announce(ctx, rt.id, StateStopping)

	var group errs.Group
	group.Add(rt.stopSource())
	controller.leases.Unmanage(ctx, rt.id)

	deadline := time.Now().Add(controller.stopGrace)
	if !graceful {
		deadline = time.Now()
	}
	group.Add(rt.stopQueues(ctx, graceful, deadline))
	group.Add(rt.teardown())

	if graceful {
		rt.setState(StateStopped)
	} else {
		rt.setState(StateHalted)
	}
	return group.Err()
}

func (controller *Controller) undeployLocked(ctx context.Context, rt *runtime) (err error) {
	defer mon.Task()(&ctx)(&err)

	ctx = context.WithoutCancel(ctx)
	cfg := rt.config()

	if err := controller.stopLocked(ctx, rt, true); err != nil {
		rt.log.Warn("stop before undeploy failed", zap.Error(err))
	}

	// The undeploy script cannot veto the undeploy.
	if cfg != nil && cfg.Scripts.Undeploy != "" {
		if _, err := controller.scripts.ExecuteScript(ctx, cfg.Name+" undeploy", cfg.Scripts.Undeploy, controller.channelScope(rt.log, cfg)); err != nil {
			rt.log.Warn("undeploy script failed", zap.Error(err))
		}
	}

	rt.setState(StateUndeployed)
	controller.unregister(ctx, rt.id)
	return nil
}

// unregister drops the channel's runtime and this server's claim on it.
func (controller *Controller) unregister(ctx context.Context, channelID string) {
	controller.mu.Lock()
	delete(controller.runtimes, channelID)
	controller.mu.Unlock()

	controller.maps.DropScope(globalmap.ChannelScope(channelID))
	controller.sequence.Release(channelID)
	if err := controller.db.Deployments().Delete(ctx, controller.serverID, channelID); err != nil {
		controller.log.Warn("deployment not unregistered",
			zap.String("channelID", channelID),
			zap.Error(err))
	}
}

func (controller *Controller) shutdownChannel(ctx context.Context, channelID string, graceful bool) error {
	rt := controller.lookup(channelID)
	if rt == nil {
		return ErrNotDeployed.New("channel %s", channelID)
	}
	rt.opMu.Lock()
	defer rt.opMu.Unlock()

	name := auditStop
	if !graceful {
		name = auditHalt
	}
	switch rt.State() {
	case StateUndeployed:
		return ErrNotDeployed.New("channel %s", channelID)
	case StateStopped, StateHalted:
		return nil
	}

	err := controller.stopLocked(ctx, rt, graceful)
	controller.audit(ctx, name, channelID, err)
	if err != nil {
		return err
	}
	controller.announce(ctx, channelID, rt.State())
	return nil
}

// stopAll gracefully stops every running channel.
func (controller *Controller) stopAll(ctx context.Context) {
	for _, channelID := range controller.deployedIDs() {
		rt := controller.lookup(channelID)
		if rt == nil {
			continue
		}
		rt.opMu.Lock()
		switch rt.State() {
		case StateStarted, StatePaused:
			if err := controller.stopLocked(ctx, rt, true); err != nil {
				controller.log.Warn("channel stop failed",
					zap.String("channelID", channelID),
					zap.Error(err))
			}
		}
		rt.opMu.Unlock()
	}
}

func (controller *Controller) promote(ctx context.Context, channelID string) error {
	if err := controller.shadow.Promote(ctx, channelID); err != nil {
		return err
	}
	return controller.release(ctx, channelID)
}

// release starts the withheld source of a started gated channel.
func (controller *Controller) release(ctx context.Context, channelID string) error {
	rt := controller.lookup(channelID)
	if rt == nil {
		return nil
	}
	rt.opMu.Lock()
	defer rt.opMu.Unlock()

	rt.mu.Lock()
	state, gated := rt.state, rt.gated
	rt.mu.Unlock()

	if !gated {
		return nil
	}
	rt.setGated(false)
	if state != StateStarted {
		return nil
	}

	controller.leases.Manage(ctx, channelID)
	rt.startSource(controller.runCtx)
	rt.log.Info("channel released from shadow gate")
	return nil
}

// channelScope assembles the scope for channel-level deploy and undeploy
// scripts, which run outside any message.
func (controller *Controller) channelScope(log *zap.Logger, cfg *channel.Channel) *script.Scope {
	return &script.Scope{
		SourceMap:    script.NewReadOnly(message.Map{}),
		ChannelMap:   &script.FallbackMap{Primary: message.Map{}, Fallback: script.NewReadOnly(message.Map{})},
		ConnectorMap: message.Map{},
		ResponseMap:  message.Map{},

		GlobalMap:        controller.maps.Global(),
		GlobalChannelMap: controller.maps.Channel(cfg.ID),
		ConfigurationMap: controller.maps.Configuration(),

		Logger:      log.Named("script"),
		ChannelID:   cfg.ID,
		ChannelName: cfg.Name,
	}
}

// audit records the outcome of a channel operation.
func (controller *Controller) audit(ctx context.Context, name, channelID string, opErr error) {
	controller.auditAttrs(ctx, name, map[string]string{"channelId": channelID}, opErr)
}

func (controller *Controller) auditAttrs(ctx context.Context, name string, attrs map[string]string, opErr error) {
	if opErr != nil {
		controller.events.Failure(ctx, name, attrs, opErr)
		return
	}
	controller.events.Success(ctx, name, attrs)
}

// announce publishes a lifecycle transition on the event bus.
func (controller *Controller) announce(ctx context.Context, channelID string, state State) {
	data, err := json.Marshal(StateEvent{ChannelID: channelID, State: state.String()})
	if err != nil {
		return
	}
	if err := controller.bus.Publish(ctx, eventbus.Event{Channel: EventChannelState, Data: data}); err != nil {
		controller.log.Warn("state event not published",
			zap.String("channelID", channelID),
			zap.Stringer("state", state),
			zap.Error(err))
	}
}

// attachmentHandler builds the attachment extractor the channel declares.
// Extraction without a pattern stores messages unchanged.
func attachmentHandler(cfg *channel.Channel) (attachment.Handler, error) {
	if !cfg.Attachments.Extract || cfg.Attachments.Pattern == "" {
		return attachment.Passthrough{}, nil
	}
	pattern, err := regexp.Compile(cfg.Attachments.Pattern)
	if err != nil {
		return nil, channel.ErrConfiguration.New("channel %s: invalid attachment pattern: %v", cfg.ID, err)
	}
	return &attachment.RegexHandler{Pattern: pattern, MimeType: cfg.Attachments.MimeType}, nil
}

func queueEnabledIDs(cfg *channel.Channel) []int {
	var ids []int
	for _, dest := range cfg.EnabledDestinations() {
		if dest.Queue.Enabled {
			ids = append(ids, dest.MetaDataID)
		}
	}
	return ids
}
