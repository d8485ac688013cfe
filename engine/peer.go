// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

// Package engine composes the carewire integration engine: the channel
// controller and its runtimes, the message store and id allocator, the
// cluster services (heartbeat, polling leases, event bus), the shared
// variable maps and the maintenance chores.
package engine

import (
	"context"
	"encoding/hex"
	"os"
	"runtime/pprof"

	"github.com/google/uuid"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"carewire.io/carewire/engine/cluster"
	"carewire.io/carewire/engine/cluster/eventbus"
	"carewire.io/carewire/engine/cluster/leases"
	"carewire.io/carewire/engine/connector"
	"carewire.io/carewire/engine/connector/dbconn"
	"carewire.io/carewire/engine/connector/fileconn"
	"carewire.io/carewire/engine/connector/httpconn"
	"carewire.io/carewire/engine/connector/vmconn"
	"carewire.io/carewire/engine/datatype"
	"carewire.io/carewire/engine/encryption"
	"carewire.io/carewire/engine/events"
	"carewire.io/carewire/engine/globalmap"
	"carewire.io/carewire/engine/messagestore"
	"carewire.io/carewire/engine/pruner"
	"carewire.io/carewire/engine/script"
	"carewire.io/carewire/engine/sequence"
	"carewire.io/carewire/private/kvstore"
	kvredis "carewire.io/carewire/private/kvstore/redis"
	"carewire.io/carewire/private/kvstore/storelogger"
	"carewire.io/carewire/private/kvstore/teststore"
	"carewire.io/carewire/private/lifecycle"
)

// Peer is the engine process.
//
// architecture: Peer
type Peer struct {
	Log    *zap.Logger
	DB     DB
	Config Config

	ServerID string

	Services *lifecycle.Group

	Encryptor encryption.Encryptor

	Messages struct {
		Store    *messagestore.Store
		Sequence *sequence.Allocator
	}

	Cluster struct {
		Bus       eventbus.Bus
		Heartbeat *cluster.Heartbeat
		Leases    *leases.Manager
	}

	Maps struct {
		Store   kvstore.Store
		Service *globalmap.Service
	}

	Audit struct {
		Events *events.Service
	}

	Scripts struct {
		Engine *script.FuncEngine
	}

	DataTypes  *datatype.Registry
	Connectors *connector.Registry

	Pruner struct {
		Chore *pruner.Chore
	}

	Channels struct {
		Shadow     *Shadow
		Controller *Controller
	}
}

// New creates a new engine peer.
func New(ctx context.Context, log *zap.Logger, db DB, config Config) (*Peer, error) {
	peer := &Peer{
		Log:    log,
		DB:     db,
		Config: config,

		Services: lifecycle.NewGroup(log.Named("services")),
	}

	{ // setup server identity
		peer.ServerID = config.ServerID
		if peer.ServerID == "" {
			peer.ServerID = uuid.NewString()
			log.Info("generated server id", zap.String("serverID", peer.ServerID))
		}
		if config.Hostname == "" {
			hostname, err := os.Hostname()
			if err != nil {
				log.Warn("hostname lookup failed", zap.Error(err))
			}
			config.Hostname = hostname
		}
	}

	{ // setup message store
		enc, err := openEncryptor(config.Encryption)
		if err != nil {
			return nil, errs.Combine(err, peer.Close())
		}
		peer.Encryptor = enc
		peer.Messages.Store = db.Messages(enc)
		peer.Messages.Sequence = sequence.NewAllocator(log.Named("sequence"), peer.Messages.Store, config.Sequence)
	}

	{ // setup event bus
		switch config.Bus.Backend {
		case BusLocal:
			bus := eventbus.NewLocal(peer.ServerID)
			peer.Cluster.Bus = bus
			peer.Services.Add(lifecycle.Item{
				Name:  "eventbus",
				Close: bus.Close,
			})
		case BusDB:
			bus, err := eventbus.OpenDBBus(ctx, log.Named("eventbus"), db.ClusterEvents(), peer.ServerID, config.Bus.DB)
			if err != nil {
				return nil, errs.Combine(err, peer.Close())
			}
			peer.Cluster.Bus = bus
			peer.Services.Add(lifecycle.Item{
				Name:  "eventbus",
				Run:   bus.Run,
				Close: bus.Close,
			})
		case BusRedis:
			bus, err := eventbus.OpenRedisBus(ctx, log.Named("eventbus"), peer.ServerID, config.Bus.RedisAddress)
			if err != nil {
				return nil, errs.Combine(err, peer.Close())
			}
			peer.Cluster.Bus = bus
			peer.Services.Add(lifecycle.Item{
				Name:  "eventbus",
				Run:   bus.Run,
				Close: bus.Close,
			})
		default:
			return nil, errs.Combine(Error.New("unknown event bus backend %q", config.Bus.Backend), peer.Close())
		}
	}

	{ // setup shared maps
		switch config.Maps.Backend {
		case MapsDB:
			peer.Maps.Store = db.GlobalMap()
		case MapsRedis:
			store, err := kvredis.OpenClientFrom(ctx, config.Maps.RedisAddress)
			if err != nil {
				return nil, errs.Combine(err, peer.Close())
			}
			peer.Maps.Store = store
		case MapsMemory:
			peer.Maps.Store = teststore.New()
		default:
			return nil, errs.Combine(Error.New("unknown shared map backend %q", config.Maps.Backend), peer.Close())
		}
		peer.Maps.Store = storelogger.New(log.Named("kvstore"), peer.Maps.Store)

		service := globalmap.NewService(log.Named("globalmap"), peer.Maps.Store, config.Maps.Cache)
		store := peer.Maps.Store
		peer.Maps.Service = service
		peer.Services.Add(lifecycle.Item{
			Name: "globalmap",
			Run: func(ctx context.Context) error {
				for _, scope := range []string{globalmap.ScopeGlobal, globalmap.ScopeConfiguration} {
					if err := service.LoadScope(ctx, scope); err != nil {
						return err
					}
				}
				return service.Run(ctx)
			},
			Close: func() error {
				return errs.Combine(service.Close(), store.Close())
			},
		})
	}

	{ // setup audit events
		peer.Audit.Events = events.NewService(log.Named("events"), db.Events(), peer.ServerID)
	}

	{ // setup cluster services
		peer.Cluster.Heartbeat = cluster.NewHeartbeat(log.Named("heartbeat"), db.Servers(), peer.Cluster.Bus, cluster.Server{
			ServerID: peer.ServerID,
			Hostname: config.Hostname,
			Port:     config.Port,
			APIURL:   config.APIURL,
		}, config.Heartbeat)
		peer.Services.Add(lifecycle.Item{
			Name:  "heartbeat",
			Run:   peer.Cluster.Heartbeat.Run,
			Close: peer.Cluster.Heartbeat.Close,
		})

		peer.Cluster.Leases = leases.NewManager(log.Named("leases"), db.Leases(), peer.ServerID, config.Leases)
		peer.Services.Add(lifecycle.Item{
			Name:  "leases",
			Run:   peer.Cluster.Leases.Run,
			Close: peer.Cluster.Leases.Close,
		})
	}

	{ // setup scripts, data types and connector transports
		peer.Scripts.Engine = script.NewFuncEngine(log.Named("script"), config.ScriptTimeout)
		peer.DataTypes = datatype.NewRegistry()
		peer.Connectors = connector.NewRegistry()
		err := errs.Combine(
			fileconn.Register(peer.Connectors),
			httpconn.Register(peer.Connectors),
			dbconn.Register(peer.Connectors),
		)
		if err != nil {
			return nil, errs.Combine(err, peer.Close())
		}
	}

	{ // setup pruner
		peer.Pruner.Chore = pruner.NewChore(log.Named("pruner"), config.Pruner, db.Channels(), peer.Messages.Store)
		peer.Services.Add(lifecycle.Item{
			Name:  "pruner",
			Run:   peer.Pruner.Chore.Run,
			Close: peer.Pruner.Chore.Close,
		})
	}

	{ // setup channel controller
		shadow, err := LoadShadow(ctx, log.Named("shadow"), db.Settings(), config.ShadowMode)
		if err != nil {
			return nil, errs.Combine(err, peer.Close())
		}
		peer.Channels.Shadow = shadow

		peer.Channels.Controller = NewController(log.Named("engine"), ControllerOptions{
			DB:         db,
			Store:      peer.Messages.Store,
			Sequence:   peer.Messages.Sequence,
			Scripts:    peer.Scripts.Engine,
			DataTypes:  peer.DataTypes,
			Connectors: peer.Connectors,
			Maps:       peer.Maps.Service,
			Leases:     peer.Cluster.Leases,
			Bus:        peer.Cluster.Bus,
			Events:     peer.Audit.Events,
			Shadow:     shadow,

			ServerID:      peer.ServerID,
			DeployOnStart: config.DeployOnStart,
			StopGrace:     config.StopGrace,
		})

		// Channel writers route through the controller.
		if err := vmconn.Register(peer.Connectors, peer.Channels.Controller); err != nil {
			return nil, errs.Combine(err, peer.Close())
		}

		peer.Services.Add(lifecycle.Item{
			Name:  "engine",
			Run:   peer.Channels.Controller.Run,
			Close: peer.Channels.Controller.Close,
		})
	}

	return peer, nil
}

// Run runs the engine peer until the context is canceled.
func (peer *Peer) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	group, ctx := errgroup.WithContext(ctx)

	pprof.Do(ctx, pprof.Labels("subsystem", "engine"), func(ctx context.Context) {
		peer.Services.Run(ctx, group)

		pprof.Do(ctx, pprof.Labels("name", "subsystem-wait"), func(ctx context.Context) {
			err = group.Wait()
		})
	})
	return err
}

// Close closes all the resources.
func (peer *Peer) Close() error {
	return peer.Services.Close()
}

func openEncryptor(config EncryptionConfig) (encryption.Encryptor, error) {
	if config.Key == "" {
		return encryption.Noop{}, nil
	}
	key, err := hex.DecodeString(config.Key)
	if err != nil {
		return nil, Error.New("invalid content encryption key: %v", err)
	}
	return encryption.NewAESGCM(key)
}
