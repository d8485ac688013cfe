// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package engine

import (
	"time"

	"carewire.io/carewire/engine/cluster"
	"carewire.io/carewire/engine/cluster/eventbus"
	"carewire.io/carewire/engine/cluster/leases"
	"carewire.io/carewire/engine/globalmap"
	"carewire.io/carewire/engine/pruner"
	"carewire.io/carewire/engine/sequence"
)

// Config is the engine node configuration.
type Config struct {
	ServerID string `help:"unique id of this server in the cluster, generated when empty" default:""`
	Hostname string `help:"hostname reported to the cluster, defaults to the os hostname" default:""`
	Port     int    `help:"port advertised in the server registry" default:"8801"`
	APIURL   string `help:"api url advertised in the server registry" default:""`

	DeployOnStart bool          `help:"deploy and start every enabled channel on startup" default:"true"`
	StopGrace     time.Duration `help:"how long a graceful channel stop waits for the queues to drain" default:"30s"`
	ScriptTimeout time.Duration `help:"wall-clock budget of a single user script execution" default:"60s"`
	ShadowMode    bool          `help:"initial shadow mode used when the cluster has no recorded choice" default:"false"`

	Encryption EncryptionConfig
	Bus        BusConfig
	Maps       MapsConfig

	Sequence  sequence.Config
	Leases    leases.Config
	Heartbeat cluster.HeartbeatConfig
	Pruner    pruner.Config
}

// EncryptionConfig configures content encryption at rest.
type EncryptionConfig struct {
	Key string `help:"hex-encoded aes key (16, 24 or 32 bytes) encrypting stored message content, empty stores plaintext" default:""`
}

// Event bus backends.
const (
	BusLocal = "local"
	BusDB    = "db"
	BusRedis = "redis"
)

// BusConfig selects and configures the cluster event bus.
type BusConfig struct {
	Backend      string `help:"event bus backend: local, db or redis" default:"db"`
	RedisAddress string `help:"redis url for the redis event bus" default:""`

	DB eventbus.DBBusConfig
}

// Shared map backends.
const (
	MapsDB     = "db"
	MapsRedis  = "redis"
	MapsMemory = "memory"
)

// MapsConfig selects and configures the shared variable map backend.
type MapsConfig struct {
	Backend      string `help:"shared map backend: db, redis or memory" default:"db"`
	RedisAddress string `help:"redis url for the redis map backend" default:""`

	Cache globalmap.Config
}
