// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

// Package cluster tracks the engine servers of a deployment and which
// channels each of them runs.
package cluster

import (
	"context"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
)

var (
	mon = monkit.Package()

	// Error is the cluster error class.
	Error = errs.Class("cluster")
)

// Status is the liveness state of a server row.
type Status string

// Server statuses.
const (
	StatusOnline  Status = "ONLINE"
	StatusOffline Status = "OFFLINE"
)

// Bus event channels published by this package.
const (
	EventServerOnline  = "server.online"
	EventServerOffline = "server.offline"
)

// Server is one engine node.
type Server struct {
	ServerID      string
	Hostname      string
	Port          int
	APIURL        string
	StartedAt     time.Time
	LastHeartbeat time.Time
	Status        Status
}

// ServersDB stores the cluster server registry.
//
// architecture: Database
type ServersDB interface {
	// Register upserts the server row, marking it online.
	Register(ctx context.Context, server Server) error
	// Heartbeat renews the server's last heartbeat.
	Heartbeat(ctx context.Context, serverID string, at time.Time) error
	// MarkStale marks online servers without a heartbeat since the
	// cutoff offline and returns their ids.
	MarkStale(ctx context.Context, cutoff time.Time) ([]string, error)
	// List returns all server rows ordered by server id.
	List(ctx context.Context) ([]Server, error)
	// Delete removes a server row.
	Delete(ctx context.Context, serverID string) error
}

// Deployment records that a server has a channel deployed.
type Deployment struct {
	ServerID   string
	ChannelID  string
	DeployedAt time.Time
	Revision   int
}

// DeploymentsDB stores which channels are deployed where.
//
// architecture: Database
type DeploymentsDB interface {
	// Upsert records a deployment.
	Upsert(ctx context.Context, deployment Deployment) error
	// Delete removes one deployment row.
	Delete(ctx context.Context, serverID, channelID string) error
	// DeleteAll removes every deployment row of a server.
	DeleteAll(ctx context.Context, serverID string) error
	// List returns the deployments of a server ordered by channel id.
	List(ctx context.Context, serverID string) ([]Deployment, error)
	// ListChannel returns the deployments of a channel across servers.
	ListChannel(ctx context.Context, channelID string) ([]Deployment, error)
}
