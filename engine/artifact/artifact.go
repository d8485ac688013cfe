// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

// Package artifact converts channels to and from a version-controllable
// file layout.
//
// Decompose splits a channel into reviewable files: yaml metadata, one
// file per script, and a canonical raw body. The yaml views mask secret
// property values; the raw body stays lossless and is the authority when
// assembling. Sync operations against an external repository are recorded
// through SyncDB; the repository mechanics themselves live outside the
// engine.
package artifact

import (
	"context"
	"time"

	"github.com/zeebo/errs"
)

// Error is the artifact error class.
var Error = errs.Class("artifact")

// Files maps relative paths to file contents.
type Files map[string][]byte

// Fixed paths in the decomposed layout.
const (
	FileChannel = "channel.yaml"
	FileRawBody = "_raw.json"

	DirScripts      = "scripts"
	DirSource       = "source"
	DirDestinations = "destinations"

	FileConnector = "connector.yaml"
)

// Direction of a sync operation relative to this deployment.
type Direction string

// Sync directions.
const (
	DirectionPush Direction = "PUSH"
	DirectionPull Direction = "PULL"
)

// Record is one audit row for an artifact sync operation.
type Record struct {
	ID           int64
	ArtifactType string
	ArtifactID   string
	Revision     int64
	CommitHash   string
	Direction    Direction
	SyncedAt     time.Time
	SyncedBy     string
	Environment  string
}

// ArtifactTypeChannel is the artifact type of channel configurations.
const ArtifactTypeChannel = "channel"

// SyncDB records artifact sync audit rows.
//
// architecture: Database
type SyncDB interface {
	// Insert appends a sync record and returns its id.
	Insert(ctx context.Context, rec Record) (int64, error)
	// List returns records for an artifact, newest first.
	List(ctx context.Context, artifactID string, limit int) ([]Record, error)
}
