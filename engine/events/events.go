// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

// Package events keeps the audit trail of engine lifecycle operations.
package events

import (
	"context"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
)

var (
	mon = monkit.Package()

	// Error is the events error class.
	Error = errs.Class("events")
)

// Level classifies the severity of an audit event.
type Level string

// Audit event levels.
const (
	LevelInfo    Level = "INFO"
	LevelWarning Level = "WARNING"
	LevelError   Level = "ERROR"
)

// Outcome records whether the audited operation succeeded.
type Outcome string

// Audit event outcomes.
const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailure Outcome = "FAILURE"
)

// Event is one audit trail entry.
type Event struct {
	ID         int64
	CreatedAt  time.Time
	Name       string
	Level      Level
	Outcome    Outcome
	Attributes map[string]string
	UserID     string
	IP         string
	ServerID   string
}

// DB stores audit events.
//
// architecture: Database
type DB interface {
	// Insert appends an audit event.
	Insert(ctx context.Context, event Event) error
	// List returns the newest events up to limit.
	List(ctx context.Context, limit int) ([]Event, error)
	// DeleteBefore removes events created before the cutoff and returns
	// how many were deleted.
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// Service records audit events. Recording never fails the audited
// operation; storage errors are logged and dropped.
type Service struct {
	log      *zap.Logger
	db       DB
	serverID string
}

// NewService constructs an audit event service.
func NewService(log *zap.Logger, db DB, serverID string) *Service {
	return &Service{
		log:      log,
		db:       db,
		serverID: serverID,
	}
}

// Record stores one audit event stamped with the server id.
func (service *Service) Record(ctx context.Context, name string, level Level, outcome Outcome, attributes map[string]string) {
	var err error
	defer mon.Task()(&ctx)(&err)

	err = service.db.Insert(ctx, Event{
		CreatedAt:  time.Now().UTC(),
		Name:       name,
		Level:      level,
		Outcome:    outcome,
		Attributes: attributes,
		ServerID:   service.serverID,
	})
	if err != nil {
		service.log.Error("audit event not recorded",
			zap.String("event", name),
			zap.Error(err))
	}
}

// Success records a successful operation at info level.
func (service *Service) Success(ctx context.Context, name string, attributes map[string]string) {
	service.Record(ctx, name, LevelInfo, OutcomeSuccess, attributes)
}

// Failure records a failed operation at error level with the cause.
func (service *Service) Failure(ctx context.Context, name string, attributes map[string]string, cause error) {
	if attributes == nil {
		attributes = make(map[string]string, 1)
	}
	if cause != nil {
		attributes["error"] = cause.Error()
	}
	service.Record(ctx, name, LevelError, OutcomeFailure, attributes)
}
