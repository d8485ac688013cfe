// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

// Package leases makes sure at most one server polls for a channel at a
// time. The lease row in the database is authoritative: every write is a
// single conditional statement, so two servers can never both believe
// they hold the same channel.
package leases

import (
	"context"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
)

var (
	mon = monkit.Package()

	// Error is the leases error class.
	Error = errs.Class("leases")
	// ErrNotFound is returned when no lease row exists for a channel.
	ErrNotFound = errs.Class("lease not found")
)

// Lease is one channel's polling lease row.
type Lease struct {
	ChannelID  string
	ServerID   string
	AcquiredAt time.Time
	RenewedAt  time.Time
	ExpiresAt  time.Time
}

// Expired reports whether the lease has lapsed at the given time.
func (lease Lease) Expired(now time.Time) bool {
	return lease.ExpiresAt.Before(now)
}

// DB stores polling leases.
//
// architecture: Database
type DB interface {
	// TryAcquire takes the lease when it is free, expired at now, or
	// already held by serverID. It reports whether serverID holds the
	// lease afterwards.
	TryAcquire(ctx context.Context, channelID, serverID string, now, expiresAt time.Time) (bool, error)
	// Renew extends the lease if still held by serverID and reports
	// whether it was.
	Renew(ctx context.Context, channelID, serverID string, now, expiresAt time.Time) (bool, error)
	// Release frees the lease if held by serverID.
	Release(ctx context.Context, channelID, serverID string) error
	// Get returns the lease row. Missing rows return ErrNotFound.
	Get(ctx context.Context, channelID string) (Lease, error)
}
