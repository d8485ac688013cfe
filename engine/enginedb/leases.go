// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package enginedb

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"carewire.io/carewire/engine/cluster/leases"
	"carewire.io/carewire/private/dbutil/sqliteutil"
	"carewire.io/carewire/private/tagsql"
)

// leasesDB implements leases.DB. Every write is a single conditional
// statement, so concurrent servers racing for a lease see the row's state
// atomically.
type leasesDB struct {
	db tagsql.DB
}

// TryAcquire takes the lease when the row is absent, expired, or already
// held by this server. It reports whether the caller holds the lease after
// the call.
func (db *leasesDB) TryAcquire(ctx context.Context, channelID, serverID string, now, expiresAt time.Time) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	res, err := db.db.ExecContext(ctx, `
		INSERT INTO polling_leases (channel_id, server_id, acquired_at, renewed_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (channel_id) DO UPDATE SET
			server_id = EXCLUDED.server_id,
			acquired_at = EXCLUDED.acquired_at,
			renewed_at = EXCLUDED.renewed_at,
			expires_at = EXCLUDED.expires_at
		WHERE polling_leases.expires_at <= EXCLUDED.renewed_at
			OR polling_leases.server_id = EXCLUDED.server_id`,
		channelID, serverID, now.UTC(), now.UTC(), expiresAt.UTC())
	if err != nil {
		// A concurrent writer can leave sqlite busy past the driver
		// timeout; the manager re-attempts the lease on its next cycle.
		if sqliteutil.IsBusy(err) {
			return false, nil
		}
		return false, Error.Wrap(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, Error.Wrap(err)
	}
	return affected == 1, nil
}

// Renew extends the lease when this server still holds it.
func (db *leasesDB) Renew(ctx context.Context, channelID, serverID string, now, expiresAt time.Time) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	res, err := db.db.ExecContext(ctx, `
		UPDATE polling_leases SET renewed_at = ?, expires_at = ?
		WHERE channel_id = ? AND server_id = ?`,
		now.UTC(), expiresAt.UTC(), channelID, serverID)
	if err != nil {
		return false, Error.Wrap(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, Error.Wrap(err)
	}
	return affected == 1, nil
}

// Release drops the lease when this server holds it. Releasing a lease held
// elsewhere is a no-op.
func (db *leasesDB) Release(ctx context.Context, channelID, serverID string) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = db.db.ExecContext(ctx, `
		DELETE FROM polling_leases WHERE channel_id = ? AND server_id = ?`,
		channelID, serverID)
	return Error.Wrap(err)
}

// Get returns the lease row of a channel.
func (db *leasesDB) Get(ctx context.Context, channelID string) (_ leases.Lease, err error) {
	defer mon.Task()(&ctx)(&err)

	lease := leases.Lease{ChannelID: channelID}
	err = db.db.QueryRowContext(ctx, `
		SELECT server_id, acquired_at, renewed_at, expires_at
		FROM polling_leases WHERE channel_id = ?`, channelID).
		Scan(&lease.ServerID, &lease.AcquiredAt, &lease.RenewedAt, &lease.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return leases.Lease{}, leases.ErrNotFound.New("%s", channelID)
	}
	if err != nil {
		return leases.Lease{}, Error.Wrap(err)
	}
	return lease, nil
}
