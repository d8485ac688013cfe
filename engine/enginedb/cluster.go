// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package enginedb

import (
	"context"
	"sort"
	"time"

	"github.com/zeebo/errs"

	"carewire.io/carewire/engine/cluster"
	"carewire.io/carewire/private/tagsql"
)

// serversDB implements cluster.ServersDB.
type serversDB struct {
	db tagsql.DB
}

// Register upserts the server row, marking it online.
func (db *serversDB) Register(ctx context.Context, server cluster.Server) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = db.db.ExecContext(ctx, `
		INSERT INTO servers (server_id, hostname, port, api_url, started_at, last_heartbeat, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (server_id) DO UPDATE SET
			hostname = EXCLUDED.hostname,
			port = EXCLUDED.port,
			api_url = EXCLUDED.api_url,
			started_at = EXCLUDED.started_at,
			last_heartbeat = EXCLUDED.last_heartbeat,
			status = EXCLUDED.status`,
		server.ServerID, server.Hostname, server.Port, server.APIURL,
		server.StartedAt.UTC(), server.LastHeartbeat.UTC(), string(cluster.StatusOnline))
	return Error.Wrap(err)
}

// Heartbeat renews the server's last heartbeat.
func (db *serversDB) Heartbeat(ctx context.Context, serverID string, at time.Time) (err error) {
	defer mon.Task()(&ctx)(&err)

	res, err := db.db.ExecContext(ctx, `
		UPDATE servers SET last_heartbeat = ?, status = ? WHERE server_id = ?`,
		at.UTC(), string(cluster.StatusOnline), serverID)
	if err != nil {
		return Error.Wrap(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Error.Wrap(err)
	}
	if affected == 0 {
		return Error.New("server %q is not registered", serverID)
	}
	return nil
}

// MarkStale marks online servers without a heartbeat since the cutoff
// offline and returns their ids.
func (db *serversDB) MarkStale(ctx context.Context, cutoff time.Time) (_ []string, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := db.db.QueryContext(ctx, `
		UPDATE servers SET status = ?
		WHERE status = ? AND last_heartbeat < ?
		RETURNING server_id`,
		string(cluster.StatusOffline), string(cluster.StatusOnline), cutoff.UTC())
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(rows.Close())) }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, Error.Wrap(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, Error.Wrap(err)
	}
	sort.Strings(ids)
	return ids, nil
}

// List returns all server rows ordered by server id.
func (db *serversDB) List(ctx context.Context) (_ []cluster.Server, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := db.db.QueryContext(ctx, `
		SELECT server_id, hostname, port, api_url, started_at, last_heartbeat, status
		FROM servers ORDER BY server_id`)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(rows.Close())) }()

	var servers []cluster.Server
	for rows.Next() {
		var server cluster.Server
		var status string
		err := rows.Scan(&server.ServerID, &server.Hostname, &server.Port, &server.APIURL,
			&server.StartedAt, &server.LastHeartbeat, &status)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		server.Status = cluster.Status(status)
		servers = append(servers, server)
	}
	return servers, Error.Wrap(rows.Err())
}

// Delete removes a server row.
func (db *serversDB) Delete(ctx context.Context, serverID string) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = db.db.ExecContext(ctx, `
		DELETE FROM servers WHERE server_id = ?`, serverID)
	return Error.Wrap(err)
}

// deploymentsDB implements cluster.DeploymentsDB.
type deploymentsDB struct {
	db tagsql.DB
}

// Upsert records a deployment.
func (db *deploymentsDB) Upsert(ctx context.Context, deployment cluster.Deployment) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = db.db.ExecContext(ctx, `
		INSERT INTO channel_deployments (server_id, channel_id, deployed_at, revision)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (server_id, channel_id) DO UPDATE SET
			deployed_at = EXCLUDED.deployed_at,
			revision = EXCLUDED.revision`,
		deployment.ServerID, deployment.ChannelID, deployment.DeployedAt.UTC(), deployment.Revision)
	return Error.Wrap(err)
}

// Delete removes one deployment row.
func (db *deploymentsDB) Delete(ctx context.Context, serverID, channelID string) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = db.db.ExecContext(ctx, `
		DELETE FROM channel_deployments WHERE server_id = ? AND channel_id = ?`,
		serverID, channelID)
	return Error.Wrap(err)
}

// DeleteAll removes every deployment row of a server.
func (db *deploymentsDB) DeleteAll(ctx context.Context, serverID string) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = db.db.ExecContext(ctx, `
		DELETE FROM channel_deployments WHERE server_id = ?`, serverID)
	return Error.Wrap(err)
}

// List returns the deployments of a server ordered by channel id.
func (db *deploymentsDB) List(ctx context.Context, serverID string) (_ []cluster.Deployment, err error) {
	defer mon.Task()(&ctx)(&err)

	return db.list(ctx, `
		SELECT server_id, channel_id, deployed_at, revision
		FROM channel_deployments WHERE server_id = ? ORDER BY channel_id`, serverID)
}

// ListChannel returns the deployments of a channel across servers.
func (db *deploymentsDB) ListChannel(ctx context.Context, channelID string) (_ []cluster.Deployment, err error) {
	defer mon.Task()(&ctx)(&err)

	return db.list(ctx, `
		SELECT server_id, channel_id, deployed_at, revision
		FROM channel_deployments WHERE channel_id = ? ORDER BY server_id`, channelID)
}

func (db *deploymentsDB) list(ctx context.Context, query string, arg interface{}) (_ []cluster.Deployment, err error) {
	rows, err := db.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(rows.Close())) }()

	var deployments []cluster.Deployment
	for rows.Next() {
		var deployment cluster.Deployment
		err := rows.Scan(&deployment.ServerID, &deployment.ChannelID,
			&deployment.DeployedAt, &deployment.Revision)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		deployments = append(deployments, deployment)
	}
	return deployments, Error.Wrap(rows.Err())
}
