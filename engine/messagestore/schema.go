// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package messagestore

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"carewire.io/carewire/engine/channel"
	"carewire.io/carewire/private/dbutil"
	"carewire.io/carewire/private/dbutil/txutil"
	"carewire.io/carewire/private/tagsql"
)

// EnsureChannel provisions the per-channel tables for channelID and
// reconciles the custom metadata columns with the declared set. It is
// idempotent and safe to call on every deploy.
func (store *Store) EnsureChannel(ctx context.Context, channelID string, columns []channel.MetaDataColumn) (err error) {
	defer mon.Task()(&ctx)(&err)

	localID, err := store.ensureLocalID(ctx, channelID)
	if err != nil {
		return err
	}
	t := tablesFor(localID)

	if err := store.createChannelTables(ctx, t); err != nil {
		return ErrSchema.Wrap(err)
	}
	if err := store.SyncMetaDataColumns(ctx, channelID, columns); err != nil {
		return err
	}

	store.mu.Lock()
	store.localIDs[channelID] = localID
	store.mu.Unlock()

	store.log.Debug("channel provisioned",
		zap.String("channelID", channelID),
		zap.Int64("localID", localID))
	return nil
}

// ensureLocalID returns the channel's local id, assigning the next free
// one on first use.
func (store *Store) ensureLocalID(ctx context.Context, channelID string) (localID int64, err error) {
	err = store.db.QueryRowContext(ctx, `
		SELECT local_id FROM channel_id_map WHERE channel_id = ?
	`, channelID).Scan(&localID)
	if err == nil {
		return localID, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, Error.Wrap(err)
	}

	err = txutil.WithTx(ctx, store.db, nil, func(ctx context.Context, tx tagsql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(local_id), 0) + 1 FROM channel_id_map
		`).Scan(&localID)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO channel_id_map (channel_id, local_id) VALUES (?, ?)
		`, channelID, localID)
		return err
	})
	if err != nil {
		return 0, ErrSchema.Wrap(err)
	}
	return localID, nil
}

// blobType returns the binary column type for the implementation.
func (store *Store) blobType() string {
	if store.impl == dbutil.Postgres {
		return "BYTEA"
	}
	return "BLOB"
}

func (store *Store) createChannelTables(ctx context.Context, t channelTables) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS ` + t.messages + ` (
			id BIGINT NOT NULL,
			server_id TEXT NOT NULL,
			received_at TIMESTAMP NOT NULL,
			processed BOOLEAN NOT NULL DEFAULT FALSE,
			imported BOOLEAN NOT NULL DEFAULT FALSE,
			original_id BIGINT,
			PRIMARY KEY (id)
		)`,
		`CREATE TABLE IF NOT EXISTS ` + t.connectors + ` (
			message_id BIGINT NOT NULL,
			metadata_id INTEGER NOT NULL,
			connector_name TEXT NOT NULL,
			server_id TEXT NOT NULL,
			received_at TIMESTAMP NOT NULL,
			status TEXT NOT NULL,
			send_attempts INTEGER NOT NULL DEFAULT 0,
			send_date TIMESTAMP,
			response_date TIMESTAMP,
			error_code INTEGER NOT NULL DEFAULT 0,
			chain_id INTEGER NOT NULL DEFAULT 0,
			order_id INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (message_id, metadata_id)
		)`,
		`CREATE INDEX IF NOT EXISTS ` + t.connectors + `_status ON ` + t.connectors + ` (metadata_id, status, message_id)`,
		`CREATE TABLE IF NOT EXISTS ` + t.content + ` (
			message_id BIGINT NOT NULL,
			metadata_id INTEGER NOT NULL,
			content_type INTEGER NOT NULL,
			content TEXT NOT NULL,
			data_type TEXT NOT NULL DEFAULT '',
			encrypted BOOLEAN NOT NULL DEFAULT FALSE,
			PRIMARY KEY (message_id, metadata_id, content_type)
		)`,
		`CREATE TABLE IF NOT EXISTS ` + t.customMeta + ` (
			message_id BIGINT NOT NULL,
			metadata_id INTEGER NOT NULL,
			PRIMARY KEY (message_id, metadata_id)
		)`,
		`CREATE TABLE IF NOT EXISTS ` + t.attachments + ` (
			message_id BIGINT NOT NULL,
			attachment_id TEXT NOT NULL,
			attachment_type TEXT NOT NULL DEFAULT '',
			content ` + store.blobType() + `,
			PRIMARY KEY (message_id, attachment_id)
		)`,
		`CREATE TABLE IF NOT EXISTS ` + t.sequence + ` (
			next_id BIGINT NOT NULL
		)`,
		`INSERT INTO ` + t.sequence + ` (next_id)
			SELECT 1 WHERE NOT EXISTS (SELECT 1 FROM ` + t.sequence + `)`,
	}
	for _, stmt := range ddl {
		if _, err := store.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// RemoveChannel drops the channel's tables and releases its local id.
// Message data is lost, so callers must only invoke it on channel removal.
func (store *Store) RemoveChannel(ctx context.Context, channelID string) (err error) {
	defer mon.Task()(&ctx)(&err)

	localID, err := store.localID(ctx, channelID)
	if ErrSchema.Has(err) {
		return nil
	}
	if err != nil {
		return err
	}
	t := tablesFor(localID)

	for _, table := range []string{t.attachments, t.customMeta, t.content, t.connectors, t.messages, t.sequence} {
		if _, err := store.db.ExecContext(ctx, `DROP TABLE IF EXISTS `+table); err != nil {
			return ErrSchema.Wrap(err)
		}
	}
	if _, err := store.db.ExecContext(ctx, `
		DELETE FROM channel_id_map WHERE channel_id = ?
	`, channelID); err != nil {
		return Error.Wrap(err)
	}
	store.uncache(channelID)

	store.log.Debug("channel tables dropped", zap.String("channelID", channelID))
	return nil
}

// columnTypeFor maps a declared metadata column type to a SQL type.
func columnTypeFor(ct channel.MetaDataColumnType) (string, error) {
	switch ct {
	case channel.ColumnString:
		return "TEXT", nil
	case channel.ColumnNumber:
		return "NUMERIC(18,6)", nil
	case channel.ColumnBoolean:
		return "BOOLEAN", nil
	case channel.ColumnTimestamp:
		return "TIMESTAMP", nil
	default:
		return "", ErrSchema.New("unsupported metadata column type %q", ct)
	}
}

// normalizeColumnType folds a stored SQL type back to the declared kind.
func normalizeColumnType(sqlType string) channel.MetaDataColumnType {
	upper := strings.ToUpper(sqlType)
	switch {
	case strings.HasPrefix(upper, "TEXT"), strings.HasPrefix(upper, "CHARACTER"), strings.HasPrefix(upper, "VARCHAR"):
		return channel.ColumnString
	case strings.HasPrefix(upper, "NUMERIC"), strings.HasPrefix(upper, "DECIMAL"):
		return channel.ColumnNumber
	case strings.HasPrefix(upper, "BOOL"):
		return channel.ColumnBoolean
	case strings.HasPrefix(upper, "TIMESTAMP"):
		return channel.ColumnTimestamp
	default:
		return ""
	}
}

// SyncMetaDataColumns reconciles the custom metadata table with the
// declared columns. Columns are matched by case-insensitive name; missing
// ones are added, undeclared ones are dropped and type changes recreate
// the column.
func (store *Store) SyncMetaDataColumns(ctx context.Context, channelID string, columns []channel.MetaDataColumn) (err error) {
	defer mon.Task()(&ctx)(&err)

	t, err := store.tables(ctx, channelID)
	if err != nil {
		return err
	}

	existing, err := store.introspectColumns(ctx, t.customMeta)
	if err != nil {
		return ErrSchema.Wrap(err)
	}

	declared := make(map[string]channel.MetaDataColumn, len(columns))
	for _, col := range columns {
		if !identRe.MatchString(col.Name) {
			return ErrSchema.New("invalid metadata column name %q", col.Name)
		}
		declared[strings.ToLower(col.Name)] = col
	}

	var stmts []string
	for lower, sqlType := range existing {
		col, ok := declared[lower]
		if !ok {
			stmts = append(stmts, `ALTER TABLE `+t.customMeta+` DROP COLUMN `+lower)
			continue
		}
		if normalizeColumnType(sqlType) != col.Type {
			colType, err := columnTypeFor(col.Type)
			if err != nil {
				return err
			}
			stmts = append(stmts,
				`ALTER TABLE `+t.customMeta+` DROP COLUMN `+lower,
				`ALTER TABLE `+t.customMeta+` ADD COLUMN `+col.Name+` `+colType)
		}
	}
	for lower, col := range declared {
		if _, ok := existing[lower]; ok {
			continue
		}
		colType, err := columnTypeFor(col.Type)
		if err != nil {
			return err
		}
		stmts = append(stmts, `ALTER TABLE `+t.customMeta+` ADD COLUMN `+col.Name+` `+colType)
	}

	for _, stmt := range stmts {
		if _, err := store.db.ExecContext(ctx, stmt); err != nil {
			return ErrSchema.Wrap(err)
		}
	}
	return nil
}

// introspectColumns lists the user columns of a custom metadata table as
// lowercase name to declared SQL type.
func (store *Store) introspectColumns(ctx context.Context, table string) (_ map[string]string, err error) {
	var rows tagsql.Rows
	switch store.impl {
	case dbutil.Postgres:
		rows, err = store.db.QueryContext(ctx, `
			SELECT column_name, data_type FROM information_schema.columns
			WHERE table_name = ?
		`, table)
	default:
		rows, err = store.db.QueryContext(ctx, `
			SELECT name, type FROM pragma_table_info(?)
		`, table)
	}
	if err != nil {
		return nil, err
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	existing := make(map[string]string)
	for rows.Next() {
		var name, sqlType string
		if err := rows.Scan(&name, &sqlType); err != nil {
			return nil, err
		}
		lower := strings.ToLower(name)
		if lower == "message_id" || lower == "metadata_id" {
			continue
		}
		existing[lower] = sqlType
	}
	return existing, rows.Err()
}
