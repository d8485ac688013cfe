// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package messagestore

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/zeebo/errs"

	"carewire.io/carewire/engine/message"
)

// InsertMessage stores the message row for an assigned id.
func (store *Store) InsertMessage(ctx context.Context, msg *message.Message) (err error) {
	defer mon.Task()(&ctx)(&err)

	t, err := store.tables(ctx, msg.ChannelID)
	if err != nil {
		return err
	}

	var originalID sql.NullInt64
	if msg.OriginalID != 0 {
		originalID = sql.NullInt64{Int64: msg.OriginalID, Valid: true}
	}
	_, err = store.db.ExecContext(ctx, `
		INSERT INTO `+t.messages+` (id, server_id, received_at, processed, imported, original_id)
		VALUES (?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.ServerID, msg.ReceivedAt.UTC(), msg.Processed, msg.Imported, originalID)
	return Error.Wrap(err)
}

// InsertConnectorMessage stores the per-connector row of a message.
func (store *Store) InsertConnectorMessage(ctx context.Context, cm *message.ConnectorMessage) (err error) {
	defer mon.Task()(&ctx)(&err)

	if !cm.Status.Valid() {
		return ErrIntegrity.New("invalid status %q", cm.Status.Char())
	}
	t, err := store.tables(ctx, cm.ChannelID)
	if err != nil {
		return err
	}

	_, err = store.db.ExecContext(ctx, `
		INSERT INTO `+t.connectors+` (
			message_id, metadata_id, connector_name, server_id, received_at,
			status, send_attempts, send_date, response_date, error_code,
			chain_id, order_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, cm.MessageID, cm.MetaDataID, cm.ConnectorName, cm.ServerID, cm.ReceivedAt.UTC(),
		cm.Status.Char(), cm.SendAttempts, nullTime(cm.SendDate), nullTime(cm.ResponseDate), cm.ErrorCode,
		cm.ChainID, cm.OrderID)
	return Error.Wrap(err)
}

// UpdateStatus persists the mutable processing fields of a connector
// message: status, send attempts, send and response dates and the error
// code.
func (store *Store) UpdateStatus(ctx context.Context, cm *message.ConnectorMessage) (err error) {
	defer mon.Task()(&ctx)(&err)

	if !cm.Status.Valid() {
		return ErrIntegrity.New("invalid status %q", cm.Status.Char())
	}
	t, err := store.tables(ctx, cm.ChannelID)
	if err != nil {
		return err
	}

	result, err := store.db.ExecContext(ctx, `
		UPDATE `+t.connectors+`
		SET status = ?, send_attempts = ?, send_date = ?, response_date = ?, error_code = ?
		WHERE message_id = ? AND metadata_id = ?
	`, cm.Status.Char(), cm.SendAttempts, nullTime(cm.SendDate), nullTime(cm.ResponseDate), cm.ErrorCode,
		cm.MessageID, cm.MetaDataID)
	if err != nil {
		return Error.Wrap(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return Error.Wrap(err)
	}
	if affected == 0 {
		return ErrIntegrity.New("connector message %d/%d does not exist", cm.MessageID, cm.MetaDataID)
	}
	return nil
}

// MarkProcessed flags a message as fully processed.
func (store *Store) MarkProcessed(ctx context.Context, channelID string, messageID int64) (err error) {
	defer mon.Task()(&ctx)(&err)

	t, err := store.tables(ctx, channelID)
	if err != nil {
		return err
	}
	_, err = store.db.ExecContext(ctx, `
		UPDATE `+t.messages+` SET processed = ? WHERE id = ?
	`, true, messageID)
	return Error.Wrap(err)
}

// GetMessage loads a message row.
func (store *Store) GetMessage(ctx context.Context, channelID string, messageID int64) (_ *message.Message, err error) {
	defer mon.Task()(&ctx)(&err)

	t, err := store.tables(ctx, channelID)
	if err != nil {
		return nil, err
	}

	msg := &message.Message{ID: messageID, ChannelID: channelID}
	var originalID sql.NullInt64
	err = store.db.QueryRowContext(ctx, `
		SELECT server_id, received_at, processed, imported, original_id
		FROM `+t.messages+` WHERE id = ?
	`, messageID).Scan(&msg.ServerID, &msg.ReceivedAt, &msg.Processed, &msg.Imported, &originalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrIntegrity.New("message %d does not exist", messageID)
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	msg.OriginalID = originalID.Int64
	return msg, nil
}

// GetConnectorMessage loads one connector message row without variable
// maps or content.
func (store *Store) GetConnectorMessage(ctx context.Context, channelID string, messageID int64, metaDataID int) (_ *message.ConnectorMessage, err error) {
	defer mon.Task()(&ctx)(&err)

	t, err := store.tables(ctx, channelID)
	if err != nil {
		return nil, err
	}

	cm, err := scanConnectorMessage(store.db.QueryRowContext(ctx, `
		SELECT message_id, metadata_id, connector_name, server_id, received_at,
			status, send_attempts, send_date, response_date, error_code,
			chain_id, order_id
		FROM `+t.connectors+` WHERE message_id = ? AND metadata_id = ?
	`, messageID, metaDataID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrIntegrity.New("connector message %d/%d does not exist", messageID, metaDataID)
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	cm.ChannelID = channelID
	return cm, nil
}

// ListConnectorMessages loads all connector message rows of a message
// ordered by metadata id.
func (store *Store) ListConnectorMessages(ctx context.Context, channelID string, messageID int64) (_ []*message.ConnectorMessage, err error) {
	defer mon.Task()(&ctx)(&err)

	t, err := store.tables(ctx, channelID)
	if err != nil {
		return nil, err
	}

	rows, err := store.db.QueryContext(ctx, `
		SELECT message_id, metadata_id, connector_name, server_id, received_at,
			status, send_attempts, send_date, response_date, error_code,
			chain_id, order_id
		FROM `+t.connectors+` WHERE message_id = ? ORDER BY metadata_id
	`, messageID)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(rows.Close())) }()

	var cms []*message.ConnectorMessage
	for rows.Next() {
		cm, err := scanConnectorMessage(rows)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		cm.ChannelID = channelID
		cms = append(cms, cm)
	}
	return cms, Error.Wrap(rows.Err())
}

// ListQueued returns up to limit queued connector messages for a
// destination with message id greater than afterID, in message id order.
func (store *Store) ListQueued(ctx context.Context, channelID string, metaDataID int, limit int, afterID int64) (_ []*message.ConnectorMessage, err error) {
	defer mon.Task()(&ctx)(&err)

	t, err := store.tables(ctx, channelID)
	if err != nil {
		return nil, err
	}

	rows, err := store.db.QueryContext(ctx, `
		SELECT message_id, metadata_id, connector_name, server_id, received_at,
			status, send_attempts, send_date, response_date, error_code,
			chain_id, order_id
		FROM `+t.connectors+`
		WHERE metadata_id = ? AND status = ? AND message_id > ?
		ORDER BY message_id
		LIMIT ?
	`, metaDataID, message.StatusQueued.Char(), afterID, limit)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(rows.Close())) }()

	var cms []*message.ConnectorMessage
	for rows.Next() {
		cm, err := scanConnectorMessage(rows)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		cm.ChannelID = channelID
		cms = append(cms, cm)
	}
	return cms, Error.Wrap(rows.Err())
}

// ResetStale recovers connector messages left pending by a crashed
// server. Rows of queue-enabled destinations return to the queue, all
// other pending rows become errored. It returns how many rows were
// requeued and errored.
func (store *Store) ResetStale(ctx context.Context, channelID, serverID string, queueEnabled []int) (requeued, errored int64, err error) {
	defer mon.Task()(&ctx)(&err)

	t, err := store.tables(ctx, channelID)
	if err != nil {
		return 0, 0, err
	}

	if len(queueEnabled) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(queueEnabled)), ", ")
		args := []interface{}{message.StatusQueued.Char(), message.StatusPending.Char(), serverID}
		for _, id := range queueEnabled {
			args = append(args, id)
		}
		result, err := store.db.ExecContext(ctx, `
			UPDATE `+t.connectors+` SET status = ?
			WHERE status = ? AND server_id = ? AND metadata_id IN (`+placeholders+`)
		`, args...)
		if err != nil {
			return 0, 0, Error.Wrap(err)
		}
		requeued, err = result.RowsAffected()
		if err != nil {
			return 0, 0, Error.Wrap(err)
		}
	}

	result, err := store.db.ExecContext(ctx, `
		UPDATE `+t.connectors+` SET status = ?, error_code = ?
		WHERE status = ? AND server_id = ?
	`, message.StatusError.Char(), message.ErrCodeRecovery, message.StatusPending.Char(), serverID)
	if err != nil {
		return requeued, 0, Error.Wrap(err)
	}
	errored, err = result.RowsAffected()
	if err != nil {
		return requeued, 0, Error.Wrap(err)
	}
	return requeued, errored, nil
}

// DeleteMessagesBefore removes processed messages received before the
// cutoff together with their dependent rows. It returns the number of
// deleted messages.
func (store *Store) DeleteMessagesBefore(ctx context.Context, channelID string, before time.Time) (deleted int64, err error) {
	defer mon.Task()(&ctx)(&err)

	t, err := store.tables(ctx, channelID)
	if err != nil {
		return 0, err
	}

	match := `SELECT id FROM ` + t.messages + ` WHERE received_at < ? AND processed = ?`
	for _, table := range []string{t.attachments, t.customMeta, t.content, t.connectors} {
		_, err := store.db.ExecContext(ctx, `
			DELETE FROM `+table+` WHERE message_id IN (`+match+`)
		`, before.UTC(), true)
		if err != nil {
			return 0, Error.Wrap(err)
		}
	}
	result, err := store.db.ExecContext(ctx, `
		DELETE FROM `+t.messages+` WHERE received_at < ? AND processed = ?
	`, before.UTC(), true)
	if err != nil {
		return 0, Error.Wrap(err)
	}
	deleted, err = result.RowsAffected()
	return deleted, Error.Wrap(err)
}

// rowScanner is satisfied by both sql.Row and sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConnectorMessage(row rowScanner) (*message.ConnectorMessage, error) {
	var cm message.ConnectorMessage
	var status string
	var sendDate, responseDate sql.NullTime
	err := row.Scan(
		&cm.MessageID, &cm.MetaDataID, &cm.ConnectorName, &cm.ServerID, &cm.ReceivedAt,
		&status, &cm.SendAttempts, &sendDate, &responseDate, &cm.ErrorCode,
		&cm.ChainID, &cm.OrderID)
	if err != nil {
		return nil, err
	}
	cm.Status, err = message.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	cm.SendDate = sendDate.Time
	cm.ResponseDate = responseDate.Time
	return &cm, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
