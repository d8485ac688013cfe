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

	"carewire.io/carewire/engine/channel"
	"carewire.io/carewire/engine/message"
)

// UpsertContent stores one content row for a connector message,
// replacing any previous row of the same content type. The body is
// encrypted when the store's encryptor is enabled.
func (store *Store) UpsertContent(ctx context.Context, channelID string, content message.Content) (err error) {
	defer mon.Task()(&ctx)(&err)

	if !content.Type.Valid() {
		return ErrIntegrity.New("invalid content type %d", int(content.Type))
	}
	t, err := store.tables(ctx, channelID)
	if err != nil {
		return err
	}

	stored := content.Content
	encrypted := false
	if store.enc.Enabled() {
		stored, err = store.enc.Encrypt([]byte(content.Content))
		if err != nil {
			return Error.Wrap(err)
		}
		encrypted = true
	}

	_, err = store.db.ExecContext(ctx, `
		INSERT INTO `+t.content+` (message_id, metadata_id, content_type, content, data_type, encrypted)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (message_id, metadata_id, content_type)
		DO UPDATE SET content = EXCLUDED.content, data_type = EXCLUDED.data_type, encrypted = EXCLUDED.encrypted
	`, content.MessageID, content.MetaDataID, int(content.Type), stored, content.DataType, encrypted)
	return Error.Wrap(err)
}

// GetContent loads one content row, decrypting it if needed.
func (store *Store) GetContent(ctx context.Context, channelID string, messageID int64, metaDataID int, contentType message.ContentType) (_ message.Content, err error) {
	defer mon.Task()(&ctx)(&err)

	t, err := store.tables(ctx, channelID)
	if err != nil {
		return message.Content{}, err
	}

	content := message.Content{MessageID: messageID, MetaDataID: metaDataID, Type: contentType}
	var stored string
	err = store.db.QueryRowContext(ctx, `
		SELECT content, data_type, encrypted FROM `+t.content+`
		WHERE message_id = ? AND metadata_id = ? AND content_type = ?
	`, messageID, metaDataID, int(contentType)).Scan(&stored, &content.DataType, &content.Encrypted)
	if errors.Is(err, sql.ErrNoRows) {
		return message.Content{}, ErrIntegrity.New("content %d/%d/%v does not exist", messageID, metaDataID, contentType)
	}
	if err != nil {
		return message.Content{}, Error.Wrap(err)
	}

	if content.Encrypted {
		plaintext, err := store.enc.Decrypt(stored)
		if err != nil {
			return message.Content{}, Error.Wrap(err)
		}
		content.Content = string(plaintext)
	} else {
		content.Content = stored
	}
	return content, nil
}

// SaveMaps persists the variable maps of a connector message as
// map-typed content rows. Maps that are empty and were never stored are
// skipped.
func (store *Store) SaveMaps(ctx context.Context, cm *message.ConnectorMessage) (err error) {
	defer mon.Task()(&ctx)(&err)

	save := func(m message.Map, ct message.ContentType) error {
		if len(m) == 0 {
			return nil
		}
		encoded, err := m.Encode()
		if err != nil {
			return err
		}
		return store.UpsertContent(ctx, cm.ChannelID, message.Content{
			MessageID:  cm.MessageID,
			MetaDataID: cm.MetaDataID,
			Type:       ct,
			Content:    encoded,
		})
	}
	return errs.Combine(
		save(cm.SourceMap, message.ContentSourceMap),
		save(cm.ChannelMap, message.ContentChannelMap),
		save(cm.ResponseMap, message.ContentResponseMap),
	)
}

// LoadMaps restores the variable maps of a connector message from its
// map-typed content rows. Missing rows leave empty maps.
func (store *Store) LoadMaps(ctx context.Context, cm *message.ConnectorMessage) (err error) {
	defer mon.Task()(&ctx)(&err)

	load := func(ct message.ContentType) (message.Map, error) {
		content, err := store.GetContent(ctx, cm.ChannelID, cm.MessageID, cm.MetaDataID, ct)
		if ErrIntegrity.Has(err) {
			return message.Map{}, nil
		}
		if err != nil {
			return nil, err
		}
		return message.DecodeMap(content.Content)
	}

	if cm.SourceMap, err = load(message.ContentSourceMap); err != nil {
		return err
	}
	if cm.ChannelMap, err = load(message.ContentChannelMap); err != nil {
		return err
	}
	cm.ResponseMap, err = load(message.ContentResponseMap)
	return err
}

// UpsertMetaData writes the custom metadata row of a connector message.
// Values are keyed by declared column name; missing keys store NULL.
func (store *Store) UpsertMetaData(ctx context.Context, channelID string, messageID int64, metaDataID int, columns []channel.MetaDataColumn, values message.Map) (err error) {
	defer mon.Task()(&ctx)(&err)

	t, err := store.tables(ctx, channelID)
	if err != nil {
		return err
	}

	names := []string{"message_id", "metadata_id"}
	args := []interface{}{messageID, metaDataID}
	for _, col := range columns {
		if !identRe.MatchString(col.Name) {
			return ErrSchema.New("invalid metadata column name %q", col.Name)
		}
		value, err := metaDataValue(col, values[col.Name])
		if err != nil {
			return err
		}
		names = append(names, col.Name)
		args = append(args, value)
	}

	var sets []string
	for _, name := range names[2:] {
		sets = append(sets, name+" = EXCLUDED."+name)
	}
	query := `INSERT INTO ` + t.customMeta + ` (` + strings.Join(names, ", ") + `)
		VALUES (` + strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ") + `)`
	if len(sets) > 0 {
		query += ` ON CONFLICT (message_id, metadata_id) DO UPDATE SET ` + strings.Join(sets, ", ")
	} else {
		query += ` ON CONFLICT (message_id, metadata_id) DO NOTHING`
	}

	_, err = store.db.ExecContext(ctx, query, args...)
	return Error.Wrap(err)
}

// metaDataValue coerces a map value to the declared column type.
func metaDataValue(col channel.MetaDataColumn, value interface{}) (interface{}, error) {
	if value == nil {
		return nil, nil
	}
	switch col.Type {
	case channel.ColumnString:
		switch v := value.(type) {
		case string:
			return v, nil
		default:
			return nil, ErrIntegrity.New("column %q expects a string, got %T", col.Name, value)
		}
	case channel.ColumnNumber:
		switch v := value.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		default:
			return nil, ErrIntegrity.New("column %q expects a number, got %T", col.Name, value)
		}
	case channel.ColumnBoolean:
		if v, ok := value.(bool); ok {
			return v, nil
		}
		return nil, ErrIntegrity.New("column %q expects a boolean, got %T", col.Name, value)
	case channel.ColumnTimestamp:
		switch v := value.(type) {
		case time.Time:
			return v.UTC(), nil
		case string:
			parsed, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return nil, ErrIntegrity.New("column %q expects a timestamp: %v", col.Name, err)
			}
			return parsed.UTC(), nil
		default:
			return nil, ErrIntegrity.New("column %q expects a timestamp, got %T", col.Name, value)
		}
	default:
		return nil, ErrIntegrity.New("unsupported column type %q", col.Type)
	}
}

// InsertAttachment stores one attachment of a message.
func (store *Store) InsertAttachment(ctx context.Context, channelID string, att message.Attachment) (err error) {
	defer mon.Task()(&ctx)(&err)

	t, err := store.tables(ctx, channelID)
	if err != nil {
		return err
	}
	_, err = store.db.ExecContext(ctx, `
		INSERT INTO `+t.attachments+` (message_id, attachment_id, attachment_type, content)
		VALUES (?, ?, ?, ?)
	`, att.MessageID, att.ID, att.Type, att.Content)
	return Error.Wrap(err)
}

// GetAttachments loads all attachments of a message ordered by id.
func (store *Store) GetAttachments(ctx context.Context, channelID string, messageID int64) (_ []message.Attachment, err error) {
	defer mon.Task()(&ctx)(&err)

	t, err := store.tables(ctx, channelID)
	if err != nil {
		return nil, err
	}

	rows, err := store.db.QueryContext(ctx, `
		SELECT attachment_id, attachment_type, content FROM `+t.attachments+`
		WHERE message_id = ? ORDER BY attachment_id
	`, messageID)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(rows.Close())) }()

	var atts []message.Attachment
	for rows.Next() {
		att := message.Attachment{MessageID: messageID}
		if err := rows.Scan(&att.ID, &att.Type, &att.Content); err != nil {
			return nil, Error.Wrap(err)
		}
		atts = append(atts, att)
	}
	return atts, Error.Wrap(rows.Err())
}
