// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package messagestore_test

import (
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"

	"carewire.io/carewire/engine/channel"
	"carewire.io/carewire/engine/encryption"
	"carewire.io/carewire/engine/message"
	"carewire.io/carewire/engine/messagestore"
	"carewire.io/carewire/private/dbutil"
	"carewire.io/carewire/private/tagsql"
)

func openStore(t *testing.T, ctx *testcontext.Context, enc encryption.Encryptor) (*messagestore.Store, tagsql.DB) {
	db, err := tagsql.Open(ctx, "sqlite3", filepath.Join(ctx.Dir("messagestore"), "test.db"))
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS channel_id_map (
			channel_id TEXT NOT NULL,
			local_id INTEGER NOT NULL,
			PRIMARY KEY (channel_id)
		)`)
	require.NoError(t, err)

	return messagestore.New(zaptest.NewLogger(t), db, dbutil.SQLite, enc), db
}

func testColumns() []channel.MetaDataColumn {
	return []channel.MetaDataColumn{
		{Name: "mrn", Type: channel.ColumnString, Mapping: "mrn"},
		{Name: "priority", Type: channel.ColumnNumber, Mapping: "priority"},
	}
}

func TestEnsureChannelAndSequence(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store, db := openStore(t, ctx, encryption.Noop{})
	defer ctx.Check(db.Close)

	require.NoError(t, store.EnsureChannel(ctx, "chan-a", testColumns()))
	// idempotent on redeploy
	require.NoError(t, store.EnsureChannel(ctx, "chan-a", testColumns()))

	start, err := store.NextBlock(ctx, "chan-a", 10)
	require.NoError(t, err)
	require.EqualValues(t, 1, start)

	start, err = store.NextBlock(ctx, "chan-a", 10)
	require.NoError(t, err)
	require.EqualValues(t, 11, start)

	_, err = store.NextBlock(ctx, "chan-a", 0)
	require.Error(t, err)

	_, err = store.NextBlock(ctx, "missing", 10)
	require.True(t, messagestore.ErrSchema.Has(err))
}

func TestMessageRoundtrip(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store, db := openStore(t, ctx, encryption.Noop{})
	defer ctx.Check(db.Close)

	require.NoError(t, store.EnsureChannel(ctx, "chan-a", nil))

	received := time.Now().UTC().Truncate(time.Millisecond)
	msg := &message.Message{
		ID:         1,
		ChannelID:  "chan-a",
		ServerID:   "srv-1",
		ReceivedAt: received,
	}
	require.NoError(t, store.InsertMessage(ctx, msg))

	got, err := store.GetMessage(ctx, "chan-a", 1)
	require.NoError(t, err)
	require.Equal(t, "srv-1", got.ServerID)
	require.False(t, got.Processed)
	require.Zero(t, got.OriginalID)
	require.True(t, got.ReceivedAt.Equal(received))

	require.NoError(t, store.MarkProcessed(ctx, "chan-a", 1))
	got, err = store.GetMessage(ctx, "chan-a", 1)
	require.NoError(t, err)
	require.True(t, got.Processed)

	_, err = store.GetMessage(ctx, "chan-a", 99)
	require.True(t, messagestore.ErrIntegrity.Has(err))
}

func TestConnectorMessageLifecycle(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store, db := openStore(t, ctx, encryption.Noop{})
	defer ctx.Check(db.Close)

	require.NoError(t, store.EnsureChannel(ctx, "chan-a", nil))

	cm := &message.ConnectorMessage{
		MessageID:     1,
		MetaDataID:    message.SourceMetaDataID,
		ChannelID:     "chan-a",
		ConnectorName: "Source",
		ServerID:      "srv-1",
		ReceivedAt:    time.Now().UTC(),
		Status:        message.StatusReceived,
	}
	require.NoError(t, store.InsertConnectorMessage(ctx, cm))

	got, err := store.GetConnectorMessage(ctx, "chan-a", 1, message.SourceMetaDataID)
	require.NoError(t, err)
	require.Equal(t, message.StatusReceived, got.Status)
	require.True(t, got.SendDate.IsZero())
	require.True(t, got.ResponseDate.IsZero())

	cm.Status = message.StatusSent
	cm.SendAttempts = 3
	cm.SendDate = time.Now().UTC()
	require.NoError(t, store.UpdateStatus(ctx, cm))

	got, err = store.GetConnectorMessage(ctx, "chan-a", 1, message.SourceMetaDataID)
	require.NoError(t, err)
	require.Equal(t, message.StatusSent, got.Status)
	require.Equal(t, 3, got.SendAttempts)
	require.False(t, got.SendDate.IsZero())

	missing := &message.ConnectorMessage{
		MessageID:  2,
		MetaDataID: 1,
		ChannelID:  "chan-a",
		Status:     message.StatusSent,
	}
	err = store.UpdateStatus(ctx, missing)
	require.True(t, messagestore.ErrIntegrity.Has(err))

	invalid := &message.ConnectorMessage{ChannelID: "chan-a", Status: message.Status('x')}
	require.Error(t, store.InsertConnectorMessage(ctx, invalid))
}

func TestContentRoundtrip(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store, db := openStore(t, ctx, encryption.Noop{})
	defer ctx.Check(db.Close)

	require.NoError(t, store.EnsureChannel(ctx, "chan-a", nil))

	content := message.Content{
		MessageID:  1,
		MetaDataID: 0,
		Type:       message.ContentRaw,
		Content:    "MSH|^~\\&|LAB|",
		DataType:   "HL7V2",
	}
	require.NoError(t, store.UpsertContent(ctx, "chan-a", content))

	got, err := store.GetContent(ctx, "chan-a", 1, 0, message.ContentRaw)
	require.NoError(t, err)
	require.Equal(t, content.Content, got.Content)
	require.Equal(t, "HL7V2", got.DataType)
	require.False(t, got.Encrypted)

	content.Content = "MSH|^~\\&|LAB2|"
	require.NoError(t, store.UpsertContent(ctx, "chan-a", content))
	got, err = store.GetContent(ctx, "chan-a", 1, 0, message.ContentRaw)
	require.NoError(t, err)
	require.Equal(t, "MSH|^~\\&|LAB2|", got.Content)

	_, err = store.GetContent(ctx, "chan-a", 1, 0, message.ContentEncoded)
	require.True(t, messagestore.ErrIntegrity.Has(err))
}

func TestContentEncryption(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	enc, err := encryption.NewAESGCM([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	store, db := openStore(t, ctx, enc)
	defer ctx.Check(db.Close)

	require.NoError(t, store.EnsureChannel(ctx, "chan-a", nil))

	content := message.Content{
		MessageID: 1,
		Type:      message.ContentRaw,
		Content:   "PID|1||12345",
	}
	require.NoError(t, store.UpsertContent(ctx, "chan-a", content))

	got, err := store.GetContent(ctx, "chan-a", 1, 0, message.ContentRaw)
	require.NoError(t, err)
	require.True(t, got.Encrypted)
	require.Equal(t, "PID|1||12345", got.Content)

	// the stored cell must not contain the plaintext
	var stored string
	err = db.QueryRowContext(ctx, `SELECT content FROM cw_mc1 WHERE message_id = 1`).Scan(&stored)
	require.NoError(t, err)
	require.NotContains(t, stored, "12345")
}

func TestSaveLoadMaps(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store, db := openStore(t, ctx, encryption.Noop{})
	defer ctx.Check(db.Close)

	require.NoError(t, store.EnsureChannel(ctx, "chan-a", nil))

	cm := &message.ConnectorMessage{
		MessageID:  7,
		MetaDataID: 1,
		ChannelID:  "chan-a",
		SourceMap:  message.Map{"originalFilename": "a.hl7"},
		ChannelMap: message.Map{"mrn": "12345"},
	}
	require.NoError(t, store.SaveMaps(ctx, cm))

	loaded := &message.ConnectorMessage{MessageID: 7, MetaDataID: 1, ChannelID: "chan-a"}
	require.NoError(t, store.LoadMaps(ctx, loaded))
	require.Equal(t, "a.hl7", loaded.SourceMap["originalFilename"])
	require.Equal(t, "12345", loaded.ChannelMap["mrn"])
	require.Empty(t, loaded.ResponseMap)
}

func TestMetaDataColumns(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store, db := openStore(t, ctx, encryption.Noop{})
	defer ctx.Check(db.Close)

	require.NoError(t, store.EnsureChannel(ctx, "chan-a", testColumns()))

	values := message.Map{"mrn": "12345", "priority": float64(2)}
	require.NoError(t, store.UpsertMetaData(ctx, "chan-a", 1, 0, testColumns(), values))

	var mrn string
	var priority float64
	err := db.QueryRowContext(ctx, `
		SELECT mrn, priority FROM cw_mcm1 WHERE message_id = 1 AND metadata_id = 0
	`).Scan(&mrn, &priority)
	require.NoError(t, err)
	require.Equal(t, "12345", mrn)
	require.EqualValues(t, 2, priority)

	// upsert overwrites
	values["mrn"] = "67890"
	require.NoError(t, store.UpsertMetaData(ctx, "chan-a", 1, 0, testColumns(), values))
	err = db.QueryRowContext(ctx, `
		SELECT mrn FROM cw_mcm1 WHERE message_id = 1 AND metadata_id = 0
	`).Scan(&mrn)
	require.NoError(t, err)
	require.Equal(t, "67890", mrn)

	// wrong value type is rejected
	err = store.UpsertMetaData(ctx, "chan-a", 1, 0, testColumns(), message.Map{"priority": "high"})
	require.True(t, messagestore.ErrIntegrity.Has(err))
}

func TestSyncMetaDataColumns(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store, db := openStore(t, ctx, encryption.Noop{})
	defer ctx.Check(db.Close)

	require.NoError(t, store.EnsureChannel(ctx, "chan-a", testColumns()))

	// redeclare: drop priority, add urgent
	changed := []channel.MetaDataColumn{
		{Name: "mrn", Type: channel.ColumnString, Mapping: "mrn"},
		{Name: "urgent", Type: channel.ColumnBoolean, Mapping: "urgent"},
	}
	require.NoError(t, store.SyncMetaDataColumns(ctx, "chan-a", changed))

	values := message.Map{"mrn": "1", "urgent": true}
	require.NoError(t, store.UpsertMetaData(ctx, "chan-a", 1, 0, changed, values))

	var urgent bool
	err := db.QueryRowContext(ctx, `
		SELECT urgent FROM cw_mcm1 WHERE message_id = 1
	`).Scan(&urgent)
	require.NoError(t, err)
	require.True(t, urgent)

	err = db.QueryRowContext(ctx, `SELECT priority FROM cw_mcm1`).Scan(new(float64))
	require.Error(t, err)
}

func TestListQueued(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store, db := openStore(t, ctx, encryption.Noop{})
	defer ctx.Check(db.Close)

	require.NoError(t, store.EnsureChannel(ctx, "chan-a", nil))

	for id := int64(1); id <= 3; id++ {
		require.NoError(t, store.InsertConnectorMessage(ctx, &message.ConnectorMessage{
			MessageID:  id,
			MetaDataID: 1,
			ChannelID:  "chan-a",
			ReceivedAt: time.Now().UTC(),
			Status:     message.StatusQueued,
		}))
	}
	require.NoError(t, store.InsertConnectorMessage(ctx, &message.ConnectorMessage{
		MessageID:  4,
		MetaDataID: 2,
		ChannelID:  "chan-a",
		ReceivedAt: time.Now().UTC(),
		Status:     message.StatusQueued,
	}))

	queued, err := store.ListQueued(ctx, "chan-a", 1, 2, 0)
	require.NoError(t, err)
	require.Len(t, queued, 2)
	require.EqualValues(t, 1, queued[0].MessageID)
	require.EqualValues(t, 2, queued[1].MessageID)

	queued, err = store.ListQueued(ctx, "chan-a", 1, 10, 2)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	require.EqualValues(t, 3, queued[0].MessageID)
}

func TestResetStale(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store, db := openStore(t, ctx, encryption.Noop{})
	defer ctx.Check(db.Close)

	require.NoError(t, store.EnsureChannel(ctx, "chan-a", nil))

	insert := func(id int64, metaDataID int, serverID string) {
		require.NoError(t, store.InsertConnectorMessage(ctx, &message.ConnectorMessage{
			MessageID:  id,
			MetaDataID: metaDataID,
			ChannelID:  "chan-a",
			ServerID:   serverID,
			ReceivedAt: time.Now().UTC(),
			Status:     message.StatusPending,
		}))
	}
	insert(1, 1, "srv-1") // queue enabled, requeued
	insert(2, 2, "srv-1") // errored
	insert(3, 1, "srv-2") // other server, untouched

	requeued, errored, err := store.ResetStale(ctx, "chan-a", "srv-1", []int{1})
	require.NoError(t, err)
	require.EqualValues(t, 1, requeued)
	require.EqualValues(t, 1, errored)

	got, err := store.GetConnectorMessage(ctx, "chan-a", 1, 1)
	require.NoError(t, err)
	require.Equal(t, message.StatusQueued, got.Status)

	got, err = store.GetConnectorMessage(ctx, "chan-a", 2, 2)
	require.NoError(t, err)
	require.Equal(t, message.StatusError, got.Status)
	require.Equal(t, message.ErrCodeRecovery, got.ErrorCode)

	got, err = store.GetConnectorMessage(ctx, "chan-a", 3, 1)
	require.NoError(t, err)
	require.Equal(t, message.StatusPending, got.Status)
}

func TestDeleteMessagesBefore(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store, db := openStore(t, ctx, encryption.Noop{})
	defer ctx.Check(db.Close)

	require.NoError(t, store.EnsureChannel(ctx, "chan-a", nil))

	old := time.Now().UTC().Add(-48 * time.Hour)
	insert := func(id int64, receivedAt time.Time, processed bool) {
		require.NoError(t, store.InsertMessage(ctx, &message.Message{
			ID:         id,
			ChannelID:  "chan-a",
			ServerID:   "srv-1",
			ReceivedAt: receivedAt,
			Processed:  processed,
		}))
		require.NoError(t, store.UpsertContent(ctx, "chan-a", message.Content{
			MessageID: id,
			Type:      message.ContentRaw,
			Content:   "body",
		}))
	}
	insert(1, old, true)
	insert(2, old, false) // unprocessed, kept
	insert(3, time.Now().UTC(), true)

	deleted, err := store.DeleteMessagesBefore(ctx, "chan-a", time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, deleted)

	_, err = store.GetMessage(ctx, "chan-a", 1)
	require.True(t, messagestore.ErrIntegrity.Has(err))
	_, err = store.GetContent(ctx, "chan-a", 1, 0, message.ContentRaw)
	require.True(t, messagestore.ErrIntegrity.Has(err))

	_, err = store.GetMessage(ctx, "chan-a", 2)
	require.NoError(t, err)
	_, err = store.GetMessage(ctx, "chan-a", 3)
	require.NoError(t, err)
}

func TestAttachments(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store, db := openStore(t, ctx, encryption.Noop{})
	defer ctx.Check(db.Close)

	require.NoError(t, store.EnsureChannel(ctx, "chan-a", nil))

	require.NoError(t, store.InsertAttachment(ctx, "chan-a", message.Attachment{
		MessageID: 1,
		ID:        "att-1",
		Type:      "application/pdf",
		Content:   []byte{0x25, 0x50, 0x44, 0x46},
	}))

	atts, err := store.GetAttachments(ctx, "chan-a", 1)
	require.NoError(t, err)
	require.Len(t, atts, 1)
	require.Equal(t, "att-1", atts[0].ID)
	require.Equal(t, "application/pdf", atts[0].Type)
	require.Equal(t, []byte{0x25, 0x50, 0x44, 0x46}, atts[0].Content)

	atts, err = store.GetAttachments(ctx, "chan-a", 2)
	require.NoError(t, err)
	require.Empty(t, atts)
}

func TestRemoveChannel(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store, db := openStore(t, ctx, encryption.Noop{})
	defer ctx.Check(db.Close)

	require.NoError(t, store.EnsureChannel(ctx, "chan-a", nil))
	_, err := store.NextBlock(ctx, "chan-a", 5)
	require.NoError(t, err)

	require.NoError(t, store.RemoveChannel(ctx, "chan-a"))
	_, err = store.NextBlock(ctx, "chan-a", 5)
	require.True(t, messagestore.ErrSchema.Has(err))

	// removing an unknown channel is a no-op
	require.NoError(t, store.RemoveChannel(ctx, "chan-a"))

	// reprovisioning starts a fresh sequence
	require.NoError(t, store.EnsureChannel(ctx, "chan-a", nil))
	start, err := store.NextBlock(ctx, "chan-a", 5)
	require.NoError(t, err)
	require.EqualValues(t, 1, start)
}
