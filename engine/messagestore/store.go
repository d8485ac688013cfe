// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

// Package messagestore persists messages, connector messages, content,
// metadata and attachments in per-channel tables.
//
// Every channel owns six tables named after a small local id that is
// assigned on first deployment and recorded in channel_id_map. The local
// id keeps table names short and independent of the channel id charset.
//
// architecture: Database
package messagestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"carewire.io/carewire/engine/encryption"
	"carewire.io/carewire/private/dbutil"
	"carewire.io/carewire/private/tagsql"
)

var (
	mon = monkit.Package()

	// Error is the default messagestore error class.
	Error = errs.Class("messagestore")
	// ErrSchema is returned when per-channel table management fails.
	ErrSchema = errs.Class("message schema")
	// ErrIntegrity is returned when stored rows violate expectations.
	ErrIntegrity = errs.Class("message integrity")
)

// identRe constrains every identifier that ends up inside generated DDL.
var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Store reads and writes per-channel message tables.
type Store struct {
	log  *zap.Logger
	db   tagsql.DB
	impl dbutil.Implementation
	enc  encryption.Encryptor

	mu       sync.Mutex
	localIDs map[string]int64
}

// New constructs a Store on top of an opened database handle. The handle
// is expected to rebind placeholders for the given implementation.
func New(log *zap.Logger, db tagsql.DB, impl dbutil.Implementation, enc encryption.Encryptor) *Store {
	return &Store{
		log:      log,
		db:       db,
		impl:     impl,
		enc:      enc,
		localIDs: make(map[string]int64),
	}
}

// channelTables holds the generated table names for one channel.
type channelTables struct {
	messages    string
	connectors  string
	content     string
	customMeta  string
	attachments string
	sequence    string
}

func tablesFor(localID int64) channelTables {
	return channelTables{
		messages:    fmt.Sprintf("cw_m%d", localID),
		connectors:  fmt.Sprintf("cw_mm%d", localID),
		content:     fmt.Sprintf("cw_mc%d", localID),
		customMeta:  fmt.Sprintf("cw_mcm%d", localID),
		attachments: fmt.Sprintf("cw_ma%d", localID),
		sequence:    fmt.Sprintf("cw_seq%d", localID),
	}
}

// localID resolves the channel's local table id, caching hits.
func (store *Store) localID(ctx context.Context, channelID string) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)

	store.mu.Lock()
	id, ok := store.localIDs[channelID]
	store.mu.Unlock()
	if ok {
		return id, nil
	}

	err = store.db.QueryRowContext(ctx, `
		SELECT local_id FROM channel_id_map WHERE channel_id = ?
	`, channelID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrSchema.New("channel %q is not provisioned", channelID)
	}
	if err != nil {
		return 0, Error.Wrap(err)
	}

	store.mu.Lock()
	store.localIDs[channelID] = id
	store.mu.Unlock()
	return id, nil
}

// tables resolves the channel's table names.
func (store *Store) tables(ctx context.Context, channelID string) (channelTables, error) {
	id, err := store.localID(ctx, channelID)
	if err != nil {
		return channelTables{}, err
	}
	return tablesFor(id), nil
}

// uncache drops the cached local id for a channel.
func (store *Store) uncache(channelID string) {
	store.mu.Lock()
	delete(store.localIDs, channelID)
	store.mu.Unlock()
}

// NextBlock atomically advances the channel's message id sequence by n
// and returns the first id of the reserved block.
func (store *Store) NextBlock(ctx context.Context, channelID string, n int64) (start int64, err error) {
	defer mon.Task()(&ctx)(&err)

	if n <= 0 {
		return 0, Error.New("invalid block size %d", n)
	}
	t, err := store.tables(ctx, channelID)
	if err != nil {
		return 0, err
	}

	var next int64
	err = store.db.QueryRowContext(ctx, `
		UPDATE `+t.sequence+` SET next_id = next_id + ? RETURNING next_id
	`, n).Scan(&next)
	if err != nil {
		return 0, Error.Wrap(err)
	}
	return next - n, nil
}
