// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package engine

import (
	"context"
	"strconv"
	"sync"

	"go.uber.org/zap"
)

// Settings rows backing shadow mode. The mode flag and per-channel
// promotions are persisted so every node of the cluster gates the same
// channels.
const (
	shadowCategory         = "shadow"
	shadowEnabledName      = "enabled"
	shadowPromotedCategory = "shadow.promoted"
)

// Shadow tracks shadow mode. While the mode is on, started channels keep
// their source connectors withheld and refuse intake until promoted, so a
// new node can come up with everything deployed but silent and channels
// can be cut over one at a time.
type Shadow struct {
	log *zap.Logger
	db  SettingsDB

	mu       sync.Mutex
	enabled  bool
	promoted map[string]bool
}

// LoadShadow restores the shadow state from settings. A missing mode flag
// is initialized from dflt so later nodes join with the same answer.
func LoadShadow(ctx context.Context, log *zap.Logger, db SettingsDB, dflt bool) (_ *Shadow, err error) {
	defer mon.Task()(&ctx)(&err)

	shadow := &Shadow{
		log:      log,
		db:       db,
		enabled:  dflt,
		promoted: make(map[string]bool),
	}

	value, err := db.Get(ctx, shadowCategory, shadowEnabledName)
	switch {
	case ErrNoSetting.Has(err):
		if err := db.Set(ctx, shadowCategory, shadowEnabledName, strconv.FormatBool(dflt)); err != nil {
			return nil, Error.Wrap(err)
		}
	case err != nil:
		return nil, Error.Wrap(err)
	default:
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return nil, Error.New("invalid shadow mode setting %q: %w", value, err)
		}
		shadow.enabled = enabled
	}

	promoted, err := db.All(ctx, shadowPromotedCategory)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	for channelID, value := range promoted {
		if ok, _ := strconv.ParseBool(value); ok {
			shadow.promoted[channelID] = true
		}
	}
	return shadow, nil
}

// Enabled reports whether shadow mode is on.
func (shadow *Shadow) Enabled() bool {
	shadow.mu.Lock()
	defer shadow.mu.Unlock()
	return shadow.enabled
}

// SetEnabled switches shadow mode. Turning it off clears the promotion
// records: the next shadow period starts with every channel gated again.
func (shadow *Shadow) SetEnabled(ctx context.Context, enabled bool) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := shadow.db.Set(ctx, shadowCategory, shadowEnabledName, strconv.FormatBool(enabled)); err != nil {
		return Error.Wrap(err)
	}

	shadow.mu.Lock()
	shadow.enabled = enabled
	var stale []string
	if !enabled {
		for channelID := range shadow.promoted {
			stale = append(stale, channelID)
		}
		shadow.promoted = make(map[string]bool)
	}
	shadow.mu.Unlock()

	for _, channelID := range stale {
		if err := shadow.db.Delete(ctx, shadowPromotedCategory, channelID); err != nil {
			shadow.log.Warn("stale promotion record not removed",
				zap.String("channelID", channelID),
				zap.Error(err))
		}
	}
	return nil
}

// Promote releases one channel from the shadow gate.
func (shadow *Shadow) Promote(ctx context.Context, channelID string) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := shadow.db.Set(ctx, shadowPromotedCategory, channelID, "true"); err != nil {
		return Error.Wrap(err)
	}
	shadow.mu.Lock()
	shadow.promoted[channelID] = true
	shadow.mu.Unlock()
	return nil
}

// Promoted reports whether the channel was released from the gate.
func (shadow *Shadow) Promoted(channelID string) bool {
	shadow.mu.Lock()
	defer shadow.mu.Unlock()
	return shadow.promoted[channelID]
}

// Gated reports whether the channel must hold its source and refuse
// intake right now.
func (shadow *Shadow) Gated(channelID string) bool {
	shadow.mu.Lock()
	defer shadow.mu.Unlock()
	return shadow.enabled && !shadow.promoted[channelID]
}
