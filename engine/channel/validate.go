// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package channel

import (
	"regexp"
	"strings"
)

// Validate checks the channel configuration invariants. It returns
// ErrConfiguration describing the first violation found.
func (c *Channel) Validate() error {
	if c.ID == "" {
		return ErrConfiguration.New("channel id is empty")
	}
	if !idRe.MatchString(c.ID) {
		return ErrConfiguration.New("channel id %q contains invalid characters", c.ID)
	}
	if c.Name == "" {
		return ErrConfiguration.New("channel %s: name is empty", c.ID)
	}
	if c.Source.Transport == "" {
		return ErrConfiguration.New("channel %s: source transport is empty", c.ID)
	}

	seenIDs := make(map[int]bool, len(c.Destinations))
	seenNames := make(map[string]bool, len(c.Destinations))
	for i := range c.Destinations {
		dest := &c.Destinations[i]
		if dest.MetaDataID < 1 {
			return ErrConfiguration.New("channel %s: destination %q has metadata id %d, must be >= 1",
				c.ID, dest.Name, dest.MetaDataID)
		}
		if seenIDs[dest.MetaDataID] {
			return ErrConfiguration.New("channel %s: duplicate destination metadata id %d",
				c.ID, dest.MetaDataID)
		}
		seenIDs[dest.MetaDataID] = true

		if dest.Name == "" {
			return ErrConfiguration.New("channel %s: destination %d has no name", c.ID, dest.MetaDataID)
		}
		if seenNames[dest.Name] {
			return ErrConfiguration.New("channel %s: duplicate destination name %q", c.ID, dest.Name)
		}
		seenNames[dest.Name] = true

		if dest.Transport == "" {
			return ErrConfiguration.New("channel %s: destination %q has no transport", c.ID, dest.Name)
		}
		if err := dest.Queue.validate(c.ID, dest.Name); err != nil {
			return err
		}
	}

	if c.Source.RespondFrom != "" && c.Source.RespondFrom != RespondFromLast {
		if !seenNames[c.Source.RespondFrom] {
			return ErrConfiguration.New("channel %s: respond-from destination %q does not exist",
				c.ID, c.Source.RespondFrom)
		}
	}

	// Metadata columns must map cleanly onto sql columns. Matching against
	// stored columns is case-insensitive, so names differing only in case
	// would collide.
	lower := make(map[string]string, len(c.MetaDataColumns))
	for _, col := range c.MetaDataColumns {
		if !columnRe.MatchString(col.Name) {
			return ErrConfiguration.New("channel %s: invalid metadata column name %q", c.ID, col.Name)
		}
		if !col.Type.Valid() {
			return ErrConfiguration.New("channel %s: metadata column %q has invalid type %q",
				c.ID, col.Name, col.Type)
		}
		key := strings.ToLower(col.Name)
		if prev, ok := lower[key]; ok {
			return ErrConfiguration.New("channel %s: metadata columns %q and %q differ only in case",
				c.ID, prev, col.Name)
		}
		lower[key] = col.Name
	}

	if c.Attachments.Extract && c.Attachments.Pattern != "" {
		if _, err := regexp.Compile(c.Attachments.Pattern); err != nil {
			return ErrConfiguration.New("channel %s: invalid attachment pattern: %v", c.ID, err)
		}
	}

	return nil
}

func (q *QueueConfig) validate(channelID, destName string) error {
	if !q.Enabled {
		return nil
	}
	if q.RetryCount < 0 {
		return ErrConfiguration.New("channel %s: destination %q has negative retry count",
			channelID, destName)
	}
	if q.RetryInterval < 0 {
		return ErrConfiguration.New("channel %s: destination %q has negative retry interval",
			channelID, destName)
	}
	if q.Threads < 0 {
		return ErrConfiguration.New("channel %s: destination %q has negative thread count",
			channelID, destName)
	}
	return nil
}

// EnabledDestinations returns the destinations that are enabled, in declared
// order.
func (c *Channel) EnabledDestinations() []DestinationConfig {
	out := make([]DestinationConfig, 0, len(c.Destinations))
	for _, dest := range c.Destinations {
		if dest.Enabled {
			out = append(out, dest)
		}
	}
	return out
}

// Destination returns the destination with the given metadata id.
func (c *Channel) Destination(metaDataID int) (DestinationConfig, bool) {
	for _, dest := range c.Destinations {
		if dest.MetaDataID == metaDataID {
			return dest, true
		}
	}
	return DestinationConfig{}, false
}

// Chains groups enabled destinations into serially executed chains. A
// destination with WaitForPrevious joins the chain of the destination before
// it; otherwise it starts a new chain.
func (c *Channel) Chains() [][]DestinationConfig {
	var chains [][]DestinationConfig
	for _, dest := range c.EnabledDestinations() {
		if len(chains) == 0 || !dest.WaitForPrevious {
			chains = append(chains, []DestinationConfig{dest})
			continue
		}
		last := len(chains) - 1
		chains[last] = append(chains[last], dest)
	}
	return chains
}
