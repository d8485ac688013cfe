// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

// Package message holds the core message model shared by the pipeline, the
// message store and the connectors.
package message

import (
	"encoding/json"
	"time"
)

// SourceMetaDataID is the metadata id reserved for the source connector.
// Destinations use ids starting at 1.
const SourceMetaDataID = 0

// Message is one received message owning a source connector message and one
// connector message per destination.
type Message struct {
	ID         int64
	ChannelID  string
	ServerID   string
	ReceivedAt time.Time
	Processed  bool
	Imported   bool
	// OriginalID links a reprocessed message to its origin; zero means the
	// message was received directly.
	OriginalID int64
}

// ConnectorMessage is the per-connector processing state of a message.
type ConnectorMessage struct {
	MessageID     int64
	MetaDataID    int
	ChannelID     string
	ConnectorName string
	ServerID      string
	ReceivedAt    time.Time

	Status       Status
	SendAttempts int
	SendDate     time.Time
	ResponseDate time.Time
	ErrorCode    int

	// ChainID groups destinations into serially executed chains, OrderID
	// orders destinations inside a chain.
	ChainID int
	OrderID int

	// Variable maps live in memory during processing. The source, channel
	// and response maps are persisted as map-typed content rows; the
	// connector map is per-connector scratch and is not stored.
	SourceMap    Map
	ChannelMap   Map
	ResponseMap  Map
	ConnectorMap Map
}

// IsSource reports whether the connector message belongs to the source
// connector.
func (cm *ConnectorMessage) IsSource() bool {
	return cm.MetaDataID == SourceMetaDataID
}

// Content is one stored representation of a connector message.
type Content struct {
	MessageID  int64
	MetaDataID int
	Type       ContentType
	Content    string
	DataType   string
	Encrypted  bool
}

// Attachment is opaque content referenced from message bodies via
// ${ATTACH:id} tokens.
type Attachment struct {
	MessageID int64
	ID        string
	Type      string
	Content   []byte
}

// RawMessage is what a source connector hands to the pipeline.
type RawMessage struct {
	Raw       []byte
	SourceMap Map
}

// Map is a variable map carried alongside a message. Values must be
// JSON-serializable.
type Map map[string]interface{}

// Clone returns a shallow copy of the map.
func (m Map) Clone() Map {
	if m == nil {
		return nil
	}
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Encode serializes the map for storage.
func (m Map) Encode() (string, error) {
	if m == nil {
		m = Map{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", Error.Wrap(err)
	}
	return string(data), nil
}

// DecodeMap parses a stored map.
func DecodeMap(data string) (Map, error) {
	if data == "" {
		return Map{}, nil
	}
	var m Map
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, Error.Wrap(err)
	}
	return m, nil
}
