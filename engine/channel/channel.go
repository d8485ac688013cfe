// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

// Package channel defines the channel configuration model.
//
// A channel is the unit of deployment: one source connector, an ordered list
// of destination connectors, user scripts and data type settings. The engine
// persists channels as opaque bodies in the channels table and keeps the
// parsed form in memory while deployed.
package channel

import (
	"context"
	"encoding/json"
	"regexp"
	"time"

	"github.com/zeebo/errs"
)

var (
	// Error is the channel package error class.
	Error = errs.Class("channel")

	// ErrConfiguration is returned for invalid channel configurations.
	ErrConfiguration = errs.Class("channel configuration")

	// ErrNotFound is returned when a channel does not exist.
	ErrNotFound = errs.Class("channel not found")
)

var (
	idRe     = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	columnRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)
)

// Channel is a full channel configuration.
type Channel struct {
	ID              string              `json:"id"`
	Name            string              `json:"name"`
	Description     string              `json:"description,omitempty"`
	Revision        int64               `json:"revision"`
	Enabled         bool                `json:"enabled"`
	Source          SourceConfig        `json:"source"`
	Destinations    []DestinationConfig `json:"destinations"`
	Scripts         Scripts             `json:"scripts"`
	MetaDataColumns []MetaDataColumn    `json:"metaDataColumns,omitempty"`
	Attachments     AttachmentConfig    `json:"attachments"`
	Pruning         PruningConfig       `json:"pruning"`
}

// SourceConfig configures the source connector.
type SourceConfig struct {
	ConnectorName     string          `json:"connectorName"`
	Transport         string          `json:"transport"`
	DataType          DataTypeConfig  `json:"dataType"`
	FilterScript      string          `json:"filterScript,omitempty"`
	TransformerScript string          `json:"transformerScript,omitempty"`
	// RespondFrom selects the source response: empty for none,
	// RespondFromLast for the last destination, or a destination name.
	RespondFrom string          `json:"respondFrom,omitempty"`
	Properties  json.RawMessage `json:"properties,omitempty"`
}

// RespondFromLast selects the response of the last destination in
// declaration order.
const RespondFromLast = "__last__"

// DestinationConfig configures one destination connector.
type DestinationConfig struct {
	MetaDataID int    `json:"metaDataId"`
	Name       string `json:"name"`
	Transport  string `json:"transport"`
	Enabled    bool   `json:"enabled"`
	// WaitForPrevious joins this destination to the previous destination's
	// chain; when false the destination starts a new chain that runs after
	// the previous chain completes.
	WaitForPrevious bool `json:"waitForPrevious"`

	DataType                  DataTypeConfig  `json:"dataType"`
	FilterScript              string          `json:"filterScript,omitempty"`
	TransformerScript         string          `json:"transformerScript,omitempty"`
	ResponseTransformerScript string          `json:"responseTransformerScript,omitempty"`
	Queue                     QueueConfig     `json:"queue"`
	Properties                json.RawMessage `json:"properties,omitempty"`
}

// QueueConfig configures the destination queue.
type QueueConfig struct {
	Enabled bool `json:"enabled"`
	// SendFirst allows dispatching a freshly persisted entry without
	// waiting for the source thread when there is no backlog.
	SendFirst bool `json:"sendFirst"`
	// RotateOnError moves a failed head entry to the tail instead of
	// blocking the queue.
	RotateOnError bool          `json:"rotateOnError"`
	RetryCount    int           `json:"retryCount"`
	RetryInterval time.Duration `json:"retryInterval"`
	// Threads bounds concurrent in-flight dispatches; 1 preserves strict
	// ordering.
	Threads int `json:"threads"`
}

// Scripts holds the channel-level user scripts.
type Scripts struct {
	Deploy        string `json:"deploy,omitempty"`
	Undeploy      string `json:"undeploy,omitempty"`
	Preprocessor  string `json:"preprocessor,omitempty"`
	Postprocessor string `json:"postprocessor,omitempty"`
}

// DataTypeConfig names the inbound and outbound data types.
type DataTypeConfig struct {
	Inbound  string `json:"inbound"`
	Outbound string `json:"outbound"`
}

// MetaDataColumnType is the declared type of a custom metadata column.
type MetaDataColumnType string

// Metadata column types.
const (
	ColumnString    MetaDataColumnType = "STRING"
	ColumnNumber    MetaDataColumnType = "NUMBER"
	ColumnBoolean   MetaDataColumnType = "BOOLEAN"
	ColumnTimestamp MetaDataColumnType = "TIMESTAMP"
)

// Valid reports whether the column type is defined.
func (t MetaDataColumnType) Valid() bool {
	switch t {
	case ColumnString, ColumnNumber, ColumnBoolean, ColumnTimestamp:
		return true
	}
	return false
}

// MetaDataColumn declares one custom metadata column captured per connector
// message.
type MetaDataColumn struct {
	Name string             `json:"name"`
	Type MetaDataColumnType `json:"type"`
	// Mapping is the variable map key the value is read from.
	Mapping string `json:"mapping"`
}

// AttachmentConfig configures attachment extraction.
type AttachmentConfig struct {
	Extract bool `json:"extract"`
	// Pattern is the regular expression whose matches are extracted.
	Pattern string `json:"pattern,omitempty"`
	// MimeType records the type stored with extracted attachments.
	MimeType string `json:"mimeType,omitempty"`
}

// PruningConfig configures message retention.
type PruningConfig struct {
	// RetainDays keeps processed messages for this many days; zero disables
	// pruning for the channel.
	RetainDays int `json:"retainDays"`
}

// Encode serializes the channel for storage.
func (c *Channel) Encode() ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return data, nil
}

// Decode parses a stored channel body.
func Decode(data []byte) (*Channel, error) {
	var c Channel
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, Error.Wrap(err)
	}
	return &c, nil
}

// DB stores channel configurations.
//
// architecture: Database
type DB interface {
	// Put upserts a channel.
	Put(ctx context.Context, ch *Channel) error
	// Get returns a channel by id.
	Get(ctx context.Context, id string) (*Channel, error)
	// List returns all channels ordered by id.
	List(ctx context.Context) ([]*Channel, error)
	// Delete removes a channel by id.
	Delete(ctx context.Context, id string) error
}
