// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package dbconn

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"carewire.io/carewire/engine/connector"
	"carewire.io/carewire/engine/message"
	"carewire.io/carewire/private/tagsql"
)

// WriterConfig is the db-writer transport configuration carried in the
// channel body.
type WriterConfig struct {
	// URL is the external database connection string.
	URL string `json:"url"`
	// InsertQuery is the parameterized statement run per message, written
	// with `?` placeholders.
	InsertQuery string `json:"insertQuery"`
	// Params binds the placeholders in order: "content", "messageId",
	// "channelId", or a message map key.
	Params []string `json:"params"`
}

// Writer is a destination that runs one parameterized insert per message.
type Writer struct {
	log    *zap.Logger
	config WriterConfig
	db     tagsql.DB
}

// NewWriter connects to the configured database and builds the destination.
func NewWriter(ctx context.Context, log *zap.Logger, params connector.DestinationParams) (*Writer, error) {
	var config WriterConfig
	if len(params.Properties) > 0 {
		if err := json.Unmarshal(params.Properties, &config); err != nil {
			return nil, Error.New("invalid db-writer properties: %w", err)
		}
	}
	if config.URL == "" {
		return nil, Error.New("url not configured")
	}
	if config.InsertQuery == "" {
		return nil, Error.New("insert query not configured")
	}

	db, err := open(ctx, config.URL)
	if err != nil {
		return nil, err
	}
	return &Writer{log: log, config: config, db: db}, nil
}

// Send runs the insert and responds SENT with the affected row count.
func (writer *Writer) Send(ctx context.Context, req *connector.Request) (_ *message.Response, err error) {
	defer mon.Task()(&ctx)(&err)

	args := make([]interface{}, 0, len(writer.config.Params))
	for _, param := range writer.config.Params {
		switch param {
		case "content":
			args = append(args, req.Content)
		case "messageId":
			args = append(args, req.MessageID)
		case "channelId":
			args = append(args, req.ChannelID)
		default:
			v, ok := req.Lookup(param)
			if !ok {
				return nil, Error.New("unknown insert param %q", param)
			}
			args = append(args, v)
		}
	}

	result, err := writer.db.ExecContext(ctx, writer.config.InsertQuery, args...)
	if err != nil {
		return nil, connector.ErrTransport.Wrap(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		affected = 0
	}

	resp := message.NewResponse(message.StatusSent, "")
	resp.StatusMessage = fmt.Sprintf("%d row(s) affected", affected)
	return resp, nil
}

// Close closes the database handle.
func (writer *Writer) Close() error {
	return Error.Wrap(writer.db.Close())
}
