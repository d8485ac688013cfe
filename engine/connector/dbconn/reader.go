// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package dbconn

import (
	"context"
	"encoding/json"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"carewire.io/carewire/engine/connector"
	"carewire.io/carewire/engine/message"
	"carewire.io/carewire/private/tagsql"
)

// ReaderConfig is the db-reader transport configuration carried in the
// channel body.
type ReaderConfig struct {
	// URL is the external database connection string.
	URL          string        `json:"url"`
	PollInterval time.Duration `json:"pollInterval"`
	// SelectQuery returns the pending rows. The first column becomes the
	// message body; every column lands in the source map under its name.
	SelectQuery string `json:"selectQuery"`
	// UpdateQuery acknowledges one delivered row. Its `?` placeholders are
	// bound to the row's UpdateParams columns in order; empty disables the
	// acknowledgement.
	UpdateQuery  string   `json:"updateQuery"`
	UpdateParams []string `json:"updateParams"`
}

// Reader is a poll-driven source that selects pending rows from an external
// database and acknowledges each row after the pipeline accepted it.
type Reader struct {
	log     *zap.Logger
	config  ReaderConfig
	db      tagsql.DB
	receive connector.ReceiveFunc
	poller  *connector.Poller
}

// NewReader connects to the configured database and builds the source.
func NewReader(ctx context.Context, log *zap.Logger, params connector.SourceParams) (*Reader, error) {
	var config ReaderConfig
	if len(params.Properties) > 0 {
		if err := json.Unmarshal(params.Properties, &config); err != nil {
			return nil, Error.New("invalid db-reader properties: %w", err)
		}
	}
	if config.URL == "" {
		return nil, Error.New("url not configured")
	}
	if config.SelectQuery == "" {
		return nil, Error.New("select query not configured")
	}
	if config.UpdateQuery != "" && len(config.UpdateParams) == 0 {
		return nil, Error.New("update query configured without update params")
	}
	if params.Receive == nil {
		return nil, Error.New("receive func not configured")
	}

	db, err := open(ctx, config.URL)
	if err != nil {
		return nil, err
	}

	reader := &Reader{
		log:     log,
		config:  config,
		db:      db,
		receive: params.Receive,
	}
	reader.poller = connector.NewPoller(log, params.ChannelID, config.PollInterval, params.Leases, reader.poll)
	return reader, nil
}

// Run polls the database until the context is canceled.
func (reader *Reader) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)
	return reader.poller.Run(ctx)
}

// Close stops polling and closes the database handle.
func (reader *Reader) Close() error {
	return errs.Combine(reader.poller.Close(), reader.db.Close())
}

// TriggerWait polls immediately and waits for the poll to finish.
func (reader *Reader) TriggerWait() {
	reader.poller.TriggerWait()
}

type pendingRow struct {
	body      string
	sourceMap message.Map
	ackArgs   []interface{}
}

func (reader *Reader) poll(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	// Read the batch fully before handing rows to the pipeline so the
	// acknowledgement updates never interleave with an open cursor.
	rows, err := reader.fetch(ctx)
	if err != nil {
		return err
	}

	for i := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		row := &rows[i]

		resp, err := reader.receive(ctx, message.RawMessage{
			Raw:       []byte(row.body),
			SourceMap: row.sourceMap,
		})
		if err != nil {
			return Error.Wrap(err)
		}
		if resp != nil && resp.Status == message.StatusError {
			// leave the row unacknowledged; the next poll retries it
			reader.log.Warn("message rejected", zap.String("error", resp.Error))
			continue
		}

		if reader.config.UpdateQuery != "" {
			if _, err := reader.db.ExecContext(ctx, reader.config.UpdateQuery, row.ackArgs...); err != nil {
				return Error.New("acknowledgement failed: %w", err)
			}
		}
	}
	return nil
}

func (reader *Reader) fetch(ctx context.Context) (_ []pendingRow, err error) {
	rows, err := reader.db.QueryContext(ctx, reader.config.SelectQuery)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(rows.Close())) }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if len(columns) == 0 {
		return nil, Error.New("select query returns no columns")
	}

	var pending []pendingRow
	for rows.Next() {
		values := make([]interface{}, len(columns))
		scans := make([]interface{}, len(columns))
		for i := range values {
			scans[i] = &values[i]
		}
		if err := rows.Scan(scans...); err != nil {
			return nil, Error.Wrap(err)
		}

		sourceMap := make(message.Map, len(columns))
		for i, name := range columns {
			sourceMap[name] = normalize(values[i])
		}

		row := pendingRow{
			body:      asString(values[0]),
			sourceMap: sourceMap,
		}
		for _, param := range reader.config.UpdateParams {
			v, ok := sourceMap[param]
			if !ok {
				return nil, Error.New("update param %q is not a selected column", param)
			}
			row.ackArgs = append(row.ackArgs, v)
		}
		pending = append(pending, row)
	}
	if err := rows.Err(); err != nil {
		return nil, Error.Wrap(err)
	}
	return pending, nil
}

// normalize makes scanned values map-friendly; drivers return []byte for
// text columns.
func normalize(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func asString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case nil:
		return ""
	default:
		data, _ := json.Marshal(s)
		return string(data)
	}
}
