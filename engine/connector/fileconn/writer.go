// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package fileconn

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"carewire.io/carewire/engine/connector"
	"carewire.io/carewire/engine/message"
)

// WriterConfig is the file-writer transport configuration carried in the
// channel body.
type WriterConfig struct {
	Directory string `json:"directory"`
	// FileName is a template; ${key} placeholders resolve against
	// messageId, channelId and the message maps.
	FileName string `json:"fileName"`
	// Append appends to an existing file instead of replacing it.
	Append bool `json:"append"`
	// Separator is written after the message in append mode.
	Separator string `json:"separator"`
}

// Writer is a destination that writes messages to files. Replaced files
// appear atomically through a temp-file rename.
type Writer struct {
	log    *zap.Logger
	config WriterConfig
}

// NewWriter constructs a file writer destination from channel properties.
func NewWriter(log *zap.Logger, params connector.DestinationParams) (*Writer, error) {
	var config WriterConfig
	if len(params.Properties) > 0 {
		if err := json.Unmarshal(params.Properties, &config); err != nil {
			return nil, Error.New("invalid file-writer properties: %w", err)
		}
	}
	if config.Directory == "" {
		return nil, Error.New("directory not configured")
	}
	if config.FileName == "" {
		config.FileName = "${messageId}.dat"
	}
	return &Writer{log: log, config: config}, nil
}

// Send writes the message and responds SENT with the written path.
func (writer *Writer) Send(ctx context.Context, req *connector.Request) (_ *message.Response, err error) {
	defer mon.Task()(&ctx)(&err)

	name, err := connector.ExpandTemplate(writer.config.FileName, req)
	if err != nil {
		return nil, err
	}
	if name != filepath.Base(name) {
		return nil, Error.New("file name %q escapes the directory", name)
	}
	path := filepath.Join(writer.config.Directory, name)

	if err := os.MkdirAll(writer.config.Directory, 0o755); err != nil {
		return nil, connector.ErrTransport.Wrap(err)
	}
	if writer.config.Append {
		err = writer.append(path, req.Content)
	} else {
		err = writer.replace(path, req.Content)
	}
	if err != nil {
		return nil, err
	}
	return message.NewResponse(message.StatusSent, path), nil
}

// Close implements connector.Destination.
func (writer *Writer) Close() error { return nil }

func (writer *Writer) append(path, content string) error {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return connector.ErrTransport.Wrap(err)
	}
	_, err = file.WriteString(content + writer.config.Separator)
	return connector.ErrTransport.Wrap(errs.Combine(err, file.Close()))
}

func (writer *Writer) replace(path, content string) error {
	tmp, err := os.CreateTemp(writer.config.Directory, ".writing-*")
	if err != nil {
		return connector.ErrTransport.Wrap(err)
	}
	_, err = tmp.WriteString(content)
	err = errs.Combine(err, tmp.Close())
	if err != nil {
		_ = os.Remove(tmp.Name())
		return connector.ErrTransport.Wrap(err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return connector.ErrTransport.Wrap(err)
	}
	return nil
}

