// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package fileconn

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"carewire.io/carewire/engine/connector"
	"carewire.io/carewire/engine/message"
)

// After-read actions.
const (
	AfterReadMove   = "move"
	AfterReadDelete = "delete"
)

// ReaderConfig is the file-reader transport configuration carried in the
// channel body.
type ReaderConfig struct {
	Directory string `json:"directory"`
	// Pattern is a glob matched against file names; default "*".
	Pattern      string        `json:"pattern"`
	PollInterval time.Duration `json:"pollInterval"`
	// MinAge skips files modified more recently than this, so files still
	// being written are not picked up.
	MinAge time.Duration `json:"minAge"`
	// AfterRead is what happens to a processed file: "move" (default) or
	// "delete".
	AfterRead string `json:"afterRead"`
	// MoveToDirectory receives processed files; default
	// <directory>/processed.
	MoveToDirectory string `json:"moveToDirectory"`
	// ErrorDirectory receives files whose processing failed; default
	// <directory>/error.
	ErrorDirectory string `json:"errorDirectory"`
	// BatchLimit caps the files handled per poll; zero means no cap.
	BatchLimit int `json:"batchLimit"`
	// Watch wakes the poller on directory change notifications in addition
	// to the regular cycle.
	Watch bool `json:"watch"`
}

// Reader is a poll-driven source that reads files from a directory in name
// order and hands their contents to the pipeline.
type Reader struct {
	log     *zap.Logger
	config  ReaderConfig
	receive connector.ReceiveFunc
	poller  *connector.Poller

	nowFn func() time.Time
}

// NewReader constructs a file reader source from channel properties.
func NewReader(log *zap.Logger, params connector.SourceParams) (*Reader, error) {
	var config ReaderConfig
	if len(params.Properties) > 0 {
		if err := json.Unmarshal(params.Properties, &config); err != nil {
			return nil, Error.New("invalid file-reader properties: %w", err)
		}
	}
	if config.Directory == "" {
		return nil, Error.New("directory not configured")
	}
	if config.Pattern == "" {
		config.Pattern = "*"
	}
	if _, err := filepath.Match(config.Pattern, ""); err != nil {
		return nil, Error.New("invalid pattern %q: %w", config.Pattern, err)
	}
	switch config.AfterRead {
	case "":
		config.AfterRead = AfterReadMove
	case AfterReadMove, AfterReadDelete:
	default:
		return nil, Error.New("invalid afterRead %q", config.AfterRead)
	}
	if config.MoveToDirectory == "" {
		config.MoveToDirectory = filepath.Join(config.Directory, "processed")
	}
	if config.ErrorDirectory == "" {
		config.ErrorDirectory = filepath.Join(config.Directory, "error")
	}
	if params.Receive == nil {
		return nil, Error.New("receive func not configured")
	}

	reader := &Reader{
		log:     log,
		config:  config,
		receive: params.Receive,
		nowFn:   time.Now,
	}
	reader.poller = connector.NewPoller(log, params.ChannelID, config.PollInterval, params.Leases, reader.poll)
	return reader, nil
}

// Run polls the directory until the context is canceled.
func (reader *Reader) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	if !reader.config.Watch {
		return reader.poller.Run(ctx)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return Error.Wrap(err)
	}
	if err := watcher.Add(reader.config.Directory); err != nil {
		return Error.Wrap(errs.Combine(err, watcher.Close()))
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		defer func() { _ = watcher.Close() }()
		for {
			select {
			case <-ctx.Done():
				return nil
			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write) {
					reader.poller.Trigger()
				}
			case werr, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				reader.log.Warn("watch error", zap.Error(werr))
			}
		}
	})
	group.Go(func() error { return reader.poller.Run(ctx) })
	return group.Wait()
}

// Close stops the poll loop.
func (reader *Reader) Close() error {
	return reader.poller.Close()
}

// TriggerWait polls immediately and waits for the poll to finish.
func (reader *Reader) TriggerWait() {
	reader.poller.TriggerWait()
}

func (reader *Reader) poll(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	files, err := reader.scan()
	if err != nil {
		return err
	}
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := reader.process(ctx, file); err != nil {
			reader.log.Warn("file processing failed",
				zap.String("file", file),
				zap.Error(err))
			reader.quarantine(file)
		}
	}
	return nil
}

// scan returns the paths ready for processing, sorted by name.
func (reader *Reader) scan() (_ []string, err error) {
	entries, err := os.ReadDir(reader.config.Directory)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	cutoff := reader.nowFn().Add(-reader.config.MinAge)
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		matched, err := filepath.Match(reader.config.Pattern, entry.Name())
		if err != nil || !matched {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue // deleted between readdir and stat
		}
		if reader.config.MinAge > 0 && info.ModTime().After(cutoff) {
			continue
		}
		files = append(files, filepath.Join(reader.config.Directory, entry.Name()))
	}
	sort.Strings(files)

	if reader.config.BatchLimit > 0 && len(files) > reader.config.BatchLimit {
		files = files[:reader.config.BatchLimit]
	}
	return files, nil
}

func (reader *Reader) process(ctx context.Context, path string) (err error) {
	defer mon.Task()(&ctx)(&err)

	data, err := os.ReadFile(path)
	if err != nil {
		return Error.Wrap(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return Error.Wrap(err)
	}

	resp, err := reader.receive(ctx, message.RawMessage{
		Raw: data,
		SourceMap: message.Map{
			"originalFilename": filepath.Base(path),
			"fileDirectory":    reader.config.Directory,
			"fileSize":         info.Size(),
			"fileLastModified": info.ModTime().UTC().Format(time.RFC3339Nano),
		},
	})
	if err != nil {
		return Error.Wrap(err)
	}
	if resp != nil && resp.Status == message.StatusError {
		return Error.New("message rejected: %s", resp.Error)
	}

	switch reader.config.AfterRead {
	case AfterReadDelete:
		return Error.Wrap(os.Remove(path))
	default:
		return moveFile(path, reader.config.MoveToDirectory)
	}
}

// quarantine moves a failed file out of the polling directory so it is not
// retried forever.
func (reader *Reader) quarantine(path string) {
	if err := moveFile(path, reader.config.ErrorDirectory); err != nil {
		reader.log.Error("quarantine failed",
			zap.String("file", path),
			zap.Error(err))
	}
}

func moveFile(path, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Error.Wrap(err)
	}
	return Error.Wrap(os.Rename(path, filepath.Join(dir, filepath.Base(path))))
}
