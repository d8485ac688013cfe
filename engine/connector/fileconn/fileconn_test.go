// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package fileconn_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"

	"carewire.io/carewire/engine/connector"
	"carewire.io/carewire/engine/connector/fileconn"
	"carewire.io/carewire/engine/message"
)

func marshalConfig(t *testing.T, config interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(config)
	require.NoError(t, err)
	return data
}

type received struct {
	raw       string
	sourceMap message.Map
}

type collector struct {
	mu   sync.Mutex
	msgs []received
	fail bool
}

func (c *collector) receive(ctx context.Context, raw message.RawMessage) (*message.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return nil, connector.Error.New("refused")
	}
	c.msgs = append(c.msgs, received{raw: string(raw.Raw), sourceMap: raw.SourceMap})
	return message.NewResponse(message.StatusSent, ""), nil
}

func (c *collector) setFail(fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = fail
}

func (c *collector) all() []received {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]received(nil), c.msgs...)
}

func TestReaderPollOrderAndMove(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	dir := ctx.Dir("inbox")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("bravo"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("alpha"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "skip.dat"), []byte("no"), 0o644))

	sink := &collector{}
	reader, err := fileconn.NewReader(zaptest.NewLogger(t), connector.SourceParams{
		ChannelID: "chan-1",
		Receive:   sink.receive,
		Properties: marshalConfig(t, fileconn.ReaderConfig{
			Directory:    dir,
			Pattern:      "*.txt",
			PollInterval: time.Hour,
		}),
	})
	require.NoError(t, err)

	ctx.Go(func() error { return reader.Run(ctx) })
	defer ctx.Check(reader.Close)

	reader.TriggerWait()

	msgs := sink.all()
	require.Len(t, msgs, 2)
	require.Equal(t, "alpha", msgs[0].raw)
	require.Equal(t, "bravo", msgs[1].raw)
	require.Equal(t, "a.txt", msgs[0].sourceMap["originalFilename"])
	require.EqualValues(t, 5, msgs[0].sourceMap["fileSize"])

	// processed files moved out of the inbox, the unmatched file stays
	require.NoFileExists(t, filepath.Join(dir, "a.txt"))
	require.FileExists(t, filepath.Join(dir, "processed", "a.txt"))
	require.FileExists(t, filepath.Join(dir, "processed", "b.txt"))
	require.FileExists(t, filepath.Join(dir, "skip.dat"))
}

func TestReaderQuarantine(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	dir := ctx.Dir("inbox")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.txt"), []byte("nope"), 0o644))

	sink := &collector{}
	sink.setFail(true)

	reader, err := fileconn.NewReader(zaptest.NewLogger(t), connector.SourceParams{
		ChannelID: "chan-1",
		Receive:   sink.receive,
		Properties: marshalConfig(t, fileconn.ReaderConfig{
			Directory:    dir,
			PollInterval: time.Hour,
		}),
	})
	require.NoError(t, err)

	ctx.Go(func() error { return reader.Run(ctx) })
	defer ctx.Check(reader.Close)

	reader.TriggerWait()

	require.NoFileExists(t, filepath.Join(dir, "bad.txt"))
	require.FileExists(t, filepath.Join(dir, "error", "bad.txt"))
	require.Empty(t, sink.all())
}

func TestReaderMinAge(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	dir := ctx.Dir("inbox")
	fresh := filepath.Join(dir, "fresh.txt")
	stable := filepath.Join(dir, "stable.txt")
	require.NoError(t, os.WriteFile(fresh, []byte("fresh"), 0o644))
	require.NoError(t, os.WriteFile(stable, []byte("stable"), 0o644))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(stable, old, old))

	sink := &collector{}
	reader, err := fileconn.NewReader(zaptest.NewLogger(t), connector.SourceParams{
		ChannelID: "chan-1",
		Receive:   sink.receive,
		Properties: marshalConfig(t, fileconn.ReaderConfig{
			Directory:    dir,
			PollInterval: time.Hour,
			MinAge:       10 * time.Minute,
			AfterRead:    fileconn.AfterReadDelete,
		}),
	})
	require.NoError(t, err)

	ctx.Go(func() error { return reader.Run(ctx) })
	defer ctx.Check(reader.Close)

	reader.TriggerWait()

	msgs := sink.all()
	require.Len(t, msgs, 1)
	require.Equal(t, "stable", msgs[0].raw)
	require.FileExists(t, fresh)
	require.NoFileExists(t, stable)
}

func TestReaderConfigValidation(t *testing.T) {
	log := zaptest.NewLogger(t)
	receive := func(context.Context, message.RawMessage) (*message.Response, error) {
		return nil, nil
	}

	_, err := fileconn.NewReader(log, connector.SourceParams{Receive: receive})
	require.Error(t, err)

	_, err = fileconn.NewReader(log, connector.SourceParams{
		Receive:    receive,
		Properties: marshalConfig(t, fileconn.ReaderConfig{Directory: "/tmp/x", AfterRead: "shred"}),
	})
	require.Error(t, err)

	_, err = fileconn.NewReader(log, connector.SourceParams{
		Properties: marshalConfig(t, fileconn.ReaderConfig{Directory: "/tmp/x"}),
	})
	require.Error(t, err)
}

func TestWriterReplaceAndTemplate(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	dir := ctx.Dir("outbox")
	writer, err := fileconn.NewWriter(zaptest.NewLogger(t), connector.DestinationParams{
		ChannelID: "chan-1",
		Properties: marshalConfig(t, fileconn.WriterConfig{
			Directory: dir,
			FileName:  "${mrn}-${messageId}.hl7",
		}),
	})
	require.NoError(t, err)
	defer ctx.Check(writer.Close)

	resp, err := writer.Send(ctx, &connector.Request{
		ChannelID:  "chan-1",
		MessageID:  42,
		Content:    "MSH|^~\\&|",
		ChannelMap: message.Map{"mrn": "P123"},
	})
	require.NoError(t, err)
	require.Equal(t, message.StatusSent, resp.Status)

	path := filepath.Join(dir, "P123-42.hl7")
	require.Equal(t, path, resp.Message)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "MSH|^~\\&|", string(data))

	// replace overwrites atomically
	_, err = writer.Send(ctx, &connector.Request{
		ChannelID:  "chan-1",
		MessageID:  42,
		Content:    "second",
		ChannelMap: message.Map{"mrn": "P123"},
	})
	require.NoError(t, err)
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "second", string(data))

	// no leftover temp files
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestWriterAppend(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	dir := ctx.Dir("outbox")
	writer, err := fileconn.NewWriter(zaptest.NewLogger(t), connector.DestinationParams{
		ChannelID: "chan-1",
		Properties: marshalConfig(t, fileconn.WriterConfig{
			Directory: dir,
			FileName:  "audit.log",
			Append:    true,
			Separator: "\n",
		}),
	})
	require.NoError(t, err)
	defer ctx.Check(writer.Close)

	for _, content := range []string{"one", "two"} {
		_, err := writer.Send(ctx, &connector.Request{MessageID: 1, Content: content})
		require.NoError(t, err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "audit.log"))
	require.NoError(t, err)
	require.Equal(t, "one\ntwo\n", string(data))
}

func TestWriterRejectsBadNames(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	dir := ctx.Dir("outbox")
	log := zaptest.NewLogger(t)

	writer, err := fileconn.NewWriter(log, connector.DestinationParams{
		Properties: marshalConfig(t, fileconn.WriterConfig{
			Directory: dir,
			FileName:  "../escape-${messageId}.dat",
		}),
	})
	require.NoError(t, err)
	_, err = writer.Send(ctx, &connector.Request{MessageID: 7, Content: "x"})
	require.Error(t, err)

	writer, err = fileconn.NewWriter(log, connector.DestinationParams{
		Properties: marshalConfig(t, fileconn.WriterConfig{
			Directory: dir,
			FileName:  "${missing}.dat",
		}),
	})
	require.NoError(t, err)
	_, err = writer.Send(ctx, &connector.Request{MessageID: 7, Content: "x"})
	require.Error(t, err)
}

func TestReaderWatch(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	dir := ctx.Dir("inbox")
	sink := &collector{}
	reader, err := fileconn.NewReader(zaptest.NewLogger(t), connector.SourceParams{
		ChannelID: "chan-1",
		Receive:   sink.receive,
		Properties: marshalConfig(t, fileconn.ReaderConfig{
			Directory:    dir,
			Pattern:      "*.txt",
			PollInterval: 100 * time.Millisecond,
			Watch:        true,
		}),
	})
	require.NoError(t, err)

	ctx.Go(func() error { return reader.Run(ctx) })
	defer ctx.Check(reader.Close)

	// drop the file atomically so a wake never reads a partial write
	tmp := filepath.Join(dir, ".staging")
	require.NoError(t, os.WriteFile(tmp, []byte("delta"), 0o644))
	require.NoError(t, os.Rename(tmp, filepath.Join(dir, "d.txt")))

	deadline := time.Now().Add(10 * time.Second)
	for len(sink.all()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for watched file")
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.Equal(t, "delta", sink.all()[0].raw)
}

func TestRegister(t *testing.T) {
	registry := connector.NewRegistry()
	require.NoError(t, fileconn.Register(registry))
	require.Equal(t, []string{fileconn.ReaderTransport}, registry.SourceTransports())
	require.Equal(t, []string{fileconn.WriterTransport}, registry.DestinationTransports())
}
