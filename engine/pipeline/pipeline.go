// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

// Package pipeline drives messages from the source connector hand-off
// through filtering, transformation and destination dispatch.
//
// One Pipeline exists per deployed channel. Receive persists the message
// before any processing step, so every later failure is recorded on the
// stored rows instead of being lost with the in-flight data. Destinations
// run serially in declared order; queue-enabled destinations hand their
// entries to a per-destination queue and release the source thread.
package pipeline

import (
	"context"
	"time"

	"github.com/beevik/etree"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"carewire.io/carewire/engine/attachment"
	"carewire.io/carewire/engine/channel"
	"carewire.io/carewire/engine/connector"
	"carewire.io/carewire/engine/datatype"
	"carewire.io/carewire/engine/globalmap"
	"carewire.io/carewire/engine/message"
	"carewire.io/carewire/engine/messagestore"
	"carewire.io/carewire/engine/queue"
	"carewire.io/carewire/engine/script"
	"carewire.io/carewire/engine/sequence"
)

var (
	mon = monkit.Package()

	// Error is the pipeline package error class.
	Error = errs.Class("pipeline")
)

// Options carries the collaborators of one channel pipeline.
type Options struct {
	Channel     *channel.Channel
	Store       *messagestore.Store
	Sequence    *sequence.Allocator
	Scripts     script.Engine
	DataTypes   *datatype.Registry
	Attachments attachment.Handler
	Maps        *globalmap.Service
	ServerID    string

	// Destinations maps metadata id to the connector doing the sending.
	Destinations map[int]connector.Destination
}

// Pipeline processes messages of one deployed channel.
type Pipeline struct {
	log      *zap.Logger
	store    *messagestore.Store
	alloc    *sequence.Allocator
	scripts  script.Engine
	maps     *globalmap.Service
	attach   attachment.Handler
	cfg      *channel.Channel
	serverID string

	srcInbound  datatype.DataType
	srcOutbound datatype.DataType

	chains [][]*destRuntime
	queues []*queue.Queue
}

// New builds the pipeline for a channel, resolving data types and wiring
// a queue for every queue-enabled destination.
func New(log *zap.Logger, opts Options) (*Pipeline, error) {
	cfg := opts.Channel
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	srcInbound, err := opts.DataTypes.Lookup(cfg.Source.DataType.Inbound)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	srcOutbound, err := opts.DataTypes.Lookup(cfg.Source.DataType.Outbound)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	attach := opts.Attachments
	if attach == nil {
		attach = attachment.Passthrough{}
	}

	p := &Pipeline{
		log:      log,
		store:    opts.Store,
		alloc:    opts.Sequence,
		scripts:  opts.Scripts,
		maps:     opts.Maps,
		attach:   attach,
		cfg:      cfg,
		serverID: opts.ServerID,

		srcInbound:  srcInbound,
		srcOutbound: srcOutbound,
	}

	for chainIndex, chain := range cfg.Chains() {
		var runtime []*destRuntime
		for orderIndex, dest := range chain {
			conn, ok := opts.Destinations[dest.MetaDataID]
			if !ok {
				return nil, Error.New("channel %s: destination %q has no connector", cfg.ID, dest.Name)
			}
			inbound, err := opts.DataTypes.Lookup(dest.DataType.Inbound)
			if err != nil {
				return nil, Error.Wrap(err)
			}
			outbound, err := opts.DataTypes.Lookup(dest.DataType.Outbound)
			if err != nil {
				return nil, Error.Wrap(err)
			}

			d := &destRuntime{
				config:   dest,
				conn:     conn,
				inbound:  inbound,
				outbound: outbound,
				chainID:  chainIndex + 1,
				orderID:  orderIndex + 1,
			}
			if dest.Queue.Enabled {
				d.queue = queue.New(log.Named("queue"), opts.Store, p.queueSender(d), queue.Config{
					ChannelID:  cfg.ID,
					MetaDataID: dest.MetaDataID,
					Policy:     dest.Queue,
				})
				p.queues = append(p.queues, d.queue)
			}
			runtime = append(runtime, d)
		}
		p.chains = append(p.chains, runtime)
	}
	return p, nil
}

// Run drives the destination queues until the context is canceled or the
// pipeline is closed. Pipelines without queue-enabled destinations return
// immediately.
func (p *Pipeline) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	if len(p.queues) == 0 {
		return nil
	}
	var group errgroup.Group
	for _, q := range p.queues {
		q := q
		group.Go(func() error { return q.Run(ctx) })
	}
	return group.Wait()
}

// Close stops the destination queues.
func (p *Pipeline) Close() error {
	var group errs.Group
	for _, q := range p.queues {
		group.Add(q.Close())
	}
	return group.Err()
}

// Backlog returns how many entries are buffered across the destination
// queues, not counting in-flight dispatches.
func (p *Pipeline) Backlog() int {
	total := 0
	for _, q := range p.queues {
		total += q.Depth()
	}
	return total
}

// Receive drives one raw message end-to-end and returns the source
// response selected by the channel configuration, or nil when the channel
// does not respond. An error is returned only when the message could not
// be persisted at all; processing failures are recorded on the stored
// message and surface as an ERROR response.
func (p *Pipeline) Receive(ctx context.Context, raw message.RawMessage) (_ *message.Response, err error) {
	defer mon.Task()(&ctx)(&err)

	id, err := p.alloc.Next(ctx, p.cfg.ID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	body := raw.Raw
	var atts []message.Attachment
	if p.cfg.Attachments.Extract {
		body, atts, err = p.attach.Extract(id, raw.Raw)
		if err != nil {
			return nil, Error.Wrap(err)
		}
	}

	msg := &message.Message{
		ID:         id,
		ChannelID:  p.cfg.ID,
		ServerID:   p.serverID,
		ReceivedAt: now,
	}
	if err := p.store.InsertMessage(ctx, msg); err != nil {
		return nil, err
	}

	src := &message.ConnectorMessage{
		MessageID:     id,
		MetaDataID:    message.SourceMetaDataID,
		ChannelID:     p.cfg.ID,
		ConnectorName: p.cfg.Source.ConnectorName,
		ServerID:      p.serverID,
		ReceivedAt:    now,
		Status:        message.StatusReceived,
		SourceMap:     raw.SourceMap.Clone(),
		ChannelMap:    message.Map{},
		ResponseMap:   message.Map{},
		ConnectorMap:  message.Map{},
	}
	if src.SourceMap == nil {
		src.SourceMap = message.Map{}
	}
	if md, err := p.srcInbound.MetaData(body); err == nil {
		for k, v := range md {
			if _, taken := src.SourceMap[k]; !taken {
				src.SourceMap[k] = v
			}
		}
	}
	if err := p.store.InsertConnectorMessage(ctx, src); err != nil {
		return nil, err
	}
	for _, att := range atts {
		if err := p.store.InsertAttachment(ctx, p.cfg.ID, att); err != nil {
			return nil, err
		}
	}
	if err := p.store.UpsertContent(ctx, p.cfg.ID, message.Content{
		MessageID:  id,
		MetaDataID: message.SourceMetaDataID,
		Type:       message.ContentRaw,
		Content:    string(body),
		DataType:   p.srcInbound.Name(),
	}); err != nil {
		return nil, err
	}
	mon.Counter("pipeline_received", monkit.NewSeriesTag("channel", p.cfg.ID)).Inc(1)

	if source := p.cfg.Scripts.Preprocessor; source != "" {
		scope := p.scope(src, nil, string(body))
		result, err := p.scripts.ExecuteScript(ctx, p.cfg.Name+" preprocessor", source, scope)
		if err != nil {
			return p.sourceError(ctx, src, message.ErrCodeTransform, "preprocessor failed", err)
		}
		if replaced, ok := result.(string); ok && replaced != "" {
			body = []byte(replaced)
			if err := p.store.UpsertContent(ctx, p.cfg.ID, message.Content{
				MessageID:  id,
				MetaDataID: message.SourceMetaDataID,
				Type:       message.ContentProcessedRaw,
				Content:    replaced,
				DataType:   p.srcInbound.Name(),
			}); err != nil {
				return nil, err
			}
		}
	}

	doc, err := p.srcInbound.ToTransformable(body)
	if err != nil {
		return p.sourceError(ctx, src, message.ErrCodeTransform, "source parse failed", err)
	}
	scope := p.scope(src, doc, string(body))

	accepted, err := p.scripts.ExecuteFilter(ctx, p.cfg.Name+" source filter", p.cfg.Source.FilterScript, scope)
	if err != nil {
		return p.sourceError(ctx, src, message.ErrCodeFilter, "source filter failed", err)
	}
	if !accepted {
		src.Status = message.StatusFiltered
		if err := p.store.UpdateStatus(ctx, src); err != nil {
			return nil, err
		}
		mon.Counter("pipeline_filtered", monkit.NewSeriesTag("channel", p.cfg.ID)).Inc(1)

		p.postprocess(ctx, src, doc)
		p.saveSourceMaps(ctx, src)
		if err := p.store.MarkProcessed(ctx, p.cfg.ID, id); err != nil {
			return nil, err
		}
		return message.NewResponse(message.StatusFiltered, ""), nil
	}

	if err := p.scripts.ExecuteTransformer(ctx, p.cfg.Name+" source transformer", p.cfg.Source.TransformerScript, scope); err != nil {
		return p.sourceError(ctx, src, message.ErrCodeTransform, "source transformer failed", err)
	}

	if transformed, err := doc.WriteToString(); err == nil {
		if err := p.store.UpsertContent(ctx, p.cfg.ID, message.Content{
			MessageID:  id,
			MetaDataID: message.SourceMetaDataID,
			Type:       message.ContentTransformed,
			Content:    transformed,
			DataType:   datatype.TypeXML,
		}); err != nil {
			return nil, err
		}
	}

	encoded, err := p.srcOutbound.FromTransformable(doc)
	if err != nil {
		return p.sourceError(ctx, src, message.ErrCodeTransform, "source encode failed", err)
	}
	if err := p.store.UpsertContent(ctx, p.cfg.ID, message.Content{
		MessageID:  id,
		MetaDataID: message.SourceMetaDataID,
		Type:       message.ContentEncoded,
		Content:    string(encoded),
		DataType:   p.srcOutbound.Name(),
	}); err != nil {
		return nil, err
	}

	src.Status = message.StatusTransformed
	if err := p.store.UpdateStatus(ctx, src); err != nil {
		return nil, err
	}
	p.captureMetaData(ctx, src)
	p.saveSourceMaps(ctx, src)

	responses := make(map[string]*message.Response)
	var last *message.Response
	var commits []*queue.Queue
	for _, chain := range p.chains {
		for _, d := range chain {
			resp, enqueued := p.processDestination(ctx, src, d, encoded)
			if enqueued {
				commits = append(commits, d.queue)
			}
			responses[d.config.Name] = resp
			last = resp
		}
	}

	p.postprocess(ctx, src, doc)
	p.saveSourceMaps(ctx, src)
	if err := p.store.MarkProcessed(ctx, p.cfg.ID, id); err != nil {
		return nil, err
	}

	// The stored message is complete: release the queued entries.
	for _, q := range commits {
		q.Commit(id)
	}

	return p.receipt(responses, last), nil
}

// receipt selects the source response per the channel configuration.
func (p *Pipeline) receipt(responses map[string]*message.Response, last *message.Response) *message.Response {
	switch p.cfg.Source.RespondFrom {
	case "":
		return nil
	case channel.RespondFromLast:
		return last
	default:
		return responses[p.cfg.Source.RespondFrom]
	}
}

// sourceError finalizes the source connector message as ERROR, recording
// the failure as processing-error content, and acknowledges the source
// with an ERROR response.
func (p *Pipeline) sourceError(ctx context.Context, src *message.ConnectorMessage, code int, msg string, cause error) (*message.Response, error) {
	ctx = context.WithoutCancel(ctx)

	if err := p.store.UpsertContent(ctx, p.cfg.ID, message.Content{
		MessageID:  src.MessageID,
		MetaDataID: message.SourceMetaDataID,
		Type:       message.ContentProcessingError,
		Content:    msg + ": " + cause.Error(),
	}); err != nil {
		p.log.Warn("processing error content not persisted", zap.Error(err))
	}

	src.Status = message.StatusError
	src.ErrorCode = code
	if err := p.store.UpdateStatus(ctx, src); err != nil {
		p.log.Error("source status not persisted",
			zap.Int64("message", src.MessageID), zap.Error(err))
	}
	p.saveSourceMaps(ctx, src)
	if err := p.store.MarkProcessed(ctx, p.cfg.ID, src.MessageID); err != nil {
		p.log.Error("message not marked processed",
			zap.Int64("message", src.MessageID), zap.Error(err))
	}

	mon.Counter("pipeline_errored", monkit.NewSeriesTag("channel", p.cfg.ID)).Inc(1)
	p.log.Warn(msg, zap.Int64("message", src.MessageID), zap.Error(cause))
	return message.ErrorResponse(msg, cause), nil
}

func (p *Pipeline) postprocess(ctx context.Context, src *message.ConnectorMessage, doc *etree.Document) {
	source := p.cfg.Scripts.Postprocessor
	if source == "" {
		return
	}
	scope := p.scope(src, doc, "")
	if _, err := p.scripts.ExecuteScript(ctx, p.cfg.Name+" postprocessor", source, scope); err != nil {
		if uerr := p.store.UpsertContent(context.WithoutCancel(ctx), p.cfg.ID, message.Content{
			MessageID:  src.MessageID,
			MetaDataID: message.SourceMetaDataID,
			Type:       message.ContentPostprocessorError,
			Content:    err.Error(),
		}); uerr != nil {
			p.log.Warn("postprocessor error content not persisted", zap.Error(uerr))
		}
		p.log.Warn("postprocessor failed",
			zap.Int64("message", src.MessageID), zap.Error(err))
	}
}

// captureMetaData resolves the declared metadata columns from the
// connector, channel and source maps, in that order.
func (p *Pipeline) captureMetaData(ctx context.Context, cm *message.ConnectorMessage) {
	if len(p.cfg.MetaDataColumns) == 0 {
		return
	}
	values := message.Map{}
	for _, col := range p.cfg.MetaDataColumns {
		if v, ok := lookupMapped(cm, col.Mapping); ok {
			values[col.Name] = v
		}
	}
	if len(values) == 0 {
		return
	}
	if err := p.store.UpsertMetaData(ctx, p.cfg.ID, cm.MessageID, cm.MetaDataID, p.cfg.MetaDataColumns, values); err != nil {
		p.log.Warn("metadata capture failed",
			zap.Int64("message", cm.MessageID), zap.Error(err))
	}
}

func lookupMapped(cm *message.ConnectorMessage, key string) (interface{}, bool) {
	if v, ok := cm.ConnectorMap[key]; ok {
		return v, true
	}
	if v, ok := cm.ChannelMap[key]; ok {
		return v, true
	}
	v, ok := cm.SourceMap[key]
	return v, ok
}

func (p *Pipeline) saveSourceMaps(ctx context.Context, src *message.ConnectorMessage) {
	if err := p.store.SaveMaps(context.WithoutCancel(ctx), src); err != nil {
		p.log.Warn("source maps not persisted",
			zap.Int64("message", src.MessageID), zap.Error(err))
	}
}

// scope assembles the script scope for a connector message.
func (p *Pipeline) scope(cm *message.ConnectorMessage, doc *etree.Document, rawText string) *script.Scope {
	return &script.Scope{
		Msg:    doc,
		MsgRaw: rawText,

		SourceMap:    script.NewReadOnly(cm.SourceMap),
		ChannelMap:   &script.FallbackMap{Primary: cm.ChannelMap, Fallback: script.NewReadOnly(cm.SourceMap)},
		ConnectorMap: cm.ConnectorMap,
		ResponseMap:  cm.ResponseMap,

		GlobalMap:        p.maps.Global(),
		GlobalChannelMap: p.maps.Channel(p.cfg.ID),
		ConfigurationMap: p.maps.Configuration(),

		Logger:        p.log.Named("script"),
		ChannelID:     p.cfg.ID,
		ChannelName:   p.cfg.Name,
		ConnectorName: cm.ConnectorName,
		MetaDataID:    cm.MetaDataID,
	}
}
