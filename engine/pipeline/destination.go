// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package pipeline

import (
	"context"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"go.uber.org/zap"

	"carewire.io/carewire/engine/attachment"
	"carewire.io/carewire/engine/channel"
	"carewire.io/carewire/engine/connector"
	"carewire.io/carewire/engine/datatype"
	"carewire.io/carewire/engine/message"
	"carewire.io/carewire/engine/queue"
)

// destRuntime is one destination with its connector, resolved data types and
// optional dispatch queue.
type destRuntime struct {
	config   channel.DestinationConfig
	conn     connector.Destination
	inbound  datatype.DataType
	outbound datatype.DataType
	queue    *queue.Queue
	chainID  int
	orderID  int
}

// processDestination runs one destination against the source encoded
// content: filter, transform, then dispatch synchronously or hand off to
// the destination queue. It reports whether the message was enqueued, so
// Receive can release the entry once the source thread finishes.
func (p *Pipeline) processDestination(ctx context.Context, src *message.ConnectorMessage, d *destRuntime, encoded []byte) (_ *message.Response, enqueued bool) {
	cm := &message.ConnectorMessage{
		MessageID:     src.MessageID,
		MetaDataID:    d.config.MetaDataID,
		ChannelID:     p.cfg.ID,
		ConnectorName: d.config.Name,
		ServerID:      p.serverID,
		ReceivedAt:    src.ReceivedAt,
		Status:        message.StatusPending,
		ChainID:       d.chainID,
		OrderID:       d.orderID,

		// Destinations inside a message share the source, channel and
		// response maps; chains walk serially so the sharing is safe. The
		// connector map is per-destination scratch.
		SourceMap:    src.SourceMap,
		ChannelMap:   src.ChannelMap,
		ResponseMap:  src.ResponseMap,
		ConnectorMap: message.Map{},
	}
	if err := p.store.InsertConnectorMessage(ctx, cm); err != nil {
		return p.destError(ctx, cm, message.ErrCodeDispatch, "destination not persisted", err), false
	}

	out := encoded
	if d.config.FilterScript != "" || d.config.TransformerScript != "" {
		doc, err := d.inbound.ToTransformable(encoded)
		if err != nil {
			return p.destError(ctx, cm, message.ErrCodeTransform, "destination parse failed", err), false
		}
		scope := p.scope(cm, doc, string(encoded))

		accepted, err := p.scripts.ExecuteFilter(ctx, d.config.Name+" filter", d.config.FilterScript, scope)
		if err != nil {
			return p.destError(ctx, cm, message.ErrCodeFilter, "destination filter failed", err), false
		}
		if !accepted {
			cm.Status = message.StatusFiltered
			if err := p.store.UpdateStatus(ctx, cm); err != nil {
				p.log.Error("destination status not persisted",
					zap.Int64("message", cm.MessageID), zap.Error(err))
			}
			mon.Counter("pipeline_dest_filtered", monkit.NewSeriesTag("channel", p.cfg.ID)).Inc(1)
			return message.NewResponse(message.StatusFiltered, ""), false
		}

		if err := p.scripts.ExecuteTransformer(ctx, d.config.Name+" transformer", d.config.TransformerScript, scope); err != nil {
			return p.destError(ctx, cm, message.ErrCodeTransform, "destination transformer failed", err), false
		}
		out, err = d.outbound.FromTransformable(doc)
		if err != nil {
			return p.destError(ctx, cm, message.ErrCodeTransform, "destination encode failed", err), false
		}
	}

	if err := p.store.UpsertContent(ctx, p.cfg.ID, message.Content{
		MessageID:  cm.MessageID,
		MetaDataID: cm.MetaDataID,
		Type:       message.ContentEncoded,
		Content:    string(out),
		DataType:   d.outbound.Name(),
	}); err != nil {
		return p.destError(ctx, cm, message.ErrCodeDispatch, "destination content not persisted", err), false
	}

	cm.Status = message.StatusTransformed
	if err := p.store.UpdateStatus(ctx, cm); err != nil {
		p.log.Error("destination status not persisted",
			zap.Int64("message", cm.MessageID), zap.Error(err))
	}

	if d.queue != nil {
		resp := message.NewResponse(message.StatusQueued, "")
		recordResponse(cm, d.config.Name, resp)
		if err := p.store.SaveMaps(ctx, cm); err != nil {
			p.log.Warn("destination maps not persisted",
				zap.Int64("message", cm.MessageID), zap.Error(err))
		}
		// Hand the queue a detached copy. The worker re-reads content and
		// maps from the store, so a send-first dispatch cannot touch the
		// maps the source thread is still walking.
		queued := *cm
		queued.SourceMap, queued.ChannelMap = nil, nil
		queued.ResponseMap, queued.ConnectorMap = nil, nil
		if err := d.queue.Enqueue(ctx, &queued); err != nil {
			return p.destError(ctx, cm, message.ErrCodeDispatch, "destination enqueue failed", err), false
		}
		return resp, true
	}

	cm.SendAttempts++
	cm.SendDate = time.Now().UTC()
	if err := p.store.UpdateStatus(ctx, cm); err != nil {
		p.log.Error("destination status not persisted",
			zap.Int64("message", cm.MessageID), zap.Error(err))
	}

	resp, err := p.dispatchDestination(ctx, d, cm)
	if err != nil {
		code := message.ErrCodeDispatch
		if ctx.Err() != nil {
			code = message.ErrCodeHalted
		}
		return p.destError(ctx, cm, code, "destination dispatch failed", err), false
	}
	p.finalizeSync(ctx, cm, resp)
	return resp, false
}

// dispatchDestination sends the stored encoded content through the
// destination connector and runs the response transformer. It is the
// Sender of queue-enabled destinations, so it re-reads everything it
// needs from the store: after a crash the queue recovers entries without
// in-memory state.
func (p *Pipeline) dispatchDestination(ctx context.Context, d *destRuntime, cm *message.ConnectorMessage) (_ *message.Response, err error) {
	defer mon.Task()(&ctx)(&err)

	content, err := p.store.GetContent(ctx, cm.ChannelID, cm.MessageID, cm.MetaDataID, message.ContentEncoded)
	if err != nil {
		return nil, err
	}
	body := content.Content
	if ids := attachment.TokenIDs(body); len(ids) > 0 {
		atts, err := p.store.GetAttachments(ctx, cm.ChannelID, cm.MessageID)
		if err != nil {
			return nil, err
		}
		body, err = attachment.Reattach(body, atts)
		if err != nil {
			return nil, err
		}
	}

	if cm.SourceMap == nil {
		if err := p.store.LoadMaps(ctx, cm); err != nil {
			return nil, err
		}
	}
	if cm.ConnectorMap == nil {
		cm.ConnectorMap = message.Map{}
	}

	resp, err := d.conn.Send(ctx, &connector.Request{
		ChannelID:    cm.ChannelID,
		MessageID:    cm.MessageID,
		MetaDataID:   cm.MetaDataID,
		Content:      body,
		SourceMap:    cm.SourceMap,
		ChannelMap:   cm.ChannelMap,
		ConnectorMap: cm.ConnectorMap,
	})
	if err != nil {
		return nil, err
	}
	if resp == nil {
		resp = message.NewResponse(message.StatusSent, "")
	}

	if err := p.store.UpsertContent(ctx, cm.ChannelID, message.Content{
		MessageID:  cm.MessageID,
		MetaDataID: cm.MetaDataID,
		Type:       message.ContentSent,
		Content:    body,
		DataType:   d.outbound.Name(),
	}); err != nil {
		p.log.Warn("sent content not persisted",
			zap.Int64("message", cm.MessageID), zap.Error(err))
	}

	resp = p.transformResponse(ctx, d, cm, resp)

	if resp.Message != "" || resp.StatusMessage != "" || resp.Error != "" {
		if err := p.store.UpsertContent(ctx, cm.ChannelID, message.Content{
			MessageID:  cm.MessageID,
			MetaDataID: cm.MetaDataID,
			Type:       message.ContentResponse,
			Content:    resp.Message,
		}); err != nil {
			p.log.Warn("response content not persisted",
				zap.Int64("message", cm.MessageID), zap.Error(err))
		}
	}

	recordResponse(cm, d.config.Name, resp)
	if err := p.store.SaveMaps(context.WithoutCancel(ctx), cm); err != nil {
		p.log.Warn("destination maps not persisted",
			zap.Int64("message", cm.MessageID), zap.Error(err))
	}
	return resp, nil
}

// transformResponse runs the destination's response transformer. A script
// failure turns the dispatch into an ERROR response without undoing the
// send itself.
func (p *Pipeline) transformResponse(ctx context.Context, d *destRuntime, cm *message.ConnectorMessage, resp *message.Response) *message.Response {
	source := d.config.ResponseTransformerScript
	if source == "" {
		return resp
	}

	scope := p.scope(cm, nil, resp.Message)
	scope.Response = resp
	if err := p.scripts.ExecuteResponseTransformer(ctx, d.config.Name+" response transformer", source, scope); err != nil {
		if uerr := p.store.UpsertContent(context.WithoutCancel(ctx), cm.ChannelID, message.Content{
			MessageID:  cm.MessageID,
			MetaDataID: cm.MetaDataID,
			Type:       message.ContentResponseError,
			Content:    err.Error(),
		}); uerr != nil {
			p.log.Warn("response error content not persisted", zap.Error(uerr))
		}
		cm.ErrorCode = message.ErrCodeResponse
		p.log.Warn("response transformer failed",
			zap.Int64("message", cm.MessageID), zap.Error(err))
		return message.ErrorResponse("response transformer failed", err)
	}

	out := scope.Response
	if out == nil {
		out = resp
	}
	if encoded := out.Message; encoded != "" {
		if err := p.store.UpsertContent(ctx, cm.ChannelID, message.Content{
			MessageID:  cm.MessageID,
			MetaDataID: cm.MetaDataID,
			Type:       message.ContentResponseTransformed,
			Content:    encoded,
		}); err != nil {
			p.log.Warn("transformed response not persisted", zap.Error(err))
		}
	}
	return out
}

// recordResponse stores the dispatch outcome in the shared response map
// under both the d{n} key and the destination name.
func recordResponse(cm *message.ConnectorMessage, name string, resp *message.Response) {
	entry := message.Map{
		"status":        resp.Status.String(),
		"message":       resp.Message,
		"statusMessage": resp.StatusMessage,
		"error":         resp.Error,
	}
	cm.ResponseMap[message.ResponseMapKey(cm.MetaDataID)] = entry
	cm.ResponseMap[name] = entry
}

// finalizeSync persists the terminal status of a synchronous dispatch.
func (p *Pipeline) finalizeSync(ctx context.Context, cm *message.ConnectorMessage, resp *message.Response) {
	ctx = context.WithoutCancel(ctx)

	status := resp.Status
	code := message.ErrCodeNone
	switch status {
	case message.StatusError:
		code = message.ErrCodeDispatch
		if cm.ErrorCode != message.ErrCodeNone {
			code = cm.ErrorCode
		}
	case message.StatusQueued:
		// Nothing drains a queue that is not enabled.
		status = message.StatusError
		code = message.ErrCodeResponse
	}

	cm.Status = status
	cm.ErrorCode = code
	cm.ResponseDate = time.Now().UTC()
	if err := p.store.UpdateStatus(ctx, cm); err != nil {
		p.log.Error("dispatch outcome not persisted",
			zap.Int64("message", cm.MessageID),
			zap.Stringer("status", status),
			zap.Error(err))
	}
	mon.Counter("pipeline_dispatched", monkit.NewSeriesTag("channel", p.cfg.ID)).Inc(1)
}

// destError finalizes a destination connector message as ERROR and
// returns the matching response.
func (p *Pipeline) destError(ctx context.Context, cm *message.ConnectorMessage, code int, msg string, cause error) *message.Response {
	ctx = context.WithoutCancel(ctx)

	if err := p.store.UpsertContent(ctx, p.cfg.ID, message.Content{
		MessageID:  cm.MessageID,
		MetaDataID: cm.MetaDataID,
		Type:       message.ContentProcessingError,
		Content:    msg + ": " + cause.Error(),
	}); err != nil {
		p.log.Warn("processing error content not persisted", zap.Error(err))
	}

	cm.Status = message.StatusError
	cm.ErrorCode = code
	cm.ResponseDate = time.Now().UTC()
	if err := p.store.UpdateStatus(ctx, cm); err != nil {
		p.log.Error("destination status not persisted",
			zap.Int64("message", cm.MessageID), zap.Error(err))
	}

	mon.Counter("pipeline_dest_errored", monkit.NewSeriesTag("channel", p.cfg.ID)).Inc(1)
	p.log.Warn(msg,
		zap.Int64("message", cm.MessageID),
		zap.String("destination", cm.ConnectorName),
		zap.Error(cause))
	resp := message.ErrorResponse(msg, cause)
	recordResponse(cm, cm.ConnectorName, resp)
	return resp
}

// queueSender adapts dispatchDestination into the queue's Sender.
func (p *Pipeline) queueSender(d *destRuntime) queue.Sender {
	return func(ctx context.Context, cm *message.ConnectorMessage) (*message.Response, error) {
		return p.dispatchDestination(ctx, d, cm)
	}
}
