// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

// Package queue implements the per-destination dispatch queue.
//
// Every entry is persisted with status QUEUED before it is buffered in
// memory, so the store stays authoritative and a restarted node rebuilds
// its backlog from a scan. A failed dispatch either keeps the head in
// place (strict order) or rotates it to the tail, until the attempt
// budget is spent and the entry errors out.
package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"carewire.io/carewire/engine/channel"
	"carewire.io/carewire/engine/message"
)

var (
	mon = monkit.Package()

	// Error is the queue package error class.
	Error = errs.Class("queue")
)

// recoverBatch bounds how many rows one recovery query loads.
const recoverBatch = 500

// Sender dispatches one queued connector message to its destination.
// A nil error means the attempt completed: the response status decides
// the outcome, with ERROR permanent and QUEUED pushed back for another
// attempt. A non-nil error is a retryable transport failure.
type Sender func(ctx context.Context, cm *message.ConnectorMessage) (*message.Response, error)

// Store is the message store subset the queue persists through.
type Store interface {
	UpdateStatus(ctx context.Context, cm *message.ConnectorMessage) error
	ListQueued(ctx context.Context, channelID string, metaDataID int, limit int, afterID int64) ([]*message.ConnectorMessage, error)
}

// Config ties a queue to one destination of one channel.
type Config struct {
	ChannelID  string
	MetaDataID int
	Policy     channel.QueueConfig
}

// entry is one buffered connector message.
type entry struct {
	cm *message.ConnectorMessage
	// eligible is false until the source thread hands the entry off,
	// unless send-first released it at enqueue.
	eligible  bool
	notBefore time.Time
}

// Queue buffers QUEUED connector messages of one destination and drives
// delivery with retries.
type Queue struct {
	log   *zap.Logger
	store Store
	send  Sender

	channelID  string
	metaDataID int
	policy     channel.QueueConfig

	mu      sync.Mutex
	entries []*entry
	present map[int64]bool

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a queue for one destination.
func New(log *zap.Logger, store Store, send Sender, config Config) *Queue {
	return &Queue{
		log:        log,
		store:      store,
		send:       send,
		channelID:  config.ChannelID,
		metaDataID: config.MetaDataID,
		policy:     config.Policy,
		present:    map[int64]bool{},
		wake:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
	}
}

// Run rebuilds the backlog from the store and dispatches entries until
// the context is canceled or the queue is closed.
func (q *Queue) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := q.recover(ctx); err != nil {
		return err
	}

	var group errgroup.Group
	for i := 0; i < q.threads(); i++ {
		group.Go(func() error {
			return q.worker(ctx)
		})
	}
	return group.Wait()
}

// Close stops the workers once any in-flight dispatch finishes. Buffered
// entries stay QUEUED in the store and are recovered on the next Run.
func (q *Queue) Close() error {
	q.stopOnce.Do(func() { close(q.stop) })
	return nil
}

// Enqueue persists cm as QUEUED and buffers it for dispatch. The entry
// waits for Commit before it becomes dispatchable, unless send-first
// releases it right away.
func (q *Queue) Enqueue(ctx context.Context, cm *message.ConnectorMessage) (err error) {
	defer mon.Task()(&ctx)(&err)

	cm.Status = message.StatusQueued
	cm.ErrorCode = message.ErrCodeNone
	if err := q.store.UpdateStatus(ctx, cm); err != nil {
		return err
	}

	q.mu.Lock()
	if q.present[cm.MessageID] {
		q.mu.Unlock()
		return nil
	}
	q.present[cm.MessageID] = true
	q.entries = append(q.entries, &entry{cm: cm, eligible: q.policy.SendFirst})
	q.mu.Unlock()

	if q.policy.SendFirst {
		q.signal()
	}
	return nil
}

// Commit releases an enqueued entry for dispatch. It is a no-op when
// send-first already released the entry at enqueue.
func (q *Queue) Commit(messageID int64) {
	q.mu.Lock()
	released := false
	for _, e := range q.entries {
		if e.cm.MessageID == messageID && !e.eligible {
			e.eligible = true
			released = true
			break
		}
	}
	q.mu.Unlock()

	if released {
		q.signal()
	}
}

// Depth returns how many entries are buffered, not counting in-flight
// dispatches.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// recover loads QUEUED rows left over from a previous run and buffers
// them as dispatchable. Rows already buffered by a concurrent Enqueue
// are skipped.
func (q *Queue) recover(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	var afterID int64
	total := 0
	for {
		cms, err := q.store.ListQueued(ctx, q.channelID, q.metaDataID, recoverBatch, afterID)
		if err != nil {
			return Error.Wrap(err)
		}
		if len(cms) == 0 {
			break
		}
		afterID = cms[len(cms)-1].MessageID

		q.mu.Lock()
		for _, cm := range cms {
			if q.present[cm.MessageID] {
				continue
			}
			q.present[cm.MessageID] = true
			q.entries = append(q.entries, &entry{cm: cm, eligible: true})
			total++
		}
		q.mu.Unlock()

		if len(cms) < recoverBatch {
			break
		}
	}

	// Entries enqueued while the scan ran were appended out of order.
	q.mu.Lock()
	sort.Slice(q.entries, func(i, j int) bool {
		return q.entries[i].cm.MessageID < q.entries[j].cm.MessageID
	})
	q.mu.Unlock()

	if total > 0 {
		q.log.Info("recovered queued messages",
			zap.String("channel", q.channelID),
			zap.Int("destination", q.metaDataID),
			zap.Int("count", total))
		q.signal()
	}
	return nil
}

func (q *Queue) worker(ctx context.Context) error {
	for {
		e, err := q.next(ctx)
		if err != nil {
			return err
		}
		if e == nil {
			return nil
		}
		q.dispatch(ctx, e)
	}
}

// next blocks until the head entry is dispatchable and pops it. It
// returns nil when the queue was closed.
func (q *Queue) next(ctx context.Context) (*entry, error) {
	for {
		q.mu.Lock()
		var wait time.Duration = -1
		if len(q.entries) > 0 {
			head := q.entries[0]
			if head.eligible {
				now := time.Now()
				if !head.notBefore.After(now) {
					q.entries = q.entries[1:]
					chain := len(q.entries) > 0 && q.entries[0].eligible &&
						!q.entries[0].notBefore.After(now)
					q.mu.Unlock()
					if chain {
						// Let another worker take the next entry.
						q.signal()
					}
					return head, nil
				}
				wait = head.notBefore.Sub(now)
			}
		}
		q.mu.Unlock()

		if wait < 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-q.stop:
				return nil, nil
			case <-q.wake:
			}
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-q.stop:
			timer.Stop()
			return nil, nil
		case <-q.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// dispatch attempts delivery of one entry and persists the outcome.
func (q *Queue) dispatch(ctx context.Context, e *entry) {
	cm := e.cm

	cm.SendAttempts++
	cm.SendDate = time.Now().UTC()
	if err := q.store.UpdateStatus(ctx, cm); err != nil {
		// The attempt never started.
		cm.SendAttempts--
		q.log.Warn("recording dispatch attempt failed",
			zap.Int64("message", cm.MessageID), zap.Error(err))
		q.requeue(e, q.storeRetryDelay())
		return
	}

	resp, err := q.send(ctx, cm)
	if err != nil {
		if ctx.Err() != nil {
			// Halted mid-send. Record the outcome on a detached
			// context so the row does not stay QUEUED.
			q.finish(ctx, cm, message.StatusError, message.ErrCodeHalted)
			mon.Counter("queue_halted").Inc(1)
			return
		}
		q.retry(ctx, e, err)
		return
	}

	status := message.StatusSent
	if resp != nil {
		status = resp.Status
	}
	switch status {
	case message.StatusError:
		code := message.ErrCodeDispatch
		if cm.ErrorCode != message.ErrCodeNone {
			// The sender already labeled the failure.
			code = cm.ErrorCode
		}
		q.finish(ctx, cm, message.StatusError, code)
		mon.Counter("queue_rejected").Inc(1)
	case message.StatusQueued:
		// A response transformer pushed the message back.
		q.retry(ctx, e, nil)
	default:
		q.finish(ctx, cm, status, message.ErrCodeNone)
		mon.Counter("queue_sent").Inc(1)
	}
}

// retry reschedules a failed attempt, or errors the entry out once the
// attempt budget is spent.
func (q *Queue) retry(ctx context.Context, e *entry, cause error) {
	cm := e.cm
	if cm.SendAttempts >= q.policy.RetryCount+1 {
		q.log.Warn("destination gave up after retries",
			zap.Int64("message", cm.MessageID),
			zap.Int("attempts", cm.SendAttempts),
			zap.Error(cause))
		q.finish(ctx, cm, message.StatusError, message.ErrCodeDispatch)
		mon.Counter("queue_exhausted").Inc(1)
		return
	}

	q.log.Debug("dispatch failed, retrying",
		zap.Int64("message", cm.MessageID),
		zap.Int("attempt", cm.SendAttempts),
		zap.Error(cause))
	q.requeue(e, q.policy.RetryInterval)
	mon.Counter("queue_retried").Inc(1)
}

// requeue puts e back into the buffer: at the head under strict order,
// at the tail when rotate-on-error is set.
func (q *Queue) requeue(e *entry, delay time.Duration) {
	e.eligible = true
	e.notBefore = time.Now().Add(delay)

	q.mu.Lock()
	if q.policy.RotateOnError {
		q.entries = append(q.entries, e)
	} else {
		q.entries = append([]*entry{e}, q.entries...)
	}
	q.mu.Unlock()
	q.signal()
}

// finish pops the entry to a terminal status and persists it. Terminal
// writes run on a detached context: dropping a delivery record on halt
// would resend the message after restart.
func (q *Queue) finish(ctx context.Context, cm *message.ConnectorMessage, status message.Status, errCode int) {
	ctx = context.WithoutCancel(ctx)

	cm.Status = status
	cm.ErrorCode = errCode
	cm.ResponseDate = time.Now().UTC()
	if err := q.store.UpdateStatus(ctx, cm); err != nil {
		q.log.Error("persisting dispatch outcome failed",
			zap.Int64("message", cm.MessageID),
			zap.Stringer("status", status),
			zap.Error(err))
	}

	q.mu.Lock()
	delete(q.present, cm.MessageID)
	q.mu.Unlock()
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) threads() int {
	if q.policy.Threads > 1 {
		return q.policy.Threads
	}
	return 1
}

// storeRetryDelay paces retries caused by store failures, where the
// configured interval may be zero.
func (q *Queue) storeRetryDelay() time.Duration {
	if q.policy.RetryInterval > 0 {
		return q.policy.RetryInterval
	}
	return time.Second
}
