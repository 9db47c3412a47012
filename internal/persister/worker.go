package persister

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"marketchat/internal/domain"
	"marketchat/internal/observability"

	"go.uber.org/zap"
)

// MessageLog is the durable-store slice the worker consumes. The bulk form
// is required: the worker's throughput assumption is one round trip per
// batch, never one per row.
type MessageLog interface {
	BulkInsert(ctx context.Context, msgs []*domain.ChatMessage) error
}

// Worker accumulates broker-consumed messages and flushes them in bulk.
// A flush is triggered by whichever comes first: the interval timer armed
// when the first message lands in an empty buffer, or the buffer reaching
// maxBatch. Failed flushes re-queue at the front and retry forever with a
// fixed backoff; a permanently unavailable store grows the buffer without
// bound, which is an accepted tradeoff needing external alerting.
type Worker struct {
	store    MessageLog
	buffer   *Buffer
	interval time.Duration
	maxBatch int

	timerMu sync.Mutex
	timer   *time.Timer

	// Serializes flushes so batches reach the store in claim order.
	flushMu sync.Mutex
}

func NewWorker(store MessageLog, interval time.Duration, maxBatch int) *Worker {
	return &Worker{
		store:    store,
		buffer:   NewBuffer(),
		interval: interval,
		maxBatch: maxBatch,
	}
}

// Handle implements broker.Handler for the message topic.
func (w *Worker) Handle(ctx context.Context, record []byte) {
	var msg domain.ChatMessage
	if err := json.Unmarshal(record, &msg); err != nil {
		observability.GetLogger(ctx).Error("persister: dropping unparseable record", zap.Error(err))
		return
	}
	w.Append(ctx, &msg)
}

func (w *Worker) Append(ctx context.Context, msg *domain.ChatMessage) {
	n := w.buffer.Append(msg)
	observability.BatchBufferLength.WithLabelValues("persister").Set(float64(n))

	if n >= w.maxBatch {
		w.Flush(ctx)
		return
	}
	if n == 1 {
		w.armTimer()
	}
}

func (w *Worker) armTimer() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	if w.timer != nil {
		return
	}
	w.timer = time.AfterFunc(w.interval, func() {
		w.Flush(context.Background())
	})
}

func (w *Worker) disarmTimer() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

// Flush claims the current batch and attempts one bulk insert. On failure
// the batch goes back to the front of the buffer and the timer is re-armed
// for the retry.
func (w *Worker) Flush(ctx context.Context) {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	log := observability.GetLogger(ctx)

	w.disarmTimer()
	batch := w.buffer.ClaimAndReset()
	if len(batch) == 0 {
		return
	}

	if err := w.store.BulkInsert(ctx, batch); err != nil {
		observability.BatchFlushFailuresTotal.WithLabelValues("persister").Inc()
		log.Error("persister: bulk insert failed, re-queueing batch",
			zap.Int("batch_size", len(batch)), zap.Error(err))

		w.buffer.Requeue(batch)
		observability.BatchBufferLength.WithLabelValues("persister").Set(float64(w.buffer.Len()))
		w.armTimer()
		return
	}

	observability.BatchFlushSize.WithLabelValues("persister").Observe(float64(len(batch)))
	observability.BatchBufferLength.WithLabelValues("persister").Set(float64(w.buffer.Len()))
	log.Info("persister: batch flushed", zap.Int("batch_size", len(batch)))

	// Messages appended mid-flush started a new generation; arm its timer.
	if w.buffer.Len() > 0 {
		w.armTimer()
	}
}

// Stop disarms the timer and makes a final flush attempt. Anything the store
// still refuses at shutdown remains in the buffer and is lost with the
// process; the broker offset semantics bound that loss.
func (w *Worker) Stop(ctx context.Context) {
	w.Flush(ctx)
	w.disarmTimer()
}
