package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"light/shielded-pool/computation"
	"light/shielded-pool/logging"

	"github.com/rs/zerolog"
)

const dequeueTimeout = 2 * time.Second

type QueueWorker interface {
	Start()
	Stop()
}

// Executor runs a job and signs its callback.
type Executor interface {
	Execute(job *computation.Job) (computation.CallbackTransaction, error)
}

type baseWorker struct {
	queue     Queue
	queueName string
	handle    func(ctx context.Context, item *QueueItem) error
	ctx       context.Context
	cancel    context.CancelFunc
	stopOnce  sync.Once
	started   atomic.Bool
	done      chan struct{}
	log       zerolog.Logger
}

func newBaseWorker(queue Queue, queueName, component string) *baseWorker {
	ctx, cancel := context.WithCancel(context.Background())
	return &baseWorker{
		queue:     queue,
		queueName: queueName,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		log:       logging.Component(component),
	}
}

// Start blocks until Stop is called.
func (w *baseWorker) Start() {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	w.log.Info().Str("queue", w.queueName).Msg("Starting queue worker")
	defer close(w.done)
	for {
		select {
		case <-w.ctx.Done():
			w.log.Info().Str("queue", w.queueName).Msg("Queue worker stopping")
			return
		default:
			w.processItems()
		}
	}
}

// Stop cancels the worker and waits for the item in progress.
func (w *baseWorker) Stop() {
	w.stopOnce.Do(w.cancel)
	if w.started.Load() {
		<-w.done
	}
}

func (w *baseWorker) processItems() {
	item, err := w.queue.Dequeue(w.ctx, w.queueName, dequeueTimeout)
	if err != nil {
		if w.ctx.Err() != nil {
			return
		}
		w.log.Error().Err(err).Str("queue", w.queueName).Msg("Error dequeuing from queue")
		if errors.Is(err, ErrQueueClosed) {
			w.cancel()
			return
		}
		select {
		case <-time.After(time.Second):
		case <-w.ctx.Done():
		}
		return
	}
	if item == nil {
		return
	}

	if err := w.handle(w.ctx, item); err != nil {
		w.log.Error().
			Err(err).
			Str("id", item.ID).
			Str("queue", w.queueName).
			Msg("Failed to process queue item")
		w.addToFailedQueue(item, err)
	}
}

func (w *baseWorker) addToFailedQueue(item *QueueItem, cause error) {
	failed, err := json.Marshal(map[string]any{
		"original":  item,
		"queue":     w.queueName,
		"error":     cause.Error(),
		"failed_at": time.Now(),
	})
	if err != nil {
		w.log.Error().Err(err).Str("id", item.ID).Msg("Failed to marshal failure record")
		return
	}
	err = w.queue.Enqueue(context.Background(), FailedQueue, &QueueItem{
		ID:        item.ID + "_failed",
		Type:      "failed",
		Payload:   failed,
		CreatedAt: time.Now(),
	})
	if err != nil {
		w.log.Error().Err(err).Str("id", item.ID).Msg("Failed to record failure")
	}
}

// EngineWorker feeds queued jobs to an Executor and queues the signed
// callbacks it returns.
type EngineWorker struct {
	*baseWorker
	executor Executor
}

func NewEngineWorker(queue Queue, executor Executor) *EngineWorker {
	w := &EngineWorker{baseWorker: newBaseWorker(queue, ComputationQueue, "engine_worker"), executor: executor}
	w.handle = w.execute
	return w
}

func (w *EngineWorker) execute(ctx context.Context, item *QueueItem) error {
	var job computation.Job
	if err := json.Unmarshal(item.Payload, &job); err != nil {
		RecordJobComplete(false)
		return fmt.Errorf("failed to unmarshal job: %w", err)
	}
	kind := job.Kind.String()
	QueueWaitTime.WithLabelValues(kind).Observe(time.Since(item.CreatedAt).Seconds())

	start := time.Now()
	callback, err := w.executor.Execute(&job)
	EngineExecutionDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	if err != nil {
		RecordJobComplete(false)
		return fmt.Errorf("job %s at offset %d: %w", job.ID, job.Offset, err)
	}

	data, err := json.Marshal(callback)
	if err != nil {
		RecordJobComplete(false)
		return fmt.Errorf("failed to marshal callback: %w", err)
	}
	err = w.queue.Enqueue(ctx, CallbackQueue, &QueueItem{
		ID:        job.ID,
		Type:      "callback",
		Payload:   data,
		CreatedAt: time.Now(),
	})
	RecordJobComplete(err == nil)
	if err == nil {
		w.log.Debug().Str("job_id", job.ID).Uint64("offset", uint64(job.Offset)).Msg("Callback queued")
	}
	return err
}

// CallbackRelay delivers queued callbacks to the dispatcher and keeps
// the outcomes for status lookups.
type CallbackRelay struct {
	*baseWorker
	dispatcher *computation.Dispatcher
}

func NewCallbackRelay(queue Queue, dispatcher *computation.Dispatcher) *CallbackRelay {
	w := &CallbackRelay{baseWorker: newBaseWorker(queue, CallbackQueue, "callback_relay"), dispatcher: dispatcher}
	w.handle = w.deliver
	return w
}

func (w *CallbackRelay) deliver(ctx context.Context, item *QueueItem) error {
	var callback computation.CallbackTransaction
	if err := json.Unmarshal(item.Payload, &callback); err != nil {
		return fmt.Errorf("failed to unmarshal callback: %w", err)
	}
	outcome, err := w.dispatcher.Callback(ctx, callback)
	if err != nil {
		RecordCallbackError(err)
		return err
	}
	RecordOutcome(outcome)
	return w.queue.StoreResult(ctx, outcome)
}
