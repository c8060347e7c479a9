package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"light/shielded-pool/computation"
	"light/shielded-pool/primitives"
)

const (
	ComputationQueue = "shielded_computation_queue"
	CallbackQueue    = "shielded_callback_queue"
	FailedQueue      = "shielded_failed_queue"

	resultTTL           = time.Hour
	resultSweepInterval = time.Minute
)

var (
	ErrQueueFull    = errors.New("queue is full")
	ErrQueueClosed  = errors.New("queue is closed")
	queueNames      = []string{ComputationQueue, CallbackQueue, FailedQueue}
	memoryQueueSize = 4096
)

// QueueItem is the envelope every queue stores.
type QueueItem struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Queue carries computation jobs to the engine and signed callbacks back
// to the ledger, and keeps recent outcomes for status lookups.
type Queue interface {
	Enqueue(ctx context.Context, queueName string, item *QueueItem) error
	// Dequeue returns nil when nothing arrived within timeout.
	Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*QueueItem, error)
	StoreResult(ctx context.Context, outcome *computation.Outcome) error
	// GetResult returns nil when no outcome is stored for offset.
	GetResult(ctx context.Context, offset primitives.ComputationOffset) (*computation.Outcome, error)
	GetQueueStats(ctx context.Context) (map[string]int64, error)
	Close() error
}

// Submitter hands dispatched jobs to a Queue.
type Submitter struct {
	queue Queue
}

func NewSubmitter(queue Queue) *Submitter {
	return &Submitter{queue: queue}
}

func (s *Submitter) Submit(ctx context.Context, job *computation.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	return s.queue.Enqueue(ctx, ComputationQueue, &QueueItem{
		ID:        job.ID,
		Type:      "computation",
		Payload:   data,
		CreatedAt: time.Now(),
	})
}

func resultKey(offset primitives.ComputationOffset) string {
	return fmt.Sprintf("shielded_result_%d", offset)
}

type storedResult struct {
	outcome computation.Outcome
	expires time.Time
}

// MemoryQueue is the single-process Queue.
type MemoryQueue struct {
	mu      sync.Mutex
	queues  map[string]chan *QueueItem
	results map[string]storedResult
	closed  chan struct{}
	once    sync.Once
	now     func() time.Time
	swept   time.Time
}

func NewMemoryQueue() *MemoryQueue {
	q := &MemoryQueue{
		queues:  make(map[string]chan *QueueItem),
		results: make(map[string]storedResult),
		closed:  make(chan struct{}),
		now:     time.Now,
	}
	for _, name := range queueNames {
		q.queues[name] = make(chan *QueueItem, memoryQueueSize)
	}
	return q
}

func (q *MemoryQueue) channel(name string) chan *QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, ok := q.queues[name]
	if !ok {
		ch = make(chan *QueueItem, memoryQueueSize)
		q.queues[name] = ch
	}
	return ch
}

func (q *MemoryQueue) Enqueue(ctx context.Context, queueName string, item *QueueItem) error {
	select {
	case <-q.closed:
		return ErrQueueClosed
	default:
	}
	select {
	case q.channel(queueName) <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("%w: %s", ErrQueueFull, queueName)
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*QueueItem, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case item := <-q.channel(queueName):
		return item, nil
	case <-timer.C:
		return nil, nil
	case <-q.closed:
		return nil, ErrQueueClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// StoreResult keeps outcome for resultTTL. Expired outcomes are dropped
// here as well as on read, at most once per resultSweepInterval.
func (q *MemoryQueue) StoreResult(_ context.Context, outcome *computation.Outcome) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	if now.Sub(q.swept) >= resultSweepInterval {
		for key, r := range q.results {
			if now.After(r.expires) {
				delete(q.results, key)
			}
		}
		q.swept = now
	}
	q.results[resultKey(outcome.Offset)] = storedResult{outcome: *outcome, expires: now.Add(resultTTL)}
	return nil
}

func (q *MemoryQueue) GetResult(_ context.Context, offset primitives.ComputationOffset) (*computation.Outcome, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	key := resultKey(offset)
	r, ok := q.results[key]
	if !ok {
		return nil, nil
	}
	if q.now().After(r.expires) {
		delete(q.results, key)
		return nil, nil
	}
	outcome := r.outcome
	return &outcome, nil
}

func (q *MemoryQueue) GetQueueStats(context.Context) (map[string]int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	stats := make(map[string]int64, len(q.queues))
	for name, ch := range q.queues {
		stats[name] = int64(len(ch))
	}
	return stats, nil
}

func (q *MemoryQueue) Close() error {
	q.once.Do(func() { close(q.closed) })
	return nil
}
