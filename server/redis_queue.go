package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"light/shielded-pool/computation"
	"light/shielded-pool/logging"
	"light/shielded-pool/primitives"

	"github.com/redis/go-redis/v9"
)

type RedisQueue struct {
	Client *redis.Client
}

func NewRedisQueue(redisURL string) (*RedisQueue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.PoolSize = 50
	opts.MinIdleConns = 4
	opts.DialTimeout = 10 * time.Second
	// BLPOP blocks for up to the dequeue timeout.
	opts.ReadTimeout = 30 * time.Second
	opts.WriteTimeout = 10 * time.Second
	opts.PoolTimeout = 15 * time.Second
	opts.ConnMaxIdleTime = 5 * time.Minute
	opts.MaxRetries = 3

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.Logger().Info().
		Int("pool_size", opts.PoolSize).
		Dur("dial_timeout", opts.DialTimeout).
		Dur("read_timeout", opts.ReadTimeout).
		Int("max_retries", opts.MaxRetries).
		Msg("Redis client configured with connection pool")

	return &RedisQueue{Client: client}, nil
}

func (rq *RedisQueue) Enqueue(ctx context.Context, queueName string, item *QueueItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal queue item: %w", err)
	}
	if err := rq.Client.RPush(ctx, queueName, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue item: %w", err)
	}
	logging.Logger().Debug().
		Str("id", item.ID).
		Str("queue", queueName).
		Msg("Item enqueued")
	return nil
}

func (rq *RedisQueue) Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*QueueItem, error) {
	result, err := rq.Client.BLPop(ctx, timeout, queueName).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue item: %w", err)
	}
	if len(result) < 2 {
		return nil, fmt.Errorf("invalid result from Redis")
	}

	var item QueueItem
	if err := json.Unmarshal([]byte(result[1]), &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal queue item: %w", err)
	}
	return &item, nil
}

func (rq *RedisQueue) StoreResult(ctx context.Context, outcome *computation.Outcome) error {
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome: %w", err)
	}
	key := resultKey(outcome.Offset)
	if err := rq.Client.Set(ctx, key, data, resultTTL).Err(); err != nil {
		return fmt.Errorf("failed to store result: %w", err)
	}
	return nil
}

func (rq *RedisQueue) GetResult(ctx context.Context, offset primitives.ComputationOffset) (*computation.Outcome, error) {
	data, err := rq.Client.Get(ctx, resultKey(offset)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get result: %w", err)
	}
	var outcome computation.Outcome
	if err := json.Unmarshal(data, &outcome); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return &outcome, nil
}

func (rq *RedisQueue) GetQueueStats(ctx context.Context) (map[string]int64, error) {
	stats := make(map[string]int64)
	for _, queue := range queueNames {
		length, err := rq.Client.LLen(ctx, queue).Result()
		if err != nil {
			logging.Logger().Warn().Err(err).Str("queue", queue).Msg("Failed to get queue length")
			length = 0
		}
		stats[queue] = length
	}
	return stats, nil
}

// CleanupOldFailedJobs drops failure records older than maxAge. Pending
// computation jobs are never dropped: their slots stay booked until a
// callback arrives.
func (rq *RedisQueue) CleanupOldFailedJobs(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge)
	items, err := rq.Client.LRange(ctx, FailedQueue, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", FailedQueue, err)
	}
	var removed int64
	for _, raw := range items {
		var item QueueItem
		if json.Unmarshal([]byte(raw), &item) != nil || item.CreatedAt.After(cutoff) {
			continue
		}
		n, err := rq.Client.LRem(ctx, FailedQueue, 1, raw).Result()
		if err != nil {
			return removed, fmt.Errorf("failed to remove from %s: %w", FailedQueue, err)
		}
		removed += n
	}
	if removed > 0 {
		logging.Logger().Info().Int64("removed", removed).Msg("Cleaned up old failed jobs")
	}
	return removed, nil
}

func (rq *RedisQueue) Close() error {
	return rq.Client.Close()
}
