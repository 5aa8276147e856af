package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"changetrail/internal/changelog/models"
	"changetrail/internal/platform/metrics"
)

// Redis backs the deferred queue with a Redis list, surviving process
// restarts between submission and persistence.
type Redis struct {
	client  *redis.Client
	key     string
	store   Store
	policy  Policy
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// RedisOption configures the Redis queue.
type RedisOption func(*Redis)

// WithRedisPolicy overrides the retry policy.
func WithRedisPolicy(p Policy) RedisOption {
	return func(q *Redis) { q.policy = p }
}

// WithRedisMetrics sets the metrics collector.
func WithRedisMetrics(m *metrics.Metrics) RedisOption {
	return func(q *Redis) { q.metrics = m }
}

// NewRedis creates a Redis-list queue on the given key.
func NewRedis(client *redis.Client, key string, store Store, logger *slog.Logger, opts ...RedisOption) *Redis {
	q := &Redis{
		client: client,
		key:    key,
		store:  store,
		policy: DefaultPolicy,
		logger: logger,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Submit pushes the JSON-encoded record onto the list.
func (q *Redis) Submit(ctx context.Context, rec *models.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal change record: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("push change record: %w", err)
	}
	return nil
}

// Run pops records until the context is cancelled. Undecodable entries are
// reported and skipped; persistence failures go through the retry policy.
func (q *Redis) Run(ctx context.Context) error {
	for {
		res, err := q.client.BRPop(ctx, 5*time.Second, q.key).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			q.logger.ErrorContext(ctx, "redis pop failed", "error", err)
			continue
		}

		// BRPop returns [key, value].
		if len(res) != 2 {
			continue
		}
		var rec models.Record
		if err := json.Unmarshal([]byte(res[1]), &rec); err != nil {
			q.logger.ErrorContext(ctx, "undecodable queued record dropped",
				"payload", res[1],
				"error", err,
			)
			continue
		}
		if err := persistWithRetry(ctx, q.store, &rec, q.policy); err != nil {
			reportTerminalFailure(ctx, q.logger, q.metrics, &rec, err)
		}
	}
}
