// Package queue provides deferred-execution backings for the log store
// writer: an in-process channel worker, a Redis list, and a Kafka topic.
// Every backing retries persistence with backoff and reports terminal
// failures through the observability channel instead of its caller.
package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"changetrail/internal/changelog/models"
	"changetrail/internal/platform/metrics"
)

// Store is the persistence target reached by queue workers.
type Store interface {
	Insert(ctx context.Context, rec *models.Record) error
}

// Policy bounds the retry behavior of a queue worker. The policy belongs to
// the queue, not to the capture path that submitted the record.
type Policy struct {
	// Attempts is the total number of tries per record.
	Attempts int
	// Timeout bounds one persistence attempt.
	Timeout time.Duration
}

// DefaultPolicy mirrors the documented defaults: three attempts, thirty
// seconds per attempt.
var DefaultPolicy = Policy{Attempts: 3, Timeout: 30 * time.Second}

func (p Policy) normalized() Policy {
	if p.Attempts <= 0 {
		p.Attempts = DefaultPolicy.Attempts
	}
	if p.Timeout <= 0 {
		p.Timeout = DefaultPolicy.Timeout
	}
	return p
}

// persistWithRetry runs bounded retries with exponential backoff around a
// single-record insert.
func persistWithRetry(ctx context.Context, store Store, rec *models.Record, policy Policy) error {
	policy = policy.normalized()
	backoff := retry.WithMaxRetries(uint64(policy.Attempts-1), retry.NewExponential(500*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, policy.Timeout)
		defer cancel()
		if err := store.Insert(attemptCtx, rec); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}

// reportTerminalFailure logs an exhausted record with its full payload so the
// change is not silently lost. It is never re-raised to the mutation path.
func reportTerminalFailure(ctx context.Context, logger *slog.Logger, m *metrics.Metrics, rec *models.Record, err error) {
	if m != nil {
		m.PersistFailures.Inc()
	}
	payload, marshalErr := json.Marshal(rec)
	if marshalErr != nil {
		payload = []byte(rec.ID.String())
	}
	logger.ErrorContext(ctx, "failed to persist change record",
		"record", string(payload),
		"error", err,
	)
}
