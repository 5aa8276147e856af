// Package writer persists change records either synchronously or through a
// deferred queue, isolating the capture path from storage failures.
package writer

import (
	"context"
	"fmt"
	"log/slog"

	"changetrail/internal/changelog/models"
	"changetrail/internal/platform/metrics"
)

// Store is the synchronous persistence target.
type Store interface {
	Insert(ctx context.Context, rec *models.Record) error
}

// Queue is a deferred-execution facility. Submit hands off a record for
// asynchronous persistence; retry and timeout policy live with the queue
// worker, not the caller.
type Queue interface {
	Submit(ctx context.Context, rec *models.Record) error
}

// Writer is the single persistence entry point for the capture service.
type Writer struct {
	store   Store
	queue   Queue
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures the Writer.
type Option func(*Writer)

// WithQueue switches the writer to deferred persistence through q.
func WithQueue(q Queue) Option {
	return func(w *Writer) { w.queue = q }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Writer) { w.metrics = m }
}

// New creates a writer. Without a queue option it persists synchronously.
func New(store Store, logger *slog.Logger, opts ...Option) *Writer {
	w := &Writer{store: store, logger: logger}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Deferred reports whether records are queued rather than written in-line.
func (w *Writer) Deferred() bool { return w.queue != nil }

// Persist stores a fully enriched record.
//
// Synchronous mode propagates storage errors to the caller; the triggering
// operation decides what to do with them. Deferred mode never does: a failed
// hand-off is logged with the full payload and swallowed, because an audit
// failure must not fail the business mutation that produced it.
func (w *Writer) Persist(ctx context.Context, rec *models.Record) error {
	if w.queue == nil {
		if err := w.store.Insert(ctx, rec); err != nil {
			return fmt.Errorf("insert change record: %w", err)
		}
		return nil
	}

	if err := w.queue.Submit(ctx, rec); err != nil {
		if w.metrics != nil {
			w.metrics.PersistFailures.Inc()
		}
		w.logger.ErrorContext(ctx, "failed to enqueue change record",
			"record_id", rec.ID,
			"subject_type", rec.SubjectType,
			"subject_id", rec.SubjectID,
			"action", rec.Action,
			"error", err,
		)
	}
	return nil
}
