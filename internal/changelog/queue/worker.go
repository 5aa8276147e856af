package queue

import (
	"context"
	"fmt"
	"log/slog"

	"changetrail/internal/changelog/models"
	"changetrail/internal/platform/metrics"
)

// Worker consumes change records from a bounded in-process channel and
// persists them. It is the default deferred backing when no external queue is
// configured.
type Worker struct {
	store   Store
	inbox   chan *models.Record
	policy  Policy
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// WorkerOption configures the Worker.
type WorkerOption func(*Worker)

// WithWorkerPolicy overrides the retry policy.
func WithWorkerPolicy(p Policy) WorkerOption {
	return func(w *Worker) { w.policy = p }
}

// WithWorkerMetrics sets the metrics collector.
func WithWorkerMetrics(m *metrics.Metrics) WorkerOption {
	return func(w *Worker) { w.metrics = m }
}

// NewWorker creates a channel-backed queue with the given buffer size.
func NewWorker(store Store, buffer int, logger *slog.Logger, opts ...WorkerOption) *Worker {
	if buffer <= 0 {
		buffer = 1024
	}
	w := &Worker{
		store:  store,
		inbox:  make(chan *models.Record, buffer),
		policy: DefaultPolicy,
		logger: logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Submit hands a record to the worker without blocking the capture path.
// A full buffer is an error the writer logs and swallows.
func (w *Worker) Submit(_ context.Context, rec *models.Record) error {
	select {
	case w.inbox <- rec:
		if w.metrics != nil {
			w.metrics.QueueDepth.Set(float64(len(w.inbox)))
		}
		return nil
	default:
		return fmt.Errorf("deferred queue full (%d records)", cap(w.inbox))
	}
}

// Run drains the inbox until the context is cancelled. Terminal persistence
// failures are reported and the worker keeps going; one poisoned record must
// not stall the trail.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return ctx.Err()
		case rec := <-w.inbox:
			w.handle(ctx, rec)
		}
	}
}

func (w *Worker) handle(ctx context.Context, rec *models.Record) {
	if w.metrics != nil {
		w.metrics.QueueDepth.Set(float64(len(w.inbox)))
	}
	if err := persistWithRetry(ctx, w.store, rec, w.policy); err != nil {
		reportTerminalFailure(ctx, w.logger, w.metrics, rec, err)
	}
}

// drain flushes whatever is still buffered using a background context, so a
// graceful shutdown does not drop accepted records.
func (w *Worker) drain() {
	for {
		select {
		case rec := <-w.inbox:
			w.handle(context.Background(), rec)
		default:
			return
		}
	}
}
