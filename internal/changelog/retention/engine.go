// Package retention deletes change records past the configured horizon.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"changetrail/internal/changelog/models"
	"changetrail/internal/platform/config"
	"changetrail/internal/platform/metrics"
)

var tracer = otel.Tracer("changetrail/retention")

// Store provides the bulk-delete primitives. Each delete is a single
// statement; atomicity within it is the store's responsibility.
type Store interface {
	// DeleteBefore removes records with an occurred date strictly earlier
	// than the cutoff and reports how many were removed.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// DeleteRange removes records with an occurred date inside the
	// inclusive range.
	DeleteRange(ctx context.Context, start, end time.Time) (int64, error)
}

// Clock returns the current time; injected for date-sensitive tests.
type Clock func() time.Time

// Engine runs retention sweeps and operator-initiated deletions.
type Engine struct {
	store   Store
	cfg     config.Retention
	clock   Clock
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures the Engine.
type Option func(*Engine)

// WithClock sets the clock function for testability.
func WithClock(clock Clock) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New creates a retention engine.
func New(store Store, cfg config.Retention, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		cfg:    cfg,
		clock:  time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Cleanup is the scheduled sweep. When retention is disabled and force is not
// set it deletes nothing and returns 0. days <= 0 falls back to the
// configured horizon. Records whose occurred date is strictly before
// today - days are removed.
func (e *Engine) Cleanup(ctx context.Context, days int, force bool) (int64, error) {
	ctx, span := tracer.Start(ctx, "changelog.cleanup")
	defer span.End()

	if !e.cfg.Enabled && !force {
		return 0, nil
	}
	if days <= 0 {
		days = e.cfg.Days
	}

	cutoff := models.DateOnly(e.clock()).AddDate(0, 0, -days)
	deleted, err := e.deleteBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	span.SetAttributes(attribute.Int64("changelog.deleted", deleted))
	e.logger.InfoContext(ctx, "change record cleanup completed",
		"days", days,
		"cutoff_date", cutoff.Format(time.DateOnly),
		"deleted", deleted,
	)
	return deleted, nil
}

// CleanupBeforeDate removes all records occurring strictly before the date.
// This is an explicit operator action with no enablement gate.
func (e *Engine) CleanupBeforeDate(ctx context.Context, date time.Time) (int64, error) {
	return e.deleteBefore(ctx, models.DateOnly(date))
}

// CleanupByDateRange removes all records occurring within the inclusive
// range. This is an explicit operator action with no enablement gate.
func (e *Engine) CleanupByDateRange(ctx context.Context, start, end time.Time) (int64, error) {
	deleted, err := e.store.DeleteRange(ctx, models.DateOnly(start), models.DateOnly(end))
	if err != nil {
		return 0, fmt.Errorf("delete change records in range: %w", err)
	}
	e.observeDeleted(deleted)
	return deleted, nil
}

func (e *Engine) deleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	deleted, err := e.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete change records before cutoff: %w", err)
	}
	e.observeDeleted(deleted)
	return deleted, nil
}

func (e *Engine) observeDeleted(n int64) {
	if e.metrics != nil && n > 0 {
		e.metrics.RecordsDeleted.Add(float64(n))
	}
}
