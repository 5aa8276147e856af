// Package service implements the change-capture engine: it turns lifecycle
// events on audited subjects into persisted change records.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"changetrail/internal/changelog/format"
	"changetrail/internal/changelog/models"
	"changetrail/internal/changelog/redact"
	"changetrail/internal/platform/config"
	"changetrail/internal/platform/metrics"
	stringsutil "changetrail/pkg/platform/strings"
	"changetrail/pkg/requestcontext"
)

var tracer = otel.Tracer("changetrail/changelog")

// Persister hands a fully built record to the log store writer. In deferred
// mode the record is not durably stored when Persist returns.
type Persister interface {
	Persist(ctx context.Context, rec *models.Record) error
}

// Store provides read access over the persisted change trail.
type Store interface {
	Query(ctx context.Context, f models.Filter) ([]models.Record, error)
	Count(ctx context.Context, f models.Filter) (int64, error)
	CountByAction(ctx context.Context, f models.Filter) (map[models.Action]int64, error)
	CountByActor(ctx context.Context, f models.Filter) (map[string]int64, error)
}

// Clock returns the current time; injected for date-sensitive tests.
type Clock func() time.Time

// Service captures lifecycle events, consults redaction and formatting, and
// hands records to the writer. Calls are stateless between invocations; the
// only shared state is the read-only configuration.
type Service struct {
	cfg     config.Capture
	limit   int
	writer  Persister
	store   Store
	policy  *redact.Policy
	clock   Clock
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures the Service.
type Option func(*Service)

// WithClock sets the clock function for testability.
func WithClock(clock Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithDefaultLimit sets the page size used when a filter has no limit.
func WithDefaultLimit(limit int) Option {
	return func(s *Service) {
		if limit > 0 {
			s.limit = limit
		}
	}
}

// New creates the capture service. The writer receives every built record;
// the store serves queries and statistics.
func New(writer Persister, store Store, cfg config.Capture, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		cfg:    cfg,
		limit:  20,
		writer: writer,
		store:  store,
		policy: redact.New(cfg),
		clock:  time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ShouldLog is the gating check the event source runs before invoking a
// capture method: global switch, per-action toggle, then the subject's own
// veto hook. Capture methods themselves do not re-check the switches, only
// field-level exclusions.
func (s *Service) ShouldLog(subject models.Subject, action models.Action) bool {
	if !s.cfg.Enabled {
		return false
	}
	if !s.cfg.Actions.Enabled(string(action)) {
		return false
	}
	if v, ok := subject.(models.ActionVetoer); ok {
		return v.ShouldLog(action)
	}
	return true
}

// CaptureCreate records the creation of a subject with all its non-excluded
// attributes as the new value.
func (s *Service) CaptureCreate(ctx context.Context, subject models.Subject) error {
	ctx, span := s.startSpan(ctx, subject, models.ActionCreate)
	defer span.End()

	rec := s.newRecord(subject, models.ActionCreate, "")
	rec.NewValue = s.loggableAttributes(subject)
	return s.persist(ctx, rec)
}

// CaptureUpdate records changed fields, either as one bulk record or one
// record per field depending on configuration. Excluded fields are dropped
// first; when nothing remains, no record is produced.
func (s *Service) CaptureUpdate(ctx context.Context, subject models.Subject, changes map[string]any) error {
	ctx, span := s.startSpan(ctx, subject, models.ActionUpdate)
	defer span.End()

	excluded := s.policy.ExcludedFields(subject)
	remaining := make(map[string]any, len(changes))
	for field, v := range changes {
		if _, drop := excluded[field]; !drop {
			remaining[field] = v
		}
	}
	if len(remaining) == 0 {
		// Intentional silent no-op: an update touching only redacted
		// fields must not produce empty audit noise.
		return nil
	}

	old := s.snapshot(subject)

	if s.cfg.PerField {
		var errs []error
		for field, newValue := range remaining {
			rec := s.newRecord(subject, models.ActionUpdate, field)
			rec.OldValue = format.Value(subject, field, old[field])
			rec.NewValue = format.Value(subject, field, newValue)
			if err := s.persist(ctx, rec); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	oldValues := make(map[string]any, len(remaining))
	newValues := make(map[string]any, len(remaining))
	for field, newValue := range remaining {
		oldValues[field] = format.Value(subject, field, old[field])
		newValues[field] = format.Value(subject, field, newValue)
	}
	rec := s.newRecord(subject, models.ActionUpdate, "")
	rec.OldValue = oldValues
	rec.NewValue = newValues
	return s.persist(ctx, rec)
}

// CaptureDelete records the last known attributes before deletion. Permanent
// deletes carry a force_delete tag and a permanence marker in the description.
func (s *Service) CaptureDelete(ctx context.Context, subject models.Subject, permanent bool) error {
	ctx, span := s.startSpan(ctx, subject, models.ActionDelete)
	defer span.End()

	rec := s.newRecord(subject, models.ActionDelete, "")
	rec.OldValue = s.loggableAttributes(subject)
	if permanent {
		rec.Tags = append(rec.Tags, models.TagForceDelete)
		rec.Description += " (Permanent)"
	}
	return s.persist(ctx, rec)
}

// CaptureRestore records the current attributes of a subject brought back
// from soft deletion.
func (s *Service) CaptureRestore(ctx context.Context, subject models.Subject) error {
	ctx, span := s.startSpan(ctx, subject, models.ActionRestore)
	defer span.End()

	rec := s.newRecord(subject, models.ActionRestore, "")
	rec.NewValue = s.loggableAttributes(subject)
	return s.persist(ctx, rec)
}

// newRecord builds the common shape of a record for one action. The occurred
// date is derived here, exactly once, from the injected clock.
func (s *Service) newRecord(subject models.Subject, action models.Action, field string) *models.Record {
	now := s.clock()
	rec := &models.Record{
		ID:           uuid.New(),
		SubjectType:  subject.SubjectType(),
		SubjectID:    subject.SubjectID(),
		Action:       action,
		FieldName:    field,
		OccurredDate: models.DateOnly(now),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if d, ok := subject.(models.Describer); ok {
		rec.Description = d.Description(action, field)
	}
	if t, ok := subject.(models.Tagger); ok {
		rec.Tags = stringsutil.DedupeAndTrim(t.Tags(action))
	}
	return rec
}

// loggableAttributes returns the subject's attributes minus excluded fields.
func (s *Service) loggableAttributes(subject models.Subject) map[string]any {
	excluded := s.policy.ExcludedFields(subject)
	attrs := subject.Attributes()
	out := make(map[string]any, len(attrs))
	for field, v := range attrs {
		if _, drop := excluded[field]; !drop {
			out[field] = v
		}
	}
	return out
}

// snapshot reads the subject's pre-change attribute values. The capture call
// must run before the mutation overwrites them; subjects without a snapshot
// yield nil old values.
func (s *Service) snapshot(subject models.Subject) map[string]any {
	if snap, ok := subject.(models.Snapshotter); ok {
		return snap.Snapshot()
	}
	return nil
}

// enrich attaches the acting principal and, per configuration, request
// metadata. It runs for every record regardless of action.
func (s *Service) enrich(ctx context.Context, rec *models.Record) {
	rec.ActorID = requestcontext.ActorID(ctx)
	if s.cfg.Track.IP {
		rec.IPAddress = requestcontext.ClientIP(ctx)
	}
	if s.cfg.Track.UserAgent {
		rec.UserAgent = requestcontext.UserAgent(ctx)
	}
	if s.cfg.Track.Method {
		rec.HTTPMethod = strings.ToUpper(requestcontext.HTTPMethod(ctx))
	}
	if s.cfg.Track.Endpoint {
		rec.EndpointPath = normalizePath(requestcontext.EndpointPath(ctx))
	}
}

// normalizePath guarantees a leading slash and collapses a bare root path.
func normalizePath(path string) string {
	switch path {
	case "", "/":
		return path
	}
	if !strings.HasPrefix(path, "/") {
		return "/" + path
	}
	return path
}

func (s *Service) persist(ctx context.Context, rec *models.Record) error {
	s.enrich(ctx, rec)
	if s.metrics != nil {
		s.metrics.RecordsCaptured.WithLabelValues(string(rec.Action)).Inc()
	}
	return s.writer.Persist(ctx, rec)
}

func (s *Service) startSpan(ctx context.Context, subject models.Subject, action models.Action) (context.Context, trace.Span) {
	return tracer.Start(ctx, "changelog.capture", trace.WithAttributes(
		attribute.String("changelog.action", string(action)),
		attribute.String("changelog.subject_type", subject.SubjectType()),
	))
}
