package service

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"changetrail/internal/changelog/models"
)

// Query returns records matching the filter, newest first by creation time.
// A filter without a limit uses the configured default page size.
func (s *Service) Query(ctx context.Context, f models.Filter) ([]models.Record, error) {
	ctx, span := tracer.Start(ctx, "changelog.query")
	defer span.End()

	if f.Limit <= 0 {
		f.Limit = s.limit
	}
	records, err := s.store.Query(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("query change records: %w", err)
	}
	span.SetAttributes(attribute.Int("changelog.results", len(records)))
	return records, nil
}

// Statistics aggregates the filtered change trail. Every figure is computed
// against the same filter so the four views describe one base set.
func (s *Service) Statistics(ctx context.Context, f models.Filter) (*models.Statistics, error) {
	ctx, span := tracer.Start(ctx, "changelog.statistics")
	defer span.End()

	total, err := s.store.Count(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("count change records: %w", err)
	}
	byAction, err := s.store.CountByAction(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("count by action: %w", err)
	}
	byActor, err := s.store.CountByActor(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("count by actor: %w", err)
	}

	recent := f
	recent.Limit = models.RecentLimit
	recentRecords, err := s.store.Query(ctx, recent)
	if err != nil {
		return nil, fmt.Errorf("query recent records: %w", err)
	}

	return &models.Statistics{
		Total:    total,
		ByAction: byAction,
		ByActor:  byActor,
		Recent:   recentRecords,
	}, nil
}

// ForSubject returns the trail of one entity, newest first.
func (s *Service) ForSubject(ctx context.Context, subjectType, subjectID string) ([]models.Record, error) {
	return s.Query(ctx, models.Filter{SubjectType: subjectType, SubjectID: subjectID})
}

// RecentForSubject returns the last limit records of one entity.
func (s *Service) RecentForSubject(ctx context.Context, subjectType, subjectID string, limit int) ([]models.Record, error) {
	return s.Query(ctx, models.Filter{SubjectType: subjectType, SubjectID: subjectID, Limit: limit})
}

// HasRecords reports whether any change was ever logged for the entity.
func (s *Service) HasRecords(ctx context.Context, subjectType, subjectID string) (bool, error) {
	n, err := s.store.Count(ctx, models.Filter{SubjectType: subjectType, SubjectID: subjectID})
	if err != nil {
		return false, fmt.Errorf("count change records: %w", err)
	}
	return n > 0, nil
}

// LastRecord returns the most recent record for the entity, or nil when the
// trail is empty.
func (s *Service) LastRecord(ctx context.Context, subjectType, subjectID string) (*models.Record, error) {
	records, err := s.RecentForSubject(ctx, subjectType, subjectID, 1)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}
