// Package memory holds the change trail in process memory. It backs unit
// tests and development setups without a database.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"changetrail/internal/changelog/models"
)

// Store is a thread-safe in-memory record store.
type Store struct {
	mu      sync.RWMutex
	records []models.Record
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{}
}

// Clear removes every record. Test helper.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
}

// Insert appends a copy of the record.
func (s *Store) Insert(_ context.Context, rec *models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, *rec)
	return nil
}

// Query returns matching records, newest first by creation time.
func (s *Store) Query(_ context.Context, f models.Filter) ([]models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Record
	for i := range s.records {
		if f.Matches(&s.records[i]) {
			out = append(out, s.records[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Count returns the number of matching records.
func (s *Store) Count(_ context.Context, f models.Filter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for i := range s.records {
		if f.Matches(&s.records[i]) {
			n++
		}
	}
	return n, nil
}

// CountByAction groups matching records by action.
func (s *Store) CountByAction(_ context.Context, f models.Filter) (map[models.Action]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[models.Action]int64)
	for i := range s.records {
		if f.Matches(&s.records[i]) {
			out[s.records[i].Action]++
		}
	}
	return out, nil
}

// CountByActor groups matching records by actor, skipping system-initiated
// records with no actor.
func (s *Store) CountByActor(_ context.Context, f models.Filter) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]int64)
	for i := range s.records {
		if f.Matches(&s.records[i]) && s.records[i].ActorID != "" {
			out[s.records[i].ActorID]++
		}
	}
	return out, nil
}

// DeleteBefore removes records occurring strictly before the cutoff date.
func (s *Store) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	cutoff = models.DateOnly(cutoff)
	return s.deleteWhere(func(r *models.Record) bool {
		return r.OccurredDate.Before(cutoff)
	}), nil
}

// DeleteRange removes records occurring within the inclusive date range.
func (s *Store) DeleteRange(_ context.Context, start, end time.Time) (int64, error) {
	start, end = models.DateOnly(start), models.DateOnly(end)
	return s.deleteWhere(func(r *models.Record) bool {
		return !r.OccurredDate.Before(start) && !r.OccurredDate.After(end)
	}), nil
}

func (s *Store) deleteWhere(match func(*models.Record) bool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.records[:0]
	var deleted int64
	for i := range s.records {
		if match(&s.records[i]) {
			deleted++
			continue
		}
		kept = append(kept, s.records[i])
	}
	s.records = kept
	return deleted
}
